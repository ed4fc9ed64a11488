// Package lineedit implements the line editor (C7): a single-threaded,
// byte-driven editor layered over a raw-mode terminal byte stream (§4.7).
package lineedit

import "unicode/utf8"

// Buffer is a growable UTF-8 line with a byte-offset cursor. Cursor
// movement and deletion always land on code-point boundaries even though
// the cursor itself is stored as a byte offset — the natural
// representation for a []byte backing store that Redisplay can still
// slice directly without re-decoding.
type Buffer struct {
	data   []byte
	cursor int
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// String returns the buffer's current contents.
func (b *Buffer) String() string { return string(b.data) }

// Cursor returns the current byte offset, always a code-point boundary.
func (b *Buffer) Cursor() int { return b.cursor }

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Reset clears the buffer and moves the cursor to 0.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.cursor = 0
}

// SetText replaces the buffer's contents wholesale and moves the cursor
// to the end — used when history navigation swaps in a different line.
func (b *Buffer) SetText(s string) {
	b.data = []byte(s)
	b.cursor = len(b.data)
}

// Insert inserts s at the cursor and advances the cursor past it.
func (b *Buffer) Insert(s string) {
	if s == "" {
		return
	}
	out := make([]byte, 0, len(b.data)+len(s))
	out = append(out, b.data[:b.cursor]...)
	out = append(out, s...)
	out = append(out, b.data[b.cursor:]...)
	b.data = out
	b.cursor += len(s)
}

// DeleteLeft removes the code point immediately left of the cursor
// (backspace). Reports whether anything was deleted.
func (b *Buffer) DeleteLeft() bool {
	if b.cursor == 0 {
		return false
	}
	start := prevRuneStart(b.data, b.cursor)
	b.data = append(b.data[:start], b.data[b.cursor:]...)
	b.cursor = start
	return true
}

// DeleteRight removes the code point at the cursor (delete-forward).
// Reports whether anything was deleted.
func (b *Buffer) DeleteRight() bool {
	if b.cursor == len(b.data) {
		return false
	}
	_, size := utf8.DecodeRune(b.data[b.cursor:])
	b.data = append(b.data[:b.cursor], b.data[b.cursor+size:]...)
	return true
}

// MoveLeft moves the cursor one code point left, clamped at 0.
func (b *Buffer) MoveLeft() {
	if b.cursor == 0 {
		return
	}
	b.cursor = prevRuneStart(b.data, b.cursor)
}

// MoveRight moves the cursor one code point right, clamped at the end.
func (b *Buffer) MoveRight() {
	if b.cursor == len(b.data) {
		return
	}
	_, size := utf8.DecodeRune(b.data[b.cursor:])
	b.cursor += size
}

// Home moves the cursor to the start of the buffer.
func (b *Buffer) Home() { b.cursor = 0 }

// End moves the cursor to the end of the buffer.
func (b *Buffer) End() { b.cursor = len(b.data) }

// prevRuneStart returns the byte offset of the code point immediately
// before pos, which must itself be a code-point boundary.
func prevRuneStart(data []byte, pos int) int {
	i := pos - 1
	for i > 0 && !utf8.RuneStart(data[i]) {
		i--
	}
	return i
}
