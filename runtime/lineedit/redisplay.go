package lineedit

import (
	"fmt"
	"io"
	"strings"
)

// renderState is the last frame Redisplay wrote, kept so the next call
// can diff against it instead of repainting the whole line (§4.7
// "Redisplay").
type renderState struct {
	prompt string
	line   string
	cursor int // byte offset into line
	width  int
}

// Redisplay diffs snapshot against the buffer's current prompt/line/
// cursor and emits the minimal cursor movement + erase + append sequence
// to out. A terminal-width change since the last call forces a full
// repaint (the cached column math is no longer valid).
func Redisplay(out io.Writer, prompt string, buf *Buffer, width int, snapshot *renderState) *renderState {
	line := buf.String()
	cursor := buf.Cursor()

	if snapshot == nil || snapshot.width != width || snapshot.prompt != prompt {
		fullRepaint(out, prompt, line, cursor, width)
		return &renderState{prompt: prompt, line: line, cursor: cursor, width: width}
	}

	commonPrefix := commonPrefixLen(snapshot.line, line)
	// Move from the old cursor to the end of the shared prefix, erase
	// whatever followed it, then print the new suffix.
	moveCursorTo(out, prompt, snapshot.line, snapshot.cursor, commonPrefix, width)
	io.WriteString(out, "\x1b[K")
	io.WriteString(out, line[commonPrefix:])
	// Position the cursor at its final logical offset.
	moveCursorTo(out, prompt, line, len(line), cursor, width)

	return &renderState{prompt: prompt, line: line, cursor: cursor, width: width}
}

func fullRepaint(out io.Writer, prompt, line string, cursor, width int) {
	io.WriteString(out, "\r\x1b[K")
	io.WriteString(out, prompt)
	io.WriteString(out, line)
	moveCursorTo(out, prompt, line, len(line), cursor, width)
}

// moveCursorTo emits the escape sequence to move the cursor from
// column/row implied by "from" (a byte offset into line, with the cursor
// currently sitting right after it) to the column/row implied by "to".
// Row/column math follows §4.7's "(prompt_chars + logical_pos) / width"
// rule so multi-line (wrapped) input is handled the same way as a
// single-line one.
func moveCursorTo(out io.Writer, prompt, line string, from, to, width int) {
	if from == to {
		return
	}
	fromCol := StringWidth(prompt) + StringWidth(line[:from])
	toCol := StringWidth(prompt) + StringWidth(line[:to])
	if width <= 0 {
		width = 1
	}
	fromRow, fromC := fromCol/width, fromCol%width
	toRow, toC := toCol/width, toCol%width

	if toRow != fromRow {
		if toRow > fromRow {
			fmt.Fprintf(out, "\x1b[%dB", toRow-fromRow)
		} else {
			fmt.Fprintf(out, "\x1b[%dA", fromRow-toRow)
		}
	}
	io.WriteString(out, "\r")
	if toC > 0 {
		fmt.Fprintf(out, "\x1b[%dC", toC)
	}
}

// commonPrefixLen returns the length, in bytes, of the longest common
// prefix of a and b, trimmed back to a UTF-8 boundary.
func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	for i > 0 && !isRuneStart(a, i) {
		i--
	}
	return i
}

func isRuneStart(s string, i int) bool {
	if i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

// FormatCompletions renders a completion candidate list the way the
// editor prints it when there is more than one match: every candidate on
// one line, separated by two spaces, followed by a newline. No column
// layout is computed; help rows are printed by Editor.help instead.
func FormatCompletions(candidates []string) string {
	return strings.Join(candidates, "  ") + "\n"
}
