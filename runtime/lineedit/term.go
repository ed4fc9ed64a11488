package lineedit

import (
	"golang.org/x/term"
)

// RawTerminal wraps a file descriptor's raw-mode lifecycle, grounded on
// the MakeRaw/Restore and GetSize pairing used by the pack's own
// terminal-driving examples (other_examples/.../session.go,
// other_examples/.../prompt.go).
type RawTerminal struct {
	fd    int
	saved *term.State
}

// EnterRaw puts fd into raw mode, returning a handle whose Restore undoes
// it.
func EnterRaw(fd int) (*RawTerminal, error) {
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawTerminal{fd: fd, saved: saved}, nil
}

// Restore returns the terminal to its pre-raw-mode state.
func (r *RawTerminal) Restore() error {
	return term.Restore(r.fd, r.saved)
}

// Size returns the terminal's current width/height in columns/rows.
func Size(fd int) (cols, rows int, err error) {
	return term.GetSize(fd)
}
