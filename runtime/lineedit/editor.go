package lineedit

import (
	"bufio"
	"errors"
	"io"
)

// ErrInterrupted is returned by ReadLine when the user presses Ctrl-C.
var ErrInterrupted = errors.New("lineedit: interrupted")

// HelpEntry is one prefix/description pair the Help hook returns, printed
// one per line below the input (§4.9 "editor prints prefix  line rows").
type HelpEntry struct {
	Prefix string
	Line   string
}

// Hooks are the editor's callbacks into whatever backs completion, help,
// and custom hotkeys — a client.Session in production, a stub in tests.
// Any field left nil disables that feature.
type Hooks struct {
	// Complete returns the unambiguous prefix to insert and, when more
	// than one candidate matches, the full candidate list to print.
	Complete func(line string) (prefix string, candidates []string)

	// Help returns the help rows for the current line.
	Help func(line string) []HelpEntry

	// Hotkey fires for a Ctrl byte the editor does not itself bind to an
	// editing action (§3.1 "hotkeys"). It receives the live line so a
	// hotkey bound to e.g. "show version" can run independent of it.
	Hotkey func(ctrl byte, line string)
}

// Editor is a single-threaded, byte-driven readline loop over a raw-mode
// terminal stream (§4.7). It owns one Buffer and one History and decodes
// an io.Reader's bytes into Key events itself — grounded on the pack's
// elvish-style editor main loop (other_examples/.../editor.go's
// ReadCode), adapted from its separate-goroutine reader/writer/highlighter
// pipeline down to one blocking loop, since klish's client has no
// concurrent redraw sources to race against.
type Editor struct {
	in    *bufio.Reader
	out   io.Writer
	buf   *Buffer
	hist  *History
	hooks Hooks
	width int

	render *renderState
}

// NewEditor returns an editor reading decoded keys from in and rendering
// to out, with the given scrollback (0 for unbounded).
func NewEditor(in io.Reader, out io.Writer, historyStifle int) *Editor {
	return &Editor{
		in:    bufio.NewReader(in),
		out:   out,
		buf:   NewBuffer(),
		hist:  NewHistory(historyStifle),
		width: 80,
	}
}

// SetHooks installs the completion/help/hotkey callbacks.
func (e *Editor) SetHooks(h Hooks) { e.hooks = h }

// History exposes the editor's history store (for Load/Save at startup
// and shutdown).
func (e *Editor) History() *History { return e.hist }

// SetWidth updates the terminal width used for cursor-movement math on a
// WINCH.
func (e *Editor) SetWidth(w int) {
	if w > 0 {
		e.width = w
	}
}

// ReadLine prompts with prompt and blocks until the user submits a line
// (Enter), is interrupted (Ctrl-C, ErrInterrupted), or the stream ends
// (io.EOF). The returned line is also recorded in history.
func (e *Editor) ReadLine(prompt string) (string, error) {
	e.buf.Reset()
	e.render = Redisplay(e.out, prompt, e.buf, e.width, nil)

	for {
		key, err := e.readKey()
		if err != nil {
			return "", err
		}

		switch {
		case key.Special == KeyEnter:
			io.WriteString(e.out, "\r\n")
			line := e.buf.String()
			e.hist.Add(line)
			return line, nil

		case key.Special == KeyCtrl && key.Rune == 'C'-'@':
			io.WriteString(e.out, "^C\r\n")
			return "", ErrInterrupted

		case key.Special == KeyCtrl && key.Rune == 'D'-'@':
			if e.buf.Len() == 0 {
				io.WriteString(e.out, "\r\n")
				return "", io.EOF
			}
			e.buf.DeleteRight()

		case key.Special == KeyCtrl && key.Rune == 'A'-'@':
			e.buf.Home()
		case key.Special == KeyCtrl && key.Rune == 'E'-'@':
			e.buf.End()
		case key.Special == KeyCtrl && key.Rune == 'B'-'@':
			e.buf.MoveLeft()
		case key.Special == KeyCtrl && key.Rune == 'F'-'@':
			e.buf.MoveRight()
		case key.Special == KeyCtrl && key.Rune == 'U'-'@':
			e.buf.SetText(e.buf.String()[e.buf.Cursor():])
			e.buf.Home()

		case key.Special == KeyCtrl:
			if e.hooks.Hotkey != nil {
				e.hooks.Hotkey(byte(key.Rune), e.buf.String())
			}
			continue // a hotkey command, once run, re-prompts; skip redisplay

		case key.Special == KeyBackspace:
			e.buf.DeleteLeft()
		case key.Special == KeyDelete:
			e.buf.DeleteRight()
		case key.Special == KeyLeft:
			e.buf.MoveLeft()
		case key.Special == KeyRight:
			e.buf.MoveRight()
		case key.Special == KeyHome:
			e.buf.Home()
		case key.Special == KeyEnd:
			e.buf.End()

		case key.Special == KeyUp:
			if line, ok := e.hist.Prev(e.buf.String()); ok {
				e.buf.SetText(line)
			}
		case key.Special == KeyDown:
			if line, ok := e.hist.Next(); ok {
				e.buf.SetText(line)
			}

		case key.Special == KeyTab:
			e.complete()

		case key.Special == KeyNone && key.Rune == '?':
			e.help()
			continue

		case key.Special == KeyNone && key.Rune != 0:
			e.buf.Insert(string(key.Rune))
		}

		e.render = Redisplay(e.out, prompt, e.buf, e.width, e.render)
	}
}

// complete runs the Complete hook and either fills the unambiguous prefix
// silently or prints the candidate list and reprompts when more than one
// candidate remains (§4.9 "editor inserts the unambiguous prefix and, if
// >1 line, prints the columnar list").
func (e *Editor) complete() {
	if e.hooks.Complete == nil {
		return
	}
	prefix, candidates := e.hooks.Complete(e.buf.String())
	if prefix != "" {
		e.buf.Insert(prefix)
	}
	if len(candidates) > 1 {
		io.WriteString(e.out, "\r\n"+FormatCompletions(candidates))
		e.render = nil
	}
}

// help runs the Help hook and prints its rows below the current line.
func (e *Editor) help() {
	if e.hooks.Help == nil {
		return
	}
	entries := e.hooks.Help(e.buf.String())
	io.WriteString(e.out, "\r\n")
	for _, h := range entries {
		io.WriteString(e.out, h.Prefix+"  "+h.Line+"\r\n")
	}
	e.render = nil
}

// readKey decodes the next key event from the input stream: a literal
// UTF-8 rune, a bare control byte, or an ESC-initiated CSI sequence
// decoded via decodeCSI (§4.7 "dispatch to a sequence decoder").
func (e *Editor) readKey() (Key, error) {
	r, _, err := e.in.ReadRune()
	if err != nil {
		return Key{}, err
	}

	switch {
	case r == 0x1b:
		return e.readEscape()
	case r == '\r' || r == '\n':
		return Key{Special: KeyEnter}, nil
	case r == 0x7f:
		return Key{Special: KeyBackspace}, nil
	case r == '\t':
		return Key{Special: KeyTab}, nil
	case r < 0x20:
		return Key{Special: KeyCtrl, Rune: r}, nil
	default:
		return Key{Special: KeyNone, Rune: r}, nil
	}
}

// readEscape consumes a CSI sequence following an ESC byte already read,
// or treats a bare/unrecognized ESC as no-op.
func (e *Editor) readEscape() (Key, error) {
	b1, err := e.in.ReadByte()
	if err != nil {
		return Key{}, err
	}
	if b1 != '[' && b1 != 'O' {
		return Key{Special: KeyNone}, nil
	}

	var params []byte
	for {
		b, err := e.in.ReadByte()
		if err != nil {
			return Key{}, err
		}
		if isSequenceTerminator(b) {
			sk := decodeCSI(params, b)
			return Key{Special: sk}, nil
		}
		params = append(params, b)
	}
}
