package lineedit

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestReadLineReturnsSubmittedLine(t *testing.T) {
	in := strings.NewReader("show version\r")
	var out bytes.Buffer
	ed := NewEditor(in, &out, 10)

	line, err := ed.ReadLine("router> ")
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "show version" {
		t.Fatalf("line = %q, want %q", line, "show version")
	}
	if ed.History().Len() != 1 {
		t.Fatalf("History().Len() = %d, want 1", ed.History().Len())
	}
}

func TestReadLineCtrlCReturnsInterrupted(t *testing.T) {
	in := strings.NewReader("abc\x03")
	var out bytes.Buffer
	ed := NewEditor(in, &out, 10)

	_, err := ed.ReadLine("router> ")
	if err != ErrInterrupted {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
}

func TestReadLineCtrlDOnEmptyLineReturnsEOF(t *testing.T) {
	in := strings.NewReader("\x04")
	var out bytes.Buffer
	ed := NewEditor(in, &out, 10)

	_, err := ed.ReadLine("router> ")
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadLineBackspaceEditsBuffer(t *testing.T) {
	in := strings.NewReader("shox\x7fw\r")
	var out bytes.Buffer
	ed := NewEditor(in, &out, 10)

	line, err := ed.ReadLine("> ")
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "show" {
		t.Fatalf("line = %q, want %q", line, "show")
	}
}

func TestReadLineHistoryUpRecallsPreviousLine(t *testing.T) {
	var out bytes.Buffer
	ed := NewEditor(strings.NewReader("first\r"), &out, 10)
	if _, err := ed.ReadLine("> "); err != nil {
		t.Fatalf("ReadLine #1: %v", err)
	}

	ed2 := NewEditor(strings.NewReader("\x1b[A\r"), &out, 10)
	ed2.hist = ed.hist // share history the way one client session would across prompts
	line, err := ed2.ReadLine("> ")
	if err != nil {
		t.Fatalf("ReadLine #2: %v", err)
	}
	if line != "first" {
		t.Fatalf("line = %q, want %q", line, "first")
	}
}

func TestReadLineQuestionMarkInvokesHelp(t *testing.T) {
	var out bytes.Buffer
	ed := NewEditor(strings.NewReader("sh?ow\r"), &out, 10)

	var gotLine string
	ed.SetHooks(Hooks{
		Help: func(line string) []HelpEntry {
			gotLine = line
			return []HelpEntry{{Prefix: "show", Line: "display state"}}
		},
	})

	line, err := ed.ReadLine("> ")
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "show" {
		t.Fatalf("line = %q, want %q", line, "show")
	}
	if gotLine != "sh" {
		t.Fatalf("Help invoked with %q, want %q", gotLine, "sh")
	}
	if !strings.Contains(out.String(), "display state") {
		t.Fatalf("output = %q, want it to contain the help row", out.String())
	}
}

func TestReadLineTabInvokesComplete(t *testing.T) {
	var out bytes.Buffer
	ed := NewEditor(strings.NewReader("sh\tow\r"), &out, 10)
	ed.SetHooks(Hooks{
		Complete: func(line string) (string, []string) {
			return "ow", nil
		},
	})

	line, err := ed.ReadLine("> ")
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "showow" {
		t.Fatalf("line = %q, want %q", line, "showow")
	}
}
