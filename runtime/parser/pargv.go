// Package parser implements the parsing & dispatch engine (C5): matching
// an argv vector against the scheme tree for a given path, producing
// either a parsed-argument vector ready for execution, a completion
// list, or a help list (§4.5).
package parser

import "github.com/klish-project/klish/core/entry"

// Purpose selects what a parse is for: failing hard on a bad final token
// (Exec) versus collecting candidates for it (Completion/Help), per §3.3.
type Purpose int

const (
	PurposeExec Purpose = iota
	PurposeCompletion
	PurposeHelp
)

func (p Purpose) String() string {
	switch p {
	case PurposeExec:
		return "EXEC"
	case PurposeCompletion:
		return "COMPLETION"
	case PurposeHelp:
		return "HELP"
	default:
		return "UNKNOWN"
	}
}

// Status is a pargv's outcome (§3.3).
type Status int

const (
	StatusOK Status = iota
	StatusInProgress
	StatusNotFound
	StatusIncompleted
	StatusIllegal
	StatusNoAction
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInProgress:
		return "INPROGRESS"
	case StatusNotFound:
		return "NOTFOUND"
	case StatusIncompleted:
		return "INCOMPLETED"
	case StatusIllegal:
		return "ILLEGAL"
	case StatusNoAction:
		return "NOACTION"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Binding is one (entry, value) pair bound while matching an argv against
// the scheme (§3.3).
type Binding struct {
	Entry *entry.Entry
	Value string
}

// Candidate is one entry that could validate the current (possibly
// partial) token, collected when Purpose != Exec (§4.5 "completion /
// help purpose").
type Candidate struct {
	Entry  *entry.Entry
	Prefix string
}

// Pargv is the parsed-argument vector produced by one parse of a line
// against a scheme path (§3.3).
type Pargv struct {
	Purpose Purpose
	Status  Status

	// Command is the matched command entry, or nil if none matched.
	Command *entry.Entry

	// Bindings is the ordered list of (entry, value) pairs bound during
	// the match, including the command entry's own binding to its name.
	Bindings []Binding

	// LevelDepth is the 1-based depth (from the bottom/root) of the
	// view-stack level at which Command was found.
	LevelDepth int

	// LastToken is the last (possibly incomplete) token of the input.
	LastToken string

	// Candidates is the completion/help candidate set, populated only
	// when Purpose != Exec and the final token was left unmatched.
	Candidates []Candidate

	// Err carries the ILLEGAL/ERROR diagnostic, if any.
	Err error
}

// Value returns the bound value for the named entry, if any (e.g. to
// read a parameter's value when building an action's environment).
func (p *Pargv) Value(name string) (string, bool) {
	for _, b := range p.Bindings {
		if b.Entry.Name == name {
			return b.Value, true
		}
	}
	return "", false
}

// Values returns every bound value for the named entry, in binding
// order — a repeated (min>1) parameter binds more than once (§6).
func (p *Pargv) Values(name string) []string {
	var out []string
	for _, b := range p.Bindings {
		if b.Entry.Name == name {
			out = append(out, b.Value)
		}
	}
	return out
}
