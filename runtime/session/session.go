// Package session implements per-connection path/session state (C4): the
// view-stack that tracks a session's current position in the scheme, plus
// the identity and terminal metadata captured at AUTH time (§3.4, §4.4).
//
// A Session is genuinely mutable and driven by external events (a command
// pushing or popping a view, a NOTIFICATION updating the terminal size),
// so it is modeled as a single owned object with small mutation methods —
// the same shape DESIGN NOTES §9 prescribes for the line editor, applied
// here to session state.
package session

import (
	"sync"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/invariant"
)

// Level is one frame of the path stack: the view entry plus the
// user-visible prompt in effect while that view is active.
type Level struct {
	View   *entry.Entry
	Prompt string

	// DefinedDepth is the stack depth at which the command that pushed
	// this level was itself matched. A restore=true command truncates
	// the path back to its own DefinedDepth, not merely the level it
	// pushed (§4.4).
	DefinedDepth int
}

// Session owns one client's path stack and connection-scoped state
// (§3.4: "owns a path... also carries uid, user, pid, terminal
// width/height, and a done flag").
type Session struct {
	mu sync.Mutex

	levels []Level

	UID  uint32
	User string
	PID  int32

	Width, Height int

	done bool
}

// New returns a session whose path stack starts at root, the view
// configured at daemon start (§4.4 "bottom = the initial start view").
func New(root *entry.Entry) *Session {
	invariant.NotNil(root, "root")
	return &Session{levels: []Level{{View: root, Prompt: root.Help, DefinedDepth: 0}}}
}

// Depth returns the current path stack depth (1 = only the root level).
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.levels)
}

// Top returns the view entry at the top of the path stack — the view a
// parser must match a new command line against first.
func (s *Session) Top() *entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[len(s.levels)-1].View
}

// Levels returns a snapshot of the path stack, deepest first, for a
// parser to walk top-to-bottom per §4.5's matching algorithm.
func (s *Session) Levels() []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Level, len(s.levels))
	for i, l := range s.levels {
		out[len(s.levels)-1-i] = l
	}
	return out
}

// Push navigates into a new view, e.g. a command carrying a `view`
// attribute (§4.4 "push (navigation command whose view attribute names a
// view)"). matchedAtDepth is the stack depth the pushing command was
// itself found at, recorded so a later restore=true command knows where
// to truncate back to.
func (s *Session) Push(view *entry.Entry, matchedAtDepth int) {
	invariant.NotNil(view, "view")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, Level{View: view, Prompt: view.Help, DefinedDepth: matchedAtDepth})
}

// Pop removes one level from the path stack (§4.4 "pop (by one level)").
// The root level is never popped; Pop is a no-op at depth 1.
func (s *Session) Pop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.levels) <= 1 {
		return false
	}
	s.levels = s.levels[:len(s.levels)-1]
	return true
}

// Restore truncates the path stack back to depth (inclusive), the level
// at which a restore=true command was originally defined (§4.4 "reset (a
// command carrying restore=true truncates the path to the level at which
// the command was originally defined)").
func (s *Session) Restore(depth int) {
	invariant.Precondition(depth >= 1, "restore depth must be >= 1")
	s.mu.Lock()
	defer s.mu.Unlock()
	if depth < len(s.levels) {
		s.levels = s.levels[:depth]
	}
}

// SetSize records the session's current terminal dimensions, updated on
// every WINCH notification (§3.4, §4.10).
func (s *Session) SetSize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Width, s.Height = w, h
}

// Size returns the session's last-known terminal dimensions.
func (s *Session) Size() (w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Width, s.Height
}

// SetDone marks the session finished (connection lost, EXIT received).
func (s *Session) SetDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// Done reports whether the session has ended.
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Prompt returns the prompt text for the current top-of-stack level.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[len(s.levels)-1].Prompt
}
