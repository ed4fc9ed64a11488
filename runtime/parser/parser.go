package parser

import (
	"strings"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/invariant"
	"github.com/klish-project/klish/core/ptype"
)

// Parse matches argv against the scheme reachable from levels (top
// (deepest view) first, per §4.5's "iterate the path from top to
// bottom"), returning the first level's result that either matched at
// least one token or reports something other than NOTFOUND. If no level
// matches at all, the last level's NOTFOUND result is returned.
func Parse(levels []*entry.Entry, argv []string, purpose Purpose, ptypes *ptype.Registry) *Pargv {
	invariant.Precondition(len(levels) > 0, "parser: levels must not be empty")

	var last *Pargv
	for i, view := range levels {
		p := parseAtLevel(view, argv, purpose, ptypes)
		p.LevelDepth = len(levels) - i
		if p.Status != StatusNotFound {
			return p
		}
		last = p
	}
	return last
}

func parseAtLevel(view *entry.Entry, argv []string, purpose Purpose, ptypes *ptype.Registry) *Pargv {
	m := &matcher{purpose: purpose, ptypes: ptypes, argv: argv}
	pos, status := m.matchChildren(view.EffectiveMode(), view.StructuralChildren(), 0)

	p := &Pargv{Purpose: purpose, Status: status, Bindings: m.bindings, Candidates: m.candidates}
	if len(argv) > 0 {
		p.LastToken = argv[len(argv)-1]
	}
	for _, b := range m.bindings {
		if isCommandEntry(b.Entry) {
			p.Command = b.Entry
		}
	}

	switch status {
	case StatusOK:
		if pos < len(argv) {
			// Tokens remained after a structurally complete match: the
			// scheme has no room for them.
			p.Status = StatusIllegal
		} else if p.Command == nil {
			p.Status = StatusNoAction
		}
	case StatusNotFound:
		if pos > 0 {
			// Some tokens were consumed before the failure: this is a
			// genuine parse error, not "try the next view up".
			p.Status = StatusIllegal
		}
	}
	return p
}

// isCommandEntry reports whether e represents a matched command (as
// opposed to a parameter): the loader tags every command/subcommand
// entry with IsCommand at materialization time (core/entry.Entry), since
// both are otherwise ordinary non-container leaves structurally.
func isCommandEntry(e *entry.Entry) bool {
	return e.IsCommand
}

// matcher carries the mutable state threaded through one recursive
// match: the bindings accumulated so far and the completion/help
// candidate set, mirroring the "purely in-memory, bounded-time" recursion
// style §5 requires (no suspension points anywhere in parsing).
type matcher struct {
	purpose    Purpose
	ptypes     *ptype.Registry
	argv       []string
	bindings   []Binding
	candidates []Candidate
}

// matchChildren dispatches a child entry list per the parent's mode
// (§4.5: SEQUENCE / SWITCH / EMPTY).
func (m *matcher) matchChildren(mode entry.Mode, children []*entry.Entry, pos int) (int, Status) {
	switch mode {
	case entry.ModeEmpty:
		return pos, StatusOK
	case entry.ModeSwitch:
		return m.matchSwitch(children, pos)
	default:
		return m.matchSequence(children, pos)
	}
}

// matchSwitch tries each child in order; the first that matches wins
// (§4.5 "SWITCH children: try each in order; first success wins").
func (m *matcher) matchSwitch(children []*entry.Entry, pos int) (int, Status) {
	bestIncomplete := false
	for _, c := range children {
		savedBindings, savedCandidates := len(m.bindings), len(m.candidates)
		newPos, status := m.matchNode(c, pos)
		switch status {
		case StatusOK:
			return newPos, StatusOK
		case StatusIncompleted:
			bestIncomplete = true
			// Keep the candidate this child contributed, but undo any
			// binding it made (an incomplete token isn't bound) and keep
			// trying siblings so every valid candidate is collected.
			m.bindings = m.bindings[:savedBindings]
			continue
		case StatusIllegal:
			// c's own token already matched; a sibling can't be "more
			// right" once one alternative has committed, so a deeper
			// failure propagates instead of falling through to the next
			// child.
			return newPos, StatusIllegal
		default:
			m.bindings = m.bindings[:savedBindings]
			m.candidates = m.candidates[:savedCandidates]
		}
	}
	if bestIncomplete {
		return pos, StatusIncompleted
	}
	return pos, StatusNotFound
}

// matchSequence walks children in declaration order, honoring each
// child's (min, max) occurrence window. Order-sensitive children may not
// be attempted until every earlier order-sensitive sibling has satisfied
// its minimum; order-insensitive (optional) children may be retried in
// any round, which is what lets an earlier optional sibling "bounce
// back" after a later one matches (§4.5).
func (m *matcher) matchSequence(children []*entry.Entry, pos int) (int, Status) {
	counts := make([]int, len(children))
	for {
		if pos >= len(m.argv) {
			break
		}
		matched := false
		for i, c := range children {
			max := c.Max
			if max != 0 && counts[i] >= max {
				continue
			}
			if c.Order && !earlierOrderedSatisfied(children, counts, i) {
				continue
			}
			savedBindings, savedCandidates := len(m.bindings), len(m.candidates)
			newPos, status := m.matchNode(c, pos)
			if status == StatusOK {
				counts[i]++
				pos = newPos
				matched = true
				break
			}
			if status == StatusIllegal {
				// c's own token already matched; don't retry other
				// siblings as if this position were still open.
				return newPos, StatusIllegal
			}
			m.bindings = m.bindings[:savedBindings]
			m.candidates = m.candidates[:savedCandidates]
		}
		if !matched {
			break
		}
	}

	// A mandatory child left unmatched while tokens remain is ILLEGAL; if
	// argv is simply exhausted, it's INCOMPLETED for completion/help and
	// NOTFOUND for exec (no command was identified at all if nothing
	// matched yet, else the caller's pos>0 check upgrades it to ILLEGAL).
	for i, c := range children {
		if counts[i] < c.Min {
			if m.purpose != PurposeExec && pos >= len(m.argv) {
				m.collectCandidates(c, "")
				return pos, StatusIncompleted
			}
			return pos, StatusNotFound
		}
	}
	return pos, StatusOK
}

func earlierOrderedSatisfied(children []*entry.Entry, counts []int, idx int) bool {
	for j := 0; j < idx; j++ {
		if children[j].Order && counts[j] < children[j].Min {
			return false
		}
	}
	return true
}

// matchNode matches one entry, consuming a token for it unless it is a
// pure container (§4.5 "Container entries: skip; recurse into children").
func (m *matcher) matchNode(e *entry.Entry, pos int) (int, Status) {
	if e.EffectiveContainer() {
		return m.matchChildren(e.EffectiveMode(), e.StructuralChildren(), pos)
	}

	if pos >= len(m.argv) {
		if m.purpose != PurposeExec {
			m.collectCandidates(e, "")
			return pos, StatusIncompleted
		}
		return pos, StatusNotFound
	}

	token := m.argv[pos]
	isLast := pos == len(m.argv)-1

	ok, err := m.validate(e, token)
	if !ok {
		if m.purpose != PurposeExec && isLast && err == nil {
			m.collectCandidates(e, token)
			return pos, StatusIncompleted
		}
		return pos, StatusNotFound
	}

	m.bindings = append(m.bindings, Binding{Entry: e, Value: token})
	newPos := pos + 1
	children := e.StructuralChildren()
	if len(children) == 0 {
		return newPos, StatusOK
	}
	cpos, cstatus := m.matchChildren(e.EffectiveMode(), children, newPos)
	if cstatus == StatusNotFound {
		// e's own token already matched; a deeper requirement failing is
		// a real parse error, not "this alternative doesn't apply".
		cstatus = StatusIllegal
	}
	return cpos, cstatus
}

// validate checks token against e's own matching rule: a bound PTYPE
// (for parameters) or a literal name/value comparison (for commands and
// subcommand-style parameters), per §3.1's "value | literal value (for
// subcommand-style params), or a parameter-type range string".
func (m *matcher) validate(e *entry.Entry, token string) (bool, error) {
	if ptypeEntry, ok := e.Nested(entry.PurposePtype); ok {
		v, found := m.ptypes.Lookup(ptypeEntry.Name)
		if !found {
			return false, nil
		}
		return v.Validate(token) == nil, nil
	}

	literal := e.EffectiveValue()
	if literal == "" {
		literal = e.Name
	}
	if strings.EqualFold(literal, token) {
		return true, nil
	}
	return false, nil
}

// collectCandidates records e as a completion/help candidate for the
// partially-typed prefix, expanding through a SWITCH so every alternative
// is offered rather than just the first (§4.5 "enumerate every entry that
// could validate the token's prefix").
func (m *matcher) collectCandidates(e *entry.Entry, prefix string) {
	if e.EffectiveContainer() && e.EffectiveMode() == entry.ModeSwitch {
		for _, c := range e.StructuralChildren() {
			m.collectCandidates(c, prefix)
		}
		return
	}
	if e.EffectiveContainer() {
		return
	}
	name := e.EffectiveValue()
	if name == "" {
		name = e.Name
	}
	if !strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
		if _, isPtype := e.Nested(entry.PurposePtype); !isPtype {
			return
		}
	}
	m.candidates = append(m.candidates, Candidate{Entry: e, Prefix: prefix})
}
