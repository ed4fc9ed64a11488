// Package scheme loads a decoded scheme DTO into a live, resolved *Entry
// tree (C1): materializing views/commands/params/ptypes/plugins,
// enforcing the missing-mandatory-field and duplicate-view merge rules,
// and resolving ref_str aliases with cycle detection (§4.1).
package scheme

import (
	"fmt"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/ptype"
)

// LoadError is one accumulated diagnostic (§4.1 "accumulate the error
// into a diagnostic list; continue parsing to surface as many errors as
// possible").
type LoadError struct {
	Path    string
	Name    string
	Message string
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Name, e.Message)
}

// Scheme is a fully materialized, reference-resolved scheme tree: the
// root views plus the PTYPE registry every parameter validates against.
type Scheme struct {
	Views   map[string]*entry.Entry
	Order   []string // view names in declaration order, for deterministic iteration
	Ptypes  *ptype.Registry
	Plugins []entry.PluginDTO
}

// View returns the named root view, if it exists.
func (s *Scheme) View(name string) (*entry.Entry, bool) {
	v, ok := s.Views[name]
	return v, ok
}

// Load materializes dto into a resolved Scheme. It always returns every
// diagnostic it could accumulate; a non-empty error slice means the
// scheme must not be put into service (the caller decides whether a
// partial Scheme is still useful for e.g. listing errors to an operator).
func Load(dto *entry.SchemeDTO) (*Scheme, []LoadError) {
	var errs []LoadError

	ptypes, err := ptype.NewRegistry()
	if err != nil {
		// The default PTYPEs are fixed and always compile; a failure here
		// is a programming error in this package, not a bad scheme.
		panic(fmt.Sprintf("scheme: default PTYPE registry failed to build: %v", err))
	}
	for _, p := range dto.Ptypes {
		if regErr := registerPtype(ptypes, p); regErr != nil {
			errs = append(errs, LoadError{Path: "ptypes", Name: p.Name, Message: regErr.Error()})
		}
	}

	views := make(map[string]*entry.Entry)
	var order []string
	for _, v := range dto.Views {
		if v.Name == "" {
			errs = append(errs, LoadError{Path: "views", Name: "", Message: "missing mandatory field: name"})
			continue
		}
		if existing, ok := views[v.Name]; ok {
			mergeView(existing, v, &errs)
			continue
		}
		live, viewErrs := materializeView(v)
		errs = append(errs, viewErrs...)
		views[v.Name] = live
		order = append(order, v.Name)
	}

	for _, p := range dto.Plugins {
		if p.File == "" {
			errs = append(errs, LoadError{Path: "plugins", Name: p.Name, Message: "missing mandatory field: file"})
		}
	}

	sch := &Scheme{Views: views, Order: order, Ptypes: ptypes, Plugins: dto.Plugins}

	resolveErrs := resolveLinks(sch)
	errs = append(errs, resolveErrs...)

	for _, v := range views {
		indexTree(v)
	}

	return sch, errs
}

// mergeView implements §4.1's duplicate-view rule: the later instance's
// attributes overwrite, nested entries/actions/hotkeys are appended.
func mergeView(existing *entry.Entry, dup entry.ViewDTO, errs *[]LoadError) {
	if dup.Prompt != "" {
		existing.Help = dup.Prompt
	}
	for _, c := range dup.Commands {
		child, childErrs := materializeCommand(c)
		*errs = append(*errs, childErrs...)
		if other := existing.FindChild(child.Name); other != nil {
			*errs = append(*errs, LoadError{
				Path: dup.Name, Name: child.Name,
				Message: "duplicate command name collides with existing entry of a different kind",
			})
			continue
		}
		existing.Entries = append(existing.Entries, child)
	}
}

func materializeView(v entry.ViewDTO) (*entry.Entry, []LoadError) {
	var errs []LoadError
	live := &entry.Entry{Name: v.Name, Help: v.Prompt, Mode: entry.ModeSwitch, Container: true}
	seen := make(map[string]bool)
	for _, c := range v.Commands {
		child, childErrs := materializeCommand(c)
		errs = append(errs, childErrs...)
		if seen[child.Name] {
			errs = append(errs, LoadError{Path: v.Name, Name: child.Name, Message: "duplicate sibling name"})
			continue
		}
		seen[child.Name] = true
		live.Entries = append(live.Entries, child)
	}
	return live, errs
}

func materializeCommand(c entry.CommandDTO) (*entry.Entry, []LoadError) {
	var errs []LoadError
	if c.Name == "" {
		errs = append(errs, LoadError{Path: "command", Name: "", Message: "missing mandatory field: name"})
	}

	live := &entry.Entry{
		Name:        c.Name,
		Help:        c.Help,
		Mode:        entry.ModeSequence,
		Interactive: c.Interactive,
		IsCommand:   true,
		Min:         1,
		Max:         1,
		View:        c.View,
		Pop:         c.Pop,
	}
	live.Filter = parseFilter(c.Filter)
	if c.Restore != nil {
		live.Restore = *c.Restore
	}

	if c.RefStr != "" {
		live.NewLink(c.RefStr, nil) // target resolved in a later pass
	}

	for _, p := range c.Params {
		child, pErrs := materializeParam(p)
		errs = append(errs, pErrs...)
		live.Entries = append(live.Entries, child)
	}
	for _, nested := range c.Nested {
		child, cErrs := materializeCommand(nested)
		errs = append(errs, cErrs...)
		live.Entries = append(live.Entries, child)
	}
	for _, a := range c.Actions {
		act, aErrs := materializeAction(c.Name, a)
		errs = append(errs, aErrs...)
		live.Actions = append(live.Actions, act)
	}
	if len(c.Hotkeys) > 0 {
		live.Hotkeys = make(map[byte]string, len(c.Hotkeys))
		for _, hk := range c.Hotkeys {
			if len(hk.Key) < 2 || hk.Key[0] != '^' {
				errs = append(errs, LoadError{Path: c.Name, Name: hk.Key, Message: "malformed hotkey spec"})
				continue
			}
			ctrl := hk.Key[1] - '@'
			live.Hotkeys[ctrl] = hk.Command
		}
	}

	return live, errs
}

func materializeParam(p entry.ParamDTO) (*entry.Entry, []LoadError) {
	var errs []LoadError
	if p.Name == "" {
		errs = append(errs, LoadError{Path: "param", Name: "", Message: "missing mandatory field: name"})
	}

	live := &entry.Entry{Name: p.Name, Help: p.Help, Value: p.Value, Order: p.Order}
	live.Mode = parseMode(p.Mode)
	live.Min, live.Max = 1, 1
	if p.Min != nil {
		live.Min = *p.Min
	}
	if p.Max != nil {
		live.Max = *p.Max
	}

	if p.RefStr != "" {
		live.NewLink(p.RefStr, nil)
	}
	if p.Ptype != "" {
		live.Entries = append(live.Entries, &entry.Entry{
			Name: p.Ptype, Purpose: entry.PurposePtype, Mode: entry.ModeEmpty,
		})
	}
	for _, nested := range p.Nested {
		child, cErrs := materializeParam(nested)
		errs = append(errs, cErrs...)
		live.Entries = append(live.Entries, child)
	}

	return live, errs
}

func materializeAction(owner string, a entry.ActionDTO) (entry.Action, []LoadError) {
	var errs []LoadError
	if a.Sym == "" && a.Script == "" {
		errs = append(errs, LoadError{Path: owner, Name: "", Message: "missing mandatory field: sym"})
	}
	act := entry.Action{
		SymRef:    a.Sym,
		Script:    a.Script,
		Lock:      a.Lock,
		Interrupt: a.Interrupt,
		In:        parseStreamKind(a.In),
		Out:       parseStreamKind(a.Out),
		ExecOn:    parseExecOn(a.ExecOn),
	}
	if a.UpdateRetcode != nil {
		act.UpdateRetcode = *a.UpdateRetcode
	}
	act.Permanent = parseTri(a.Permanent)
	act.Sync = parseTri(a.Sync)
	return act, errs
}

func parseMode(s string) entry.Mode {
	switch s {
	case "switch":
		return entry.ModeSwitch
	case "empty":
		return entry.ModeEmpty
	default:
		return entry.ModeSequence
	}
}

func parseFilter(s string) entry.Filter {
	switch s {
	case "true":
		return entry.FilterTrue
	case "dual":
		return entry.FilterDual
	default:
		return entry.FilterFalse
	}
}

func parseStreamKind(s string) entry.StreamKind {
	switch s {
	case "open":
		return entry.StreamOpen
	case "tty":
		return entry.StreamTTY
	default:
		return entry.StreamClosed
	}
}

func parseExecOn(s string) entry.ExecOn {
	switch s {
	case "fail":
		return entry.ExecOnFail
	case "always":
		return entry.ExecOnAlways
	case "never":
		return entry.ExecOnNever
	default:
		return entry.ExecOnSuccess
	}
}

func parseTri(b *bool) entry.Tri {
	if b == nil {
		return entry.TriUnset
	}
	if *b {
		return entry.TriTrue
	}
	return entry.TriFalse
}

func registerPtype(reg *ptype.Registry, p entry.PtypeDTO) error {
	if p.Name == "" {
		return fmt.Errorf("missing mandatory field: name")
	}
	if p.JSONSchema != "" {
		return reg.RegisterJSONSchema(p.Name, p.JSONSchema)
	}
	if p.Compile != "" {
		return compileRange(reg, p.Name, p.Compile)
	}
	return nil
}

// compileRange parses a "min..max" range string into a ranged UINT/INT
// PTYPE (§3.3: values like "1..65535").
func compileRange(reg *ptype.Registry, name, spec string) error {
	var lo, hi float64
	n, err := fmt.Sscanf(spec, "%f..%f", &lo, &hi)
	if err != nil || n != 2 {
		return fmt.Errorf("invalid range spec %q", spec)
	}
	kind := ptype.KindUint
	if lo < 0 {
		kind = ptype.KindInt
	}
	return reg.RegisterRange(name, kind, lo, hi)
}

// indexTree rebuilds the purpose index over the whole subtree rooted at
// e, recursing into owned children only (a link has no owned children to
// index; its effective children belong to its target, already indexed
// when the target itself was materialized).
func indexTree(e *entry.Entry) {
	e.IndexByPurpose()
	for _, c := range e.Entries {
		indexTree(c)
	}
}
