package entry

// This file defines the intermediate DTO shapes a scheme loader decodes
// from JSON before materializing them into a live *Entry tree (§4.1). The
// split mirrors the teacher's decorator decoder, which separates a raw
// decoded descriptor from the Entry it is turned into
// (core/decorator/decoder.go materializes a DecoratorSpec into a live
// Descriptor the same way SchemeDTO here is materialized into an Entry
// tree by runtime/scheme).

// SchemeDTO is the top-level decoded document (§3.1: scheme).
type SchemeDTO struct {
	Views   []ViewDTO   `json:"views"`
	Ptypes  []PtypeDTO  `json:"ptypes"`
	Plugins []PluginDTO `json:"plugins"`
}

// ViewDTO is one view: a named set of commands reachable while the
// session's path includes it.
type ViewDTO struct {
	Name     string       `json:"name"`
	Prompt   string       `json:"prompt,omitempty"`
	Commands []CommandDTO `json:"commands"`
}

// CommandDTO is one command declaration, possibly a ref_str alias.
type CommandDTO struct {
	Name    string       `json:"name"`
	Help    string       `json:"help,omitempty"`
	RefStr  string       `json:"ref,omitempty"`
	Filter  string       `json:"filter,omitempty"` // "false"|"true"|"dual"
	Restore *bool        `json:"restore,omitempty"`
	Params  []ParamDTO   `json:"params,omitempty"`
	Actions []ActionDTO  `json:"actions,omitempty"`
	Hotkeys []HotkeyDTO  `json:"hotkeys,omitempty"`
	Nested  []CommandDTO `json:"commands,omitempty"` // nested/sub-commands

	Interactive bool `json:"interactive,omitempty"`

	// View names a view this command pushes onto the session path once
	// it finishes executing (§4.4 "push (navigation command whose view
	// attribute names a view)").
	View string `json:"view,omitempty"`

	// Pop truncates the session path by one level once this command
	// finishes executing (§4.4 "pop (by one level)").
	Pop bool `json:"pop,omitempty"`
}

// ParamDTO is one parameter declaration within a command.
type ParamDTO struct {
	Name   string     `json:"name"`
	Help   string     `json:"help,omitempty"`
	RefStr string     `json:"ref,omitempty"`
	Ptype  string     `json:"ptype,omitempty"`
	Value  string     `json:"value,omitempty"`
	Mode   string     `json:"mode,omitempty"` // "sequence"|"switch"|"empty"
	Min    *int       `json:"min,omitempty"`
	Max    *int       `json:"max,omitempty"`
	Order  bool       `json:"order,omitempty"`
	Nested []ParamDTO `json:"params,omitempty"`
}

// PtypeDTO is one parameter-type declaration (§3.3).
type PtypeDTO struct {
	Name       string      `json:"name"`
	Help       string      `json:"help,omitempty"`
	Compile    string      `json:"compile,omitempty"`
	Actions    []ActionDTO `json:"actions,omitempty"`
	JSONSchema string      `json:"json_schema,omitempty"`
}

// PluginDTO is one plugin manifest entry (§3.4, with the version-range
// extension noted in SPEC_FULL.md §3).
type PluginDTO struct {
	File    string `json:"file"`
	Name    string `json:"name,omitempty"`
	Config  string `json:"config,omitempty"`
	Version string `json:"version,omitempty"`
}

// ActionDTO is one action declaration (§3.2).
type ActionDTO struct {
	Sym           string `json:"sym,omitempty"`
	Script        string `json:"script,omitempty"`
	Lock          bool   `json:"lock,omitempty"`
	Interrupt     bool   `json:"interrupt,omitempty"`
	In            string `json:"in,omitempty"`  // "closed"|"open"|"tty"
	Out           string `json:"out,omitempty"` // "closed"|"open"|"tty"
	ExecOn        string `json:"exec_on,omitempty"`
	UpdateRetcode *bool  `json:"update_retcode,omitempty"`
	Permanent     *bool  `json:"permanent,omitempty"`
	Sync          *bool  `json:"sync,omitempty"`
}

// HotkeyDTO binds a single control byte to a command path.
type HotkeyDTO struct {
	Key     string `json:"key"` // e.g. "^A"
	Command string `json:"command"`
}
