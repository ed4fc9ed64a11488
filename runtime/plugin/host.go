package plugin

import (
	"errors"
	"fmt"
	gopl "plugin"
	"strings"
	"sync"
	"unicode"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/invariant"
	"github.com/klish-project/klish/core/ptype"
)

// ErrSymbolUnresolved is returned when an action's sym_ref names no
// registered symbol, in any loaded plugin (§7 "Symbol unresolved").
var ErrSymbolUnresolved = errors.New("plugin: symbol unresolved")

// loaded is one plugin's registered symbol table plus its reported ABI
// version, kept in registration order so lookup-without-@plugin-suffix
// can implement "iterate plugins in registration order, first match
// wins" (§4.3).
type loaded struct {
	name    string
	version ptype.PluginVersion
	fini    func()
	symbols map[string]Symbol
}

// Host owns every plugin loaded for one daemon instance: the registration
// order, each plugin's symbol table, and the host's own ABI version every
// plugin is checked against at load time (§4.3).
//
// Guarded the same way the teacher guards its decorator registry
// (core/decorator/registry.go: sync.RWMutex over a plain map), since
// lookups happen on every action execution but loads only happen at
// daemon startup.
type Host struct {
	mu          sync.RWMutex
	hostVersion ptype.PluginVersion
	order       []*loaded
	byName      map[string]*loaded
}

// NewHost returns an empty host reporting hostVersion as its own ABI
// version, against which every loaded plugin's major version must match
// exactly (§4.3).
func NewHost(hostVersion ptype.PluginVersion) *Host {
	return &Host{hostVersion: hostVersion, byName: make(map[string]*loaded)}
}

// registrar is the Registrar a plugin's Init function receives; it
// accumulates symbols into one loaded plugin's table.
type registrar struct {
	symbols map[string]Symbol
}

func (r *registrar) Register(name string, fn Symbol) {
	invariant.Precondition(name != "", "plugin: registered symbol name must not be empty")
	invariant.NotNil(fn, "fn")
	r.symbols[name] = fn
}

// Load opens dto.File as a Go plugin, verifies its exported ABI version
// against the host's, calls its Init function with a fresh Registrar, and
// adds it to the registration order (§4.3). Plugin errors at load time
// are fatal for daemon startup (§4.3), so Load always returns a non-nil
// error on any failure rather than partially registering a plugin.
func (h *Host) Load(dto entry.PluginDTO) error {
	if dto.File == "" {
		return fmt.Errorf("plugin: missing mandatory field: file")
	}
	id := symbolID(dto.Name)
	if id == "" {
		return fmt.Errorf("plugin %s: missing mandatory field: name", dto.File)
	}

	lib, err := gopl.Open(dto.File)
	if err != nil {
		return fmt.Errorf("plugin %s: open: %w", dto.File, err)
	}

	major, err := lookupByte(lib, "Kplugin"+id+"Major")
	if err != nil {
		return fmt.Errorf("plugin %s: %w", dto.File, err)
	}
	minor, err := lookupByte(lib, "Kplugin"+id+"Minor")
	if err != nil {
		return fmt.Errorf("plugin %s: %w", dto.File, err)
	}
	version := ptype.PluginVersion{Major: major, Minor: minor}
	if err := ptype.CheckExact(h.hostVersion, version); err != nil {
		return fmt.Errorf("plugin %s: %w", dto.File, err)
	}
	if err := ptype.CheckConstraint(dto.Version, version); err != nil {
		return fmt.Errorf("plugin %s: %w", dto.File, err)
	}

	initSym, err := lib.Lookup("Kplugin" + id + "Init")
	if err != nil {
		return fmt.Errorf("plugin %s: missing Init export: %w", dto.File, err)
	}
	initFn, ok := initSym.(func(Registrar, string) error)
	if !ok {
		return fmt.Errorf("plugin %s: Init export has wrong signature", dto.File)
	}

	finiFn := func() {}
	if finiSym, err := lib.Lookup("Kplugin" + id + "Fini"); err == nil {
		if fn, ok := finiSym.(func()); ok {
			finiFn = fn
		}
	}

	reg := &registrar{symbols: make(map[string]Symbol)}
	if err := initFn(reg, dto.Config); err != nil {
		return fmt.Errorf("plugin %s: init: %w", dto.File, err)
	}

	return h.register(dto.Name, version, reg.symbols, finiFn)
}

// LoadBuiltin registers an in-process plugin (the shell/env/workdir
// builtins, §4.3 expansion) without going through Go's dynamic-library
// loader, exactly as if it had been the first plugin named in the scheme.
func (h *Host) LoadBuiltin(name string, symbols map[string]Symbol) error {
	return h.register(name, h.hostVersion, symbols, func() {})
}

func (h *Host) register(name string, version ptype.PluginVersion, symbols map[string]Symbol, fini func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byName[name]; exists {
		return fmt.Errorf("plugin %s: already loaded", name)
	}
	p := &loaded{name: name, version: version, fini: fini, symbols: symbols}
	h.order = append(h.order, p)
	h.byName[name] = p
	return nil
}

// Lookup resolves an action's sym_ref to a Symbol (§4.3 "strip optional
// @plugin suffix; if present, search only that plugin; else iterate
// plugins in registration order, first match wins").
func (h *Host) Lookup(symRef string) (Symbol, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	name, plugin, pinned := strings.Cut(symRef, "@")
	if pinned {
		p, ok := h.byName[plugin]
		if !ok {
			return nil, fmt.Errorf("%w: plugin %q not loaded", ErrSymbolUnresolved, plugin)
		}
		fn, ok := p.symbols[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in plugin %q", ErrSymbolUnresolved, name, plugin)
		}
		return fn, nil
	}

	for _, p := range h.order {
		if fn, ok := p.symbols[name]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrSymbolUnresolved, name)
}

// Shutdown runs every loaded plugin's fini in reverse registration order
// (§4.3 "fini runs on daemon shutdown; plugins are unloaded in reverse
// order").
func (h *Host) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.order) - 1; i >= 0; i-- {
		h.order[i].fini()
	}
}

func lookupByte(lib *gopl.Plugin, name string) (uint8, error) {
	sym, err := lib.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("missing %s export: %w", name, err)
	}
	v, ok := sym.(*uint8)
	if !ok {
		return 0, fmt.Errorf("%s export has wrong type", name)
	}
	return *v, nil
}

// symbolID turns a plugin's configured local name into the PascalCase
// identifier its exported Kplugin<ID>* symbols must use, since Go plugin
// symbols are exported Go identifiers rather than arbitrary C-style
// snake_case names.
func symbolID(name string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
