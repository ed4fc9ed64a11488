// Package ptype implements parameter-type validation: compiling a PTYPE's
// declared value range into a JSON Schema validator and checking input
// tokens against it (§3.3, §4.1 "Default PTYPEs").
//
// Validator compilation follows the same shape as the teacher's
// core/types/validation.go: build a JSON Schema document, compile it with
// santhosh-tekuri/jsonschema/v5, cache the compiled validator, and
// validate by feeding it a decoded Go value rather than raw bytes.
package ptype

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind names one of the built-in PTYPEs that is always registered
// regardless of what a scheme declares (§4.1).
type Kind string

const (
	KindCommand     Kind = "COMMAND"
	KindCommandCase Kind = "COMMAND_CASE"
	KindInt         Kind = "INT"
	KindUint        Kind = "UINT"
	KindString      Kind = "STRING"
)

// numericKind says how a token decodes into the Go value a compiled
// schema validates against: the schema's own declared type, not the
// PTYPE's name, since a range PTYPE can be named anything ("PORT",
// "VLAN", ...) regardless of whether it's signed, unsigned, or not
// numeric at all.
type numericKind int

const (
	numericNone numericKind = iota
	numericInt
	numericUint
)

// Validator checks whether a token string satisfies one compiled PTYPE.
type Validator struct {
	name    string
	schema  *jsonschema.Schema
	numeric numericKind
	// literal holds a COMMAND/COMMAND_CASE's fixed value; nil for
	// range/pattern-based PTYPEs.
	literal    *string
	ignoreCase bool
}

// Validate reports whether token satisfies the PTYPE, decoding it into
// the Go value the compiled schema expects (string for STRING/COMMAND,
// int64/uint64 for INT/UINT and any other numeric range PTYPE).
func (v *Validator) Validate(token string) error {
	if v.literal != nil {
		match := token == *v.literal
		if v.ignoreCase {
			match = strings.EqualFold(token, *v.literal)
		}
		if !match {
			return fmt.Errorf("ptype %s: %q does not match %q", v.name, token, *v.literal)
		}
		return nil
	}

	var value interface{}
	switch v.numeric {
	case numericInt:
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return fmt.Errorf("ptype %s: %q is not an integer", v.name, token)
		}
		value = n
	case numericUint:
		n, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return fmt.Errorf("ptype %s: %q is not an unsigned integer", v.name, token)
		}
		value = n
	default:
		value = token
	}

	if err := v.schema.Validate(value); err != nil {
		return fmt.Errorf("ptype %s: %q: %w", v.name, token, err)
	}
	return nil
}

// Name returns the PTYPE name this validator was compiled for.
func (v *Validator) Name() string { return v.name }

// Registry holds compiled PTYPE validators, guarded the way the teacher
// guards its decorator registry (core/decorator/registry.go): a
// sync.RWMutex over a plain map, read-heavy after scheme load completes.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]*Validator
}

// NewRegistry returns a registry pre-populated with the five PTYPEs
// spec.md requires to always exist (§4.1).
func NewRegistry() (*Registry, error) {
	r := &Registry{validators: make(map[string]*Validator)}
	for _, b := range defaultPtypes() {
		v, err := compile(b.name, b.schema, b.literal, b.ignoreCase, b.numeric)
		if err != nil {
			return nil, fmt.Errorf("ptype: compile builtin %s: %w", b.name, err)
		}
		r.validators[b.name] = v
	}
	return r, nil
}

type builtin struct {
	name       string
	schema     map[string]interface{}
	literal    *string
	ignoreCase bool
	numeric    numericKind
}

func defaultPtypes() []builtin {
	return []builtin{
		// COMMAND/COMMAND_CASE are literal-word matchers: the matching
		// command/parameter entry supplies the literal via its own Value
		// field (core/entry.Entry.EffectiveValue), so the PTYPE itself
		// only needs to accept any string here.
		{name: string(KindCommand), schema: map[string]interface{}{"type": "string"}},
		{name: string(KindCommandCase), schema: map[string]interface{}{"type": "string"}},
		{name: string(KindString), schema: map[string]interface{}{"type": "string"}},
		{name: string(KindInt), numeric: numericInt, schema: map[string]interface{}{
			"type": "integer", "minimum": -9223372036854775808.0, "maximum": 9223372036854775807.0,
		}},
		{name: string(KindUint), numeric: numericUint, schema: map[string]interface{}{
			"type": "integer", "minimum": 0, "maximum": 18446744073709551615.0,
		}},
	}
}

// RegisterRange compiles and stores a PTYPE with a bounded range, e.g. for
// `<UINT 1..65535>` (§3.3, scenario 2 in §8). kind selects the Go value
// the token decodes into before schema validation: KindUint decodes as an
// unsigned integer, every other Kind as a signed integer.
func (r *Registry) RegisterRange(name string, kind Kind, min, max float64) error {
	numeric := numericInt
	if kind == KindUint {
		numeric = numericUint
	}
	v, err := compile(name, map[string]interface{}{
		"type": "integer", "minimum": min, "maximum": max,
	}, nil, false, numeric)
	if err != nil {
		return fmt.Errorf("ptype: register %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// RegisterPattern compiles and stores a STRING-derived PTYPE constrained
// by a regular expression.
func (r *Registry) RegisterPattern(name, pattern string) error {
	v, err := compile(name, map[string]interface{}{
		"type": "string", "pattern": pattern,
	}, nil, false, numericNone)
	if err != nil {
		return fmt.Errorf("ptype: register %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// RegisterLiteral compiles and stores a COMMAND or COMMAND_CASE PTYPE
// whose value is a single fixed string rather than a JSON Schema range.
func (r *Registry) RegisterLiteral(name, value string, caseSensitive bool) error {
	v, err := compile(name, nil, &value, !caseSensitive, numericNone)
	if err != nil {
		return fmt.Errorf("ptype: register %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// RegisterJSONSchema compiles and stores a PTYPE whose range is given as
// a raw JSON Schema document (an escape hatch for plugin-defined PTYPEs).
func (r *Registry) RegisterJSONSchema(name, rawSchema string) error {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(rawSchema), &schema); err != nil {
		return fmt.Errorf("ptype: %s: invalid json_schema: %w", name, err)
	}
	numeric := numericKindFromSchema(schema)
	v, err := compile(name, schema, nil, false, numeric)
	if err != nil {
		return fmt.Errorf("ptype: register %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
	return nil
}

// numericKindFromSchema inspects a raw JSON Schema document's declared
// "type" to decide how RegisterJSONSchema should decode tokens, since
// plugin-defined PTYPEs don't go through RegisterRange's explicit Kind.
func numericKindFromSchema(schema map[string]interface{}) numericKind {
	t, _ := schema["type"].(string)
	switch t {
	case "integer", "number":
		if min, ok := schema["minimum"].(float64); ok && min >= 0 {
			return numericUint
		}
		return numericInt
	default:
		return numericNone
	}
}

// Lookup returns the compiled validator for name, if registered.
func (r *Registry) Lookup(name string) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}

func compile(name string, schema map[string]interface{}, literal *string, ignoreCase bool, numeric numericKind) (*Validator, error) {
	if literal != nil {
		return &Validator{name: name, literal: literal, ignoreCase: ignoreCase}, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "ptype://" + name
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return &Validator{name: name, schema: compiled, numeric: numeric}, nil
}
