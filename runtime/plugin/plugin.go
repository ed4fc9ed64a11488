// Package plugin implements the plugin host (C3): dynamic-library
// loading, symbol registration, and the sym_ref lookup an action uses to
// resolve to native code (§4.3).
//
// Go's plugin package stands in for the spec's ".so" contract: a plugin
// built with `go build -buildmode=plugin` exports
// Kplugin<ID>Init/Fini/Major/Minor symbols, read via plugin.Plugin.Lookup,
// the same role core/decorator/registry.go's Register/Lookup pair plays
// for in-process decorators — here the registration happens inside the
// loaded library instead of an init() func in this binary.
package plugin

import (
	"context"
	"io"
)

// Symbol is the function signature an action's sym_ref resolves to
// (§4.3 "fn has signature (context) → i32").
type Symbol func(ctx *Context) int32

// Context carries everything a symbol needs to act: the session it runs
// against, the action's script payload, its resolved environment
// (KLISH_* variables plus inherited process env, §6), and its stream
// triple.
type Context struct {
	Context context.Context
	Session Session
	Script  string
	Env     map[string]string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Session is the process/environment abstraction a symbol runs against.
// Grounded on core/decorator.Session's Run/Env/Cwd shape, trimmed to the
// local-only transport klish's Non-goals require (no WithEnv/WithWorkdir
// copy-on-write variants, no remote Put/Get — this session is mutated
// directly by the env/workdir builtins rather than branching into a new
// session value, since klish sessions are long-lived per-connection
// objects, not per-call immutable snapshots).
type Session interface {
	Run(ctx context.Context, argv []string, opts RunOpts) (Result, error)
	Env() map[string]string
	SetEnv(key, value string)
	Cwd() string
	SetCwd(dir string) error
}

// RunOpts configures one Session.Run call.
type RunOpts struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
	Dir            string

	// Env, if non-nil, replaces the session's own environment for this
	// one call — how the executor delivers an action's KLISH_* variables
	// (§4.6 step 4) into the child process's environment without
	// mutating the session's persistent env.
	Env map[string]string
}

// Result is the outcome of a Session.Run call.
type Result struct {
	ExitCode int
}

// Registrar is what a plugin's exported Init function receives to
// register its symbols (§4.3 "init registers symbols (name, fn) into the
// plugin").
type Registrar interface {
	Register(name string, fn Symbol)
}
