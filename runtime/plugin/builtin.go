package plugin

import (
	"fmt"
	"io"
	"strings"
)

// BuiltinName is the local plugin name the shell/env/workdir symbols are
// registered under (§4.3 expansion: "these exist purely as the one
// concrete, testable plugin the framework ships").
const BuiltinName = "builtin"

// Builtins returns the symbol table for the framework's own builtin
// plugin: shell (runs a command line through the session, the direct
// analogue of core/decorator/local_session.go's Run), env (reads/writes
// session environment, grounded on runtime/decorators/env.go's @env), and
// workdir (changes the session's working directory). Bespoke scripting
// engines (shell/Lua) stay out of scope per spec.md; this is the one
// concrete action every klish scheme can rely on existing.
func Builtins() map[string]Symbol {
	return map[string]Symbol{
		"shell":   shellSymbol,
		"env":     envSymbol,
		"workdir": workdirSymbol,
	}
}

// shellSymbol runs ctx.Script as a shell command line through the
// session, wiring the action's stream triple straight through —
// grounded on shellNode.Execute's "bash -c" wrapper
// (runtime/decorators/shell.go).
func shellSymbol(ctx *Context) int32 {
	if strings.TrimSpace(ctx.Script) == "" {
		fmt.Fprintln(ctx.Stderr, "shell: empty command")
		return 127
	}
	result, err := ctx.Session.Run(ctx.Context, []string{"sh", "-c", ctx.Script}, RunOpts{
		Stdin:  ctx.Stdin,
		Stdout: ctx.Stdout,
		Stderr: ctx.Stderr,
		Env:    ctx.Env,
	})
	if err != nil {
		fmt.Fprintf(ctx.Stderr, "shell: %v\n", err)
		if result.ExitCode == 0 {
			return 1
		}
	}
	return int32(result.ExitCode)
}

// envSymbol reads or sets a session environment variable. Script is
// either "NAME" (print the current value) or "NAME=VALUE" (set it) —
// grounded on @env's property/default parameter shape
// (runtime/decorators/env.go), adapted from a value-expression resolver
// to a direct session mutation since klish actions have no expression
// language of their own.
func envSymbol(ctx *Context) int32 {
	name, value, isSet := strings.Cut(ctx.Script, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Fprintln(ctx.Stderr, "env: missing variable name")
		return 1
	}
	if isSet {
		ctx.Session.SetEnv(name, value)
		return 0
	}
	env := ctx.Session.Env()
	v, ok := env[name]
	if !ok {
		return 1
	}
	io.WriteString(ctx.Stdout, v+"\n")
	return 0
}

// workdirSymbol changes the session's working directory to ctx.Script.
func workdirSymbol(ctx *Context) int32 {
	dir := strings.TrimSpace(ctx.Script)
	if dir == "" {
		fmt.Fprintln(ctx.Stderr, "workdir: missing path")
		return 1
	}
	if err := ctx.Session.SetCwd(dir); err != nil {
		fmt.Fprintf(ctx.Stderr, "workdir: %v\n", err)
		return 1
	}
	return 0
}
