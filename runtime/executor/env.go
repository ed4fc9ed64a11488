package executor

import (
	"fmt"

	"github.com/klish-project/klish/runtime/parser"
)

// Origin names the kind of invocation an action's context comes from —
// the `KLISH_TYPE` domain the original plugins/script/script.c's
// kcontext_type_e_str enumerates ("none", "plugin_init", "plugin_fini",
// "action", "service_action"). The parser's EXEC/COMPLETION/HELP
// Purpose is a different axis entirely (what the parse was for, not who
// is invoking the action) and must never leak into KLISH_TYPE.
type Origin string

const (
	// OriginAction is an ordinary command/ptype action run as part of a
	// pipeline stage (runStage's normal path).
	OriginAction Origin = "action"
	// OriginServiceAction is a PTYPE's completion/help/cond nested action
	// invoked as a local action on a single candidate (§4.5), not a
	// pipeline stage of its own.
	OriginServiceAction Origin = "service_action"
	// OriginPluginInit/OriginPluginFini are a plugin's own lifecycle
	// hooks (§4.3), not bound to any command's pargv.
	OriginPluginInit Origin = "plugin_init"
	OriginPluginFini Origin = "plugin_fini"
)

// buildEnv assembles the per-action environment: the session's own
// inherited env (so a child sees whatever `env`/`workdir` builtins have
// set) plus the KLISH_* variables §4.6 step 4 and §6 require —
// KLISH_COMMAND, KLISH_TYPE, KLISH_VALUE, KLISH_USER, KLISH_UID,
// KLISH_PID, and both KLISH_PARAM_<name> and KLISH_PARAM_<name>_<N> per
// bound parameter (§6 "for each bound parameter P with values
// v_0,...,v_k-1: KLISH_PARAM_P=v_0, KLISH_PARAM_P_0=v_0, ...").
func buildEnv(base map[string]string, p *parser.Pargv, origin Origin, user string, uid uint32, pid int32) map[string]string {
	env := make(map[string]string, len(base)+8)
	for k, v := range base {
		env[k] = v
	}

	env["KLISH_TYPE"] = string(origin)
	env["KLISH_USER"] = user
	env["KLISH_UID"] = fmt.Sprintf("%d", uid)
	env["KLISH_PID"] = fmt.Sprintf("%d", pid)
	if p.Command != nil {
		env["KLISH_COMMAND"] = p.Command.Name
	}
	if len(p.Bindings) > 0 {
		// The candidate's current value (§6 "KLISH_VALUE"): the most
		// recently bound token, the closest analogue in a pargv to the
		// original's per-context kcontext_candidate_value.
		env["KLISH_VALUE"] = p.Bindings[len(p.Bindings)-1].Value
	}

	for _, name := range paramNames(p) {
		values := p.Values(name)
		// The bare form always carries v_0, in addition to every
		// indexed form — both forms coexist regardless of arity; they
		// are not mutually exclusive branches of a single-vs-multiple
		// split.
		env["KLISH_PARAM_"+name] = values[0]
		for i, v := range values {
			env[fmt.Sprintf("KLISH_PARAM_%s_%d", name, i)] = v
		}
	}
	return env
}

// paramNames returns the distinct bound parameter names, in first-bound
// order, excluding command/subcommand entries — those are part of the
// command path, not a KLISH_PARAM_* value (§4.6 step 4).
func paramNames(p *parser.Pargv) []string {
	seen := make(map[string]bool, len(p.Bindings))
	var names []string
	for _, b := range p.Bindings {
		if b.Entry.IsCommand || seen[b.Entry.Name] {
			continue
		}
		seen[b.Entry.Name] = true
		names = append(names, b.Entry.Name)
	}
	return names
}
