// Package executor implements the executor (C6): given a parsed pipeline
// (one pargv per stage), it builds a kexec plan — an ordered list of
// per-stage contexts wired together with anonymous pipes (or a single
// pseudo-terminal when a stage demands one) — and runs each stage's
// actions in declaration order, tracking a running retcode per stage
// (§4.6).
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/invariant"
	"github.com/klish-project/klish/runtime/parser"
	"github.com/klish-project/klish/runtime/plugin"
)

// State is a stage context's position in its IDLE -> RUNNING -> DONE
// lifecycle (§4.6 "State machine per context").
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ErrSymbolUnresolved means an action's sym_ref did not resolve through
// the plugin host (§4.6 step 3 "action fails with a well-defined code").
var ErrSymbolUnresolved = plugin.ErrSymbolUnresolved

// unresolvedRetcode is the running-retcode value set when a sym_ref
// fails to resolve — the conventional shell "command not found" code.
const unresolvedRetcode = 127

// Options configures one Build call: the identity fields that feed
// KLISH_USER/KLISH_UID/KLISH_PID env population, the parse purpose this
// pipeline was built for, and dry-run mode (§4.6 step 2). Purpose is
// unrelated to KLISH_TYPE (runStage always runs actions with
// OriginAction; KLISH_TYPE is the action's origin, not the parse's
// purpose, per §6).
type Options struct {
	Purpose parser.Purpose
	User    string
	UID     uint32
	PID     int32
	DryRun  bool
}

// StageContext is one pipeline stage's execution state: its pargv, the
// stream triple it runs its actions against, and the running retcode
// actions read via exec_on and may overwrite via update_retcode (§4.6).
type StageContext struct {
	mu sync.Mutex

	Pargv  *parser.Pargv
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	state   State
	retcode int

	closers []io.Closer
}

// State returns the stage's current lifecycle state.
func (c *StageContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retcode returns the stage's current running retcode.
func (c *StageContext) Retcode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retcode
}

func (c *StageContext) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *StageContext) setRetcode(r int) {
	c.mu.Lock()
	c.retcode = r
	c.mu.Unlock()
}

// Plan is a fully wired kexec plan: one StageContext per pipeline stage,
// connected in a pipe chain (or sharing a single pty), ready to Run.
type Plan struct {
	Stages []*StageContext

	// PTY is non-nil when a stage demanded a terminal (§4.6 "a
	// pseudo-terminal is allocated... the pipeline is then restricted to
	// one stage"); the master end, for a daemon to relay to the client
	// and to resize on WINCH.
	PTY *os.File

	closers []io.Closer
}

// Close releases every pipe/pty file descriptor the plan allocated.
// Safe to call after Run even if a stage errored partway through.
func (p *Plan) Close() {
	for _, c := range p.closers {
		_ = c.Close()
	}
}

// Build constructs a kexec plan from a parsed pipeline: a chain of
// os.Pipe-connected stages, or a single pty-backed stage when any bound
// action declares a tty stream (§4.6). extStdin/extStdout are the
// pipeline's external endpoints — the first stage's stdin and the last
// stage's stdout — and may be nil (an action that never reads/writes
// gets whatever default its plugin symbol falls back to).
func Build(pipeline *parser.Pipeline, extStdin io.Reader, extStdout, extStderr io.Writer) (*Plan, error) {
	invariant.NotNil(pipeline, "pipeline")
	invariant.Precondition(len(pipeline.Stages) > 0, "pipeline must have at least one stage")

	plan := &Plan{}

	if wantsTTY(pipeline.Stages) {
		if len(pipeline.Stages) != 1 {
			// The parser's R5 already rejects an interactive command in a
			// multi-stage pipeline; a tty-demanding action reaching here
			// with more than one stage is a programming error upstream.
			invariant.Invariant(false, "tty-demanding action in a multi-stage pipeline")
		}
		master, slave, err := ptyOpen()
		if err != nil {
			return nil, fmt.Errorf("executor: allocate pty: %w", err)
		}
		plan.PTY = master
		plan.closers = append(plan.closers, master, slave)
		plan.Stages = []*StageContext{{
			Pargv:  pipeline.Stages[0].Pargv,
			Stdin:  slave,
			Stdout: slave,
			Stderr: slave,
		}}
		return plan, nil
	}

	n := len(pipeline.Stages)
	stages := make([]*StageContext, n)
	var prevRead io.Reader = extStdin
	for i, st := range pipeline.Stages {
		stage := &StageContext{Pargv: st.Pargv, Stdin: prevRead, Stderr: extStderr}
		if i == n-1 {
			stage.Stdout = extStdout
		} else {
			pr, pw, err := os.Pipe()
			if err != nil {
				plan.closers = append(plan.closers, collectClosers(stages[:i])...)
				for _, c := range plan.closers {
					_ = c.Close()
				}
				return nil, fmt.Errorf("executor: allocate stage pipe: %w", err)
			}
			stage.Stdout = pw
			stage.closers = append(stage.closers, pw)
			plan.closers = append(plan.closers, pw, pr)
			prevRead = pr
		}
		stages[i] = stage
	}
	plan.Stages = stages
	return plan, nil
}

// wantsTTY reports whether any stage binds an action whose in or out
// stream kind demands a terminal (§4.6 "When any stage has a
// tty-demanding action, a pseudo-terminal is allocated").
func wantsTTY(stages []parser.Stage) bool {
	for _, st := range stages {
		if st.Pargv.Command == nil {
			continue
		}
		for _, a := range st.Pargv.Command.EffectiveActions() {
			if a.In == entry.StreamTTY || a.Out == entry.StreamTTY {
				return true
			}
		}
	}
	return false
}

func collectClosers(stages []*StageContext) []io.Closer {
	var out []io.Closer
	for _, s := range stages {
		out = append(out, s.closers...)
	}
	return out
}

// Run executes every stage of the plan concurrently, each stage's
// actions running in declaration order against its own running retcode,
// mirroring a shell pipeline: all stages start at once, connected by the
// pipes Build wired up, and Run returns once every stage has reached
// DONE. It returns the last stage's final retcode (§4.6 "the executor is
// done when every context is DONE").
func Run(ctx context.Context, plan *Plan, host *plugin.Host, sess plugin.Session, opts Options) int {
	invariant.NotNil(plan, "plan")
	invariant.NotNil(host, "host")
	invariant.NotNil(sess, "sess")

	var wg sync.WaitGroup
	wg.Add(len(plan.Stages))
	for _, stage := range plan.Stages {
		stage := stage
		go func() {
			defer wg.Done()
			runStage(ctx, stage, host, sess, opts)
		}()
	}
	wg.Wait()

	return plan.Stages[len(plan.Stages)-1].Retcode()
}
