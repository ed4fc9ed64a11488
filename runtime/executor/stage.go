package executor

import (
	"context"
	"sync"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/runtime/plugin"
)

// lockMu is the coarse mutual-exclusion lock actions with lock=true
// acquire — one lock shared across every stage in a daemon process, the
// simplest reading of "acquires a mutex for mutual exclusion" that
// actually prevents two lock=true actions (in different pipeline stages
// running concurrently, per Run) from racing each other.
var lockMu sync.Mutex

// runStage drives one stage's actions through IDLE -> RUNNING -> DONE,
// running each bound action of its command in declaration order against
// a running retcode that starts at 0 (§4.6).
func runStage(ctx context.Context, stage *StageContext, host *plugin.Host, sess plugin.Session, opts Options) {
	stage.setState(StateRunning)
	defer stage.setState(StateDone)

	if stage.Pargv == nil || stage.Pargv.Command == nil {
		return
	}

	actions := stage.Pargv.Command.EffectiveActions()
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, a := range actions {
		running := stage.Retcode()
		if !a.ExecOn.Matches(running) {
			continue
		}
		if opts.DryRun && !a.Permanent.Bool(false) {
			continue
		}

		fn, err := host.Lookup(a.SymRef)
		if err != nil {
			stage.setRetcode(unresolvedRetcode)
			continue
		}

		env := buildEnv(sess.Env(), stage.Pargv, OriginAction, opts.User, opts.UID, opts.PID)
		actionCtx, cancel := ctx, noopCancel
		if a.Interrupt {
			actionCtx, cancel = context.WithCancel(ctx)
		}

		pctx := &plugin.Context{
			Context: actionCtx,
			Session: sess,
			Script:  a.Script,
			Env:     env,
			Stdin:   stage.Stdin,
			Stdout:  stage.Stdout,
			Stderr:  stage.Stderr,
		}

		if !a.Sync.Bool(true) {
			wg.Add(1)
			go func(a entry.Action, fn plugin.Symbol, pctx *plugin.Context, cancel context.CancelFunc) {
				defer wg.Done()
				defer cancel()
				runAction(a, fn, pctx, nil)
			}(a, fn, pctx, cancel)
			continue
		}

		runAction(a, fn, pctx, stage)
		cancel()
	}
}

// noopCancel stands in for an action's cancel func when it has no
// interrupt-scoped context of its own, so the call site can always defer
// or call cancel() unconditionally.
func noopCancel() {}

// runAction invokes fn, serializing against lockMu when the action
// declares lock=true, and — for synchronous actions only — folds the
// result into the stage's running retcode when update_retcode=true.
// Asynchronous (sync=false) actions have no stage to report back into;
// their exit code is inherently discarded (§4.6's running retcode is a
// per-stage, in-order concept that a fire-and-forget action sits outside
// of).
func runAction(a entry.Action, fn plugin.Symbol, pctx *plugin.Context, stage *StageContext) {
	if a.Lock {
		lockMu.Lock()
		defer lockMu.Unlock()
	}
	code := fn(pctx)
	if stage != nil && a.UpdateRetcode {
		stage.setRetcode(int(code))
	}
}
