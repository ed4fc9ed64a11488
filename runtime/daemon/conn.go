package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/user"
	"strconv"
	"sync"

	"github.com/klish-project/klish/core/entry"
	"github.com/klish-project/klish/core/ktp"
	"github.com/klish-project/klish/runtime/executor"
	"github.com/klish-project/klish/runtime/parser"
	"github.com/klish-project/klish/runtime/plugin"
	"github.com/klish-project/klish/runtime/scheme"
	"github.com/klish-project/klish/runtime/session"
)

// connState is one connection's position in the daemon-side mirror state
// machine (§4.10 "UNAUTHORIZED -> IDLE -> WAIT_FOR_PROCESS").
type connState int

const (
	connUnauthorized connState = iota
	connIdle
	connWaitForProcess
)

// daemonConn is one accepted client connection's session state: the
// socket, the async frame reader, the authenticated session/local-process
// abstraction, and — while a command runs — the kexec plan it drives.
type daemonConn struct {
	d    *Daemon
	conn *net.UnixConn

	writeMu sync.Mutex
	reader  *ktp.AsyncReader

	mu    sync.Mutex
	state connState
	sess  *session.Session
	local *plugin.LocalSession

	plan        *executor.Plan
	stdinWriter *io.PipeWriter
	cancel      context.CancelFunc
}

// handleConn drives one accepted connection until its read loop ends
// (EOF, a framing error, or EXIT), feeding raw socket bytes into an
// AsyncReader rather than blocking on a fixed-size read per message —
// the same incremental-feed shape core/ktp.AsyncReader was built for
// (§4.8 "async reader"), here fed from a per-connection goroutine instead
// of a single-threaded poll loop.
func (d *Daemon) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	dc := &daemonConn{d: d, conn: conn, reader: ktp.NewAsyncReader()}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dc.reader.Feed(buf[:n])
			for {
				msg, ok, decErr := dc.reader.Next()
				if decErr != nil {
					d.logger.Warn("daemon: dropping connection on bad frame", "err", decErr)
					dc.cleanup()
					return
				}
				if !ok {
					break
				}
				dc.handle(ctx, msg)
				if dc.sessionDone() {
					dc.cleanup()
					return
				}
			}
		}
		if err != nil {
			dc.cleanup()
			return
		}
	}
}

func (dc *daemonConn) sessionDone() bool {
	dc.mu.Lock()
	s := dc.sess
	dc.mu.Unlock()
	return s != nil && s.Done()
}

// cleanup cancels any in-flight command so its goroutine doesn't leak
// past a dropped connection (§7 "Socket I/O error: log, drop connection,
// exit the affected session's loop").
func (dc *daemonConn) cleanup() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.cancel != nil {
		dc.cancel()
	}
	if dc.plan != nil {
		dc.plan.Close()
	}
}

func (dc *daemonConn) handle(ctx context.Context, msg *ktp.Message) {
	dc.mu.Lock()
	state := dc.state
	dc.mu.Unlock()

	switch state {
	case connUnauthorized:
		dc.handleUnauthorized(msg)
	case connIdle:
		dc.handleIdle(ctx, msg)
	case connWaitForProcess:
		dc.handleWaitForProcess(msg)
	}
}

// handleUnauthorized honors only AUTH (§4.10 "only AUTH is honored; any
// other request produces an error reply").
func (dc *daemonConn) handleUnauthorized(msg *ktp.Message) {
	if msg.Cmd != ktp.CmdAuth {
		dc.send(ktp.NewMessage(ktp.CmdAuthAck, ktp.StatusError,
			ktp.StringParam(ktp.ParamError, "not authenticated")))
		return
	}

	uid, pid, err := session.PeerCredentials(dc.conn)
	if err != nil {
		dc.d.logger.Warn("daemon: peer credentials", "err", err)
	}

	sch := dc.d.schemeSnapshot()
	root, ok := sch.View(dc.d.cfg.RootView)
	if !ok {
		dc.send(ktp.NewMessage(ktp.CmdAuthAck, ktp.StatusError,
			ktp.StringParam(ktp.ParamError, "root view unavailable")))
		return
	}

	sess := session.New(root)
	sess.UID = uid
	sess.PID = pid
	if u, lookErr := user.LookupId(strconv.FormatUint(uint64(uid), 10)); lookErr == nil {
		sess.User = u.Username
	}

	dc.mu.Lock()
	dc.sess = sess
	dc.local = plugin.NewLocalSession()
	dc.state = connIdle
	dc.mu.Unlock()

	dc.send(ktp.NewMessage(ktp.CmdAuthAck, 0,
		ktp.StringParam(ktp.ParamPrompt, sess.Prompt()),
		hotkeyParams(sess.Levels())...))
}

func (dc *daemonConn) handleIdle(ctx context.Context, msg *ktp.Message) {
	switch msg.Cmd {
	case ktp.CmdCmd:
		dc.handleCmd(ctx, msg)
	case ktp.CmdCompletion:
		dc.handleCompletion(msg)
	case ktp.CmdHelp:
		dc.handleHelp(msg)
	case ktp.CmdNotification:
		dc.handleNotification(msg)
	case ktp.CmdExit:
		dc.sess.SetDone()
	default:
		dc.d.logger.Warn("daemon: unexpected command in IDLE", "cmd", msg.Cmd)
	}
}

func (dc *daemonConn) levels() []*entry.Entry {
	ls := dc.sess.Levels()
	out := make([]*entry.Entry, len(ls))
	for i, l := range ls {
		out[i] = l.View
	}
	return out
}

func (dc *daemonConn) handleCmd(ctx context.Context, msg *ktp.Message) {
	lineParam, _ := msg.Param(ktp.ParamLine)
	line := string(lineParam.Value)

	sch := dc.d.schemeSnapshot()
	pipeline := parser.ParseLine(dc.levels(), line, parser.PurposeExec, sch.Ptypes)

	if pipeline.Status != parser.StatusOK {
		errMsg := "parse error"
		if pipeline.Err != nil {
			errMsg = pipeline.Err.Error()
		} else if len(pipeline.Stages) > 0 {
			errMsg = fmt.Sprintf("command %s: %s", line, pipeline.Status)
		}
		dc.sendFinalAck(0, ktp.StatusError, errMsg)
		return
	}

	lastStage := pipeline.Stages[len(pipeline.Stages)-1]
	cmd := lastStage.Pargv.Command

	pr, pw := io.Pipe()
	outW := &msgWriter{dc: dc, cmd: ktp.CmdStdout}
	errW := &msgWriter{dc: dc, cmd: ktp.CmdStderr}

	plan, err := executor.Build(pipeline, pr, outW, errW)
	if err != nil {
		_ = pw.Close()
		_ = pr.Close()
		dc.sendFinalAck(0, ktp.StatusError, err.Error())
		return
	}

	status := ktp.StatusIncompleted
	var stdinWriter *io.PipeWriter
	if plan.PTY != nil {
		_ = pw.Close()
		_ = pr.Close()
		status |= ktp.StatusInteractive | ktp.StatusTTYStdin | ktp.StatusTTYStdout | ktp.StatusTTYStderr
	} else {
		status |= ktp.StatusNeedStdin
		stdinWriter = pw
	}

	runCtx, cancel := context.WithCancel(ctx)
	dc.mu.Lock()
	dc.plan = plan
	dc.stdinWriter = stdinWriter
	dc.cancel = cancel
	dc.state = connWaitForProcess
	dc.mu.Unlock()

	dc.send(ktp.NewMessage(ktp.CmdCmdAck, status))

	go dc.runPlan(runCtx, sch, pipeline, cmd)
}

// runPlan runs the built plan to completion, applies the matched
// command's view navigation (§4.4), and sends the final CMD_ACK that
// returns the connection to IDLE (§4.10 "when the executor reports done,
// send final CMD_ACK and return to IDLE").
func (dc *daemonConn) runPlan(ctx context.Context, sch *scheme.Scheme, pipeline *parser.Pipeline, cmd *entry.Entry) {
	dc.mu.Lock()
	plan := dc.plan
	local := dc.local
	dc.mu.Unlock()

	opts := executor.Options{
		Purpose: parser.PurposeExec,
		User:    dc.sess.User,
		UID:     dc.sess.UID,
		PID:     dc.sess.PID,
	}
	retcode := executor.Run(ctx, plan, dc.d.host, local, opts)
	plan.Close()

	if cmd != nil {
		depth := pipeline.Stages[0].Pargv.LevelDepth
		switch {
		case cmd.Restore:
			// Restore truncates to the *defining view's* entry depth,
			// not the command's own matched depth: a command matched at
			// the level it pushed (LevelDepth) must collapse back to
			// wherever that level's own pushing command was matched
			// (its DefinedDepth), per §4.4 "truncates the path to the
			// level at which the command was originally defined".
			levels := dc.sess.Levels()
			if depth >= 1 && depth <= len(levels) {
				restoreDepth := levels[len(levels)-depth].DefinedDepth
				if restoreDepth < 1 {
					// The root level's own DefinedDepth is 0 (nothing
					// pushed it); restoring to "before root" doesn't
					// exist, so the shallowest legal target is root
					// itself.
					restoreDepth = 1
				}
				dc.sess.Restore(restoreDepth)
			}
		case cmd.Pop:
			dc.sess.Pop()
		case cmd.View != "":
			if v, ok := sch.View(cmd.View); ok {
				dc.sess.Push(v, depth)
			}
		}
	}

	status := ktp.Status(0)
	if dc.sess.Done() {
		status |= ktp.StatusExit
	}

	dc.mu.Lock()
	dc.plan = nil
	dc.stdinWriter = nil
	dc.cancel = nil
	dc.state = connIdle
	dc.mu.Unlock()

	dc.send(ktp.NewMessage(ktp.CmdCmdAck, status, append([]ktp.Param{
		ktp.RetcodeParam(byte(retcode)),
		ktp.StringParam(ktp.ParamPrompt, dc.sess.Prompt()),
	}, hotkeyParams(dc.sess.Levels())...)...))
}

func (dc *daemonConn) sendFinalAck(retcode int, extra ktp.Status, errMsg string) {
	params := []ktp.Param{
		ktp.RetcodeParam(byte(retcode)),
		ktp.StringParam(ktp.ParamPrompt, dc.sess.Prompt()),
	}
	if errMsg != "" {
		params = append(params, ktp.StringParam(ktp.ParamError, errMsg))
	}
	params = append(params, hotkeyParams(dc.sess.Levels())...)
	dc.send(ktp.NewMessage(ktp.CmdCmdAck, extra, params...))
}

func (dc *daemonConn) handleCompletion(msg *ktp.Message) {
	lineParam, _ := msg.Param(ktp.ParamLine)
	sch := dc.d.schemeSnapshot()
	pipeline := parser.ParseLine(dc.levels(), string(lineParam.Value), parser.PurposeCompletion, sch.Ptypes)
	p := pipeline.Stages[len(pipeline.Stages)-1].Pargv

	ranked := parser.RankCandidates(p.LastToken, p.Candidates)
	lines := uniqueCandidateNames(ranked)

	params := []ktp.Param{ktp.StringParam(ktp.ParamPrefix, commonPrefix(lines))}
	for _, l := range lines {
		params = append(params, ktp.StringParam(ktp.ParamLine, l))
	}
	dc.send(ktp.NewMessage(ktp.CmdCompletionAck, 0, params...))
}

func (dc *daemonConn) handleHelp(msg *ktp.Message) {
	lineParam, _ := msg.Param(ktp.ParamLine)
	sch := dc.d.schemeSnapshot()
	pipeline := parser.ParseLine(dc.levels(), string(lineParam.Value), parser.PurposeHelp, sch.Ptypes)
	p := pipeline.Stages[len(pipeline.Stages)-1].Pargv

	ranked := parser.RankCandidates(p.LastToken, p.Candidates)
	seen := make(map[string]bool, len(ranked))
	var params []ktp.Param
	for _, c := range ranked {
		name := parser.CandidateName(c)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, ktp.StringParam(ktp.ParamPrefix, name), ktp.StringParam(ktp.ParamLine, c.Entry.Help))
	}
	dc.send(ktp.NewMessage(ktp.CmdHelpAck, 0, params...))
}

// handleNotification applies a WINCH to the session's recorded terminal
// size and, if a pty-backed command is running, forwards it to the pty
// (SPEC_FULL.md §4.9/4.10 expansion: "resize the pty matching the
// client's reported columns/rows").
func (dc *daemonConn) handleNotification(msg *ktp.Message) {
	p, ok := msg.Param(ktp.ParamWinch)
	if !ok {
		return
	}
	var w, h int
	if _, err := fmt.Sscanf(string(p.Value), "%dx%d", &w, &h); err != nil {
		return
	}
	dc.sess.SetSize(w, h)

	dc.mu.Lock()
	plan := dc.plan
	dc.mu.Unlock()
	if plan != nil {
		_ = plan.Setsize(uint16(h), uint16(w))
	}
}

// handleWaitForProcess accepts only STDIN and NOTIFICATION while a
// pipeline is running (§4.10).
func (dc *daemonConn) handleWaitForProcess(msg *ktp.Message) {
	switch msg.Cmd {
	case ktp.CmdStdin:
		p, _ := msg.Param(ktp.ParamLine)
		dc.mu.Lock()
		plan, w := dc.plan, dc.stdinWriter
		dc.mu.Unlock()
		if plan != nil && plan.PTY != nil {
			_, _ = plan.PTY.Write(p.Value)
		} else if w != nil {
			_, _ = w.Write(p.Value)
		}
	case ktp.CmdStdinClose:
		dc.mu.Lock()
		w := dc.stdinWriter
		dc.stdinWriter = nil
		dc.mu.Unlock()
		if w != nil {
			_ = w.Close()
		}
	case ktp.CmdNotification:
		dc.handleNotification(msg)
	default:
		dc.d.logger.Debug("daemon: ignoring command while a pipeline is running", "cmd", msg.Cmd)
	}
}

func (dc *daemonConn) send(msg *ktp.Message) {
	dc.writeMu.Lock()
	defer dc.writeMu.Unlock()
	if err := ktp.Encode(dc.conn, msg); err != nil {
		dc.d.logger.Warn("daemon: write failed", "err", err)
	}
}

// msgWriter frames every Write call as one STDOUT/STDERR KTP message,
// serialized through the owning connection's write mutex so concurrent
// pipeline stages sharing one stderr (§4.6) never interleave two
// messages' bytes on the wire (§5 O2 "STDOUT/STDERR bytes are delivered
// in source order per stream").
type msgWriter struct {
	dc  *daemonConn
	cmd ktp.Cmd
}

func (w *msgWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.dc.send(ktp.NewMessage(w.cmd, 0, ktp.Param{Type: ktp.ParamLine, Value: append([]byte(nil), p...)}))
	return len(p), nil
}

// hotkeyParams merges every active view level's hotkeys, a deeper view's
// binding winning over a shallower one for the same key (§3.1 "hotkeys:
// set of key -> command-string bindings active while this entry is on the
// view stack").
func hotkeyParams(levels []session.Level) []ktp.Param {
	merged := make(map[byte]string)
	for i := len(levels) - 1; i >= 0; i-- {
		for k, v := range levels[i].View.Hotkeys {
			merged[k] = v
		}
	}
	params := make([]ktp.Param, 0, len(merged))
	for k, v := range merged {
		params = append(params, ktp.HotkeyParam(k, v))
	}
	return params
}

func uniqueCandidateNames(candidates []parser.Candidate) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		name := parser.CandidateName(c)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// commonPrefix returns the longest string every element of lines starts
// with, or "" for fewer than one candidate — the COMPLETION_ACK's PREFIX
// parameter the editor uses to fill in the unambiguous part of a partial
// token (§4.9 "editor inserts the unambiguous prefix").
func commonPrefix(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	prefix := lines[0]
	for _, l := range lines[1:] {
		prefix = commonOf(prefix, l)
		if prefix == "" {
			break
		}
	}
	return prefix
}

func commonOf(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
