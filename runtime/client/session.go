// Package client implements the client-side KTP session state machine
// (C9): the request/ack sequencing an interactive line editor (or any
// other front end) drives through a small set of user callbacks, exactly
// the shape §4.9 describes — DISCONNECTED -> UNAUTHORIZED -> IDLE, with
// IDLE stepping out to WAIT_FOR_CMD/WAIT_FOR_COMPLETION/WAIT_FOR_HELP for
// the duration of one request/ack round trip.
//
// Modeled as a plain int-based enum with a table-driven-by-switch
// transition function, matching the teacher's own preference for
// explicit state fields over a generic FSM library (SPEC_FULL.md §4.9/4.10
// expansion — no FSM library appears anywhere in the retrieval pack).
package client

import (
	"fmt"
	"net"
	"sync"

	"github.com/klish-project/klish/core/ktp"
)

// State is the client session's current position in the state machine.
type State int

const (
	StateDisconnected State = iota
	StateUnauthorized
	StateIdle
	StateWaitForCmd
	StateWaitForCompletion
	StateWaitForHelp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateUnauthorized:
		return "UNAUTHORIZED"
	case StateIdle:
		return "IDLE"
	case StateWaitForCmd:
		return "WAIT_FOR_CMD"
	case StateWaitForCompletion:
		return "WAIT_FOR_COMPLETION"
	case StateWaitForHelp:
		return "WAIT_FOR_HELP"
	default:
		return "UNKNOWN"
	}
}

// HelpLine is one PREFIX/LINE pair from a HELP_ACK (§4.9 "editor prints
// prefix  line rows").
type HelpLine struct {
	Prefix string
	Line   string
}

// Callbacks are the user-facing hooks a line editor (or any other driver)
// registers; every field may be left nil (a nil callback is simply not
// invoked).
type Callbacks struct {
	// OnStdout/OnStderr deliver incremental command output while
	// WAIT_FOR_CMD is active (§4.9).
	OnStdout func([]byte)
	OnStderr func([]byte)

	// OnPrompt fires on AUTH_ACK and on every final CMD_ACK: the new
	// prompt text and the view's current hotkey bindings.
	OnPrompt func(prompt string, hotkeys map[byte]string)

	// OnNeedStdin fires when a partial CMD_ACK announces the running
	// command wants keystrokes forwarded (§4.9 "editor into pass-through
	// keystroke forwarding via STDIN if NEED_STDIN").
	OnNeedStdin func()

	// OnCompletion fires once per COMPLETION_ACK (§4.9 "editor inserts
	// the unambiguous prefix and, if >1 line, prints the columnar list").
	OnCompletion func(prefix string, lines []string)

	// OnHelp fires once per HELP_ACK.
	OnHelp func(lines []HelpLine)

	// OnError fires on an unexpected/dropped message or a connection
	// error (§4.9 "receipt of any unexpected command in a waiting state
	// is logged and dropped").
	OnError func(error)
}

// Session is one client connection's KTP state machine.
type Session struct {
	conn   net.Conn
	reader *ktp.AsyncReader
	cb     Callbacks

	writeMu sync.Mutex

	mu    sync.Mutex
	state State
	done  bool
}

// Dial connects to the daemon's listen socket, sends AUTH, and starts the
// background read loop that drives the state machine and invokes cb.
// Dial returns once the connection is open; AUTH_ACK arrives
// asynchronously through cb.OnPrompt.
func Dial(path string, cols, rows int, cb Callbacks) (*Session, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", path, err)
	}
	s := &Session{conn: conn, reader: ktp.NewAsyncReader(), cb: cb, state: StateUnauthorized}
	go s.readLoop()

	winch := fmt.Sprintf("%dx%d", cols, rows)
	if err := s.send(ktp.NewMessage(ktp.CmdAuth, 0, ktp.StringParam(ktp.ParamWinch, winch))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: send AUTH: %w", err)
	}
	return s, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done reports whether the session has ended (EXIT received, or the
// connection was lost).
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close tears down the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SendCmd sends a CMD request for line and transitions to WAIT_FOR_CMD
// (§4.9 "user's Enter -> send CMD, enter WAIT_FOR_CMD").
func (s *Session) SendCmd(line string) error {
	s.setState(StateWaitForCmd)
	return s.send(ktp.NewMessage(ktp.CmdCmd, 0, ktp.StringParam(ktp.ParamLine, line)))
}

// SendCompletion sends a COMPLETION request for the current line.
func (s *Session) SendCompletion(line string) error {
	s.setState(StateWaitForCompletion)
	return s.send(ktp.NewMessage(ktp.CmdCompletion, 0, ktp.StringParam(ktp.ParamLine, line)))
}

// SendHelp sends a HELP request for the current line.
func (s *Session) SendHelp(line string) error {
	s.setState(StateWaitForHelp)
	return s.send(ktp.NewMessage(ktp.CmdHelp, 0, ktp.StringParam(ktp.ParamLine, line)))
}

// SendStdin forwards keystrokes to a running interactive command (§4.9
// "pass-through keystroke forwarding via STDIN").
func (s *Session) SendStdin(b []byte) error {
	return s.send(ktp.NewMessage(ktp.CmdStdin, 0, ktp.Param{Type: ktp.ParamLine, Value: b}))
}

// SendStdinClose signals that the local stdin has hit EOF.
func (s *Session) SendStdinClose() error {
	return s.send(ktp.NewMessage(ktp.CmdStdinClose, 0))
}

// SendWinch notifies the daemon of a terminal resize.
func (s *Session) SendWinch(cols, rows int) error {
	return s.send(ktp.NewMessage(ktp.CmdNotification, 0,
		ktp.StringParam(ktp.ParamWinch, fmt.Sprintf("%dx%d", cols, rows))))
}

// SendExit tells the daemon the client is disconnecting cleanly.
func (s *Session) SendExit() error {
	return s.send(ktp.NewMessage(ktp.CmdExit, ktp.StatusExit))
}

func (s *Session) send(msg *ktp.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return ktp.Encode(s.conn, msg)
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.reader.Feed(buf[:n])
			for {
				msg, ok, decErr := s.reader.Next()
				if decErr != nil {
					s.fail(decErr)
					return
				}
				if !ok {
					break
				}
				s.dispatch(msg)
			}
		}
		if err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.done = true
	s.state = StateDisconnected
	s.mu.Unlock()
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// dispatch routes one decoded message to its handler for the current
// state; an unexpected command in a waiting state is logged via OnError
// and dropped rather than acted on (§4.9 "Cancellation").
func (s *Session) dispatch(msg *ktp.Message) {
	state := s.State()
	switch {
	case msg.Cmd == ktp.CmdAuthAck && state == StateUnauthorized:
		s.handleAuthAck(msg)
	case msg.Cmd == ktp.CmdCmdAck && state == StateWaitForCmd:
		s.handleCmdAck(msg)
	case (msg.Cmd == ktp.CmdStdout || msg.Cmd == ktp.CmdStderr) && state == StateWaitForCmd:
		s.handleStream(msg)
	case msg.Cmd == ktp.CmdCompletionAck && state == StateWaitForCompletion:
		s.handleCompletionAck(msg)
	case msg.Cmd == ktp.CmdHelpAck && state == StateWaitForHelp:
		s.handleHelpAck(msg)
	default:
		if s.cb.OnError != nil {
			s.cb.OnError(fmt.Errorf("client: unexpected %s in state %s", msg.Cmd, state))
		}
	}
}

func (s *Session) handleAuthAck(msg *ktp.Message) {
	s.setState(StateIdle)
	s.deliverPrompt(msg)
}

func (s *Session) handleStream(msg *ktp.Message) {
	p, ok := msg.Param(ktp.ParamLine)
	if !ok {
		return
	}
	if msg.Cmd == ktp.CmdStdout && s.cb.OnStdout != nil {
		s.cb.OnStdout(p.Value)
	} else if msg.Cmd == ktp.CmdStderr && s.cb.OnStderr != nil {
		s.cb.OnStderr(p.Value)
	}
}

// handleCmdAck distinguishes a partial ack (INCOMPLETED: announces
// command features, more STDOUT/STDERR/a final ack follow) from the
// final ack (retcode/prompt/hotkeys, returns to IDLE) per §4.9/§4.8.
func (s *Session) handleCmdAck(msg *ktp.Message) {
	if msg.Status.Has(ktp.StatusIncompleted) {
		if msg.Status.Has(ktp.StatusNeedStdin) && s.cb.OnNeedStdin != nil {
			s.cb.OnNeedStdin()
		}
		return
	}

	s.setState(StateIdle)
	if msg.Status.Has(ktp.StatusExit) {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
	}
	s.deliverPrompt(msg)
}

func (s *Session) deliverPrompt(msg *ktp.Message) {
	if s.cb.OnPrompt == nil {
		return
	}
	prompt := ""
	if p, ok := msg.Param(ktp.ParamPrompt); ok {
		prompt = string(p.Value)
	}
	hotkeys := make(map[byte]string)
	for _, p := range msg.AllParams(ktp.ParamHotkey) {
		if len(p.Value) < 2 {
			continue
		}
		hotkeys[p.Value[0]] = string(p.Value[2:])
	}
	s.cb.OnPrompt(prompt, hotkeys)
}

func (s *Session) handleCompletionAck(msg *ktp.Message) {
	s.setState(StateIdle)
	if s.cb.OnCompletion == nil {
		return
	}
	prefix := ""
	if p, ok := msg.Param(ktp.ParamPrefix); ok {
		prefix = string(p.Value)
	}
	var lines []string
	for _, p := range msg.AllParams(ktp.ParamLine) {
		lines = append(lines, string(p.Value))
	}
	s.cb.OnCompletion(prefix, lines)
}

func (s *Session) handleHelpAck(msg *ktp.Message) {
	s.setState(StateIdle)
	if s.cb.OnHelp == nil {
		return
	}
	prefixes := msg.AllParams(ktp.ParamPrefix)
	texts := msg.AllParams(ktp.ParamLine)
	n := len(prefixes)
	if len(texts) < n {
		n = len(texts)
	}
	lines := make([]HelpLine, n)
	for i := 0; i < n; i++ {
		lines[i] = HelpLine{Prefix: string(prefixes[i].Value), Line: string(texts[i].Value)}
	}
	s.cb.OnHelp(lines)
}

// Retcode is clamped to a signed byte for the client executable's own
// process exit status (§6 "Client: ... otherwise the retcode of the last
// command (clamped to a signed byte)").
func Retcode(b byte) int {
	if b > 127 {
		return int(b) - 256
	}
	return int(b)
}
