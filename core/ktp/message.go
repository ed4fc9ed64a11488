// Package ktp implements the wire framing of the KTP protocol: the
// length-prefixed, tagged-parameter messages exchanged between an
// interactive client and the daemon (§3.5, §4.8).
//
// Encoding follows the same "fixed preamble, then validate, then read
// exactly N more declared bytes" shape as the teacher's plan format
// (core/planfmt/writer.go, reader.go), adapted from little-endian to the
// big-endian wire spec.md mandates and from a single nested-tree body to a
// flat TLV parameter list.
package ktp

import "fmt"

// Magic identifies a KTP message. Big-endian bytes of "KTP\x00".
const Magic uint32 = 0x4b545000

// Version is the protocol version this package speaks.
const (
	VersionMajor uint8 = 1
	VersionMinor uint8 = 0
)

// HeaderLen is the fixed size of the framing header in bytes: magic(4) +
// major(1) + minor(1) + cmd(2) + status(4) + len(4) + plen(4).
const HeaderLen = 4 + 1 + 1 + 2 + 4 + 4 + 4

// Cmd is the message command code (§4.8 "Commands").
type Cmd uint16

const (
	CmdAuth Cmd = iota + 1
	CmdAuthAck
	CmdCmd
	CmdCmdAck
	CmdCompletion
	CmdCompletionAck
	CmdHelp
	CmdHelpAck
	CmdStdin
	CmdStdout
	CmdStderr
	CmdStdinClose
	CmdStdoutClose
	CmdStderrClose
	CmdNotification
	CmdExit
)

func (c Cmd) String() string {
	switch c {
	case CmdAuth:
		return "AUTH"
	case CmdAuthAck:
		return "AUTH_ACK"
	case CmdCmd:
		return "CMD"
	case CmdCmdAck:
		return "CMD_ACK"
	case CmdCompletion:
		return "COMPLETION"
	case CmdCompletionAck:
		return "COMPLETION_ACK"
	case CmdHelp:
		return "HELP"
	case CmdHelpAck:
		return "HELP_ACK"
	case CmdStdin:
		return "STDIN"
	case CmdStdout:
		return "STDOUT"
	case CmdStderr:
		return "STDERR"
	case CmdStdinClose:
		return "STDIN_CLOSE"
	case CmdStdoutClose:
		return "STDOUT_CLOSE"
	case CmdStderrClose:
		return "STDERR_CLOSE"
	case CmdNotification:
		return "NOTIFICATION"
	case CmdExit:
		return "EXIT"
	default:
		return fmt.Sprintf("CMD(%d)", uint16(c))
	}
}

// Status is the bitmask carried in every message's header (§4.8, DESIGN
// NOTES §9 bit-exact layout).
type Status uint32

const (
	StatusExit        Status = 0x01
	StatusDryRun      Status = 0x02
	StatusIncompleted Status = 0x04
	StatusInteractive Status = 0x08
	StatusNeedStdin   Status = 0x10
	StatusTTYStdin    Status = 0x20
	StatusTTYStdout   Status = 0x40
	StatusTTYStderr   Status = 0x80
	StatusError       Status = 0x8000
)

// Has reports whether all bits in mask are set.
func (s Status) Has(mask Status) bool { return s&mask == mask }

// ParamType identifies one TLV parameter's meaning.
type ParamType uint16

const (
	ParamLine ParamType = iota + 1
	ParamPrefix
	ParamRetcode
	ParamError
	ParamPrompt
	ParamHotkey
	ParamWinch
)

func (p ParamType) String() string {
	switch p {
	case ParamLine:
		return "LINE"
	case ParamPrefix:
		return "PREFIX"
	case ParamRetcode:
		return "RETCODE"
	case ParamError:
		return "ERROR"
	case ParamPrompt:
		return "PROMPT"
	case ParamHotkey:
		return "HOTKEY"
	case ParamWinch:
		return "WINCH"
	default:
		return fmt.Sprintf("PARAM(%d)", uint16(p))
	}
}

// Param is one tagged-length-value parameter (§3.5, §4.8).
type Param struct {
	Type  ParamType
	Value []byte
}

// Message is one decoded KTP frame: header fields plus its parameters.
type Message struct {
	Major, Minor uint8
	Cmd          Cmd
	Status       Status
	Params       []Param
}

// NewMessage builds a message at the package's current protocol version.
func NewMessage(cmd Cmd, status Status, params ...Param) *Message {
	return &Message{Major: VersionMajor, Minor: VersionMinor, Cmd: cmd, Status: status, Params: params}
}

// Param returns the first parameter of the given type, if present.
func (m *Message) Param(t ParamType) (Param, bool) {
	for _, p := range m.Params {
		if p.Type == t {
			return p, true
		}
	}
	return Param{}, false
}

// AllParams returns every parameter of the given type, in order (a
// HELP_ACK carries repeated PREFIX/LINE pairs, §4.9).
func (m *Message) AllParams(t ParamType) []Param {
	var out []Param
	for _, p := range m.Params {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// StringParam is a convenience wrapper for textual parameter kinds
// (LINE, PREFIX, PROMPT, ERROR, WINCH).
func StringParam(t ParamType, s string) Param {
	return Param{Type: t, Value: []byte(s)}
}

// RetcodeParam encodes a one-byte RETCODE parameter (§3.5).
func RetcodeParam(code byte) Param {
	return Param{Type: ParamRetcode, Value: []byte{code}}
}

// HotkeyParam encodes a "key\0cmd" HOTKEY parameter (§3.5).
func HotkeyParam(key byte, command string) Param {
	v := make([]byte, 0, 2+len(command))
	v = append(v, key, 0)
	v = append(v, command...)
	return Param{Type: ParamHotkey, Value: v}
}
