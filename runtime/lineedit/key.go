package lineedit

// Key identifies one decoded input event: either a literal rune (Rune !=
// 0, Special == KeyNone) or a named special key decoded from an escape
// sequence or a raw control byte.
type Key struct {
	Rune    rune
	Special SpecialKey
}

// SpecialKey enumerates the non-printable keys the input state machine
// recognizes (§4.7 "dispatch to a sequence decoder").
type SpecialKey int

const (
	KeyNone SpecialKey = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyDelete
	KeyInsert
	KeyPgUp
	KeyPgDn
	KeyEnter
	KeyBackspace
	KeyTab
	KeyCtrl // a control byte not otherwise recognized; Rune holds it
)

// decodeCSI interprets the bytes between ESC '[' and the final byte
// (inclusive) of a CSI escape sequence, returning the special key it
// names, or KeyNone if unrecognized.
func decodeCSI(params []byte, final byte) SpecialKey {
	switch final {
	case 'A':
		return KeyUp
	case 'B':
		return KeyDown
	case 'C':
		return KeyRight
	case 'D':
		return KeyLeft
	case 'H':
		return KeyHome
	case 'F':
		return KeyEnd
	case '~':
		switch string(params) {
		case "1", "7":
			return KeyHome
		case "2":
			return KeyInsert
		case "3":
			return KeyDelete
		case "4", "8":
			return KeyEnd
		case "5":
			return KeyPgUp
		case "6":
			return KeyPgDn
		}
	}
	return KeyNone
}

// isSequenceTerminator reports whether b ends a CSI escape sequence — a
// byte in the final range 64..126 (§4.7 "accumulate until a terminator
// byte in 64..126 arrives").
func isSequenceTerminator(b byte) bool {
	return b >= 64 && b <= 126
}
