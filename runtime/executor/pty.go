package executor

import (
	"os"

	"github.com/creack/pty"
)

// ptyOpen allocates a pseudo-terminal pair. The executor hands the slave
// end to a stage as its stdin/stdout/stderr (plugin.Context never exposes
// an *exec.Cmd directly, so the executor — not LocalSession — is the
// layer that owns pty allocation) and keeps the master end for a daemon
// to relay bytes to the KTP client and to call Setsize on when a WINCH
// notification arrives.
func ptyOpen() (master, slave *os.File, err error) {
	return pty.Open()
}

// Setsize applies a new terminal size to the plan's pty, if it has one —
// a no-op otherwise (a plan without a tty-demanding action has no pty to
// resize).
func (p *Plan) Setsize(rows, cols uint16) error {
	if p.PTY == nil {
		return nil
	}
	return pty.Setsize(p.PTY, &pty.Winsize{Rows: rows, Cols: cols})
}
