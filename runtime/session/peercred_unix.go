//go:build !windows

package session

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials reads the connecting client's uid/pid off a Unix domain
// socket via SO_PEERCRED (§4.4 "captured from the peer socket
// credentials"). Grounded on the teacher's build-tagged
// local_session_unix.go split between a portable API and a
// syscall-specific implementation; here the syscall is a credential read
// rather than a process-group kill.
func PeerCredentials(conn *net.UnixConn) (uid uint32, pid int32, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, fmt.Errorf("session: peer conn has no syscall access: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	ctlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil {
		return 0, 0, fmt.Errorf("session: control peer socket: %w", ctlErr)
	}
	if sockErr != nil {
		return 0, 0, fmt.Errorf("session: SO_PEERCRED: %w", sockErr)
	}
	return ucred.Uid, ucred.Pid, nil
}
