package platformapi

import "golang.org/x/sys/unix"

// setTCPNoDelay disables Nagle's algorithm on fd: the runtime-API round
// trip is latency-sensitive and small, so batching writes only hurts.
// golang.org/x/sys/unix is used instead of the stdlib syscall package so
// the socket-option constants stay portable across the platforms the x/sys
// build tags cover.
func setTCPNoDelay(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
