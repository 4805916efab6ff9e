// Package netio applies kernel socket-buffer tuning that the standard
// library's net.Conn helpers don't expose directly: growing SO_RCVBUF
// in proportion to configured mr_sleep, and SO_SNDBUF in proportion to
// mw_msgs/mw_sleep, both set via raw syscalls against the connection's
// file descriptor.
package netio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

type syscallConnProvider interface {
	SyscallConn() (syscall.RawConn, error)
}

// SetReadBufferSize sets SO_RCVBUF on conn's underlying file
// descriptor, used to size the merged-read window for mr_sleep.
func SetReadBufferSize(conn net.Conn, bytes int) error {
	return withFD(conn, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
}

// SetWriteBufferSize sets SO_SNDBUF on conn's underlying file
// descriptor, used to size the merged-write batch for mw_msgs/mw_sleep.
func SetWriteBufferSize(conn net.Conn, bytes int) error {
	return withFD(conn, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
	})
}

func withFD(conn net.Conn, fn func(fd int) error) error {
	scp, ok := conn.(syscallConnProvider)
	if !ok {
		return fmt.Errorf("netio: connection does not expose a raw file descriptor")
	}

	raw, err := scp.SyscallConn()
	if err != nil {
		return fmt.Errorf("netio: %w", err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = fn(int(fd))
	})
	if err != nil {
		return fmt.Errorf("netio: %w", err)
	}
	return sockErr
}

// MergedWriteBufferBytes estimates the SO_SNDBUF size that fits
// mwMsgs packets of avgPacketBytes each without blocking the merged
// write loop on a single syscall.
func MergedWriteBufferBytes(mwMsgs, avgPacketBytes int) int {
	if mwMsgs <= 0 {
		mwMsgs = 1
	}
	if avgPacketBytes <= 0 {
		avgPacketBytes = 1400
	}
	return mwMsgs * avgPacketBytes * 2
}
