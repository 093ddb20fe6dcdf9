//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// allowBroadcast sets SO_BROADCAST so probes may target 255.255.255.255
func allowBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
