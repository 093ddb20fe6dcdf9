//go:build !unix

package discovery

import "syscall"

func allowBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}
