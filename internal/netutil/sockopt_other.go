//go:build !unix

package netutil

import "syscall"

func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
