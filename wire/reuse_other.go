//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package wire

import "syscall"

// Port sharing is not set up here; Listen fails if 5353 is already taken.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
