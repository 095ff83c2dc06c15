//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package wire

import (
	"fmt"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// reuseControl lets the socket share port 5353 with the system responder
// and the mdns server.
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			log.Tracef("⛔ SO_REUSEPORT unsupported: %v", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
