//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func (o sockOpts) control(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		if o.reuseAddr {
			if opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); opErr != nil {
				return
			}
		}
		if o.broadcast {
			opErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
