//go:build !unix && !windows

package transport

import (
	"errors"
	"syscall"
)

func (o sockOpts) control(_, _ string, _ syscall.RawConn) error {
	if o.broadcast {
		return errors.New("broadcast sockets are not supported on this platform")
	}
	return nil
}
