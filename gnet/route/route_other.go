//go:build !linux

package route

import "net"

func lookup(net.IP) (Route, error) {
	return Route{}, ErrNotSupported
}
