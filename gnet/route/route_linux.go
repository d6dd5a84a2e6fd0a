//go:build linux

package route

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func lookup(dst net.IP) (Route, error) {
	routes, err := netlink.RouteGet(dst)
	if err != nil {
		return Route{}, fmt.Errorf("route get %s: %w", dst, err)
	}
	if len(routes) == 0 {
		return Route{}, fmt.Errorf("route get %s: no route", dst)
	}
	return fromNetlink(dst, routes[0]), nil
}

func fromNetlink(dst net.IP, r netlink.Route) Route {
	return Route{
		Dst:     dst,
		Src:     r.Src,
		Gw:      r.Gw,
		IfIndex: r.LinkIndex,
		Kind:    kindOf(r.Type),
	}
}

func kindOf(t int) Kind {
	switch t {
	case unix.RTN_UNICAST:
		return KindUnicast
	case unix.RTN_LOCAL:
		return KindLocal
	case unix.RTN_BROADCAST:
		return KindBroadcast
	case unix.RTN_MULTICAST:
		return KindMulticast
	default:
		return KindUnknown
	}
}
