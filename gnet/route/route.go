package route

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotSupported 表示当前平台未实现路由查询。
var ErrNotSupported = errors.New("route: not supported on this platform")

// Kind 是内核给出的路由类型，只区分发送端关心的几种。
type Kind int

const (
	KindUnknown Kind = iota
	KindUnicast
	KindLocal
	KindBroadcast
	KindMulticast
)

func (k Kind) String() string {
	switch k {
	case KindUnicast:
		return "unicast"
	case KindLocal:
		return "local"
	case KindBroadcast:
		return "broadcast"
	case KindMulticast:
		return "multicast"
	default:
		return "unknown"
	}
}

// Route 描述发往某个目的地址时内核选择的出口。
type Route struct {
	Dst     net.IP
	Src     net.IP
	Gw      net.IP
	IfIndex int
	Kind    Kind
}

// Lookup 查询发往 dst 的路由，等价于 ip route get。
func Lookup(dst net.IP) (Route, error) {
	ip := dst.To4()
	if ip == nil {
		return Route{}, fmt.Errorf("route: %v is not an IPv4 address", dst)
	}
	return lookup(ip)
}
