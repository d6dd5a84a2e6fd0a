package link

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotFound 表示按名称或地址都找不到网卡。
var ErrNotFound = errors.New("link: not found")

// Link 描述一个网卡（类似 ip link）。
type Link struct {
	Index        int
	Name         string
	MTU          int
	HardwareAddr net.HardwareAddr
	Flags        net.Flags
	OperState    string
	Up           bool

	// Addrs 为网卡上配置的 IPv4 地址
	Addrs []net.IP
}

// CanMulticast 报告网卡是否支持组播
func (l *Link) CanMulticast() bool {
	return l.Flags&net.FlagMulticast != 0
}

// CanBroadcast 报告网卡是否支持广播
func (l *Link) CanBroadcast() bool {
	return l.Flags&net.FlagBroadcast != 0
}

// IPv4 返回网卡的第一个 IPv4 地址，没有时返回 nil。
func (l *Link) IPv4() net.IP {
	for _, ip := range l.Addrs {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

// HasAddr 报告 ip 是否配置在该网卡上
func (l *Link) HasAddr(ip net.IP) bool {
	for _, a := range l.Addrs {
		if a.Equal(ip) {
			return true
		}
	}
	return false
}

// Interface 转换为标准库的 net.Interface
func (l *Link) Interface() *net.Interface {
	return &net.Interface{
		Index:        l.Index,
		MTU:          l.MTU,
		Name:         l.Name,
		HardwareAddr: l.HardwareAddr,
		Flags:        l.Flags,
	}
}

// listLinks 在测试中可替换
var listLinks = platformLinks

// List 返回当前所有网卡。
func List() ([]Link, error) {
	return listLinks()
}

// ByName 通过网卡名获取单个网卡。
func ByName(name string) (*Link, error) {
	if name == "" {
		return nil, fmt.Errorf("link: empty name")
	}
	links, err := List()
	if err != nil {
		return nil, err
	}
	for i := range links {
		if links[i].Name == name {
			return &links[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ByAddr 返回配置了 ip 的网卡。
func ByAddr(ip net.IP) (*Link, error) {
	links, err := List()
	if err != nil {
		return nil, err
	}
	for i := range links {
		if links[i].HasAddr(ip) {
			return &links[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no interface owns %s", ErrNotFound, ip)
}

// Resolve 接受网卡名或该网卡上的 IPv4 地址。
func Resolve(nameOrAddr string) (*Link, error) {
	if ip := net.ParseIP(nameOrAddr); ip != nil {
		return ByAddr(ip)
	}
	return ByName(nameOrAddr)
}

func interfaceAddrs(iface net.Interface) []net.IP {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if v4 := ip.To4(); v4 != nil {
			ips = append(ips, v4)
		}
	}
	return ips
}
