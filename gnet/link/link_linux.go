//go:build linux

package link

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

func platformLinks() ([]Link, error) {
	nlLinks, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink list: %w", err)
	}
	links := make([]Link, 0, len(nlLinks))
	for _, nll := range nlLinks {
		var ips []net.IP
		if addrs, err := netlink.AddrList(nll, netlink.FAMILY_V4); err == nil {
			for _, a := range addrs {
				if a.IPNet != nil {
					ips = append(ips, a.IP)
				}
			}
		}
		links = append(links, fromNetlink(nll, ips))
	}
	return links, nil
}

func fromNetlink(nll netlink.Link, ips []net.IP) Link {
	attrs := nll.Attrs()
	return Link{
		Index:        attrs.Index,
		Name:         attrs.Name,
		MTU:          attrs.MTU,
		HardwareAddr: normalizeHardwareAddr(attrs.HardwareAddr),
		Flags:        attrs.Flags,
		OperState:    attrs.OperState.String(),
		// lo 的 OperState 为 unknown，只要不是明确 down 就按 flag 判断
		Up:    attrs.Flags&net.FlagUp != 0 && attrs.OperState != netlink.OperDown && attrs.OperState != netlink.OperNotPresent,
		Addrs: ips,
	}
}

func normalizeHardwareAddr(hw net.HardwareAddr) net.HardwareAddr {
	if len(hw) == 0 {
		return nil
	}
	for _, b := range hw {
		if b != 0 {
			cp := make(net.HardwareAddr, len(hw))
			copy(cp, hw)
			return cp
		}
	}
	return nil
}
