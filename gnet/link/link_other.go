//go:build !linux && !windows

package link

import (
	"fmt"
	"net"
)

func platformLinks() ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	links := make([]Link, 0, len(ifaces))
	for _, iface := range ifaces {
		up := iface.Flags&net.FlagUp != 0
		state := "down"
		if up {
			state = "up"
		}
		links = append(links, Link{
			Index:        iface.Index,
			Name:         iface.Name,
			MTU:          iface.MTU,
			HardwareAddr: iface.HardwareAddr,
			Flags:        iface.Flags,
			OperState:    state,
			Up:           up,
			Addrs:        interfaceAddrs(iface),
		})
	}
	return links, nil
}
