//go:build windows

package link

import (
	"fmt"
	"net"

	"golang.org/x/sys/windows"
)

func platformLinks() ([]Link, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	links := make([]Link, 0, len(ifaces))
	for _, iface := range ifaces {
		l := Link{
			Index:        iface.Index,
			Name:         iface.Name,
			MTU:          iface.MTU,
			HardwareAddr: iface.HardwareAddr,
			Flags:        iface.Flags,
			OperState:    "unknown",
			Addrs:        interfaceAddrs(iface),
		}
		if row, err := fetchIfRow(iface.Index); err == nil {
			l.OperState = operStatusString(row.OperStatus)
			l.Up = row.OperStatus == windows.IfOperStatusUp
		} else {
			l.Up = iface.Flags&net.FlagUp != 0
		}
		links = append(links, l)
	}
	return links, nil
}

func fetchIfRow(index int) (*windows.MibIfRow2, error) {
	row := windows.MibIfRow2{InterfaceIndex: uint32(index)}
	if err := windows.GetIfEntry2Ex(windows.MibIfEntryNormal, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func operStatusString(status uint32) string {
	switch status {
	case windows.IfOperStatusUp:
		return "up"
	case windows.IfOperStatusDown:
		return "down"
	case windows.IfOperStatusTesting:
		return "testing"
	case windows.IfOperStatusDormant:
		return "dormant"
	case windows.IfOperStatusNotPresent:
		return "not-present"
	case windows.IfOperStatusLowerLayerDown:
		return "lowerlayerdown"
	default:
		return "unknown"
	}
}
