package transport

import (
	"fmt"
	"strings"
)

// Mode 是 UDP 投递方式
type Mode int

const (
	ModeUnicast Mode = iota
	ModeBroadcast
	ModeMulticast
)

func (m Mode) String() string {
	switch m {
	case ModeUnicast:
		return "unicast"
	case ModeBroadcast:
		return "broadcast"
	case ModeMulticast:
		return "multicast"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 不区分大小写解析模式名
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unicast":
		return ModeUnicast, nil
	case "broadcast":
		return ModeBroadcast, nil
	case "multicast":
		return ModeMulticast, nil
	default:
		return ModeUnicast, fmt.Errorf("unknown transport mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Role 决定 Open 创建的是发送端还是接收端
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}
