package transport

import (
	"net"

	"github.com/sofiworker/udpreplay/gerr"
)

const (
	// MaxDatagramSize 是 IPv4 UDP 负载上限
	MaxDatagramSize = 65507

	DefaultTTL        = 32
	DefaultReadBuffer = 2 * 1024 * 1024
)

// Config 描述一个绑定的地址和投递方式
type Config struct {
	Mode    Mode   `json:"mode"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	// Interface 为网卡名或网卡上的 IPv4 地址，空表示系统默认
	Interface string `json:"interface"`
	// TTL 仅用于组播发送
	TTL int `json:"ttl"`
	// Loopback 控制组播发送是否回环到本机
	Loopback bool `json:"loopback"`
	// ReadBuffer 为接收端请求的 SO_RCVBUF 大小
	ReadBuffer int `json:"read_buffer"`
}

// DefaultConfig 返回单播的默认配置
func DefaultConfig() Config {
	return Config{
		Mode:       ModeUnicast,
		Address:    "127.0.0.1",
		TTL:        DefaultTTL,
		Loopback:   true,
		ReadBuffer: DefaultReadBuffer,
	}
}

func (c Config) ip() net.IP {
	return net.ParseIP(c.Address).To4()
}

// UDPAddr 返回目标(发送端)或绑定(单播接收端)地址
func (c Config) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.ip(), Port: c.Port}
}

// Validate 在打开任何 socket 之前检查配置，失败返回 ConfigError。
func (c Config) Validate() error {
	const op = "transport.validate"
	if c.Port <= 0 || c.Port > 65535 {
		return gerr.Config(op, "port %d out of range 1-65535", c.Port)
	}
	ip := c.ip()
	if ip == nil {
		return gerr.Config(op, "address %q is not an IPv4 address", c.Address)
	}
	switch c.Mode {
	case ModeUnicast, ModeBroadcast:
	case ModeMulticast:
		if !ip.IsMulticast() {
			return gerr.Config(op, "multicast address %s is outside 224.0.0.0-239.255.255.255", ip)
		}
		if c.TTL < 0 || c.TTL > 255 {
			return gerr.Config(op, "multicast ttl %d out of range 0-255", c.TTL)
		}
	default:
		return gerr.Config(op, "unknown mode %s", c.Mode)
	}
	if c.ReadBuffer < 0 {
		return gerr.Config(op, "read buffer %d must not be negative", c.ReadBuffer)
	}
	return nil
}

// Warnings 返回不影响使用但可能是误配置的提示。
func (c Config) Warnings() []string {
	ip := c.ip()
	if ip == nil {
		return nil
	}
	var warns []string
	switch c.Mode {
	case ModeBroadcast:
		if !looksLikeBroadcast(ip) {
			warns = append(warns, "broadcast mode with "+ip.String()+", which does not look like a broadcast address")
		}
	case ModeUnicast:
		if looksLikeBroadcast(ip) {
			warns = append(warns, "unicast mode with broadcast-looking address "+ip.String()+", consider --mode broadcast")
		}
		if ip.IsMulticast() {
			warns = append(warns, "unicast mode with multicast address "+ip.String()+", consider --mode multicast")
		}
	}
	return warns
}

func looksLikeBroadcast(ip net.IP) bool {
	return ip.Equal(net.IPv4bcast) || ip[3] == 255
}
