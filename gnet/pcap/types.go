package pcap

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	MagicNumberMicroseconds        uint32 = 0xa1b2c3d4
	MagicNumberMicrosecondsSwapped uint32 = 0xd4c3b2a1
	MagicNumberNanoseconds         uint32 = 0xa1b23c4d
	MagicNumberNanosecondsSwapped  uint32 = 0x4d3cb2a1
)

const (
	fileHeaderLen   = 24
	packetHeaderLen = 16

	// DefaultSnapLen 覆盖最大 UDP 负载及 IP/UDP 头
	DefaultSnapLen uint32 = 65535

	// MaxRecordLen 读取时单条记录的上限，防止损坏的包头触发超大分配
	MaxRecordLen uint32 = 256 * 1024
)

// LinkType 是 pcap 文件头中的 network 字段
type LinkType uint32

const (
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
	LinkTypeLinuxSLL LinkType = 113
	// LinkTypeUser0 用于保存不带任何协议头的 UDP 负载
	LinkTypeUser0 LinkType = 147
)

func (l LinkType) String() string {
	switch l {
	case LinkTypeEthernet:
		return "ethernet"
	case LinkTypeRaw:
		return "raw"
	case LinkTypeLinuxSLL:
		return "linux_sll"
	case LinkTypeUser0:
		return "user0"
	default:
		return fmt.Sprintf("linktype(%d)", uint32(l))
	}
}

type FileHeader struct {
	MagicNumber  uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	Network      LinkType
}

type PacketHeader struct {
	TsSec   uint32
	TsUsec  uint32
	InclLen uint32
	OrigLen uint32
}

type Packet struct {
	Header    PacketHeader
	Data      []byte
	Timestamp time.Time
}

func (h *FileHeader) IsLittleEndian() bool {
	switch h.MagicNumber {
	case MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
		return true
	default:
		return false
	}
}

func (h *FileHeader) ByteOrder() binary.ByteOrder {
	if h.IsLittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (h *FileHeader) TimestampResolution() time.Duration {
	switch h.MagicNumber {
	case MagicNumberNanoseconds, MagicNumberNanosecondsSwapped:
		return time.Nanosecond
	default:
		return time.Microsecond
	}
}

// SetTimestamp 按 resolution 截断写入 ts
func (h *PacketHeader) SetTimestamp(ts time.Time, resolution time.Duration) {
	h.TsSec = uint32(ts.Unix())
	switch resolution {
	case time.Nanosecond:
		h.TsUsec = uint32(ts.Nanosecond())
	default:
		h.TsUsec = uint32(ts.Nanosecond() / 1000)
	}
}

func (h *PacketHeader) timestamp(resolution time.Duration) time.Time {
	return time.Unix(int64(h.TsSec), int64(h.TsUsec)*int64(resolution)).UTC()
}

func (p *Packet) CaptureLength() int {
	return len(p.Data)
}

func (p *Packet) OriginalLength() int {
	if p.Header.OrigLen == 0 {
		return len(p.Data)
	}
	return int(p.Header.OrigLen)
}
