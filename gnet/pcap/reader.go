package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

type Reader struct {
	r         io.Reader
	header    FileHeader
	byteOrder binary.ByteOrder
	tsUnit    time.Duration
}

// NewReader 读取并校验文件头。r 不是 *bufio.Reader 时会自动加缓冲。
func NewReader(r io.Reader) (*Reader, error) {
	if _, ok := r.(*bufio.Reader); !ok {
		r = bufio.NewReaderSize(r, 64*1024)
	}

	var hdrBytes [fileHeaderLen]byte
	if _, err := io.ReadFull(r, hdrBytes[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidFileHeader
		}
		return nil, err
	}

	magic := binary.BigEndian.Uint32(hdrBytes[0:4])
	switch magic {
	case MagicNumberMicroseconds, MagicNumberNanoseconds,
		MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
	default:
		return nil, ErrInvalidMagicNumber
	}

	header := FileHeader{MagicNumber: magic}
	order := header.ByteOrder()

	header.VersionMajor = order.Uint16(hdrBytes[4:6])
	header.VersionMinor = order.Uint16(hdrBytes[6:8])
	header.ThisZone = int32(order.Uint32(hdrBytes[8:12]))
	header.SigFigs = order.Uint32(hdrBytes[12:16])
	header.SnapLen = order.Uint32(hdrBytes[16:20])
	header.Network = LinkType(order.Uint32(hdrBytes[20:24]))

	return &Reader{
		r:         r,
		header:    header,
		byteOrder: order,
		tsUnit:    header.TimestampResolution(),
	}, nil
}

func (r *Reader) Header() FileHeader {
	return r.header
}

func (r *Reader) LinkType() LinkType {
	return r.header.Network
}

// ReadPacket 读取下一条记录，文件正常结束时返回 io.EOF。
func (r *Reader) ReadPacket() (*Packet, error) {
	header, err := r.readHeader()
	if err != nil {
		return nil, err
	}

	data := make([]byte, header.InclLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrInvalidPacketHeader
		}
		return nil, err
	}

	return &Packet{
		Header:    header,
		Data:      data,
		Timestamp: header.timestamp(r.tsUnit),
	}, nil
}

// Skip 跳过下一条记录的数据，仅返回其包头和时间戳。
func (r *Reader) Skip() (PacketHeader, time.Time, error) {
	header, err := r.readHeader()
	if err != nil {
		return header, time.Time{}, err
	}
	if _, err := io.CopyN(io.Discard, r.r, int64(header.InclLen)); err != nil {
		if errors.Is(err, io.EOF) {
			return header, time.Time{}, ErrInvalidPacketHeader
		}
		return header, time.Time{}, err
	}
	return header, header.timestamp(r.tsUnit), nil
}

func (r *Reader) readHeader() (PacketHeader, error) {
	var hdrBytes [packetHeaderLen]byte
	if _, err := io.ReadFull(r.r, hdrBytes[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return PacketHeader{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return PacketHeader{}, ErrInvalidPacketHeader
		}
		return PacketHeader{}, err
	}

	header := PacketHeader{
		TsSec:   r.byteOrder.Uint32(hdrBytes[0:4]),
		TsUsec:  r.byteOrder.Uint32(hdrBytes[4:8]),
		InclLen: r.byteOrder.Uint32(hdrBytes[8:12]),
		OrigLen: r.byteOrder.Uint32(hdrBytes[12:16]),
	}

	if header.InclLen > MaxRecordLen {
		return header, fmt.Errorf("%w: captured length %d", ErrPacketTooLarge, header.InclLen)
	}
	if r.header.SnapLen > 0 && header.InclLen > r.header.SnapLen {
		return header, fmt.Errorf("%w: captured length %d, snap length %d", ErrPacketTooLarge, header.InclLen, r.header.SnapLen)
	}
	return header, nil
}
