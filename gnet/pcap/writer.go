package pcap

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

type WriterOption func(*writerConfig) error

type writerConfig struct {
	byteOrder  binary.ByteOrder
	resolution time.Duration
	versionMaj uint16
	versionMin uint16
	thisZone   int32
	sigFigs    uint32
	snapLen    uint32
	network    LinkType
	bufferSize int
}

// truncater 由 *os.File 实现，写入失败时用来截掉残缺的记录
type truncater interface {
	Truncate(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

// Writer 以经典 pcap 格式追加记录。缓冲区只按整条记录刷新，
// 底层写入失败时回退到最后一条完整记录的位置(底层支持截断时)。
// 启用缓冲后，失败会丢弃尚未刷新的记录，Packets 等计数随之回退。
type Writer struct {
	w         io.Writer
	buf       []byte
	header    FileHeader
	byteOrder binary.ByteOrder
	tsUnit    time.Duration
	closer    io.Closer
	scratch   []byte
	closed    bool
	err       error

	packets uint64
	bytes   uint64
	size    int64

	// 已交给底层的完整记录
	flushedPackets uint64
	flushedBytes   uint64
	flushedSize    int64
}

func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		byteOrder:  binary.LittleEndian,
		resolution: time.Microsecond,
		versionMaj: 2,
		versionMin: 4,
		snapLen:    DefaultSnapLen,
		network:    LinkTypeEthernet,
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	header := FileHeader{
		MagicNumber:  selectMagic(cfg.byteOrder, cfg.resolution),
		VersionMajor: cfg.versionMaj,
		VersionMinor: cfg.versionMin,
		ThisZone:     cfg.thisZone,
		SigFigs:      cfg.sigFigs,
		SnapLen:      cfg.snapLen,
		Network:      cfg.network,
	}

	writer := &Writer{
		w:         w,
		header:    header,
		byteOrder: cfg.byteOrder,
		tsUnit:    cfg.resolution,
	}

	if closer, ok := w.(io.Closer); ok {
		writer.closer = closer
	}

	if cfg.bufferSize > 0 {
		writer.buf = make([]byte, 0, cfg.bufferSize)
	}

	if err := writer.writeHeader(); err != nil {
		return nil, err
	}

	return writer, nil
}

func (w *Writer) Header() FileHeader {
	return w.header
}

// Packets 返回已写入的记录数
func (w *Writer) Packets() uint64 {
	return w.packets
}

// Bytes 返回已写入的负载字节数，不含 pcap 头
func (w *Writer) Bytes() uint64 {
	return w.bytes
}

// Size 返回文件总字节数，包含文件头和包头
func (w *Writer) Size() int64 {
	return w.size
}

func (w *Writer) WritePacket(pkt *Packet) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.err != nil {
		return w.err
	}
	if pkt == nil {
		return fmt.Errorf("pcap: packet is nil")
	}

	header := pkt.Header
	switch {
	case !pkt.Timestamp.IsZero():
		header.SetTimestamp(pkt.Timestamp, w.tsUnit)
	case header.TsSec == 0 && header.TsUsec == 0:
		header.SetTimestamp(time.Now().UTC(), w.tsUnit)
	}

	if uint32(len(pkt.Data)) < header.InclLen {
		return fmt.Errorf("pcap: packet data shorter than captured length")
	}
	if header.InclLen == 0 {
		header.InclLen = uint32(len(pkt.Data))
	}
	if header.OrigLen == 0 {
		header.OrigLen = uint32(len(pkt.Data))
	}
	if w.header.SnapLen > 0 && header.InclLen > w.header.SnapLen {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, header.InclLen, w.header.SnapLen)
	}

	need := packetHeaderLen + int(header.InclLen)
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	rec := w.scratch[:need]
	w.byteOrder.PutUint32(rec[0:4], header.TsSec)
	w.byteOrder.PutUint32(rec[4:8], header.TsUsec)
	w.byteOrder.PutUint32(rec[8:12], header.InclLen)
	w.byteOrder.PutUint32(rec[12:16], header.OrigLen)
	copy(rec[packetHeaderLen:], pkt.Data[:header.InclLen])

	if w.buf != nil && len(w.buf)+need > cap(w.buf) {
		if err := w.flush(); err != nil {
			return err
		}
	}

	w.packets++
	w.bytes += uint64(header.InclLen)
	w.size += int64(need)

	if w.buf != nil && need <= cap(w.buf) {
		w.buf = append(w.buf, rec...)
		return nil
	}
	return w.commit(rec)
}

// commit 把 p 交给底层，p 必须由完整记录组成
func (w *Writer) commit(p []byte) error {
	n, err := w.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.rollback(err)
		return err
	}
	w.flushedPackets = w.packets
	w.flushedBytes = w.bytes
	w.flushedSize = w.size
	return nil
}

// rollback 丢弃未落盘的记录，并把底层截回最后一条完整记录。
// 底层无法截断时错误会一直保留，之后的写入都返回它。
func (w *Writer) rollback(cause error) {
	if w.buf != nil {
		w.buf = w.buf[:0]
	}
	w.packets = w.flushedPackets
	w.bytes = w.flushedBytes
	w.size = w.flushedSize

	t, ok := w.w.(truncater)
	if !ok {
		w.err = cause
		return
	}
	if err := t.Truncate(w.flushedSize); err != nil {
		w.err = cause
		return
	}
	if _, err := t.Seek(w.flushedSize, io.SeekStart); err != nil {
		w.err = cause
	}
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	err := w.commit(w.buf)
	if w.buf != nil {
		w.buf = w.buf[:0]
	}
	return err
}

func (w *Writer) WritePacketData(data []byte, ts time.Time) error {
	return w.WritePacket(&Packet{Data: data, Timestamp: ts})
}

// Flush 将缓冲区中的完整记录写入底层
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.flush()
}

// Close 刷新缓冲并关闭底层 writer，重复调用返回 nil。
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.Flush(); err != nil {
		if w.closer != nil {
			_ = w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func (w *Writer) writeHeader() error {
	var hdr [fileHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], w.header.MagicNumber)
	w.byteOrder.PutUint16(hdr[4:6], w.header.VersionMajor)
	w.byteOrder.PutUint16(hdr[6:8], w.header.VersionMinor)
	w.byteOrder.PutUint32(hdr[8:12], uint32(w.header.ThisZone))
	w.byteOrder.PutUint32(hdr[12:16], w.header.SigFigs)
	w.byteOrder.PutUint32(hdr[16:20], w.header.SnapLen)
	w.byteOrder.PutUint32(hdr[20:24], uint32(w.header.Network))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	w.size = fileHeaderLen
	w.flushedSize = fileHeaderLen
	return nil
}

func selectMagic(order binary.ByteOrder, resolution time.Duration) uint32 {
	isNano := resolution == time.Nanosecond
	if order == binary.BigEndian {
		if isNano {
			return MagicNumberNanoseconds
		}
		return MagicNumberMicroseconds
	}

	if isNano {
		return MagicNumberNanosecondsSwapped
	}
	return MagicNumberMicrosecondsSwapped
}

func WithSnapLen(snapLen uint32) WriterOption {
	return func(cfg *writerConfig) error {
		if snapLen == 0 {
			return fmt.Errorf("pcap: snap length must be positive")
		}
		cfg.snapLen = snapLen
		return nil
	}
}

func WithLinkType(linkType LinkType) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.network = linkType
		return nil
	}
}

// WithBuffer 启用带缓冲写入以减少系统调用。大于 size 的记录直接写入底层。
func WithBuffer(size int) WriterOption {
	return func(cfg *writerConfig) error {
		if size <= 0 {
			return fmt.Errorf("pcap: buffer size must be positive")
		}
		cfg.bufferSize = size
		return nil
	}
}

func WithByteOrder(order binary.ByteOrder) WriterOption {
	return func(cfg *writerConfig) error {
		if order != binary.BigEndian && order != binary.LittleEndian {
			return fmt.Errorf("pcap: unsupported byte order")
		}
		cfg.byteOrder = order
		return nil
	}
}

func WithTimestampResolution(resolution time.Duration) WriterOption {
	return func(cfg *writerConfig) error {
		switch resolution {
		case time.Microsecond, time.Nanosecond:
			cfg.resolution = resolution
			return nil
		default:
			return fmt.Errorf("pcap: unsupported timestamp resolution %s", resolution)
		}
	}
}
