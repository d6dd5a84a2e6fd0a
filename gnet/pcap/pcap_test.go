package pcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	writer, err := NewWriter(&buf, WithSnapLen(2048), WithLinkType(LinkTypeUser0))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ts1 := time.Unix(1_700_000_000, 123456000).UTC()
	ts2 := ts1.Add(1500 * time.Microsecond)

	if err := writer.WritePacketData([]byte{0x01, 0x02, 0x03}, ts1); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	if err := writer.WritePacket(&Packet{
		Header:    PacketHeader{OrigLen: 4, InclLen: 4},
		Data:      []byte{0xAA, 0xBB, 0xCC, 0xDD},
		Timestamp: ts2,
	}); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	if writer.Packets() != 2 || writer.Bytes() != 7 {
		t.Fatalf("unexpected counters: packets=%d bytes=%d", writer.Packets(), writer.Bytes())
	}
	if writer.Size() != int64(buf.Len()) {
		t.Fatalf("size %d does not match written %d", writer.Size(), buf.Len())
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if reader.Header().SnapLen != 2048 {
		t.Fatalf("unexpected snap length: %d", reader.Header().SnapLen)
	}
	if reader.LinkType() != LinkTypeUser0 {
		t.Fatalf("unexpected link type: %s", reader.LinkType())
	}

	p1, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if !p1.Timestamp.Equal(ts1) {
		t.Fatalf("unexpected timestamp: got %v want %v", p1.Timestamp, ts1)
	}
	if !bytes.Equal(p1.Data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("unexpected packet data: %x", p1.Data)
	}

	hdr, ts, err := reader.Skip()
	if err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	if !ts.Equal(ts2) || hdr.InclLen != 4 {
		t.Fatalf("unexpected skipped record: %v %+v", ts, hdr)
	}

	if _, err := reader.ReadPacket(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestBigEndianNanosecond(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewWriter(&buf, WithByteOrder(binary.BigEndian), WithTimestampResolution(time.Nanosecond))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ts := time.Unix(1_710_000_000, 987654321).UTC()
	payload := []byte{0x10, 0x20, 0x30, 0x40}
	if err := writer.WritePacketData(payload, ts); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	header := reader.Header()
	if header.IsLittleEndian() {
		t.Fatalf("expected big-endian header")
	}
	if header.TimestampResolution() != time.Nanosecond {
		t.Fatalf("expected nanosecond resolution")
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if !packet.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: got %v want %v", packet.Timestamp, ts)
	}
	if !bytes.Equal(packet.Data, payload) {
		t.Fatalf("payload mismatch: %x", packet.Data)
	}
}

type countingWriter struct {
	writes int
	failAt int
	buf    bytes.Buffer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.writes++
	if c.failAt > 0 && c.writes >= c.failAt {
		return 0, errors.New("disk full")
	}
	return c.buf.Write(p)
}

func TestSingleWritePerRecord(t *testing.T) {
	cw := &countingWriter{}
	writer, err := NewWriter(cw)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := writer.WritePacketData(bytes.Repeat([]byte{byte(i)}, 100), time.Now()); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	// 文件头一次，每条记录一次
	if cw.writes != 4 {
		t.Fatalf("expected 4 writes, got %d", cw.writes)
	}
}

func TestWriteFailureKeepsCounters(t *testing.T) {
	cw := &countingWriter{failAt: 3}
	writer, err := NewWriter(cw)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := writer.WritePacketData([]byte{1}, time.Now()); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := writer.WritePacketData([]byte{2}, time.Now()); err == nil {
		t.Fatal("expected write error")
	}
	if writer.Packets() != 1 {
		t.Fatalf("failed record must not be counted, got %d", writer.Packets())
	}

	reader, err := NewReader(bytes.NewReader(cw.buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := reader.ReadPacket(); err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if _, err := reader.ReadPacket(); err != io.EOF {
		t.Fatalf("expected clean EOF after failed write, got %v", err)
	}
}

// diskFile 模拟磁盘写满：第 failAt 次及之后(sticky)或仅该次写入只落下 partial 字节
type diskFile struct {
	data    []byte
	writes  int
	failAt  int
	sticky  bool
	partial int
}

func (f *diskFile) Write(p []byte) (int, error) {
	f.writes++
	if f.failAt > 0 && (f.writes == f.failAt || (f.sticky && f.writes > f.failAt)) {
		n := min(f.partial, len(p))
		f.data = append(f.data, p[:n]...)
		return n, syscall.ENOSPC
	}
	f.data = append(f.data, p...)
	return len(p), nil
}

func (f *diskFile) Truncate(size int64) error {
	f.data = f.data[:size]
	return nil
}

func (f *diskFile) Seek(offset int64, whence int) (int64, error) {
	return offset, nil
}

func countRecords(t *testing.T, data []byte) int {
	t.Helper()
	reader, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	n := 0
	for {
		_, err := reader.ReadPacket()
		if err == io.EOF {
			return n
		}
		if err != nil {
			t.Fatalf("record %d unreadable: %v", n, err)
		}
		n++
	}
}

func TestBufferedFailureLeavesNoTornRecord(t *testing.T) {
	f := &diskFile{failAt: 2, sticky: true, partial: 16}
	writer, err := NewWriter(f, WithBuffer(64))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	payload := make([]byte, 40)
	if err := writer.WritePacketData(payload, time.Now()); err != nil {
		t.Fatalf("buffered write failed: %v", err)
	}
	// 第二条记录触发刷新，底层只落下一部分
	if err := writer.WritePacketData(payload, time.Now()); !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("expected ENOSPC, got %v", err)
	}
	if writer.Packets() != 0 || writer.Size() != fileHeaderLen {
		t.Fatalf("counters not rolled back: packets=%d size=%d", writer.Packets(), writer.Size())
	}
	if len(f.data) != fileHeaderLen {
		t.Fatalf("torn record left on disk: %d bytes", len(f.data))
	}

	_ = writer.WritePacketData(payload, time.Now())
	if err := writer.Close(); err == nil {
		t.Fatal("expected close to report the failed flush")
	}
	if got := countRecords(t, f.data); uint64(got) != writer.Packets() {
		t.Fatalf("records on disk %d, reported %d", got, writer.Packets())
	}
}

func TestPartialWriteTruncatedAndRecovers(t *testing.T) {
	f := &diskFile{failAt: 3, partial: 10}
	writer, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := writer.WritePacketData([]byte("first"), time.Now()); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := writer.WritePacketData([]byte("second"), time.Now()); !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("expected ENOSPC, got %v", err)
	}
	if err := writer.WritePacketData([]byte("third"), time.Now()); err != nil {
		t.Fatalf("write after truncation failed: %v", err)
	}
	if writer.Packets() != 2 || writer.Size() != int64(len(f.data)) {
		t.Fatalf("unexpected counters: packets=%d size=%d disk=%d", writer.Packets(), writer.Size(), len(f.data))
	}
	if got := countRecords(t, f.data); got != 2 {
		t.Fatalf("expected 2 records on disk, got %d", got)
	}
}

func TestBufferFlushesWholeRecords(t *testing.T) {
	f := &diskFile{}
	writer, err := NewWriter(f, WithBuffer(64))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := writer.WritePacketData(make([]byte, 20), time.Now()); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
		if (len(f.data)-fileHeaderLen)%(packetHeaderLen+20) != 0 {
			t.Fatalf("partial record flushed: %d bytes on disk", len(f.data))
		}
	}
	// 大于缓冲区的记录直接写入
	if err := writer.WritePacketData(make([]byte, 100), time.Now()); err != nil {
		t.Fatalf("large write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := countRecords(t, f.data); got != 6 {
		t.Fatalf("expected 6 records, got %d", got)
	}
}

func TestOversizedRecordHeaderRejected(t *testing.T) {
	var buf bytes.Buffer
	writer, _ := NewWriter(&buf, WithSnapLen(0xFFFFFFFF))
	_ = writer.WritePacketData([]byte{1}, time.Now())
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[fileHeaderLen+8:], 0xFFFFFFF0)

	reader, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := reader.ReadPacket(); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestSnapLenEnforced(t *testing.T) {
	writer, err := NewWriter(io.Discard, WithSnapLen(8))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := writer.WritePacketData(make([]byte, 9), time.Now()); !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
}

func TestInvalidInput(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte{1, 2, 3})); !errors.Is(err, ErrInvalidFileHeader) {
		t.Fatalf("expected ErrInvalidFileHeader, got %v", err)
	}
	if _, err := NewReader(bytes.NewReader(make([]byte, 24))); !errors.Is(err, ErrInvalidMagicNumber) {
		t.Fatalf("expected ErrInvalidMagicNumber, got %v", err)
	}

	var buf bytes.Buffer
	writer, _ := NewWriter(&buf)
	_ = writer.WritePacketData([]byte{1, 2, 3, 4}, time.Now())
	truncated := buf.Bytes()[:buf.Len()-2]
	reader, err := NewReader(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := reader.ReadPacket(); !errors.Is(err, ErrInvalidPacketHeader) {
		t.Fatalf("expected ErrInvalidPacketHeader, got %v", err)
	}
}

func TestCreateFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pcap")
	w, err := CreateFile(path, WithBuffer(4096))
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := w.WritePacketData([]byte("hello"), time.Now()); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be nil, got %v", err)
	}
	if err := w.WritePacketData([]byte("x"), time.Now()); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}

	if _, err := CreateFile(path); err == nil {
		t.Fatal("expected error creating existing file")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() != w.Size() {
		t.Fatalf("file size %d, writer size %d", info.Size(), w.Size())
	}

	r, closeFn, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer closeFn()
	p, err := r.ReadPacket()
	if err != nil || string(p.Data) != "hello" {
		t.Fatalf("unexpected packet %v, %v", p, err)
	}
}
