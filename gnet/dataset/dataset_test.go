package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/gnet/pcap"
)

var base = time.Unix(1_700_000_000, 0).UTC()

func writeDataset(t *testing.T, n, perFile int) (string, []Record) {
	t.Helper()
	out := t.TempDir()
	w, err := Create(out, "ds", WithMaxPacketsPerFile(perFile))
	require.NoError(t, err)

	var recs []Record
	for i := 0; i < n; i++ {
		rec := Record{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Data:      []byte(fmt.Sprintf("packet-%03d", i)),
		}
		require.NoError(t, w.Append(rec))
		recs = append(recs, rec)
	}
	require.NoError(t, w.Finalize())
	return w.Dir(), recs
}

func readAll(t *testing.T, r *Reader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestWriteReadRotation(t *testing.T) {
	dir, recs := writeDataset(t, 25, 10)

	for _, f := range []string{"ds_00000.pcap", "ds_00001.pcap", "ds_00002.pcap", "ds" + IndexExt} {
		assert.FileExists(t, filepath.Join(dir, f))
	}

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	info := r.Info()
	assert.True(t, info.Indexed)
	assert.Equal(t, "ds", info.Name)
	assert.Equal(t, 3, info.FileCount)
	assert.EqualValues(t, 25, info.PacketCount)
	assert.True(t, base.Equal(info.Start), "start %v", info.Start)
	assert.True(t, base.Add(24*time.Millisecond).Equal(info.End), "end %v", info.End)
	assert.Equal(t, 24*time.Millisecond, info.Span())
	assert.Equal(t, "user0", info.LinkType)

	got := readAll(t, r)
	require.Len(t, got, 25)
	for i := range recs {
		assert.True(t, recs[i].Timestamp.Equal(got[i].Timestamp), "record %d timestamp", i)
		assert.Equal(t, recs[i].Data, got[i].Data)
	}

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScanWithoutIndex(t *testing.T) {
	dir, _ := writeDataset(t, 12, 5)
	require.NoError(t, os.Remove(filepath.Join(dir, "ds"+IndexExt)))

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	info := r.Info()
	assert.False(t, info.Indexed)
	assert.Equal(t, 3, info.FileCount)
	assert.EqualValues(t, 12, info.PacketCount)
	assert.EqualValues(t, 12*len("packet-000"), info.TotalBytes)
	assert.True(t, base.Equal(info.Start), "start %v", info.Start)
	assert.True(t, base.Add(11*time.Millisecond).Equal(info.End), "end %v", info.End)
	assert.Len(t, readAll(t, r), 12)
}

func TestStaleIndexFallsBackToScan(t *testing.T) {
	dir, _ := writeDataset(t, 6, 3)
	require.NoError(t, os.Remove(filepath.Join(dir, "ds_00001.pcap")))

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Info().Indexed)
	assert.EqualValues(t, 3, r.Info().PacketCount)
}

func TestSeek(t *testing.T) {
	dir, recs := writeDataset(t, 30, 10)

	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Seek(base.Add(15*time.Millisecond)))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, recs[15].Data, rec.Data)
	assert.Equal(t, 1, r.fileIdx, "first file skipped through the index")

	require.NoError(t, r.Seek(base.Add(time.Hour)))
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCreateRefusesOverwrite(t *testing.T) {
	dir, _ := writeDataset(t, 1, 10)

	_, err := Create(filepath.Dir(dir), "ds")
	assert.ErrorIs(t, err, ErrExists)
	assert.ErrorIs(t, err, gerr.ErrDataset)

	_, err = Create(t.TempDir(), "../escape")
	assert.ErrorIs(t, err, gerr.ErrConfig)
}

func TestFinalizeOnce(t *testing.T) {
	w, err := Create(t.TempDir(), "once")
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Timestamp: base, Data: []byte("x")}))
	require.NoError(t, w.Finalize())

	err = w.Finalize()
	assert.ErrorIs(t, err, ErrFinalized)

	err = w.Append(Record{Timestamp: base, Data: []byte("y")})
	assert.ErrorIs(t, err, gerr.ErrWrite)
	assert.EqualValues(t, 1, w.Packets())
}

func TestEmptyDataset(t *testing.T) {
	w, err := Create(t.TempDir(), "empty")
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	r, err := Open(w.Dir())
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, 0, r.Info().PacketCount)
	assert.Zero(t, r.Info().Span())
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	_, err = Open(t.TempDir())
	assert.ErrorIs(t, err, ErrEmpty)
}

func udpFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 4000, DstPort: 5000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, udp, gopacket.Payload(payload))
}

func tcpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 4000, DstPort: 80, SYN: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp)
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func TestEthernetExtraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eth.pcap")
	w, err := pcap.CreateFile(path, pcap.WithLinkType(pcap.LinkTypeEthernet))
	require.NoError(t, err)
	require.NoError(t, w.WritePacketData(udpFrame(t, []byte("first")), base))
	require.NoError(t, w.WritePacketData(tcpFrame(t), base.Add(time.Millisecond)))
	require.NoError(t, w.WritePacketData(udpFrame(t, []byte("second")), base.Add(2*time.Millisecond)))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "eth", r.Info().Name)
	assert.EqualValues(t, 2, r.Info().PacketCount)
	assert.Equal(t, "ethernet", r.Info().LinkType)

	got := readAll(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("first"), got[0].Data)
	assert.Equal(t, []byte("second"), got[1].Data)
	assert.EqualValues(t, 1, r.Skipped())

	raw, err := Open(path, WithRawFrames())
	require.NoError(t, err)
	defer raw.Close()
	frames := readAll(t, raw)
	require.Len(t, frames, 3)
	assert.True(t, bytes.HasSuffix(frames[0].Data, []byte("first")))
}

func TestPcapngInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)

	ng, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, p := range []string{"a", "bb", "ccc"} {
		frame := udpFrame(t, []byte(p))
		ci := gopacket.CaptureInfo{
			Timestamp:      base.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength:  len(frame),
			Length:         len(frame),
			InterfaceIndex: 0,
		}
		require.NoError(t, ng.WritePacket(ci, frame))
	}
	require.NoError(t, ng.Flush())
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got := readAll(t, r)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("ccc"), got[2].Data)
	assert.Equal(t, 20*time.Millisecond, got[2].Timestamp.Sub(got[0].Timestamp))
}
