package dataset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/sofiworker/udpreplay/gnet/pcap"
)

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// frameSource 逐条读出一个文件中的原始帧
type frameSource interface {
	next() (time.Time, []byte, error)
	linkType() pcap.LinkType
	// skip 读过一条帧的数据，只返回时间戳和长度
	skip() (time.Time, int, error)
	close() error
}

func openSource(path string) (frameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, 64*1024)
	head, err := br.Peek(4)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read %s: %w", path, pcap.ErrInvalidFileHeader)
	}

	if bytes.Equal(head, ngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return &ngSource{r: r, f: f}, nil
	}

	r, err := pcap.NewReader(br)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &classicSource{r: r, f: f}, nil
}

type classicSource struct {
	r *pcap.Reader
	f *os.File
}

func (s *classicSource) next() (time.Time, []byte, error) {
	p, err := s.r.ReadPacket()
	if err != nil {
		return time.Time{}, nil, err
	}
	return p.Timestamp, p.Data, nil
}

func (s *classicSource) skip() (time.Time, int, error) {
	hdr, ts, err := s.r.Skip()
	return ts, int(hdr.InclLen), err
}

func (s *classicSource) linkType() pcap.LinkType { return s.r.LinkType() }
func (s *classicSource) close() error            { return s.f.Close() }

type ngSource struct {
	r *pcapgo.NgReader
	f *os.File
}

func (s *ngSource) next() (time.Time, []byte, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		return time.Time{}, nil, err
	}
	return ci.Timestamp.UTC(), data, nil
}

func (s *ngSource) skip() (time.Time, int, error) {
	ts, data, err := s.next()
	return ts, len(data), err
}

func (s *ngSource) linkType() pcap.LinkType { return pcap.LinkType(s.r.LinkType()) }
func (s *ngSource) close() error            { return s.f.Close() }

// extractor 把链路层帧剥离到 UDP 负载
type extractor struct {
	raw     bool
	decoder gopacket.Decoder
}

func newExtractor(lt pcap.LinkType, raw bool) extractor {
	if raw || lt == pcap.LinkTypeUser0 {
		return extractor{raw: true}
	}
	var dec gopacket.Decoder
	switch lt {
	case pcap.LinkTypeEthernet:
		dec = layers.LayerTypeEthernet
	case pcap.LinkTypeLinuxSLL:
		dec = layers.LayerTypeLinuxSLL
	case pcap.LinkTypeRaw:
		dec = gopacket.DecodeFunc(decodeRawIP)
	default:
		dec = layers.LinkType(lt)
	}
	return extractor{decoder: dec}
}

// payload 返回帧中的 UDP 负载，帧不含 UDP 层时 ok 为 false。
func (e extractor) payload(frame []byte) ([]byte, bool) {
	if e.raw {
		return frame, true
	}
	pkt := gopacket.NewPacket(frame, e.decoder, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if udp == nil {
		return nil, false
	}
	return udp.Payload, true
}

func decodeRawIP(data []byte, p gopacket.PacketBuilder) error {
	if len(data) == 0 {
		return io.ErrUnexpectedEOF
	}
	switch data[0] >> 4 {
	case 4:
		return layers.LayerTypeIPv4.Decode(data, p)
	case 6:
		return layers.LayerTypeIPv6.Decode(data, p)
	default:
		return fmt.Errorf("raw frame with ip version %d", data[0]>>4)
	}
}

// isCaptureFile 按文件头判断是否为 pcap/pcapng
func isCaptureFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var head [4]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return false
	}
	if bytes.Equal(head[:], ngMagic) {
		return true
	}
	switch binary.BigEndian.Uint32(head[:]) {
	case pcap.MagicNumberMicroseconds, pcap.MagicNumberMicrosecondsSwapped,
		pcap.MagicNumberNanoseconds, pcap.MagicNumberNanosecondsSwapped:
		return true
	}
	return false
}
