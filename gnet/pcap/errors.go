package pcap

import "errors"

var (
	ErrInvalidMagicNumber  = errors.New("pcap: invalid magic number")
	ErrInvalidFileHeader   = errors.New("pcap: invalid file header")
	ErrInvalidPacketHeader = errors.New("pcap: invalid packet header")
	ErrPacketTooLarge      = errors.New("pcap: packet exceeds snap length")
	ErrWriterClosed        = errors.New("pcap: writer closed")
)
