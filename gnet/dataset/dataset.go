// Package dataset 读写由若干 pcap 文件和一个索引文件组成的数据集。
//
// 目录布局:
//
//	<output>/<name>/<name>_00000.pcap
//	<output>/<name>/<name>_00001.pcap
//	<output>/<name>/<name>.pidx
package dataset

import (
	"errors"
	"fmt"
	"time"
)

const (
	// IndexExt 为索引文件扩展名
	IndexExt = ".pidx"

	// DefaultMaxPacketsPerFile 为单个文件的默认记录数上限
	DefaultMaxPacketsPerFile = 10000
)

var (
	ErrFinalized = errors.New("dataset: already finalized")
	ErrExists    = errors.New("dataset: already exists")
	ErrEmpty     = errors.New("dataset: no capture files")
)

// Record 是一个带时间戳的 UDP 负载
type Record struct {
	Timestamp time.Time
	Data      []byte
}

// Info 是数据集的元数据
type Info struct {
	Name        string
	Path        string
	LinkType    string
	FileCount   int
	PacketCount uint64
	// TotalSize 为磁盘上文件大小之和
	TotalSize int64
	// TotalBytes 为负载字节数之和
	TotalBytes uint64
	Start      time.Time
	End        time.Time
	// Indexed 表示元数据来自索引文件而非扫描
	Indexed bool
}

// Span 返回首末记录之间的时间跨度
func (i Info) Span() time.Duration {
	if i.Start.IsZero() || i.End.IsZero() {
		return 0
	}
	return i.End.Sub(i.Start)
}

func fileName(name string, seq int) string {
	return fmt.Sprintf("%s_%05d.pcap", name, seq)
}
