package pcap

import (
	"fmt"
	"os"
)

// CreateFile 创建 path 并返回写入它的 Writer，Close 会一并关闭文件。
// 文件已存在时返回错误。
func CreateFile(path string, opts ...WriterOption) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pcap: create %s: %w", path, err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return w, nil
}

// OpenFile 打开 path 并返回 Reader 和关闭函数。
func OpenFile(path string) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("pcap: open %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("pcap: read %s: %w", path, err)
	}
	return r, f.Close, nil
}
