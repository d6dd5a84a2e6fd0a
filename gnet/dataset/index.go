package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sofiworker/udpreplay/gcodec"
)

// Index 是 <name>.pidx 的内容
type Index struct {
	Name     string      `yaml:"name"`
	LinkType string      `yaml:"link_type"`
	Created  time.Time   `yaml:"created"`
	Files    []FileEntry `yaml:"files"`
}

// FileEntry 描述数据集中的一个文件
type FileEntry struct {
	File    string    `yaml:"file"`
	Packets uint64    `yaml:"packets"`
	Bytes   uint64    `yaml:"bytes"`
	Size    int64     `yaml:"size"`
	Start   time.Time `yaml:"start,omitempty"`
	End     time.Time `yaml:"end,omitempty"`
}

func (idx *Index) info(path string) Info {
	info := Info{
		Name:      idx.Name,
		Path:      path,
		LinkType:  idx.LinkType,
		FileCount: len(idx.Files),
		Indexed:   true,
	}
	for _, f := range idx.Files {
		info.PacketCount += f.Packets
		info.TotalBytes += f.Bytes
		info.TotalSize += f.Size
		if !f.Start.IsZero() && (info.Start.IsZero() || f.Start.Before(info.Start)) {
			info.Start = f.Start
		}
		if f.End.After(info.End) {
			info.End = f.End
		}
	}
	return info
}

var indexCodec = gcodec.NewYAMLCodec()

func readIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := indexCodec.DecodeBytes(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", path, err)
	}
	return &idx, nil
}

// writeIndex 先写临时文件再重命名，读者不会看到写了一半的索引
func writeIndex(path string, idx *Index) error {
	data, err := indexCodec.EncodeBytes(idx)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pidx-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// consistent 报告索引中的文件是否与磁盘上的一致
func (idx *Index) consistent(dir string, files []string) bool {
	if len(idx.Files) != len(files) {
		return false
	}
	for i, f := range idx.Files {
		if f.File != filepath.Base(files[i]) {
			return false
		}
		st, err := os.Stat(filepath.Join(dir, f.File))
		if err != nil || st.Size() != f.Size {
			return false
		}
	}
	return true
}
