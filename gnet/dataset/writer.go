package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/pcap"
)

type writerOptions struct {
	maxPerFile int
	logger     glog.GLogger
	now        func() time.Time
}

// WriterOption 配置 Writer
type WriterOption func(*writerOptions)

// WithMaxPacketsPerFile 设置轮转阈值，n <= 0 时使用默认值
func WithMaxPacketsPerFile(n int) WriterOption {
	return func(o *writerOptions) {
		if n > 0 {
			o.maxPerFile = n
		}
	}
}

// WithWriterLogger 设置日志
func WithWriterLogger(l glog.GLogger) WriterOption {
	return func(o *writerOptions) {
		o.logger = l
	}
}

// Writer 把记录追加到按序号轮转的 pcap 文件中，Finalize 时写出索引。
// 每条记录直接写入文件，Append 成功即表示记录完整落盘；失败的记录会被截掉。
// 不是并发安全的，由单个采集会话独占。
type Writer struct {
	dir  string
	name string
	opts writerOptions

	cur     *pcap.Writer
	entry   FileEntry
	index   Index
	packets uint64

	finalized bool
	once      sync.Once
	finalErr  error
}

// Create 创建 <outputPath>/<name>/ 并打开第一个文件。目标目录已存在且非空时返回 ErrExists。
func Create(outputPath, name string, opts ...WriterOption) (*Writer, error) {
	const op = "dataset.create"
	o := writerOptions{
		maxPerFile: DefaultMaxPacketsPerFile,
		logger:     glog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return nil, gerr.Config(op, "invalid dataset name %q", name)
	}

	dir := filepath.Join(outputPath, name)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return nil, gerr.Dataset(op, fmt.Errorf("%w: %s", ErrExists, dir))
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, gerr.Dataset(op, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, gerr.Dataset(op, err)
	}

	w := &Writer{
		dir:  dir,
		name: name,
		opts: o,
		index: Index{
			Name:     name,
			LinkType: pcap.LinkTypeUser0.String(),
			Created:  o.now().UTC(),
		},
	}
	if err := w.openFile(0); err != nil {
		return nil, gerr.Dataset(op, err)
	}
	return w, nil
}

// Dir 返回数据集目录
func (w *Writer) Dir() string {
	return w.dir
}

// Packets 返回已成功写入的记录数
func (w *Writer) Packets() uint64 {
	return w.packets
}

func (w *Writer) openFile(seq int) error {
	file := fileName(w.name, seq)
	pw, err := pcap.CreateFile(filepath.Join(w.dir, file),
		pcap.WithLinkType(pcap.LinkTypeUser0),
		pcap.WithTimestampResolution(time.Nanosecond),
	)
	if err != nil {
		return err
	}
	w.cur = pw
	w.entry = FileEntry{File: file}
	return nil
}

// closeFile 关闭当前文件并把它登记到索引
func (w *Writer) closeFile() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.entry.Packets = w.cur.Packets()
	w.entry.Bytes = w.cur.Bytes()
	w.entry.Size = w.cur.Size()
	w.index.Files = append(w.index.Files, w.entry)
	w.cur = nil
	return err
}

// Append 写入一条记录，达到阈值时先轮转到下一个文件。
func (w *Writer) Append(rec Record) error {
	const op = "dataset.append"
	if w.finalized {
		return gerr.Write(op, ErrFinalized)
	}

	if w.cur == nil || w.cur.Packets() >= uint64(w.opts.maxPerFile) {
		seq := len(w.index.Files)
		if w.cur != nil {
			seq++
			if err := w.closeFile(); err != nil {
				return gerr.Write(op, err)
			}
		}
		if err := w.openFile(seq); err != nil {
			return gerr.Write(op, err)
		}
		w.opts.logger.Debug("rotated capture file", "file", w.entry.File)
	}

	if err := w.cur.WritePacketData(rec.Data, rec.Timestamp); err != nil {
		return gerr.Write(op, err)
	}
	w.packets++
	if w.entry.Start.IsZero() {
		w.entry.Start = rec.Timestamp.UTC()
	}
	w.entry.End = rec.Timestamp.UTC()
	return nil
}

// Finalize 刷新并关闭当前文件，然后写出索引。只有第一次调用生效，
// 之后返回 ErrFinalized。
func (w *Writer) Finalize() error {
	const op = "dataset.finalize"
	called := false
	w.once.Do(func() {
		called = true
		w.finalized = true
		if err := w.closeFile(); err != nil {
			w.finalErr = gerr.Dataset(op, err)
			return
		}
		path := filepath.Join(w.dir, w.name+IndexExt)
		if err := writeIndex(path, &w.index); err != nil {
			w.finalErr = gerr.Dataset(op, err)
			return
		}
		w.opts.logger.Info("dataset finalized", "dir", w.dir, "files", len(w.index.Files), "packets", w.packets)
	})
	if !called {
		return gerr.Dataset(op, ErrFinalized)
	}
	return w.finalErr
}

// Info 返回已写入部分的元数据
func (w *Writer) Info() Info {
	idx := w.index
	if w.cur != nil {
		e := w.entry
		e.Packets = w.cur.Packets()
		e.Bytes = w.cur.Bytes()
		e.Size = w.cur.Size()
		idx.Files = append(append([]FileEntry(nil), idx.Files...), e)
	}
	return idx.info(w.dir)
}
