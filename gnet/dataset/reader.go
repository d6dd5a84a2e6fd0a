package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
)

type readerOptions struct {
	raw    bool
	logger glog.GLogger
}

// Option 配置 Reader
type Option func(*readerOptions)

// WithRawFrames 不做 UDP 负载提取，按文件中的原始帧回放
func WithRawFrames() Option {
	return func(o *readerOptions) {
		o.raw = true
	}
}

// WithLogger 设置日志
func WithLogger(l glog.GLogger) Option {
	return func(o *readerOptions) {
		o.logger = l
	}
}

// Reader 按时间顺序依次读取数据集中所有文件的记录，只能前进。
type Reader struct {
	dir   string
	files []string
	index *Index
	info  Info
	opts  readerOptions

	fileIdx int
	src     frameSource
	extract extractor
	pending *Record
	skipped uint64
	closed  bool
}

// Open 打开一个数据集目录或单个 .pcap/.pcapng 文件。
func Open(path string, opts ...Option) (*Reader, error) {
	const op = "dataset.open"
	o := readerOptions{logger: glog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, gerr.Dataset(op, err)
	}

	r := &Reader{opts: o, fileIdx: -1}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if st.IsDir() {
		r.dir = path
		name = filepath.Base(filepath.Clean(path))
		r.files, err = listCaptureFiles(path)
		if err != nil {
			return nil, gerr.Dataset(op, err)
		}
	} else {
		r.dir = filepath.Dir(path)
		r.files = []string{path}
	}
	if len(r.files) == 0 {
		return nil, gerr.Dataset(op, fmt.Errorf("%w in %s", ErrEmpty, path))
	}

	if st.IsDir() {
		if idx := findIndex(path, name); idx != nil && idx.consistent(path, r.files) {
			r.index = idx
			r.info = idx.info(path)
		} else if idx != nil {
			o.logger.Warn("dataset index does not match files on disk, scanning", "path", path)
		}
	}
	if r.index == nil {
		r.info, err = scan(r.files, o.raw)
		if err != nil {
			return nil, gerr.Dataset(op, err)
		}
		r.info.Path = path
	}
	if r.info.Name == "" {
		r.info.Name = name
	}
	return r, nil
}

func listCaptureFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".pcap" && ext != ".pcapng" {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if isCaptureFile(p) {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

func findIndex(dir, name string) *Index {
	candidates := []string{filepath.Join(dir, name+IndexExt)}
	if more, err := filepath.Glob(filepath.Join(dir, "*"+IndexExt)); err == nil {
		candidates = append(candidates, more...)
	}
	for _, c := range candidates {
		if idx, err := readIndex(c); err == nil {
			return idx
		}
	}
	return nil
}

// scan 在没有可用索引时逐条统计
func scan(files []string, raw bool) (Info, error) {
	var info Info
	info.FileCount = len(files)
	for _, path := range files {
		st, err := os.Stat(path)
		if err != nil {
			return info, err
		}
		info.TotalSize += st.Size()

		src, err := openSource(path)
		if err != nil {
			return info, err
		}
		ex := newExtractor(src.linkType(), raw)
		if info.LinkType == "" {
			info.LinkType = src.linkType().String()
		}
		for {
			ts, n, err := scanOne(src, ex)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = src.close()
				return info, fmt.Errorf("scan %s: %w", path, err)
			}
			if n < 0 {
				continue
			}
			info.PacketCount++
			info.TotalBytes += uint64(n)
			if info.Start.IsZero() || ts.Before(info.Start) {
				info.Start = ts
			}
			if ts.After(info.End) {
				info.End = ts
			}
		}
		_ = src.close()
	}
	return info, nil
}

// scanOne 返回下一条记录的时间戳和负载长度，不含 UDP 层的帧长度为 -1。
func scanOne(src frameSource, ex extractor) (time.Time, int, error) {
	if ex.raw {
		return src.skip()
	}
	ts, frame, err := src.next()
	if err != nil {
		return ts, 0, err
	}
	payload, ok := ex.payload(frame)
	if !ok {
		return ts, -1, nil
	}
	return ts, len(payload), nil
}

// Info 返回数据集元数据
func (r *Reader) Info() Info {
	return r.info
}

// Skipped 返回因不含 UDP 层而跳过的帧数
func (r *Reader) Skipped() uint64 {
	return r.skipped
}

// Next 返回下一条记录，全部读完后返回 io.EOF。
func (r *Reader) Next() (Record, error) {
	if r.pending != nil {
		rec := *r.pending
		r.pending = nil
		return rec, nil
	}
	for {
		if r.closed {
			return Record{}, io.EOF
		}
		if r.src == nil {
			if err := r.openNext(); err != nil {
				return Record{}, err
			}
			continue
		}

		ts, frame, err := r.src.next()
		if errors.Is(err, io.EOF) {
			_ = r.src.close()
			r.src = nil
			continue
		}
		if err != nil {
			return Record{}, gerr.Dataset("dataset.next", fmt.Errorf("%s: %w", r.files[r.fileIdx], err))
		}

		payload, ok := r.extract.payload(frame)
		if !ok {
			r.skipped++
			r.opts.logger.Debug("skipping frame without udp layer", "file", filepath.Base(r.files[r.fileIdx]), "len", len(frame))
			continue
		}
		return Record{Timestamp: ts, Data: payload}, nil
	}
}

func (r *Reader) openNext() error {
	r.fileIdx++
	if r.fileIdx >= len(r.files) {
		r.closed = true
		return io.EOF
	}
	src, err := openSource(r.files[r.fileIdx])
	if err != nil {
		return gerr.Dataset("dataset.next", err)
	}
	r.src = src
	r.extract = newExtractor(src.linkType(), r.opts.raw)
	return nil
}

// Seek 定位到第一条时间戳不早于 t 的记录。有索引时整文件跳过。
// 只能向前移动。
func (r *Reader) Seek(t time.Time) error {
	if r.pending != nil {
		if !r.pending.Timestamp.Before(t) {
			return nil
		}
		r.pending = nil
	}

	if r.index != nil && r.src == nil {
		for r.fileIdx+1 < len(r.index.Files) {
			entry := r.index.Files[r.fileIdx+1]
			if entry.End.IsZero() || !entry.End.Before(t) {
				break
			}
			r.fileIdx++
		}
	}

	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !rec.Timestamp.Before(t) {
			r.pending = &rec
			return nil
		}
	}
}

// Close 释放当前打开的文件
func (r *Reader) Close() error {
	r.closed = true
	if r.src != nil {
		err := r.src.close()
		r.src = nil
		return err
	}
	return nil
}

