// Package session 把配置、传输绑定、回放/采集核心和统计汇报组装成一次完整的会话。
package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/capture"
	"github.com/sofiworker/udpreplay/gnet/dataset"
	"github.com/sofiworker/udpreplay/gnet/flow"
	"github.com/sofiworker/udpreplay/gnet/replay"
	"github.com/sofiworker/udpreplay/gnet/stats"
	"github.com/sofiworker/udpreplay/gnet/transport"
)

// topSources 为采集结束时列出的来源个数
const topSources = 5

// 回放数据源格式
const (
	FormatPcap = "pcap"
	FormatCSV  = "csv"
)

// SendConfig 描述一次回放
type SendConfig struct {
	transport.Config `json:",squash"`

	Dataset string `json:"dataset"`
	// Format 为 pcap 或 csv，空时按扩展名判断
	Format string `json:"format"`
	// Interval 为 CSV 相邻两行的发送间隔，0 使用 dataset.DefaultCSVInterval
	Interval time.Duration `json:"interval"`
	// Rate 为目标码率，如 "10M"，空表示按记录的时间间隔发送
	Rate   string        `json:"rate"`
	Timing string        `json:"timing"`
	Skip   time.Duration `json:"skip"`
	Raw    bool          `json:"raw"`
}

func (c SendConfig) format() string {
	if c.Format != "" {
		return strings.ToLower(c.Format)
	}
	return detectFormat(c.Dataset)
}

func detectFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatPcap
}

// Validate 检查回放配置，失败返回 ConfigError
func (c SendConfig) Validate() error {
	const op = "session.send"
	if c.Dataset == "" {
		return gerr.Config(op, "dataset path is required")
	}
	if c.Skip < 0 {
		return gerr.Config(op, "skip %s must not be negative", c.Skip)
	}
	switch c.format() {
	case FormatPcap:
	case FormatCSV:
		if c.Raw {
			return gerr.Config(op, "raw frames do not apply to csv input")
		}
		if c.Interval < 0 {
			return gerr.Config(op, "interval %s must not be negative", c.Interval)
		}
	default:
		return gerr.Config(op, "unknown dataset format %q", c.Format)
	}
	if _, err := c.rate(); err != nil {
		return err
	}
	if _, err := replay.ParseWaiter(c.Timing, replay.SystemClock{}); err != nil {
		return gerr.Config(op, "%v", err)
	}
	return c.Config.Validate()
}

func (c SendConfig) rate() (float64, error) {
	if c.Rate == "" {
		return 0, nil
	}
	r, err := stats.ParseRate(c.Rate)
	if err != nil {
		return 0, gerr.Config("session.send", "%v", err)
	}
	return r, nil
}

// ReceiveConfig 描述一次采集
type ReceiveConfig struct {
	transport.Config `json:",squash"`

	Output     string `json:"output"`
	Name       string `json:"name"`
	MaxPackets uint64 `json:"max_packets"`
	// Rotate 为每个文件的记录数，0 使用默认值
	Rotate int `json:"rotate"`
}

// Validate 检查采集配置，失败返回 ConfigError
func (c ReceiveConfig) Validate() error {
	const op = "session.receive"
	if c.Output == "" {
		return gerr.Config(op, "output directory is required")
	}
	if c.Name == "" {
		return gerr.Config(op, "dataset name is required")
	}
	if c.Rotate < 0 {
		return gerr.Config(op, "rotate %d must not be negative", c.Rotate)
	}
	return c.Config.Validate()
}

// Session 持有一次会话共享的日志、指标注册和汇报间隔
type Session struct {
	id             string
	logger         glog.GLogger
	registerer     prometheus.Registerer
	reportInterval time.Duration
	clock          replay.Clock
}

type Option func(*Session)

func WithLogger(l glog.GLogger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithRegisterer 注册会话计数器的 Prometheus Collector
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Session) {
		s.registerer = r
	}
}

func WithReportInterval(d time.Duration) Option {
	return func(s *Session) {
		s.reportInterval = d
	}
}

// WithID 指定会话 ID，默认随机生成 UUID
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// New 创建会话
func New(opts ...Option) *Session {
	s := &Session{
		logger:         glog.Default(),
		reportInterval: stats.DefaultReportInterval,
		clock:          replay.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s
}

// ID 返回会话 ID
func (s *Session) ID() string {
	return s.id
}

// Send 打开数据集和发送端绑定并回放，直到数据集读完或 ctx 结束。
func (s *Session) Send(ctx context.Context, cfg SendConfig) (stats.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return stats.Snapshot{}, err
	}
	logger := s.logger.With("session", s.id, "direction", "send")

	reader, err := openSource(cfg, logger)
	if err != nil {
		return stats.Snapshot{}, err
	}
	defer reader.Close()

	info := reader.Info()
	logger.Info("dataset opened",
		"path", info.Path,
		"files", info.FileCount,
		"packets", info.PacketCount,
		"size", stats.FormatBytes(uint64(info.TotalSize)),
		"span", info.Span().String(),
	)
	if cfg.Skip > 0 {
		if err := reader.Seek(info.Start.Add(cfg.Skip)); err != nil {
			return stats.Snapshot{}, err
		}
	}

	binding, err := transport.Open(ctx, cfg.Config, transport.RoleSender, transport.WithLogger(logger))
	if err != nil {
		return stats.Snapshot{}, err
	}
	defer binding.Close()

	rate, _ := cfg.rate()
	waiter, _ := replay.ParseWaiter(cfg.Timing, s.clock)
	counters := stats.NewCounters(s.clock.Now())
	opts := []replay.Option{
		replay.WithLogger(logger),
		replay.WithClock(s.clock),
		replay.WithWaiter(waiter),
		replay.WithCounters(counters),
	}
	if rate > 0 {
		opts = append(opts, replay.WithRate(rate))
	}
	sched, err := replay.New(reader, binding, opts...)
	if err != nil {
		return stats.Snapshot{}, err
	}

	unregister := s.register(counters, "send", logger)
	defer unregister()
	stop := stats.NewReporter(counters, s.reportInterval, logger).Start(ctx)

	logger.Info("replay started", "remote", cfg.UDPAddr().String(), "mode", cfg.Mode.String(), "rate", stats.FormatRate(rate))
	snap, err := sched.Run(ctx)
	stop()
	if skipped := reader.Skipped(); skipped > 0 {
		logger.Info("non-UDP frames skipped", "frames", skipped)
	}
	stats.Summary(logger, "replay", snap)
	if gerr.IsFatal(err) {
		logger.Error("replay aborted", "error", err)
	}
	return snap, err
}

// Receive 打开接收端绑定和数据集并采集，直到达到包数上限或 ctx 结束。
func (s *Session) Receive(ctx context.Context, cfg ReceiveConfig) (stats.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return stats.Snapshot{}, err
	}
	logger := s.logger.With("session", s.id, "direction", "receive")

	binding, err := transport.Open(ctx, cfg.Config, transport.RoleReceiver, transport.WithLogger(logger))
	if err != nil {
		return stats.Snapshot{}, err
	}
	defer binding.Close()

	wOpts := []dataset.WriterOption{dataset.WithWriterLogger(logger)}
	if cfg.Rotate > 0 {
		wOpts = append(wOpts, dataset.WithMaxPacketsPerFile(cfg.Rotate))
	}
	writer, err := dataset.Create(cfg.Output, cfg.Name, wOpts...)
	if err != nil {
		return stats.Snapshot{}, err
	}

	counters := stats.NewCounters(s.clock.Now())
	tracker := flow.NewTracker()
	acc := capture.New(binding, writer,
		capture.WithMaxPackets(cfg.MaxPackets),
		capture.WithClock(s.clock),
		capture.WithLogger(logger),
		capture.WithCounters(counters),
		capture.WithTracker(tracker),
	)

	unregister := s.register(counters, "receive", logger)
	defer unregister()
	stop := stats.NewReporter(counters, s.reportInterval, logger).Start(ctx)

	logger.Info("capture started", "local", binding.LocalAddr().String(), "mode", cfg.Mode.String(), "dataset", writer.Dir())
	snap, err := acc.Run(ctx)
	stop()
	for _, src := range tracker.Top(topSources) {
		logger.Info("source", "addr", src.Source, "packets", src.Packets, "bytes", stats.FormatBytes(src.Bytes))
	}
	if n := tracker.Len(); n > topSources {
		logger.Info("more sources not shown", "count", n-topSources)
	}
	stats.Summary(logger, "capture", snap)
	if gerr.IsFatal(err) {
		logger.Error("capture aborted", "error", err)
	}
	return snap, err
}

func (s *Session) register(c *stats.Counters, direction string, logger glog.GLogger) func() {
	if s.registerer == nil {
		return func() {}
	}
	col := stats.NewCollector(c, s.id, direction)
	if err := s.registerer.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			logger.Warn("register metrics failed", "error", err)
		}
		return func() {}
	}
	return func() { s.registerer.Unregister(col) }
}

// source 是回放可用的数据源，由 pcap 数据集或 CSV 表格提供
type source interface {
	replay.Source
	Info() dataset.Info
	Seek(t time.Time) error
	Skipped() uint64
	Close() error
}

func openSource(cfg SendConfig, logger glog.GLogger) (source, error) {
	if cfg.format() == FormatCSV {
		interval := cfg.Interval
		if interval == 0 {
			interval = dataset.DefaultCSVInterval
		}
		r, err := dataset.OpenCSV(cfg.Dataset, interval)
		if err != nil {
			return nil, err
		}
		logger.Info("csv table loaded", "columns", len(r.Columns()), "interval", interval.String())
		return r, nil
	}

	opts := []dataset.Option{dataset.WithLogger(logger)}
	if cfg.Raw {
		opts = append(opts, dataset.WithRawFrames())
	}
	r, err := dataset.Open(cfg.Dataset, opts...)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Inspect 打开数据集或 CSV 表格并返回其元数据
func Inspect(path string, raw bool) (dataset.Info, error) {
	if detectFormat(path) == FormatCSV {
		r, err := dataset.OpenCSV(path, dataset.DefaultCSVInterval)
		if err != nil {
			return dataset.Info{}, err
		}
		return r.Info(), nil
	}
	var opts []dataset.Option
	if raw {
		opts = append(opts, dataset.WithRawFrames())
	}
	r, err := dataset.Open(path, opts...)
	if err != nil {
		return dataset.Info{}, err
	}
	defer r.Close()
	return r.Info(), nil
}
