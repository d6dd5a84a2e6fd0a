package stats

import (
	"context"
	"time"

	"github.com/sofiworker/udpreplay/glog"
)

// DefaultReportInterval 为周期汇报的默认间隔
const DefaultReportInterval = 5 * time.Second

// Reporter 周期性地读取 Counters 并输出瞬时速率。
type Reporter struct {
	counters *Counters
	interval time.Duration
	logger   glog.GLogger
	now      func() time.Time

	lastAt    time.Time
	lastBytes uint64
	lastPkts  uint64
}

// NewReporter 创建汇报器，interval <= 0 时使用默认间隔
func NewReporter(c *Counters, interval time.Duration, logger glog.GLogger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	if logger == nil {
		logger = glog.Default()
	}
	return &Reporter{
		counters: c,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		lastAt:   c.Start(),
	}
}

// Run 阻塞直到 ctx 结束
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Start 在后台运行 Run，返回的函数停止汇报并等待退出
func (r *Reporter) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Tick 输出自上次 Tick 以来的瞬时速率
func (r *Reporter) Tick() {
	now := r.now()
	pkts := r.counters.Packets()
	bytes := r.counters.Bytes()

	window := now.Sub(r.lastAt)
	var bps, pps float64
	if window > 0 {
		bps = float64(bytes-r.lastBytes) * 8 / window.Seconds()
		pps = float64(pkts-r.lastPkts) / window.Seconds()
	}
	r.lastAt, r.lastBytes, r.lastPkts = now, bytes, pkts

	r.logger.Info("progress",
		"packets", pkts,
		"bytes", FormatBytes(bytes),
		"errors", r.counters.Errors(),
		"rate", FormatRate(bps),
		"pps", int64(pps),
	)
}

// Summary 输出会话最终统计
func Summary(logger glog.GLogger, what string, s Snapshot) {
	logger.Info(what+" finished",
		"packets", s.Packets,
		"bytes", FormatBytes(s.Bytes),
		"errors", s.Errors,
		"elapsed", s.Elapsed.Round(time.Millisecond).String(),
		"avg_rate", FormatRate(s.BitRate()),
		"avg_size", int64(s.AvgSize()),
	)
}
