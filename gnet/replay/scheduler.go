package replay

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/dataset"
	"github.com/sofiworker/udpreplay/gnet/stats"
	"github.com/sofiworker/udpreplay/gnet/transport"
)

const (
	DefaultReportEvery   = 1000
	DefaultLateThreshold = 100 * time.Millisecond
)

// Source 按顺序提供记录，结束时返回 io.EOF
type Source interface {
	Next() (dataset.Record, error)
}

// Sender 发送一个数据报
type Sender interface {
	Send(p []byte) (int, error)
}

// Scheduler 按记录的时间间隔(或目标比特率)把数据集发送出去。
type Scheduler struct {
	src Source
	dst Sender

	rate          float64
	waiter        Waiter
	clock         Clock
	logger        glog.GLogger
	counters      *stats.Counters
	reportEvery   uint64
	lateThreshold time.Duration
	maxPayload    int
}

// Option 配置 Scheduler
type Option func(*Scheduler) error

// WithRate 以 bps 为目标比特率重新排布发送时间，忽略记录时间戳
func WithRate(bps float64) Option {
	return func(s *Scheduler) error {
		if bps <= 0 {
			return gerr.Config("replay.rate", "target rate must be positive, got %v", bps)
		}
		s.rate = bps
		return nil
	}
}

func WithWaiter(w Waiter) Option {
	return func(s *Scheduler) error {
		s.waiter = w
		return nil
	}
}

// WithClock 替换时钟。未同时指定 Waiter 时，默认 Waiter 也使用该时钟。
func WithClock(c Clock) Option {
	return func(s *Scheduler) error {
		s.clock = c
		return nil
	}
}

func WithLogger(l glog.GLogger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithCounters 使用外部创建的计数器，便于汇报器和指标并发读取
func WithCounters(c *stats.Counters) Option {
	return func(s *Scheduler) error {
		s.counters = c
		return nil
	}
}

// WithReportEvery 设置每多少个包输出一次进度，0 表示不输出
func WithReportEvery(n uint64) Option {
	return func(s *Scheduler) error {
		s.reportEvery = n
		return nil
	}
}

func WithLateThreshold(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.lateThreshold = d
		return nil
	}
}

// New 创建调度器，选项非法时返回 ConfigError
func New(src Source, dst Sender, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		src:           src,
		dst:           dst,
		clock:         SystemClock{},
		logger:        glog.Default(),
		reportEvery:   DefaultReportEvery,
		lateThreshold: DefaultLateThreshold,
		maxPayload:    transport.MaxDatagramSize,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.waiter == nil {
		s.waiter = HybridWaiter{Clock: s.clock, Threshold: DefaultSpinThreshold}
	}
	return s, nil
}

// Run 发送直到数据集读完或 ctx 结束。取消不算错误；
// 数据集读取失败返回 DatasetError 以及此前的统计。
func (s *Scheduler) Run(ctx context.Context) (stats.Snapshot, error) {
	c := s.counters
	if c == nil {
		c = stats.NewCounters(s.clock.Now())
	}

	var (
		t0, s0    time.Time
		started   bool
		prev      time.Duration
		scheduled uint64
		lateWin   = ^uint64(0)

		reportAt    time.Time
		reportBytes uint64
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("replay interrupted", "packets", c.Packets())
			return c.Snapshot(s.clock.Now()), nil
		}

		rec, err := s.src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.Snapshot(s.clock.Now()), gerr.Wrap(gerr.KindDataset, "replay.next", err)
		}

		if !started {
			t0 = rec.Timestamp
			s0 = s.clock.Now()
			reportAt = s0
			started = true
		}

		if len(rec.Data) > s.maxPayload {
			c.AddError()
			s.logger.Debug("skipping oversized record", "size", len(rec.Data), "max", s.maxPayload)
			continue
		}

		var offset time.Duration
		if s.rate > 0 {
			offset = rateOffset(scheduled, s.rate)
		} else {
			offset = rec.Timestamp.Sub(t0)
		}
		if offset < prev {
			offset = prev
		}
		prev = offset

		deadline := s0.Add(offset)
		if err := s.waiter.WaitUntil(ctx, deadline); err != nil {
			s.logger.Info("replay interrupted", "packets", c.Packets())
			return c.Snapshot(s.clock.Now()), nil
		}

		now := s.clock.Now()
		if late := now.Sub(deadline); late > s.lateThreshold {
			win := c.Packets()
			if s.reportEvery > 0 {
				win /= s.reportEvery
			}
			if win != lateWin {
				lateWin = win
				s.logger.Warn("falling behind schedule", "late", late.String(), "packet", c.Packets()+c.Errors())
			}
		}

		scheduled += uint64(len(rec.Data))
		n, err := s.dst.Send(rec.Data)
		if err != nil {
			c.AddError()
			s.logger.Debug("send failed", "error", err)
			continue
		}
		c.Add(n)

		if s.reportEvery > 0 && c.Packets()%s.reportEvery == 0 {
			bytes := c.Bytes()
			var bps float64
			if win := now.Sub(reportAt); win > 0 {
				bps = float64(bytes-reportBytes) * 8 / win.Seconds()
			}
			reportAt, reportBytes = now, bytes
			s.logger.Info("replay progress",
				"packets", c.Packets(),
				"errors", c.Errors(),
				"rate", stats.FormatRate(bps),
			)
		}
	}

	return c.Snapshot(s.clock.Now()), nil
}

// rateOffset 返回以 rate(bit/s)发送完 scheduled 字节所需的时间，超出 time.Duration 范围时饱和
func rateOffset(scheduled uint64, rate float64) time.Duration {
	ns := float64(scheduled) * 8 * float64(time.Second) / rate
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
