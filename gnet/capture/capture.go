// Package capture 把收到的 UDP 数据报逐条写入数据集。
package capture

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sofiworker/udpreplay/gerr"
	"github.com/sofiworker/udpreplay/glog"
	"github.com/sofiworker/udpreplay/gnet/dataset"
	"github.com/sofiworker/udpreplay/gnet/flow"
	"github.com/sofiworker/udpreplay/gnet/stats"
)

// BufferSize 为接收缓冲区大小，容纳任意 UDP 负载
const BufferSize = 64 * 1024

// ErrClosed 表示 Accumulator 已经运行结束，不能再次使用
var ErrClosed = errors.New("capture: accumulator closed")

// State 是采集会话的生命周期状态
type State int32

const (
	StateIdle State = iota
	StateListening
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Receiver 是接收端绑定的最小接口
type Receiver interface {
	Receive(p []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
}

// Sink 持久化记录，Finalize 只会被调用一次
type Sink interface {
	Append(rec dataset.Record) error
	Finalize() error
}

// Clock 提供接收时间戳
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Accumulator 从 Receiver 读取数据报并写入 Sink，直到 ctx 结束或达到包数上限。
type Accumulator struct {
	src      Receiver
	sink     Sink
	max      uint64
	clock    Clock
	logger   glog.GLogger
	counters *stats.Counters
	tracker  *flow.Tracker

	state        atomic.Int32
	finalizeOnce sync.Once
	finalizeErr  error
}

// Option 配置 Accumulator
type Option func(*Accumulator)

// WithMaxPackets 在持久化第 n 条记录后停止，0 表示不限
func WithMaxPackets(n uint64) Option {
	return func(a *Accumulator) {
		a.max = n
	}
}

func WithClock(c Clock) Option {
	return func(a *Accumulator) {
		a.clock = c
	}
}

func WithLogger(l glog.GLogger) Option {
	return func(a *Accumulator) {
		a.logger = l
	}
}

// WithCounters 使用外部创建的计数器
func WithCounters(c *stats.Counters) Option {
	return func(a *Accumulator) {
		a.counters = c
	}
}

// WithTracker 按来源地址统计持久化的数据报
func WithTracker(t *flow.Tracker) Option {
	return func(a *Accumulator) {
		a.tracker = t
	}
}

// New 创建处于 Idle 状态的 Accumulator
func New(src Receiver, sink Sink, opts ...Option) *Accumulator {
	a := &Accumulator{
		src:    src,
		sink:   sink,
		clock:  systemClock{},
		logger: glog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State 返回当前状态，可并发调用
func (a *Accumulator) State() State {
	return State(a.state.Load())
}

// Counters 返回本次会话使用的计数器，Run 之前为 nil(除非通过 WithCounters 指定)
func (a *Accumulator) Counters() *stats.Counters {
	return a.counters
}

// Run 接收直到 ctx 结束或达到上限，然后 Finalize Sink。
// 取消不算错误；Finalize 失败返回 DatasetError。
func (a *Accumulator) Run(ctx context.Context) (stats.Snapshot, error) {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		return stats.Snapshot{}, ErrClosed
	}
	if a.counters == nil {
		a.counters = stats.NewCounters(a.clock.Now())
	}
	c := a.counters

	// 取消时把读超时设为现在，唤醒阻塞中的 Receive
	stop := context.AfterFunc(ctx, func() {
		_ = a.src.SetReadDeadline(time.Now())
	})
	defer stop()

	a.receiveLoop(ctx, c)

	a.state.Store(int32(StateDraining))
	err := a.finalize()
	a.state.Store(int32(StateClosed))

	snap := c.Snapshot(a.clock.Now())
	return snap, err
}

func (a *Accumulator) receiveLoop(ctx context.Context, c *stats.Counters) {
	buf := make([]byte, BufferSize)
	for {
		if ctx.Err() != nil {
			a.logger.Info("capture interrupted", "packets", c.Packets())
			return
		}

		n, from, err := a.src.Receive(buf)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Info("capture interrupted", "packets", c.Packets())
				return
			}
			if errors.Is(err, net.ErrClosed) {
				a.logger.Warn("receiver closed, stopping capture", "error", err)
				return
			}
			c.AddError()
			a.logger.Debug("receive failed", "error", err)
			continue
		}

		rec := dataset.Record{
			Timestamp: a.clock.Now().UTC(),
			Data:      append(make([]byte, 0, n), buf[:n]...),
		}
		if err := a.sink.Append(rec); err != nil {
			c.AddError()
			a.logger.Debug("persist failed", "error", err, "from", addrString(from))
			continue
		}
		c.Add(n)
		if a.tracker != nil {
			a.tracker.Observe(from, n, rec.Timestamp)
		}

		if a.max > 0 && c.Packets() >= a.max {
			a.logger.Info("packet limit reached", "limit", a.max)
			return
		}
	}
}

func (a *Accumulator) finalize() error {
	a.finalizeOnce.Do(func() {
		if err := a.sink.Finalize(); err != nil {
			a.finalizeErr = gerr.Wrap(gerr.KindDataset, "capture.finalize", err)
		}
	})
	return a.finalizeErr
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
