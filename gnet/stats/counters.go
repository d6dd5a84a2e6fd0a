// Package stats 统计单个会话的包数、字节数和错误数，并负责进度汇报。
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Counters 由核心循环单线程写入，汇报器和 Prometheus 可并发读取。
// 所有计数只增不减。
type Counters struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
	start   time.Time
}

// NewCounters 以 start 作为会话开始时间
func NewCounters(start time.Time) *Counters {
	return &Counters{start: start}
}

// Add 记录一个成功处理的数据报
func (c *Counters) Add(n int) {
	c.packets.Add(1)
	c.bytes.Add(uint64(n))
}

// AddError 记录一次可恢复的单包失败
func (c *Counters) AddError() {
	c.errors.Add(1)
}

func (c *Counters) Packets() uint64 { return c.packets.Load() }
func (c *Counters) Bytes() uint64   { return c.bytes.Load() }
func (c *Counters) Errors() uint64  { return c.errors.Load() }

// Start 返回会话开始时间
func (c *Counters) Start() time.Time { return c.start }

// Snapshot 返回 now 时刻的一致视图
func (c *Counters) Snapshot(now time.Time) Snapshot {
	elapsed := now.Sub(c.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return Snapshot{
		Packets: c.packets.Load(),
		Bytes:   c.bytes.Load(),
		Errors:  c.errors.Load(),
		Elapsed: elapsed,
	}
}

// Snapshot 是会话统计的只读副本
type Snapshot struct {
	Packets uint64
	Bytes   uint64
	Errors  uint64
	Elapsed time.Duration
}

// BitRate 返回平均比特率 (bit/s)
func (s Snapshot) BitRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / s.Elapsed.Seconds()
}

// PacketRate 返回平均包速率 (pkt/s)
func (s Snapshot) PacketRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Packets) / s.Elapsed.Seconds()
}

// AvgSize 返回平均负载大小
func (s Snapshot) AvgSize() float64 {
	if s.Packets == 0 {
		return 0
	}
	return float64(s.Bytes) / float64(s.Packets)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%d packets, %s, %d errors in %s (%s, %.1f pkt/s)",
		s.Packets, FormatBytes(s.Bytes), s.Errors, s.Elapsed.Round(time.Millisecond),
		FormatRate(s.BitRate()), s.PacketRate())
}
