package replay

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Clock 提供当前时间，测试中可替换
type Clock interface {
	Now() time.Time
}

// SystemClock 使用 time.Now
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Waiter 挂起调用方直到 deadline 或 ctx 结束。ctx 结束时返回 ctx.Err()。
type Waiter interface {
	WaitUntil(ctx context.Context, deadline time.Time) error
}

// DefaultSpinThreshold 为 HybridWaiter 切换到忙等的默认提前量
const DefaultSpinThreshold = time.Millisecond

func clockOf(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}

// SleepWaiter 用定时器等待，精度受系统调度影响
type SleepWaiter struct {
	Clock Clock
}

func (w SleepWaiter) WaitUntil(ctx context.Context, deadline time.Time) error {
	d := deadline.Sub(clockOf(w.Clock).Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SpinWaiter 忙等到 deadline，精度高但占满一个核
type SpinWaiter struct {
	Clock Clock
}

func (w SpinWaiter) WaitUntil(ctx context.Context, deadline time.Time) error {
	clock := clockOf(w.Clock)
	for i := 0; clock.Now().Before(deadline); i++ {
		if i&0xff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
	}
	return ctx.Err()
}

// HybridWaiter 先睡到 deadline 前 Threshold，再忙等剩余部分
type HybridWaiter struct {
	Clock     Clock
	Threshold time.Duration
}

func (w HybridWaiter) WaitUntil(ctx context.Context, deadline time.Time) error {
	threshold := w.Threshold
	if threshold <= 0 {
		threshold = DefaultSpinThreshold
	}
	clock := clockOf(w.Clock)
	if deadline.Sub(clock.Now()) > threshold {
		if err := (SleepWaiter{Clock: clock}).WaitUntil(ctx, deadline.Add(-threshold)); err != nil {
			return err
		}
	}
	return SpinWaiter{Clock: clock}.WaitUntil(ctx, deadline)
}

// ParseWaiter 按名称(hybrid/sleep/spin)返回等待策略
func ParseWaiter(name string, clock Clock) (Waiter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hybrid":
		return HybridWaiter{Clock: clock, Threshold: DefaultSpinThreshold}, nil
	case "sleep":
		return SleepWaiter{Clock: clock}, nil
	case "spin":
		return SpinWaiter{Clock: clock}, nil
	default:
		return nil, fmt.Errorf("unknown timing strategy %q", name)
	}
}
