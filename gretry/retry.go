package gretry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"
)

// Options 重试选项
type Options struct {
	// MaxRetries 最大重试次数，不含首次尝试
	MaxRetries int `json:"max_retries"`

	// RetryDelay 初始重试延迟
	RetryDelay time.Duration `json:"retry_delay"`

	// MaxRetryDelay 最大重试延迟
	MaxRetryDelay time.Duration `json:"max_retry_delay"`

	Strategy Strategy `json:"strategy"`

	// BackoffMultiplier 指数退避乘数
	BackoffMultiplier float64 `json:"backoff_multiplier"`

	Jitter Jitter `json:"jitter"`

	// ShouldRetry 返回 false 时立即放弃
	ShouldRetry func(error) bool `json:"-"`

	// OnRetry 在每次重试等待前调用
	OnRetry func(attempt int, delay time.Duration, err error) `json:"-"`
}

// Strategy 重试策略
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// Jitter 抖动类型
type Jitter string

const (
	JitterNone Jitter = "none"
	// JitterFull 在 [0, delay) 之间随机
	JitterFull Jitter = "full"
	// JitterEqual 在 [delay/2, delay) 之间随机
	JitterEqual Jitter = "equal"
)

// DefaultOptions 适用于本地 socket 操作的短重试
var DefaultOptions = Options{
	MaxRetries:        3,
	RetryDelay:        50 * time.Millisecond,
	MaxRetryDelay:     time.Second,
	Strategy:          StrategyExponential,
	BackoffMultiplier: 2.0,
	Jitter:            JitterEqual,
}

// Result 重试结果
type Result struct {
	// Attempts 实际执行 fn 的次数
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Success 报告操作是否最终成功
func (r *Result) Success() bool {
	return r.Err == nil
}

// Option 配置选项函数
type Option func(*Options)

func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(o *Options) {
		o.RetryDelay = delay
	}
}

func WithMaxRetryDelay(delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetryDelay = delay
	}
}

func WithStrategy(s Strategy) Option {
	return func(o *Options) {
		o.Strategy = s
	}
}

func WithJitter(j Jitter) Option {
	return func(o *Options) {
		o.Jitter = j
	}
}

func WithShouldRetry(fn func(error) bool) Option {
	return func(o *Options) {
		o.ShouldRetry = fn
	}
}

func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *Options) {
		o.OnRetry = fn
	}
}

// NewOptions 在默认选项上应用 opts
func NewOptions(opts ...Option) Options {
	options := DefaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// Do 执行 fn，失败时按 options 退避重试，直到成功、放弃或 ctx 结束。
func Do(ctx context.Context, fn func() error, options Options) *Result {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= options.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Result{Attempts: attempt, Elapsed: time.Since(start), Err: err}
		}

		err := fn()
		if err == nil {
			return &Result{Attempts: attempt + 1, Elapsed: time.Since(start)}
		}
		lastErr = err

		if attempt == options.MaxRetries || !shouldRetry(options, err) {
			return &Result{
				Attempts: attempt + 1,
				Elapsed:  time.Since(start),
				Err:      fmt.Errorf("operation failed after %d attempts: %w", attempt+1, lastErr),
			}
		}

		delay := calculateDelay(attempt, options)
		if options.OnRetry != nil {
			options.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &Result{Attempts: attempt + 1, Elapsed: time.Since(start), Err: ctx.Err()}
		case <-timer.C:
		}
	}

	// MaxRetries < 0
	return &Result{Elapsed: time.Since(start), Err: lastErr}
}

// DoWithDefault 使用默认配置执行带重试的操作
func DoWithDefault(ctx context.Context, fn func() error) *Result {
	return Do(ctx, fn, DefaultOptions)
}

func shouldRetry(options Options, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if options.ShouldRetry != nil {
		return options.ShouldRetry(err)
	}
	return true
}

func calculateDelay(attempt int, options Options) time.Duration {
	var delay time.Duration
	switch options.Strategy {
	case StrategyExponential:
		mult := options.BackoffMultiplier
		if mult <= 0 {
			mult = 2
		}
		delay = time.Duration(float64(options.RetryDelay) * math.Pow(mult, float64(attempt)))
	case StrategyLinear:
		delay = options.RetryDelay * time.Duration(attempt+1)
	default:
		delay = options.RetryDelay
	}

	if options.MaxRetryDelay > 0 && delay > options.MaxRetryDelay {
		delay = options.MaxRetryDelay
	}
	return applyJitter(delay, options.Jitter)
}

func applyJitter(delay time.Duration, j Jitter) time.Duration {
	if delay <= 0 {
		return delay
	}
	d := float64(delay)
	switch j {
	case JitterFull:
		return time.Duration(rand.Float64() * d)
	case JitterEqual:
		half := d / 2
		return time.Duration(half + rand.Float64()*half)
	default:
		return delay
	}
}
