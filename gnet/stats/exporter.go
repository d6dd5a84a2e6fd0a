package stats

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/sofiworker/udpreplay/glog"
)

// MetricsPath 为指标的 HTTP 路径
const MetricsPath = "/metrics"

// Exporter 通过 fasthttp 提供 /metrics
type Exporter struct {
	addr   string
	server *fasthttp.Server
	logger glog.GLogger

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

// NewExporter 创建导出器，reg 中的指标在 addr 上提供
func NewExporter(addr string, reg prometheus.Gatherer, logger glog.GLogger) *Exporter {
	if logger == nil {
		logger = glog.Default()
	}
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	e := &Exporter{addr: addr, logger: logger}
	e.server = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != MetricsPath {
				ctx.Error("not found", fasthttp.StatusNotFound)
				return
			}
			metrics(ctx)
		},
		Name:                  "udpreplay",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		NoDefaultServerHeader: true,
	}
	return e
}

// Start 监听地址并在后台提供服务
func (e *Exporter) Start() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ln = ln
	e.done = make(chan struct{})
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
			e.logger.Error("metrics server stopped", "error", err)
		}
	}()
	e.logger.Info("metrics server listening", "addr", ln.Addr().String(), "path", MetricsPath)
	return nil
}

// Addr 返回实际监听地址，未启动时为 nil
func (e *Exporter) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Shutdown 停止服务并等待后台协程退出
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	err := e.server.ShutdownWithContext(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}
