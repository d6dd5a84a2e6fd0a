package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "udpreplay"

// Collector 把会话的 Counters 暴露为 Prometheus 指标，采集时直接读取原子计数。
type Collector struct {
	counters *Counters

	packets *prometheus.Desc
	bytes   *prometheus.Desc
	errors  *prometheus.Desc
	started *prometheus.Desc
}

// NewCollector 以 session 和 direction(send/receive) 作为常量标签
func NewCollector(c *Counters, session, direction string) *Collector {
	constLabels := prometheus.Labels{"session": session, "direction": direction}
	return &Collector{
		counters: c,
		packets: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "packets_total"),
			"Datagrams handled by the session.", nil, constLabels),
		bytes: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "bytes_total"),
			"UDP payload bytes handled by the session.", nil, constLabels),
		errors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "errors_total"),
			"Recoverable per-packet failures.", nil, constLabels),
		started: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "start_time_seconds"),
			"Unix time the session started.", nil, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packets
	ch <- c.bytes
	ch <- c.errors
	ch <- c.started
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(c.counters.Packets()))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(c.counters.Bytes()))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(c.counters.Errors()))
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.GaugeValue, float64(c.counters.Start().UnixNano())/1e9)
}
