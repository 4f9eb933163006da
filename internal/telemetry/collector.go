// Package telemetry exposes live run counters as Prometheus metrics.
package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/histogram"
)

const namespace = "volley"

// Source is what the collector reads on every scrape.
type Source interface {
	Stats() engine.LiveStats
	Histogram() *histogram.Histogram
}

// Collector is a prometheus.Collector over a running engine. Values are
// read at scrape time, so nothing is recorded twice.
type Collector struct {
	src       Source
	quantiles []float64

	connects *prometheus.Desc
	open     *prometheus.Desc
	sent     *prometheus.Desc
	ok       *prometheus.Desc
	errors   *prometheus.Desc
	bytes    *prometheus.Desc
	dropped  *prometheus.Desc
	status   *prometheus.Desc
	latency  *prometheus.Desc
}

// NewCollector creates a collector for src exporting the given latency
// quantiles (0-1).
func NewCollector(src Source, quantiles []float64) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:       src,
		quantiles: quantiles,
		connects:  desc("connections_established_total", "Connections established."),
		open:      desc("connections_open", "Connections with an open socket."),
		sent:      desc("requests_sent_total", "Requests written to a socket."),
		ok:        desc("responses_total", "Complete responses received."),
		errors:    desc("errors_total", "Connect, send, receive and protocol errors."),
		bytes:     desc("received_bytes_total", "Response bytes received."),
		dropped:   desc("dropped_total", "Metered sends that could not go out."),
		status:    desc("responses_by_class_total", "Responses by status class.", "class"),
		latency:   desc("latency_seconds", "Response latency quantiles.", "quantile"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.connects, c.open, c.sent, c.ok, c.errors, c.bytes, c.dropped, c.status, c.latency} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.connects, s.Connects)
	counter(c.sent, s.Sent)
	counter(c.ok, s.OK)
	counter(c.errors, s.Errors)
	counter(c.bytes, s.Bytes)
	counter(c.dropped, s.Dropped)
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.Open))

	for class, n := range s.Status {
		if n == 0 {
			continue
		}
		label := "unknown"
		if class > 0 {
			label = fmt.Sprintf("%dxx", class)
		}
		counter(c.status, n, label)
	}

	h := c.src.Histogram()
	if h == nil || h.Count() == 0 {
		return
	}
	for _, q := range c.quantiles {
		v := float64(h.Quantile(q)) / 1e9
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, v, strconv.FormatFloat(q, 'f', -1, 64))
	}
}
