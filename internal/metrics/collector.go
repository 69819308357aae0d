// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for aichat. It outputs text/plain in Prometheus exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// family groups the samples sharing a metric name under one HELP/TYPE header.
type family struct {
	name    string
	help    string
	kind    string // counter | gauge | histogram
	samples []sample
}

type sample struct {
	labels string
	lines  []string
}

// joinLabels renders {a,b} from non-empty label sets, or "" when there are none.
func joinLabels(sets ...string) string {
	var parts []string
	for _, s := range sets {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatLe(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(le, 'g', -1, 64)
}

func (h *Histogram) lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.buckets)+3)
	hasInf := false
	for _, b := range h.buckets {
		if math.IsInf(b.le, 1) {
			hasInf = true
		}
		out = append(out, fmt.Sprintf("%s_bucket%s %d", h.name, joinLabels(h.labels, `le="`+formatLe(b.le)+`"`), b.count))
	}
	if !hasInf {
		out = append(out, fmt.Sprintf("%s_bucket%s %d", h.name, joinLabels(h.labels, `le="+Inf"`), h.count))
	}
	out = append(out,
		fmt.Sprintf("%s_sum%s %s", h.name, joinLabels(h.labels), strconv.FormatFloat(h.sum, 'g', -1, 64)),
		fmt.Sprintf("%s_count%s %d", h.name, joinLabels(h.labels), h.count),
	)
	return out
}

// families snapshots every metric, grouped by name and sorted by name then labels.
func (c *MetricsCollector) families() []*family {
	byName := make(map[string]*family)
	add := func(name, help, kind, labels string, lines ...string) {
		f, ok := byName[name]
		if !ok {
			f = &family{name: name, help: help, kind: kind}
			byName[name] = f
		}
		f.samples = append(f.samples, sample{labels: labels, lines: lines})
	}

	add("aichat_uptime_seconds", "Time since start in seconds", "gauge", "",
		fmt.Sprintf("aichat_uptime_seconds %d", int64(c.Uptime().Seconds())))
	c.counters.Range(func(_, value any) bool {
		ctr := value.(*Counter)
		add(ctr.name, ctr.help, "counter", ctr.labels,
			fmt.Sprintf("%s%s %d", ctr.name, joinLabels(ctr.labels), ctr.Value()))
		return true
	})
	c.gauges.Range(func(_, value any) bool {
		g := value.(*Gauge)
		add(g.name, g.help, "gauge", g.labels,
			fmt.Sprintf("%s%s %d", g.name, joinLabels(g.labels), g.Value()))
		return true
	})
	c.histograms.Range(func(_, value any) bool {
		h := value.(*Histogram)
		add(h.name, h.help, "histogram", h.labels, h.lines()...)
		return true
	})

	out := make([]*family, 0, len(byName))
	for _, f := range byName {
		sort.Slice(f.samples, func(i, j int) bool { return f.samples[i].labels < f.samples[j].labels })
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		for _, f := range c.families() {
			fmt.Fprintf(&sb, "# HELP %s %s\n", f.name, f.help)
			fmt.Fprintf(&sb, "# TYPE %s %s\n", f.name, f.kind)
			for _, s := range f.samples {
				for _, line := range s.lines {
					sb.WriteString(line)
					sb.WriteByte('\n')
				}
			}
		}
		fmt.Fprint(w, sb.String())
	}
}

// --- Pre-defined metrics used across the application ---

var (
	SendsStarted   = Collector.Counter("aichat_sends_started_total", "Messages dispatched to the backend", "")
	SendsRejected  = Collector.Counter("aichat_sends_rejected_total", "Drafts rejected by local validation", "")
	SendsDropped   = Collector.Counter("aichat_sends_dropped_total", "Send attempts dropped while a request was in flight", "")
	RepliesText    = Collector.Counter("aichat_replies_total", "Replies received by kind", `kind="text"`)
	RepliesStruct  = Collector.Counter("aichat_replies_total", "Replies received by kind", `kind="structured"`)
	HTTPErrors     = Collector.Counter("aichat_send_errors_total", "Failed sends by class", `class="http"`)
	TransportErrs  = Collector.Counter("aichat_send_errors_total", "Failed sends by class", `class="transport"`)
	MalformedErrs  = Collector.Counter("aichat_send_errors_total", "Failed sends by class", `class="malformed"`)
	InFlight       = Collector.Gauge("aichat_requests_in_flight", "Backend requests currently in flight", "")
	WebConnections = Collector.Gauge("aichat_web_connections", "Open web UI connections", "")

	SendLatency = Collector.Histogram("aichat_send_latency_seconds", "Backend round-trip latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120})

	DevRequests = Collector.Counter("aichat_devserver_requests_total", "Requests handled by the development backend", "")
	DevLimited  = Collector.Counter("aichat_devserver_rate_limited_total", "Requests rejected by the development backend rate limiter", "")
)
