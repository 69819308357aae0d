package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_HandlerRendersAllKinds(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("test_total", "A counter", `kind="a"`).Add(3)
	c.Counter("test_total", "A counter", `kind="b"`).Inc()
	g := c.Gauge("test_in_flight", "A gauge", "")
	g.Inc()
	g.Inc()
	g.Dec()
	c.Histogram("test_latency_seconds", "A histogram", "", []float64{1, 0.5}).Observe(0.7)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`test_total{kind="a"} 3`,
		`test_total{kind="b"} 1`,
		"# TYPE test_total counter",
		"test_in_flight 1",
		`test_latency_seconds_bucket{le="0.5"} 0`,
		`test_latency_seconds_bucket{le="1"} 1`,
		"test_latency_seconds_count 1",
		"aichat_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected output to contain %q\n%s", want, body)
		}
	}
	if strings.Count(body, "# HELP test_total") != 1 {
		t.Errorf("expected HELP once per metric name\n%s", body)
	}
}

func TestCollector_SameKeyReturnsSameMetric(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	if b.Value() != 1 {
		t.Fatalf("expected shared counter, got %d", b.Value())
	}
}

func TestCollector_HistogramHasInfBucketAndLabels(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("req_seconds", "Latency", `route="chat"`, []float64{1, 2})
	h.Observe(0.5)
	h.Observe(5)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`req_seconds_bucket{route="chat",le="1"} 1`,
		`req_seconds_bucket{route="chat",le="2"} 1`,
		`req_seconds_bucket{route="chat",le="+Inf"} 2`,
		`req_seconds_count{route="chat"} 2`,
		`req_seconds_sum{route="chat"} 5.5`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected output to contain %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "{_bucket") {
		t.Errorf("bucket suffix must precede the label set\n%s", body)
	}
}

func TestCollector_FamiliesAreContiguous(t *testing.T) {
	c := NewMetricsCollector()
	for _, kind := range []string{"c", "a", "b"} {
		c.Counter("errs_total", "Errors", `class="`+kind+`"`).Inc()
		c.Counter("z_"+kind+"_total", "Other", "").Inc()
		c.Gauge("m_"+kind, "Gauge", "").Inc()
	}

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
		var names []string
		for _, line := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n") {
			if strings.HasPrefix(line, "#") {
				continue
			}
			name := line[:strings.IndexAny(line, "{ ")]
			if len(names) == 0 || names[len(names)-1] != name {
				names = append(names, name)
			}
		}
		seen := make(map[string]bool)
		for _, n := range names {
			if seen[n] {
				t.Fatalf("family %s is split: %v", n, names)
			}
			seen[n] = true
		}
		body := rec.Body.String()
		a := strings.Index(body, `errs_total{class="a"}`)
		b := strings.Index(body, `errs_total{class="b"}`)
		cc := strings.Index(body, `errs_total{class="c"}`)
		if !(a < b && b < cc) {
			t.Fatalf("expected samples sorted by labels\n%s", body)
		}
	}
}
