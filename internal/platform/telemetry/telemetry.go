// Package telemetry records HTTP server metrics and terminology gauges and
// serves them in the Prometheus text exposition format.
package telemetry

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

	"github.com/labstack/echo/v4"
)

// Config holds the telemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        *bool // nil = enabled
	SkipPaths      []string
}

func (c *Config) on() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "medterm"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
}

// BoolPtr is a helper for Config.Enabled.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

// Count returns the number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// LabelsKey builds the key of a request histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

// ---------------------------------------------------------------------------
// Gauge functions
// ---------------------------------------------------------------------------

// Sample is one labeled gauge value reported at scrape time.
type Sample struct {
	Labels map[string]string
	Value  float64
}

// GaugeFunc is evaluated on every scrape.
type GaugeFunc func() []Sample

type gaugeFunc struct {
	name string
	help string
	fn   GaugeFunc
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// durationBuckets are in seconds.
var durationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// Provider owns every metric of the process.
type Provider struct {
	cfg Config

	mu       sync.RWMutex
	requests map[string]*histogram

	active int64

	gaugeMu sync.Mutex
	gauges  []gaugeFunc
}

// NewProvider creates a metrics provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:      cfg,
		requests: make(map[string]*histogram),
	}
}

// RegisterGauge adds a gauge evaluated on every scrape. name must be a valid
// Prometheus metric name.
func (p *Provider) RegisterGauge(name, help string, fn GaugeFunc) {
	p.gaugeMu.Lock()
	p.gauges = append(p.gauges, gaugeFunc{name: name, help: help, fn: fn})
	p.gaugeMu.Unlock()
}

// RequestHistogram returns the histogram for one label set, or nil.
func (p *Provider) RequestHistogram(method, route, statusCode string) *histogram {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.requests[LabelsKey(method, route, statusCode)]
}

// ActiveRequests returns the number of in-flight requests.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.active)
}

func (p *Provider) observe(key string, v float64) {
	p.mu.RLock()
	h, ok := p.requests[key]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if h, ok = p.requests[key]; !ok {
			h = newHistogram(durationBuckets)
			p.requests[key] = h
		}
		p.mu.Unlock()
	}
	h.Observe(v)
}

// Middleware records request duration by method, route pattern and status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.on() || p.skip(c.Request().URL.Path) {
				return next(c)
			}

			atomic.AddInt64(&p.active, 1)
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			atomic.AddInt64(&p.active, -1)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := strconv.Itoa(c.Response().Status)
			p.observe(LabelsKey(c.Request().Method, route, status), time.Since(start).Seconds())
			return nil
		}
	}
}

func (p *Provider) skip(path string) bool {
	for _, prefix := range p.cfg.SkipPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler serves the metrics in Prometheus text format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# HELP medterm_build_info Build information.\n")
		fmt.Fprintf(&b, "# TYPE medterm_build_info gauge\n")
		fmt.Fprintf(&b, "medterm_build_info{service=%q,version=%q} 1\n\n", p.cfg.ServiceName, p.cfg.ServiceVersion)

		p.writeRequests(&b)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

		p.gaugeMu.Lock()
		gauges := append([]gaugeFunc(nil), p.gauges...)
		p.gaugeMu.Unlock()
		for _, g := range gauges {
			writeGauge(&b, g)
		}

		return c.String(http.StatusOK, b.String())
	}
}

func (p *Provider) writeRequests(b *strings.Builder) {
	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	p.mu.RLock()
	keys := make([]string, 0, len(p.requests))
	for k := range p.requests {
		keys = append(keys, k)
	}
	hists := make(map[string]*histogram, len(keys))
	for _, k := range keys {
		hists[k] = p.requests[k]
	}
	p.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			continue
		}
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, name, labels, hists[key])
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func writeGauge(b *strings.Builder, g gaugeFunc) {
	fmt.Fprintf(b, "# HELP %s %s\n", g.name, g.help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", g.name)
	for _, s := range g.fn() {
		fmt.Fprintf(b, "%s%s %g\n", g.name, formatLabels(s.Labels), s.Value)
	}
	b.WriteByte('\n')
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
