// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package prometheus

import (
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	horn "github.com/featurebasedb/horn"
	"github.com/featurebasedb/horn/logger"
)

// namespace is prepended to each metric name.
const namespace = "horn"

// Ensure client implements interface.
var _ horn.StatsClient = &prometheusClient{}

// prometheusClient translates the engine's stats calls into metrics on
// a prometheus registry. Tags of the form "key:value" become labels.
type prometheusClient struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	tags       []string
	logger     logger.Logger
}

// NewPrometheusClient returns a client registering on the default
// registerer.
func NewPrometheusClient() *prometheusClient {
	return &prometheusClient{
		registerer: prometheus.DefaultRegisterer,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		logger:     logger.NopLogger,
	}
}

// NewPrometheusClientWithRegisterer returns a client registering its
// metrics on r.
func NewPrometheusClientWithRegisterer(r prometheus.Registerer) *prometheusClient {
	c := NewPrometheusClient()
	c.registerer = r
	return c
}

// Open no-op
func (c *prometheusClient) Open() {}

// Close no-op
func (c *prometheusClient) Close() error { return nil }

// Tags returns a sorted list of tags on the client.
func (c *prometheusClient) Tags() []string {
	return c.tags
}

// WithTags returns a new client with additional tags appended. The
// metric vectors are shared with the parent.
func (c *prometheusClient) WithTags(tags ...string) horn.StatsClient {
	merged := make([]string, 0, len(c.tags)+len(tags))
	merged = append(merged, c.tags...)
	merged = append(merged, tags...)
	sort.Strings(merged)
	return &prometheusClient{
		registerer: c.registerer,
		counters:   c.counters,
		gauges:     c.gauges,
		histograms: c.histograms,
		tags:       merged,
		logger:     c.logger,
	}
}

func splitTags(tags []string) (keys []string, values []string) {
	for _, tag := range tags {
		k, v, found := cutTag(tag)
		if !found {
			continue
		}
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}

func cutTag(tag string) (string, string, bool) {
	i := strings.IndexByte(tag, ':')
	if i < 0 {
		return "", "", false
	}
	return tag[:i], tag[i+1:], true
}

func sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// Count tracks the number of times something occurs per second.
func (c *prometheusClient) Count(name string, value int64, rate float64) {
	c.CountWithCustomTags(name, value, rate, nil)
}

// CountWithCustomTags tracks the number of times something occurs per second with custom tags.
func (c *prometheusClient) CountWithCustomTags(name string, value int64, rate float64, t []string) {
	tags := append(append([]string(nil), c.tags...), t...)
	keys, values := splitTags(tags)
	name = sanitize(name)

	c.mu.Lock()
	vec, ok := c.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			c.logger.Printf("prometheus.StatsClient.Count register error: %s", err)
			return
		}
		c.counters[name] = vec
	}
	c.mu.Unlock()

	m, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		c.logger.Printf("prometheus.StatsClient.Count error: %s", err)
		return
	}
	m.Add(float64(value))
}

// Gauge sets the value of a metric.
func (c *prometheusClient) Gauge(name string, value float64, rate float64) {
	keys, values := splitTags(c.tags)
	name = sanitize(name)

	c.mu.Lock()
	vec, ok := c.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			c.logger.Printf("prometheus.StatsClient.Gauge register error: %s", err)
			return
		}
		c.gauges[name] = vec
	}
	c.mu.Unlock()

	m, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		c.logger.Printf("prometheus.StatsClient.Gauge error: %s", err)
		return
	}
	m.Set(value)
}

// Histogram tracks statistical distribution of a metric.
func (c *prometheusClient) Histogram(name string, value float64, rate float64) {
	keys, values := splitTags(c.tags)
	name = sanitize(name)

	c.mu.Lock()
	vec, ok := c.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
		}, keys)
		if err := c.registerer.Register(vec); err != nil {
			c.mu.Unlock()
			c.logger.Printf("prometheus.StatsClient.Histogram register error: %s", err)
			return
		}
		c.histograms[name] = vec
	}
	c.mu.Unlock()

	m, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		c.logger.Printf("prometheus.StatsClient.Histogram error: %s", err)
		return
	}
	m.Observe(value)
}

// Set tracks number of unique elements. The element value becomes a
// label so cardinality is visible per value.
func (c *prometheusClient) Set(name string, value string, rate float64) {
	c.CountWithCustomTags(name, 1, rate, []string{"value:" + value})
}

// Timing tracks timing information for a metric as seconds.
func (c *prometheusClient) Timing(name string, value time.Duration, rate float64) {
	c.Histogram(name, value.Seconds(), rate)
}

// SetLogger sets the logger output for client errors.
func (c *prometheusClient) SetLogger(w io.Writer) {
	c.logger = logger.NewStandardLogger(w)
}
