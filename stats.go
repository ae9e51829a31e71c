// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"expvar"
	"io"
	"sync"
	"time"
)

// Expvar publishes engine counters under the "horn" key of the process
// expvar page.
var Expvar = expvar.NewMap("horn")

// Metric names emitted by the engine.
const (
	// MetricQueries counts EDB queries answered by the layer.
	MetricQueries = "queries"
	// MetricIterators counts cursors handed out by the layer.
	MetricIterators = "iterators"
	// MetricDerivedRows counts rows committed to fact tables by
	// finishing consolidations.
	MetricDerivedRows = "derivedRows"
	// MetricTmptFolds counts eager folds of a final sink's
	// possibly-duplicated slot.
	MetricTmptFolds = "tmptFolds"
	// MetricConsolidateTime accumulates time spent in finishing
	// consolidations.
	MetricConsolidateTime = "consolidateTime"
)

// StatsClient publishes engine measurements. Implementations decide
// what the rate and tag arguments mean; backends without a label
// dimension may drop tags entirely.
type StatsClient interface {
	// Count adds value to a monotonic counter.
	Count(name string, value int64, rate float64)

	// CountWithCustomTags adds to a counter with event-scoped tags on
	// top of the client's own.
	CountWithCustomTags(name string, value int64, rate float64, tags []string)

	// Gauge records the current value of a level metric.
	Gauge(name string, value float64, rate float64)

	// Histogram records one observation of a distribution.
	Histogram(name string, value float64, rate float64)

	// Set records one member of a distinct-value metric.
	Set(name string, value string, rate float64)

	// Timing records the duration of one operation.
	Timing(name string, value time.Duration, rate float64)

	// Tags returns the sorted tag set attached to every measurement.
	Tags() []string

	// WithTags returns a client carrying the union of the receiver's
	// tags and the given ones.
	WithTags(tags ...string) StatsClient

	// SetLogger routes the client's internal errors to w.
	SetLogger(w io.Writer)

	// Open readies the client, for backends that need a warm-up.
	Open()

	// Close flushes and releases the client.
	Close() error
}

// NopStatsClient drops every measurement. It is the default for each
// component that takes a StatsClient.
var NopStatsClient StatsClient = nopStatsClient{}

type nopStatsClient struct{}

func (nopStatsClient) Count(string, int64, float64)                        {}
func (nopStatsClient) CountWithCustomTags(string, int64, float64, []string) {}
func (nopStatsClient) Gauge(string, float64, float64)                      {}
func (nopStatsClient) Histogram(string, float64, float64)                  {}
func (nopStatsClient) Set(string, string, float64)                         {}
func (nopStatsClient) Timing(string, time.Duration, float64)               {}
func (nopStatsClient) Tags() []string                                      { return nil }
func (c nopStatsClient) WithTags(...string) StatsClient                    { return c }
func (nopStatsClient) SetLogger(io.Writer)                                 {}
func (nopStatsClient) Open()                                               {}
func (nopStatsClient) Close() error                                        { return nil }

// ExpvarStatsClient mirrors engine counters into the process expvar
// map, which is enough to watch a materialization from /debug/vars
// without an external stats agent. The map is a flat JSON object, so
// tag sets are accepted and discarded rather than fanned into labeled
// series.
type ExpvarStatsClient struct {
	mu sync.Mutex
	m  *expvar.Map
}

// NewExpvarStatsClient returns a client writing into the "horn" expvar
// map.
func NewExpvarStatsClient() *ExpvarStatsClient {
	return &ExpvarStatsClient{m: Expvar}
}

// Count adds value to the named counter.
func (c *ExpvarStatsClient) Count(name string, value int64, rate float64) {
	c.m.Add(name, value)
}

// CountWithCustomTags adds to the named counter; the tags have no
// expvar rendering.
func (c *ExpvarStatsClient) CountWithCustomTags(name string, value int64, rate float64, tags []string) {
	c.m.Add(name, value)
}

// Gauge records the most recent value observed for the metric.
func (c *ExpvarStatsClient) Gauge(name string, value float64, rate float64) {
	f := new(expvar.Float)
	f.Set(value)
	c.m.Set(name, f)
}

// Histogram records the most recent observation; a flat map cannot hold
// a distribution.
func (c *ExpvarStatsClient) Histogram(name string, value float64, rate float64) {
	c.Gauge(name, value, rate)
}

// Set records the most recent member of the distinct-value metric.
func (c *ExpvarStatsClient) Set(name string, value string, rate float64) {
	s := new(expvar.String)
	s.Set(value)
	c.m.Set(name, s)
}

// Timing accumulates the total time spent under the metric name. A
// time.Duration prints itself, which is all expvar asks of a value.
func (c *ExpvarStatsClient) Timing(name string, value time.Duration, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total, _ := c.m.Get(name).(time.Duration)
	c.m.Set(name, total+value)
}

// Tags reports no tags: the flat map carries none.
func (c *ExpvarStatsClient) Tags() []string { return nil }

// WithTags returns the client itself; without a label dimension there
// is nothing for the tags to select.
func (c *ExpvarStatsClient) WithTags(tags ...string) StatsClient { return c }

// SetLogger is a no-op; the client cannot fail.
func (c *ExpvarStatsClient) SetLogger(w io.Writer) {}

// Open is a no-op.
func (c *ExpvarStatsClient) Open() {}

// Close is a no-op.
func (c *ExpvarStatsClient) Close() error { return nil }

// MultiStatsClient fans every measurement out to each member, so a
// process can feed expvar and an external agent from the same engine
// call sites.
type MultiStatsClient []StatsClient

// Tags returns the first member's tags; members are expected to carry
// the same set.
func (m MultiStatsClient) Tags() []string {
	if len(m) == 0 {
		return nil
	}
	return m[0].Tags()
}

// WithTags returns a set of clones, each carrying the extra tags.
func (m MultiStatsClient) WithTags(tags ...string) StatsClient {
	out := make(MultiStatsClient, len(m))
	for i, c := range m {
		out[i] = c.WithTags(tags...)
	}
	return out
}

// Count adds to the counter on every member.
func (m MultiStatsClient) Count(name string, value int64, rate float64) {
	for _, c := range m {
		c.Count(name, value, rate)
	}
}

// CountWithCustomTags adds to the counter on every member.
func (m MultiStatsClient) CountWithCustomTags(name string, value int64, rate float64, tags []string) {
	for _, c := range m {
		c.CountWithCustomTags(name, value, rate, tags)
	}
}

// Gauge records the level on every member.
func (m MultiStatsClient) Gauge(name string, value float64, rate float64) {
	for _, c := range m {
		c.Gauge(name, value, rate)
	}
}

// Histogram records the observation on every member.
func (m MultiStatsClient) Histogram(name string, value float64, rate float64) {
	for _, c := range m {
		c.Histogram(name, value, rate)
	}
}

// Set records the member value on every member.
func (m MultiStatsClient) Set(name string, value string, rate float64) {
	for _, c := range m {
		c.Set(name, value, rate)
	}
}

// Timing records the duration on every member.
func (m MultiStatsClient) Timing(name string, value time.Duration, rate float64) {
	for _, c := range m {
		c.Timing(name, value, rate)
	}
}

// SetLogger routes internal errors of every member to w.
func (m MultiStatsClient) SetLogger(w io.Writer) {
	for _, c := range m {
		c.SetLogger(w)
	}
}

// Open readies every member.
func (m MultiStatsClient) Open() {
	for _, c := range m {
		c.Open()
	}
}

// Close closes every member and reports the first failure.
func (m MultiStatsClient) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
