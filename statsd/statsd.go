// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package statsd forwards engine measurements to a StatsD agent through
// the DataDog client, whose protocol extension carries tags. The usual
// agent address is "127.0.0.1:8125".
package statsd

import (
	"io"
	"sort"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	horn "github.com/featurebasedb/horn"
	"github.com/featurebasedb/horn/logger"
)

// Every metric name leaves the process under the engine namespace.
const prefix = "horn."

// bufferLen bounds how many events the client packs into one datagram.
const bufferLen = 1024

var _ horn.StatsClient = (*statsClient)(nil)

// statsClient ships engine counters, derivation rates and consolidation
// timings to a StatsD agent. Send failures are logged and swallowed;
// stats are advisory and never fail an evaluation.
type statsClient struct {
	client *statsd.Client
	tags   []string
	log    logger.Logger
}

// NewStatsClient returns a buffered client talking to the agent at host.
func NewStatsClient(host string) (*statsClient, error) {
	c, err := statsd.NewBuffered(host, bufferLen)
	if err != nil {
		return nil, err
	}
	return &statsClient{client: c, log: logger.NopLogger}, nil
}

// report logs a failed send under the operation name. The measurement
// is lost but the caller continues.
func (c *statsClient) report(op string, err error) {
	if err != nil {
		c.log.Errorf("statsd %s: %s", op, err)
	}
}

// Open is a no-op; the UDP socket exists from construction.
func (c *statsClient) Open() {}

// Close flushes buffered events and releases the socket.
func (c *statsClient) Close() error {
	return c.client.Close()
}

// Tags returns the sorted tag set attached to every measurement.
func (c *statsClient) Tags() []string {
	return c.tags
}

// WithTags returns a clone whose tag set is the sorted union of the
// receiver's tags and the given ones. The underlying connection is
// shared.
func (c *statsClient) WithTags(tags ...string) horn.StatsClient {
	return &statsClient{
		client: c.client,
		tags:   mergeTags(c.tags, tags),
		log:    c.log,
	}
}

// Count adds value to a monotonic counter.
func (c *statsClient) Count(name string, value int64, rate float64) {
	c.report("count", c.client.Count(prefix+name, value, c.tags, rate))
}

// CountWithCustomTags adds to a counter with event-scoped tags on top
// of the client's own.
func (c *statsClient) CountWithCustomTags(name string, value int64, rate float64, tags []string) {
	all := append(append([]string(nil), c.tags...), tags...)
	c.report("count", c.client.Count(prefix+name, value, all, rate))
}

// Gauge records the current value of a level metric.
func (c *statsClient) Gauge(name string, value float64, rate float64) {
	c.report("gauge", c.client.Gauge(prefix+name, value, c.tags, rate))
}

// Histogram records one observation of a distribution.
func (c *statsClient) Histogram(name string, value float64, rate float64) {
	c.report("histogram", c.client.Histogram(prefix+name, value, c.tags, rate))
}

// Set records one member of a distinct-value metric.
func (c *statsClient) Set(name string, value string, rate float64) {
	c.report("set", c.client.Set(prefix+name, value, c.tags, rate))
}

// Timing records the duration of one operation.
func (c *statsClient) Timing(name string, value time.Duration, rate float64) {
	c.report("timing", c.client.Timing(prefix+name, value, c.tags, rate))
}

// SetLogger routes send failures to w.
func (c *statsClient) SetLogger(w io.Writer) {
	c.log = logger.NewStandardLogger(w)
}

// mergeTags returns the sorted union of two tag sets.
func mergeTags(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		seen[t] = struct{}{}
	}
	for _, t := range b {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
