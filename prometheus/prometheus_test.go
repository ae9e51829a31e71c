// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package prometheus_test

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"

	"github.com/featurebasedb/horn/prometheus"
)

// Ensure stats calls register metrics under the engine namespace with
// tags mapped to labels.
func TestPrometheusClient_Methods(t *testing.T) {
	reg := prom.NewRegistry()
	c := prometheus.NewPrometheusClientWithRegisterer(reg).WithTags("node:0")

	c.Count("derivedRows", 3, 1.0)
	c.Gauge("activeRounds", 2, 1.0)
	c.Histogram("roundRows", 17, 1.0)
	c.Timing("consolidate.ns", 5*time.Millisecond, 1.0)
	c.Set("query.type", "qsq", 1.0)

	metricFams, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, metricName := range []string{
		"horn_derivedRows",
		"horn_activeRounds",
		"horn_roundRows",
		"horn_consolidate_ns",
		"horn_query_type",
	} {
		if metricExists(metricName, metricFams) {
			continue
		}
		t.Fatalf("metric does not exist: %s", metricName)
	}
}

// Ensure counters accumulate across calls on tagged clones.
func TestPrometheusClient_CountAccumulates(t *testing.T) {
	reg := prom.NewRegistry()
	c := prometheus.NewPrometheusClientWithRegisterer(reg).WithTags("node:1")

	c.Count("queries", 1, 1.0)
	c.Count("queries", 2, 1.0)

	metricFams, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range metricFams {
		if fam.GetName() != "horn_queries" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if got := m.GetCounter().GetValue(); got != 3 {
				t.Fatalf("unexpected counter value: %v", got)
			}
			return
		}
	}
	t.Fatal("metric does not exist: horn_queries")
}

func metricExists(metricName string, metricFams []*io_prometheus_client.MetricFamily) bool {
	for _, metricFam := range metricFams {
		if metricFam.GetName() == metricName {
			return true
		}
	}
	return false
}
