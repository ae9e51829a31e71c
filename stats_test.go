// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn_test

import (
	"context"
	"strings"
	"testing"
	"time"

	horn "github.com/featurebasedb/horn"
)

// Ensure the expvar client accumulates engine counters. The expvar map
// is a process global, so all assertions run in one test function.
func TestExpvarStatsClient(t *testing.T) {
	c := horn.NewExpvarStatsClient()
	ms := make(horn.MultiStatsClient, 1)
	ms[0] = c

	e, err := horn.NewEDBLayer(&horn.EDBConf{}, horn.OptLayerStats(ms))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	pred := addRel2(t, e, 10, horn.TermPair{First: 1, Second: 2})
	l := horn.MustNewLiteral(pred, horn.VTuple{horn.NewVarTerm(1), horn.NewVarTerm(2)})
	if err := e.Query(context.Background(), horn.NewQSQQuery(l), nil, nil, horn.NewTupleTable(2)); err != nil {
		t.Fatal(err)
	}

	if got := horn.Expvar.Get(horn.MetricQueries); got == nil || got.String() == "0" {
		t.Fatalf("unexpected query counter: %v", got)
	}

	ms.Gauge("activeRounds", 2, 1)
	if got := horn.Expvar.Get("activeRounds"); got == nil || got.String() != "2" {
		t.Fatalf("unexpected gauge value: %v", got)
	}

	ms.Timing("roundTime", 2*time.Millisecond, 1)
	ms.Timing("roundTime", 3*time.Millisecond, 1)
	if got := horn.Expvar.Get("roundTime"); got == nil || !strings.Contains(got.String(), "5ms") {
		t.Fatalf("unexpected timing value: %v", got)
	}
}

// Ensure the expvar client accepts tags without rendering them; the
// flat map has no label dimension.
func TestExpvarStatsClient_WithTags(t *testing.T) {
	c := horn.NewExpvarStatsClient().WithTags("b:2", "a:1")
	c2 := c.WithTags("c:3", "a:1")

	if got := c2.Tags(); got != nil {
		t.Fatalf("expvar clients report no tags, got %v", got)
	}
	c2.Count("tagged", 1, 1)
}

// Ensure the nop client swallows every call.
func TestNopStatsClient(t *testing.T) {
	c := horn.NopStatsClient
	c.Count("x", 1, 1)
	c.Gauge("x", 1, 1)
	c.Histogram("x", 1, 1)
	c.Set("x", "v", 1)
	c.Timing("x", time.Second, 1)
	if got := c.WithTags("a:1"); got != c {
		t.Fatal("nop client should return itself")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
