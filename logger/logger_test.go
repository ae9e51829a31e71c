// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/horn/logger"
)

// Ensure the standard logger filters messages below its verbosity.
func TestStandardLogger_Verbosity(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug output not suppressed: %q", out)
	}
	if !strings.Contains(out, "INFO:  shown 2") || !strings.Contains(out, "ERROR: also shown") {
		t.Fatalf("unexpected output: %q", out)
	}

	buf.Reset()
	v := logger.NewVerboseLogger(&buf)
	v.Debugf("now visible")
	if !strings.Contains(buf.String(), "DEBUG: now visible") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

// Ensure prefixed clones carry the prefix on each line.
func TestStandardLogger_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewStandardLogger(&buf).WithPrefix("edb: ")
	l.Infof("opened")
	if !strings.Contains(buf.String(), "edb: ") {
		t.Fatalf("missing prefix: %q", buf.String())
	}
}

// Ensure the buffer logger retains messages for review.
func TestBufferLogger(t *testing.T) {
	b := logger.NewBufferLogger()
	b.Printf("round %d", 3)
	out, err := b.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "round 3" {
		t.Fatalf("unexpected buffer: %q", out)
	}
}
