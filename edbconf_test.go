// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	horn "github.com/featurebasedb/horn"
)

const sampleConf = `
[[table]]
predname = "knows"
type = "kb"
params = ["/tmp/kb-knows"]

[[table]]
predname = "lives"
type = "mysql"
params = ["user:pass@/facts", "lives", "person", "city"]
`

// Ensure a TOML configuration parses into ordered table descriptors.
func TestParseEDBConf(t *testing.T) {
	conf, err := horn.ParseEDBConf([]byte(sampleConf))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(conf.Tables); got != 2 {
		t.Fatalf("unexpected table count: %d", got)
	}
	if got := conf.Tables[0]; got.PredName != "knows" || got.Type != "kb" {
		t.Fatalf("unexpected first table: %+v", got)
	}
	if got := conf.Tables[1].Params; !reflect.DeepEqual(got, []string{"user:pass@/facts", "lives", "person", "city"}) {
		t.Fatalf("unexpected params: %v", got)
	}
	if got := conf.Tables[1].Param(1); got != "lives" {
		t.Fatalf("unexpected param: %q", got)
	}
	if got := conf.Tables[1].Param(9); got != "" {
		t.Fatalf("out-of-range param should be empty, got %q", got)
	}
}

// Ensure validation rejects incomplete and duplicate descriptors.
func TestParseEDBConf_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing predname", "[[table]]\ntype = \"kb\"\n"},
		{"missing type", "[[table]]\npredname = \"p\"\n"},
		{"duplicate predname", "[[table]]\npredname = \"p\"\ntype = \"kb\"\n[[table]]\npredname = \"p\"\ntype = \"kb\"\n"},
		{"bad toml", "[[table\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := horn.ParseEDBConf([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// Ensure configurations load from disk.
func TestOpenEDBConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edb.toml")
	if err := os.WriteFile(path, []byte(sampleConf), 0o600); err != nil {
		t.Fatal(err)
	}
	conf, err := horn.OpenEDBConf(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(conf.Tables); got != 2 {
		t.Fatalf("unexpected table count: %d", got)
	}

	if _, err := horn.OpenEDBConf(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
