// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// TableConf describes one EDB predicate binding: the predicate name,
// the backend type that serves it, and backend-specific parameters such
// as a storage path or a DSN plus table and column names.
type TableConf struct {
	PredName string   `toml:"predname"`
	Type     string   `toml:"type"`
	Params   []string `toml:"params"`
}

// Param returns the i-th parameter or the empty string.
func (c TableConf) Param(i int) string {
	if i >= len(c.Params) {
		return ""
	}
	return c.Params[i]
}

// EDBConf is the parsed EDB configuration: an ordered list of table
// descriptors.
type EDBConf struct {
	Tables []TableConf `toml:"table"`
}

// OpenEDBConf reads and parses a TOML EDB configuration file.
func OpenEDBConf(path string) (*EDBConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading EDB config %q", path)
	}
	conf, err := ParseEDBConf(data)
	return conf, errors.Wrapf(err, "parsing EDB config %q", path)
}

// ParseEDBConf parses a TOML EDB configuration document.
func ParseEDBConf(data []byte) (*EDBConf, error) {
	conf := &EDBConf{}
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrap(err, "unmarshaling TOML")
	}
	seen := make(map[string]bool, len(conf.Tables))
	for i, t := range conf.Tables {
		if t.PredName == "" {
			return nil, errors.Errorf("table %d has no predname", i)
		}
		if t.Type == "" {
			return nil, errors.Errorf("table %q has no type", t.PredName)
		}
		if seen[t.PredName] {
			return nil, errors.Errorf("duplicate table for predicate %q", t.PredName)
		}
		seen[t.PredName] = true
	}
	return conf, nil
}
