// Package packer stores corrected results as one JSON file per test and
// reads them back.
package packer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sarchlab/bpscope/counters"
)

// Ext is the extension of a packed result.
const Ext = ".data"

// Recreate removes dir if it exists and creates it empty.
func Recreate(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear output dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}

// Pack writes <test>.data for every result into outDir.
func Pack(outDir string, results map[string]counters.Set) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	for _, name := range Names(results) {
		data, err := json.Marshal(results[name])
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, name+Ext), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	return nil
}

// Load reads every <test>.data of dir.
func Load(dir string) (map[string]counters.Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read results dir: %w", err)
	}

	results := make(map[string]counters.Set)
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}

		var set counters.Set
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", e.Name(), err)
		}
		results[strings.TrimSuffix(e.Name(), Ext)] = set
	}

	return results, nil
}

// Names returns the test names of results in lexical order.
func Names(results map[string]counters.Set) []string {
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
