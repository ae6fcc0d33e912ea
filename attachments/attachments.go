// Package attachments ships the C sources that are compiled together with
// every test: the measurement harnesses, the perf event tables and the body of
// the baseline test.
package attachments

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed files
var files embed.FS

const root = "files"

// File names inside a materialized directory.
const (
	PerfTemplate = "perfTemplate.c"
	Gem5Template = "gemTemplate.c"
	EmptyTest    = "empty.c"
	eventsDir    = "perf_events"
)

// DefaultEvents is the perf event table used when none is configured.
const DefaultEvents = "no_exclude"

// Events lists the available perf event tables.
func Events() []string {
	entries, err := fs.ReadDir(files, root+"/"+eventsDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".c"))
	}
	sort.Strings(names)
	return names
}

// HasEvents reports whether an event table with that name exists.
func HasEvents(name string) bool {
	_, err := fs.Stat(files, root+"/"+eventsDir+"/"+name+".c")
	return err == nil
}

// Materialize writes every attachment below dir and returns dir as an
// absolute path.
func Materialize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve attachment dir: %w", err)
	}

	err = fs.WalkDir(files, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
		dest := filepath.Join(abs, filepath.FromSlash(rel))

		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		data, err := files.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0o644)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write attachments: %w", err)
	}

	return abs, nil
}

// PerfHeaders returns the headers prepended to each test for the perf and ssh
// backends: the event table followed by the harness.
func PerfHeaders(dir, events string) ([]string, error) {
	if events == "" {
		events = DefaultEvents
	}
	if !HasEvents(events) {
		return nil, fmt.Errorf("unknown perf event table %q (available: %s)",
			events, strings.Join(Events(), ", "))
	}

	return []string{
		filepath.Join(dir, eventsDir, events+".c"),
		filepath.Join(dir, PerfTemplate),
	}, nil
}

// Gem5Headers returns the headers prepended to each test for the gem5 backend.
func Gem5Headers(dir string) []string {
	return []string{filepath.Join(dir, Gem5Template)}
}

// EmptyTestPath returns the path of the baseline body.
func EmptyTestPath(dir string) string {
	return filepath.Join(dir, EmptyTest)
}
