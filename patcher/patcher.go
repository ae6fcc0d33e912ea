// Package patcher turns raw test sources into compilable programs by placing
// the backend's instrumentation headers in front of each test.
package patcher

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sarchlab/bpscope/correction"
	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
)

// TestPattern selects the test sources inside a test directory.
const TestPattern = "*.c"

// Patcher prepares a directory of compilable sources.
type Patcher interface {
	// Patch writes one patched source per test of testDir into destDir, plus
	// the baseline test.
	Patch(testDir, destDir string) error
}

// Template is a Patcher that emits `#include` lines: first every header,
// then the original test.
type Template struct {
	// Headers are included, in order, before the test.
	Headers []string
	// EmptyTest is the body of the baseline test.
	EmptyTest string
	// Reporter receives skipped tests. Nil discards them.
	Reporter *diag.Reporter
}

// NewTemplate creates a Template patcher.
func NewTemplate(emptyTest string, headers ...string) *Template {
	return &Template{Headers: headers, EmptyTest: emptyTest}
}

// WithReporter sets the Reporter and returns p.
func (p *Template) WithReporter(r *diag.Reporter) *Template {
	p.Reporter = r
	return p
}

// Patch patches every test of testDir and adds the baseline as empty.c.
// Entries that are not regular files are skipped. A test whose name is the
// baseline's would be overwritten by it, so it is reported and skipped.
func (p *Template) Patch(testDir, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create patch dir: %w", err)
	}

	tests, err := filepath.Glob(filepath.Join(testDir, TestPattern))
	if err != nil {
		return fmt.Errorf("failed to list tests: %w", err)
	}

	for _, test := range tests {
		if counters.TestName(test) == correction.BaselineName {
			p.reporter().Failuref("Test '%s' uses the reserved name '%s' and is skipped; rename it",
				test, correction.BaselineName)
			continue
		}
		if _, err := p.patchTest(test, filepath.Join(destDir, filepath.Base(test))); err != nil {
			return err
		}
	}

	baseline := filepath.Join(destDir, correction.BaselineName+".c")
	ok, err := p.patchTest(p.EmptyTest, baseline)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("baseline body %s is not a regular file", p.EmptyTest)
	}

	return nil
}

// patchTest writes one patched source. It returns false, without error, when
// src is not a regular file.
func (p *Template) patchTest(src, dest string) (bool, error) {
	info, err := os.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	abs, err := filepath.Abs(src)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", src, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, h := range p.Headers {
		hAbs, err := filepath.Abs(h)
		if err != nil {
			return false, fmt.Errorf("failed to resolve %s: %w", h, err)
		}
		_, _ = fmt.Fprintf(w, "#include \"%s\"\n", hAbs)
	}
	_, _ = fmt.Fprintf(w, "#include \"%s\"\n", abs)

	if err := w.Flush(); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return true, f.Close()
}

func (p *Template) reporter() *diag.Reporter {
	if p.Reporter == nil {
		return diag.Discard()
	}
	return p.Reporter
}
