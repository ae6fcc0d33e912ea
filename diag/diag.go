// Package diag prints user-facing diagnostics: failed launches, capability
// problems, unusable tests. Output goes to the error stream with captured
// process output indented under the message.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Reporter writes prefixed diagnostic lines. It is safe for concurrent use.
type Reporter struct {
	mu  sync.Mutex
	out io.Writer

	failure *color.Color
	hint    *color.Color
	info    *color.Color

	onceKeys map[string]bool
}

// NewReporter creates a Reporter writing to out. A nil out means os.Stderr.
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{
		out:      out,
		failure:  color.New(color.FgRed),
		hint:     color.New(color.FgYellow),
		info:     color.New(color.FgGreen),
		onceKeys: make(map[string]bool),
	}
}

// Discard returns a Reporter that drops everything.
func Discard() *Reporter {
	return NewReporter(io.Discard)
}

// Failuref reports an error the analysis recovers from.
func (r *Reporter) Failuref(format string, args ...any) {
	r.line(r.failure, "[-]: ", format, args...)
}

// Hintf reports a likely cause or remediation.
func (r *Reporter) Hintf(format string, args ...any) {
	r.line(r.hint, "[?]: ", format, args...)
}

// Infof reports progress.
func (r *Reporter) Infof(format string, args ...any) {
	r.line(r.info, "[+]: ", format, args...)
}

// InfoOncef reports progress the first time key is seen.
func (r *Reporter) InfoOncef(key, format string, args ...any) {
	r.mu.Lock()
	seen := r.onceKeys[key]
	r.onceKeys[key] = true
	r.mu.Unlock()

	if !seen {
		r.Infof(format, args...)
	}
}

// Captured writes process output indented by one tab. Blank output is
// skipped.
func (r *Reporter) Captured(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, Indent(text))
}

// CommandFailuref reports a failed command with its captured stderr.
func (r *Reporter) CommandFailuref(stderr []byte, format string, args ...any) {
	r.Failuref(format, args...)
	r.Captured(string(stderr))
}

func (r *Reporter) line(c *color.Color, prefix, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = c.Fprint(r.out, prefix)
	_, _ = fmt.Fprintf(r.out, format+"\n", args...)
}

// Indent prefixes every line of text with a tab and drops one trailing
// newline.
func Indent(text string) string {
	text = strings.TrimSuffix(text, "\n")
	return "\t" + strings.ReplaceAll(text, "\n", "\n\t")
}
