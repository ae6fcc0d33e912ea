// Package report prints corrected branch-prediction results.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sarchlab/bpscope/counters"
)

// Format selects how results are printed.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatText, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, csv or json)", name)
	}
}

// Row is the printable summary of one test.
type Row struct {
	Name            string  `json:"name"`
	Lookups         int64   `json:"lookups"`
	Mispredictions  int64   `json:"mispredictions"`
	BTBUpdates      int64   `json:"btb_updates"`
	SimTicks        int64   `json:"sim_ticks"`
	Instructions    int64   `json:"instructions"`
	MissRatePercent float64 `json:"miss_rate_percent"`
	IsFull          bool    `json:"is_full"`
}

// Rows summarizes results in test name order.
func Rows(results map[string]counters.Set) []Row {
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)

	rows := make([]Row, 0, len(names))
	for _, n := range names {
		s := results[n]
		rows = append(rows, Row{
			Name:            n,
			Lookups:         s.Value(counters.Lookups),
			Mispredictions:  s.Value(counters.CondIncorrect),
			BTBUpdates:      s.Value(counters.BTBUpdates),
			SimTicks:        s.Value(counters.SimTicks),
			Instructions:    s.Value(counters.Instructions),
			MissRatePercent: 100 * s.MissRatio(),
			IsFull:          s.IsFull,
		})
	}
	return rows
}

// Printer writes result summaries.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer. A nil writer means standard output.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out}
}

// Print dispatches on format.
func (p *Printer) Print(format Format, results map[string]counters.Set) error {
	switch format {
	case FormatCSV:
		p.PrintCSV(results)
	case FormatJSON:
		return p.PrintJSON(results)
	default:
		p.PrintResults(results)
	}
	return nil
}

// PrintResults outputs one block per test.
func (p *Printer) PrintResults(results map[string]counters.Set) {
	_, _ = fmt.Fprintln(p.out, "=== Branch Prediction Results ===")
	_, _ = fmt.Fprintln(p.out, "")

	for _, r := range Rows(results) {
		_, _ = fmt.Fprintf(p.out, "Test: %s\n", r.Name)
		if !r.IsFull {
			_, _ = fmt.Fprintln(p.out, "  (interrupted at deadline, counts are lower bounds)")
		}
		_, _ = fmt.Fprintf(p.out, "  Lookups:         %s\n", count(r.Lookups))
		_, _ = fmt.Fprintf(p.out, "  Mispredictions:  %s\n", count(r.Mispredictions))
		_, _ = fmt.Fprintf(p.out, "  Miss Rate:       %.2f%%\n", r.MissRatePercent)
		if r.BTBUpdates != counters.Missing {
			_, _ = fmt.Fprintf(p.out, "  BTB Updates:     %d\n", r.BTBUpdates)
		}
		if r.SimTicks != counters.Missing {
			_, _ = fmt.Fprintf(p.out, "  Ticks:           %d\n", r.SimTicks)
		}
		if r.Instructions != counters.Missing {
			_, _ = fmt.Fprintf(p.out, "  Instructions:    %d\n", r.Instructions)
		}
		_, _ = fmt.Fprintln(p.out, "")
	}
}

// PrintCSV outputs results in CSV format for easy comparison.
func (p *Printer) PrintCSV(results map[string]counters.Set) {
	_, _ = fmt.Fprintln(p.out,
		"name,lookups,mispredictions,btb_updates,sim_ticks,instructions,miss_rate_percent,is_full")

	for _, r := range Rows(results) {
		_, _ = fmt.Fprintf(p.out, "%s,%d,%d,%d,%d,%d,%.3f,%t\n",
			r.Name,
			r.Lookups,
			r.Mispredictions,
			r.BTBUpdates,
			r.SimTicks,
			r.Instructions,
			r.MissRatePercent,
			r.IsFull,
		)
	}
}

// PrintJSON outputs the rows as an indented JSON array.
func (p *Printer) PrintJSON(results map[string]counters.Set) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(Rows(results))
}

func count(v int64) string {
	if v == counters.Missing {
		return "n/a"
	}
	return fmt.Sprintf("%d", v)
}
