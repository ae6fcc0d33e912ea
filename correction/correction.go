// Package correction reduces repeated measurements of each test to one
// representative sample and removes the harness overhead measured by the
// baseline test.
package correction

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/diag"
)

// BaselineName is the reserved name of the harness-only test.
const BaselineName = "empty"

// ErrNoBaseline is returned when the baseline test has no usable sample.
var ErrNoBaseline = errors.New("baseline test has no usable sample")

// Representative picks the sample at the midpoint of the samples ordered by
// miss ratio. When at least one sample ran to completion, the choice is made
// among the full samples only. The second result is false when samples is
// empty.
func Representative(samples []counters.Set) (counters.Set, bool) {
	rep, ok := median(samples)
	if !ok {
		return counters.Set{}, false
	}

	var full []counters.Set
	for _, s := range samples {
		if s.IsFull {
			full = append(full, s)
		}
	}
	if fullRep, ok := median(full); ok {
		rep = fullRep
	}

	return rep, true
}

func median(samples []counters.Set) (counters.Set, bool) {
	if len(samples) == 0 {
		return counters.Set{}, false
	}

	sorted := make([]counters.Set, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MissRatio() < sorted[j].MissRatio()
	})

	return sorted[len(sorted)/2], true
}

// Corrector applies the representative selection and baseline subtraction.
type Corrector struct {
	// Baseline names the harness-only test. Defaults to BaselineName.
	Baseline string
	// Floor is the minimum each baseline counter is raised to before it is
	// subtracted.
	Floor int64

	reporter *diag.Reporter
}

// NewCorrector creates a Corrector for the "empty" baseline with a floor of
// zero.
func NewCorrector(reporter *diag.Reporter) *Corrector {
	if reporter == nil {
		reporter = diag.Discard()
	}
	return &Corrector{
		Baseline: BaselineName,
		Floor:    0,
		reporter: reporter,
	}
}

// Correct returns one corrected Set per test. The baseline itself is not part
// of the result. Tests without any sample are reported and left out.
func (c *Corrector) Correct(samples counters.Samples) (map[string]counters.Set, error) {
	baselineName := c.Baseline
	if baselineName == "" {
		baselineName = BaselineName
	}

	reps := make(map[string]counters.Set, len(samples))
	for name, list := range samples {
		rep, ok := Representative(list)
		if !ok {
			c.reporter.Failuref("Error: can't get a representative result of '%s' test", name)
			continue
		}
		reps[name] = rep
	}

	baseline, ok := reps[baselineName]
	if !ok {
		c.reporter.Failuref("Baseline test '%s' has no usable sample; no test can be corrected", baselineName)
		return nil, fmt.Errorf("%w: %q", ErrNoBaseline, baselineName)
	}
	baseline = baseline.ClampMin(c.Floor)

	corrected := make(map[string]counters.Set, len(reps))
	for name, rep := range reps {
		if name == baselineName {
			continue
		}
		corrected[name] = rep.Sub(baseline)
	}

	return corrected, nil
}
