// Package counters defines the branch-prediction counter records produced by
// the collectors and consumed by the correction engine.
package counters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Canonical counter names shared by every backend.
const (
	Lookups       = "branchPred.lookups"
	CondIncorrect = "branchPred.condIncorrect"
	BTBUpdates    = "branchPred.BTBUpdates"
	SimTicks      = "simTicks"
	Instructions  = "instructions"

	// IsFullKey is the JSON key carrying the completion flag.
	IsFullKey = "isFull"
)

// Names lists the canonical counters in output order.
var Names = []string{Lookups, CondIncorrect, BTBUpdates, SimTicks, Instructions}

// Missing is the value recorded for a counter the harness did not report.
const Missing int64 = -1

// Set is an ordered mapping from counter name to value, plus the completion
// flag of the run it was measured in.
//
// A Set with IsFull false comes from a run interrupted at its deadline. Its
// values are lower bounds, not absent data.
type Set struct {
	names  []string
	values map[string]int64

	// IsFull is true when the run finished before its deadline.
	IsFull bool
}

// NewSet creates an empty Set.
func NewSet(isFull bool) Set {
	return Set{values: make(map[string]int64), IsFull: isFull}
}

// Put stores a value. A new name is appended to the key order; an existing
// name keeps its position.
func (s *Set) Put(name string, value int64) {
	if s.values == nil {
		s.values = make(map[string]int64)
	}
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = value
}

// Get returns the value of a counter and whether it is present.
func (s Set) Get(name string) (int64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Value returns the value of a counter, or Missing when absent.
func (s Set) Value(name string) int64 {
	if v, ok := s.values[name]; ok {
		return v
	}
	return Missing
}

// Names returns the counter names in insertion order.
func (s Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of counters.
func (s Set) Len() int {
	return len(s.names)
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	c := NewSet(s.IsFull)
	for _, n := range s.names {
		c.Put(n, s.values[n])
	}
	return c
}

// Sub subtracts base component-wise. Counters absent from base are left as
// they are. The result keeps the receiver's IsFull.
func (s Set) Sub(base Set) Set {
	out := s.Clone()
	for _, n := range out.names {
		if b, ok := base.values[n]; ok {
			out.values[n] -= b
		}
	}
	return out
}

// ClampMin returns a copy with every counter raised to at least floor.
func (s Set) ClampMin(floor int64) Set {
	out := s.Clone()
	for _, n := range out.names {
		if out.values[n] < floor {
			out.values[n] = floor
		}
	}
	return out
}

// MissRatio returns condIncorrect/lookups. A zero lookup count is treated as
// one so the ratio stays finite.
func (s Set) MissRatio() float64 {
	lookups := s.Value(Lookups)
	if lookups == 0 {
		lookups = 1
	}
	return float64(s.Value(CondIncorrect)) / float64(lookups)
}

// MarshalJSON writes the counters in insertion order followed by isFull.
func (s Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range s.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", s.values[n])
	}
	if len(s.names) > 0 {
		buf.WriteByte(',')
	}
	fmt.Fprintf(&buf, "%q:%t}", IsFullKey, s.IsFull)
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object written by MarshalJSON, keeping key order.
func (s *Set) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("counter set must be a JSON object")
	}

	*s = NewSet(false)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		val, err := dec.Token()
		if err != nil {
			return err
		}

		switch v := val.(type) {
		case bool:
			if key != IsFullKey {
				return fmt.Errorf("unexpected boolean counter %q", key)
			}
			s.IsFull = v
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return fmt.Errorf("counter %q: %w", key, err)
			}
			s.Put(key, n)
		default:
			return fmt.Errorf("counter %q has unsupported value %v", key, val)
		}
	}

	_, err = dec.Token()
	return err
}

// String renders the set like its JSON form.
func (s Set) String() string {
	b, _ := s.MarshalJSON()
	return string(b)
}

// RawSample is the unparsed result of one execution attempt.
type RawSample struct {
	// Stdout holds the measurement output of the binary.
	Stdout []byte
	// Stderr holds whatever the binary wrote to its error stream.
	Stderr []byte
	// ExitCode is the process exit status, 0 for interrupted runs.
	ExitCode int
	// IsFull is false when the run was interrupted at its deadline.
	IsFull bool
}

// Samples maps a test name to every parsed sample collected for it.
type Samples map[string][]Set

// Add appends a sample for a test.
func (s Samples) Add(test string, set Set) {
	s[test] = append(s[test], set)
}

// Ensure registers a test even if no sample for it is ever added, so that a
// test whose every launch was unusable is still visible downstream.
func (s Samples) Ensure(test string) {
	if _, ok := s[test]; !ok {
		s[test] = nil
	}
}

// TestName derives a test identifier from a source or binary path: the base
// name up to its first dot.
func TestName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}
