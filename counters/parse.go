package counters

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoCounters is returned when an output holds none of the known counters.
var ErrNoCounters = errors.New("output contains no known counters")

// harnessNames maps the names printed by the measurement harness to the
// canonical counter names.
var harnessNames = []struct {
	harness   string
	canonical string
}{
	{"branches", Lookups},
	{"missed_branches", CondIncorrect},
	{"cache_BPU", BTBUpdates},
	{"cpu_clock", SimTicks},
	{"instructions", Instructions},
}

// ParseKeyValues splits an output into `name: value` pairs. Lines without a
// colon are ignored. Later lines override earlier ones.
func ParseKeyValues(out []byte) map[string]string {
	pairs := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) < 2 {
			continue
		}
		pairs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	return pairs
}

// FromHarnessOutput parses the stdout of one harness run into a Set with the
// canonical counter names. Counters the harness did not print are recorded as
// Missing.
func FromHarnessOutput(raw RawSample) (Set, error) {
	pairs := ParseKeyValues(raw.Stdout)
	set := NewSet(raw.IsFull)

	found := 0
	for _, hn := range harnessNames {
		text, ok := pairs[hn.harness]
		if !ok {
			set.Put(hn.canonical, Missing)
			continue
		}

		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Set{}, fmt.Errorf("counter %q has non-integer value %q", hn.harness, text)
		}
		set.Put(hn.canonical, v)
		found++
	}

	if found == 0 {
		return Set{}, ErrNoCounters
	}

	return set, nil
}
