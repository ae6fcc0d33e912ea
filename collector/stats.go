package collector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sarchlab/bpscope/counters"
)

const cpuPrefix = "system.cpu."

var columnSep = regexp.MustCompile(`\s{2,}`)

// ParseStats reads a gem5 stats file. It keeps the branch statistics (minus
// the ratios) with the CPU prefix stripped, plus simTicks and simInsts as
// instructions. When the file holds several dumps the first one wins, since
// it is the dump taken right after the measured region.
func ParseStats(r io.Reader, isFull bool) (counters.Set, error) {
	set := counters.NewSet(isFull)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		name, value, ok := statLine(line)
		if !ok {
			continue
		}
		if _, seen := set.Get(name); seen {
			continue
		}
		set.Put(name, value)
	}
	if err := scanner.Err(); err != nil {
		return counters.Set{}, fmt.Errorf("failed to read stats: %w", err)
	}

	if set.Len() == 0 {
		return counters.Set{}, counters.ErrNoCounters
	}
	return set, nil
}

func statLine(line string) (string, int64, bool) {
	cols := columnSep.Split(line, 3)
	if len(cols) < 2 {
		return "", 0, false
	}

	label := cols[0]
	switch {
	case label == "simTicks":
	case label == "simInsts":
		label = counters.Instructions
	case strings.Contains(label, "branch") && !strings.Contains(label, "Ratio"):
		label = strings.ReplaceAll(label, cpuPrefix, "")
	default:
		return "", 0, false
	}

	v, err := strconv.ParseInt(strings.TrimSpace(cols[1]), 10, 64)
	if err != nil {
		return "", 0, false
	}
	return label, v, true
}

// ParseStatsFile is ParseStats on a file.
func ParseStatsFile(path string, isFull bool) (counters.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return counters.Set{}, fmt.Errorf("failed to open stats file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseStats(f, isFull)
}
