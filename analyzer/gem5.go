package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Gem5BuildFlags returns the compiler flags linking tests against the m5
// library of a gem5 tree.
func Gem5BuildFlags(home, isa string) []string {
	isa = strings.ToLower(isa)
	return []string{
		"-I" + filepath.Join(home, "include"),
		"-I" + filepath.Join(home, "util", "m5", "src"),
		"-fPIE",
		fmt.Sprintf("-Wl,-L%s", filepath.Join(home, "util", "m5", "build", isa, "out")),
		"-Wl,-lm5",
		"--static",
	}
}
