package counters_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bpscope/counters"
)

var _ = Describe("Parsing", func() {
	Describe("ParseKeyValues", func() {
		It("should trim names and values", func() {
			pairs := counters.ParseKeyValues([]byte("  branches :  42 \nnoise\nmissed_branches: 7\n"))
			Expect(pairs).To(HaveKeyWithValue("branches", "42"))
			Expect(pairs).To(HaveKeyWithValue("missed_branches", "7"))
			Expect(pairs).To(HaveLen(2))
		})

		It("should use the text between the first and second colon", func() {
			pairs := counters.ParseKeyValues([]byte("a: 1: 2\n"))
			Expect(pairs).To(HaveKeyWithValue("a", "1"))
		})
	})

	Describe("FromHarnessOutput", func() {
		It("should map harness names to canonical names", func() {
			out := "branches: 1000\nmissed_branches: 50\ncache_BPU: 20\ncpu_clock: 9000\ninstructions: 4000\n"
			set, err := counters.FromHarnessOutput(counters.RawSample{Stdout: []byte(out), IsFull: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(set.Names()).To(Equal(counters.Names))
			Expect(set.Value(counters.Lookups)).To(Equal(int64(1000)))
			Expect(set.Value(counters.CondIncorrect)).To(Equal(int64(50)))
			Expect(set.Value(counters.BTBUpdates)).To(Equal(int64(20)))
			Expect(set.Value(counters.SimTicks)).To(Equal(int64(9000)))
			Expect(set.Value(counters.Instructions)).To(Equal(int64(4000)))
			Expect(set.IsFull).To(BeTrue())
		})

		It("should record missing counters as Missing", func() {
			set, err := counters.FromHarnessOutput(counters.RawSample{Stdout: []byte("branches: 5\n")})
			Expect(err).NotTo(HaveOccurred())
			Expect(set.Value(counters.Instructions)).To(Equal(counters.Missing))
			Expect(set.IsFull).To(BeFalse())
		})

		It("should reject output with no known counters", func() {
			_, err := counters.FromHarnessOutput(counters.RawSample{Stdout: []byte("hello\n")})
			Expect(err).To(MatchError(counters.ErrNoCounters))
		})

		It("should reject non-integer values", func() {
			_, err := counters.FromHarnessOutput(counters.RawSample{Stdout: []byte("branches: many\n")})
			Expect(err).To(HaveOccurred())
		})
	})
})
