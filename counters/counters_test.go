package counters_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bpscope/counters"
)

func makeSet(isFull bool, lookups, missed int64) counters.Set {
	s := counters.NewSet(isFull)
	s.Put(counters.Lookups, lookups)
	s.Put(counters.CondIncorrect, missed)
	return s
}

var _ = Describe("Set", func() {
	Describe("Put", func() {
		It("should keep insertion order", func() {
			s := counters.NewSet(true)
			s.Put("b", 2)
			s.Put("a", 1)
			s.Put("b", 3)

			Expect(s.Names()).To(Equal([]string{"b", "a"}))
			Expect(s.Value("b")).To(Equal(int64(3)))
		})

		It("should work on a zero value", func() {
			var s counters.Set
			s.Put("x", 7)
			Expect(s.Len()).To(Equal(1))
		})
	})

	Describe("Value", func() {
		It("should report Missing for absent counters", func() {
			s := counters.NewSet(true)
			Expect(s.Value(counters.SimTicks)).To(Equal(counters.Missing))
		})
	})

	Describe("Sub", func() {
		It("should subtract component-wise and keep the receiver's flag", func() {
			c := makeSet(false, 100, 10)
			b := makeSet(true, 30, 4)

			d := c.Sub(b)
			Expect(d.Value(counters.Lookups)).To(Equal(int64(70)))
			Expect(d.Value(counters.CondIncorrect)).To(Equal(int64(6)))
			Expect(d.IsFull).To(BeFalse())
		})

		It("should leave counters the base lacks untouched", func() {
			c := makeSet(true, 100, 10)
			c.Put(counters.SimTicks, 500)
			b := makeSet(true, 30, 4)

			Expect(c.Sub(b).Value(counters.SimTicks)).To(Equal(int64(500)))
		})

		It("should not modify its operands", func() {
			c := makeSet(true, 100, 10)
			b := makeSet(true, 30, 4)
			_ = c.Sub(b)
			Expect(c.Value(counters.Lookups)).To(Equal(int64(100)))
		})
	})

	Describe("ClampMin", func() {
		It("should raise negative counters to the floor", func() {
			s := makeSet(true, -5, 3)
			c := s.ClampMin(0)
			Expect(c.Value(counters.Lookups)).To(Equal(int64(0)))
			Expect(c.Value(counters.CondIncorrect)).To(Equal(int64(3)))
			Expect(s.Value(counters.Lookups)).To(Equal(int64(-5)))
		})
	})

	Describe("MissRatio", func() {
		It("should divide misses by lookups", func() {
			Expect(makeSet(true, 200, 50).MissRatio()).To(BeNumerically("~", 0.25))
		})

		It("should treat zero lookups as one", func() {
			Expect(makeSet(true, 0, 3).MissRatio()).To(BeNumerically("~", 3.0))
		})
	})

	Describe("JSON", func() {
		It("should write counters in order with isFull last", func() {
			s := makeSet(false, 12, 3)
			b, err := json.Marshal(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(Equal(
				`{"branchPred.lookups":12,"branchPred.condIncorrect":3,"isFull":false}`))
		})

		It("should write only isFull for an empty set", func() {
			b, err := json.Marshal(counters.NewSet(true))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(b)).To(Equal(`{"isFull":true}`))
		})

		It("should read back the key order and flag", func() {
			var s counters.Set
			err := json.Unmarshal([]byte(`{"simTicks":9,"instructions":4,"isFull":true}`), &s)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Names()).To(Equal([]string{counters.SimTicks, counters.Instructions}))
			Expect(s.IsFull).To(BeTrue())
		})

		It("should reject fractional counters", func() {
			var s counters.Set
			err := json.Unmarshal([]byte(`{"simTicks":1.5}`), &s)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("TestName", func() {
	It("should strip everything after the first dot", func() {
		Expect(counters.TestName("/tmp/bins/t.c.out")).To(Equal("t"))
		Expect(counters.TestName("empty.c")).To(Equal("empty"))
		Expect(counters.TestName("noext")).To(Equal("noext"))
	})
})

var _ = Describe("Samples", func() {
	It("should accumulate per test", func() {
		s := counters.Samples{}
		s.Add("t", makeSet(true, 1, 0))
		s.Add("t", makeSet(false, 2, 0))
		Expect(s["t"]).To(HaveLen(2))
	})
})
