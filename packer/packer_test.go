package packer_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bpscope/counters"
	"github.com/sarchlab/bpscope/packer"
)

var _ = Describe("Packer", func() {
	var (
		tempDir string
		results map[string]counters.Set
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "packer-test")
		Expect(err).NotTo(HaveOccurred())

		a := counters.NewSet(true)
		a.Put(counters.Lookups, 90)
		a.Put(counters.CondIncorrect, -2)
		b := counters.NewSet(false)
		b.Put(counters.Lookups, 7)
		results = map[string]counters.Set{"a": a, "b": b}
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	It("should write one JSON object per test", func() {
		out := filepath.Join(tempDir, "analyze")
		Expect(packer.Pack(out, results)).To(Succeed())

		data, err := os.ReadFile(filepath.Join(out, "a.data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"branchPred.lookups":90,"branchPred.condIncorrect":-2,"isFull":true}`))
		Expect(filepath.Join(out, "b.data")).To(BeAnExistingFile())
	})

	It("should read packed results back", func() {
		Expect(packer.Pack(tempDir, results)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0o644)).To(Succeed())

		loaded, err := packer.Load(tempDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(packer.Names(loaded)).To(Equal([]string{"a", "b"}))
		Expect(loaded["a"].Value(counters.CondIncorrect)).To(Equal(int64(-2)))
		Expect(loaded["b"].IsFull).To(BeFalse())
	})

	It("should fail on a corrupt result", func() {
		Expect(os.WriteFile(filepath.Join(tempDir, "x.data"), []byte("{"), 0o644)).To(Succeed())
		_, err := packer.Load(tempDir)
		Expect(err).To(MatchError(ContainSubstring("x.data")))
	})

	It("should recreate an output dir empty", func() {
		stale := filepath.Join(tempDir, "stale.data")
		Expect(os.WriteFile(stale, []byte("{}"), 0o644)).To(Succeed())

		Expect(packer.Recreate(tempDir)).To(Succeed())
		Expect(tempDir).To(BeADirectory())
		Expect(stale).NotTo(BeAnExistingFile())
	})
})
