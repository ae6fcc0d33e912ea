package loader_test

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bpscope/loader"
)

var _ = Describe("Inspect", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	Context("with a static ARM64 binary", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(tempDir, "t.c.out")
			writeELF64(path, elf.EM_AARCH64, 0x400080, elf.PT_LOAD)
		})

		It("should report its headers", func() {
			bin, err := loader.Inspect(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(bin.Class).To(Equal(elf.ELFCLASS64))
			Expect(bin.Machine).To(Equal(elf.EM_AARCH64))
			Expect(bin.Entry).To(Equal(uint64(0x400080)))
			Expect(bin.LoadSegments).To(Equal(1))
			Expect(bin.Static).To(BeTrue())
		})

		It("should be accepted for the arm ISA in any case", func() {
			bin, err := loader.Inspect(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(bin.CheckISA("ARM")).To(Succeed())
			Expect(bin.CheckISA("arm")).To(Succeed())
		})

		It("should be rejected for another ISA", func() {
			bin, err := loader.Inspect(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(bin.CheckISA("x86")).To(MatchError(loader.ErrWrongMachine))
		})
	})

	Context("with a dynamically linked binary", func() {
		It("should not be static", func() {
			path := filepath.Join(tempDir, "dyn.out")
			writeELF64(path, elf.EM_X86_64, 0x1000, elf.PT_LOAD, elf.PT_INTERP)

			bin, err := loader.Inspect(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(bin.Static).To(BeFalse())
			Expect(bin.CheckISA("x86")).To(MatchError(loader.ErrNotStatic))
		})
	})

	Context("with an invalid file", func() {
		It("should return error for non-existent file", func() {
			_, err := loader.Inspect("/nonexistent/path/to/file.elf")
			Expect(err).To(MatchError(ContainSubstring("failed to open")))
		})

		It("should return error for a non-ELF file", func() {
			path := filepath.Join(tempDir, "script.out")
			Expect(os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

			_, err := loader.Inspect(path)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("MachinesForISA", func() {
	It("should map gem5 ISA names", func() {
		Expect(loader.MachinesForISA("riscv")).To(ConsistOf(elf.EM_RISCV))
		Expect(loader.MachinesForISA("X86")).To(ContainElement(elf.EM_X86_64))
	})

	It("should reject an unknown ISA", func() {
		_, err := loader.MachinesForISA("vax")
		Expect(err).To(MatchError(loader.ErrUnknownISA))
	})
})

// writeELF64 writes a little-endian ELF64 executable header followed by one
// empty program header per given type.
func writeELF64(path string, machine elf.Machine, entry uint64, progTypes ...elf.ProgType) {
	const ehsize, phentsize = 64, 56

	hdr := make([]byte, ehsize)
	copy(hdr[0:4], elf.ELFMAG)
	hdr[4] = byte(elf.ELFCLASS64)
	hdr[5] = byte(elf.ELFDATA2LSB)
	hdr[6] = byte(elf.EV_CURRENT)
	binary.LittleEndian.PutUint16(hdr[16:18], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(hdr[18:20], uint16(machine))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(hdr[24:32], entry)
	binary.LittleEndian.PutUint64(hdr[32:40], ehsize)
	binary.LittleEndian.PutUint16(hdr[52:54], ehsize)
	binary.LittleEndian.PutUint16(hdr[54:56], phentsize)
	binary.LittleEndian.PutUint16(hdr[56:58], uint16(len(progTypes)))

	out := hdr
	for _, t := range progTypes {
		ph := make([]byte, phentsize)
		binary.LittleEndian.PutUint32(ph[0:4], uint32(t))
		binary.LittleEndian.PutUint32(ph[4:8], uint32(elf.PF_R))
		binary.LittleEndian.PutUint64(ph[48:56], 0x1000)
		out = append(out, ph...)
	}

	Expect(os.WriteFile(path, out, 0o755)).To(Succeed())
}
