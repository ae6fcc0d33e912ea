// Package loader inspects compiled test binaries before they are handed to
// a simulator: class, target machine and whether they are statically linked.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownISA is returned for an ISA name without a machine mapping.
	ErrUnknownISA = errors.New("unknown target ISA")
	// ErrWrongMachine is returned when a binary targets another machine.
	ErrWrongMachine = errors.New("binary targets a different machine")
	// ErrNotStatic is returned for a dynamically linked binary.
	ErrNotStatic = errors.New("binary is not statically linked")
)

// isaMachines maps a simulator ISA name to the ELF machines it executes.
var isaMachines = map[string][]elf.Machine{
	"arm":   {elf.EM_AARCH64, elf.EM_ARM},
	"x86":   {elf.EM_X86_64, elf.EM_386},
	"riscv": {elf.EM_RISCV},
	"mips":  {elf.EM_MIPS},
	"power": {elf.EM_PPC64, elf.EM_PPC},
	"sparc": {elf.EM_SPARCV9, elf.EM_SPARC},
}

// Binary describes an ELF executable.
type Binary struct {
	Path string
	// Class is ELFCLASS32 or ELFCLASS64.
	Class elf.Class
	// Machine is the target architecture.
	Machine elf.Machine
	// Entry is the virtual address execution starts at.
	Entry uint64
	// LoadSegments counts the PT_LOAD program headers.
	LoadSegments int
	// Static is true when the binary has neither an interpreter nor a
	// dynamic section.
	Static bool
}

// Inspect reads the headers of an ELF file.
func Inspect(path string) (*Binary, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	bin := &Binary{
		Path:    path,
		Class:   f.Class,
		Machine: f.Machine,
		Entry:   f.Entry,
		Static:  true,
	}

	for _, phdr := range f.Progs {
		switch phdr.Type {
		case elf.PT_LOAD:
			bin.LoadSegments++
		case elf.PT_INTERP, elf.PT_DYNAMIC:
			bin.Static = false
		}
	}

	return bin, nil
}

// MachinesForISA returns the ELF machines an ISA name (case-insensitive)
// accepts.
func MachinesForISA(isa string) ([]elf.Machine, error) {
	machines, ok := isaMachines[strings.ToLower(strings.TrimSpace(isa))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownISA, isa)
	}
	return machines, nil
}

// CheckISA verifies that the binary can run on a simulator for isa.
func (b *Binary) CheckISA(isa string) error {
	machines, err := MachinesForISA(isa)
	if err != nil {
		return err
	}

	matched := false
	for _, m := range machines {
		if b.Machine == m {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: %s is %v, want %s", ErrWrongMachine, b.Path, b.Machine, isa)
	}

	if !b.Static {
		return fmt.Errorf("%w: %s", ErrNotStatic, b.Path)
	}

	return nil
}
