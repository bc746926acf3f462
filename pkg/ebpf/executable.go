package ebpf

import (
	"fmt"

	"github.com/yalue/elf_reader"
)

// CompiledProgram is the narrow capability an Executable needs from the
// JIT: invoke the compiled artifact (Executable.Compiled reports whether
// one is attached). The
// concrete type lives in internal/jit so pkg/ebpf never imports
// architecture-specific code directly (§5 "Non-x86-64 targets fall back to
// interpreter only").
type CompiledProgram interface {
	Invoke(env *RuntimeEnvironment, registers [12]uint64) (uint64, error)
}

// Executable holds a verified-or-verifiable program plus everything the
// interpreter and JIT need to run it (§4.D).
type Executable struct {
	Program []byte
	VMBase  uint64

	Registry  *FunctionRegistry
	ROData    *MemoryRegion
	Externals ExternalFunctionTable
	Config    Config

	compiled CompiledProgram
	verified bool
}

// FromText builds an Executable from raw instruction bytes. It asserts the
// function registry contains an entry point, per §4.D.
func FromText(program []byte, registry *FunctionRegistry, externals ExternalFunctionTable, cfg Config) (*Executable, error) {
	if len(program) == 0 {
		return nil, &VMError{Kind: NoProgram}
	}
	if _, ok := registry.Lookup(EntryPointKey); !ok {
		return nil, &VMError{Kind: InvalidFunction, Key: EntryPointKey}
	}
	return &Executable{
		Program:   program,
		VMBase:    VMAddrProgram,
		Registry:  registry,
		Externals: externals,
		Config:    cfg,
	}, nil
}

// FromELF loads an Executable from an ELF image using the out-of-scope ELF
// loader collaborator (§1): it only needs to locate the named section
// holding eBPF bytecode and hand its bytes to FromText, matching the
// teacher's cmd/vm/main.go section-scan loop.
func FromELF(raw []byte, section string, registry *FunctionRegistry, externals ExternalFunctionTable, cfg Config) (*Executable, error) {
	elf, err := elf_reader.ParseELFFile(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ELF: %w", err)
	}
	for i := uint16(1); i < elf.GetSectionCount(); i++ {
		name, err := elf.GetSectionName(i)
		if err != nil {
			return nil, fmt.Errorf("reading section %d name: %w", i, err)
		}
		if name != section {
			continue
		}
		content, err := elf.GetSectionContent(i)
		if err != nil {
			return nil, fmt.Errorf("reading section %q content: %w", section, err)
		}
		return FromText(content, registry, externals, cfg)
	}
	return nil, fmt.Errorf("section %q not found in ELF image", section)
}

// Verify runs verifier against the program and marks the executable
// verified on success. Interpret and Compile both refuse to run an
// unverified executable (§4.E "Any verifier failure is fatal before
// execution begins").
func (e *Executable) Verify(v Verifier) error {
	if err := v.Verify(e.Program, e.Config, e.Registry, e.Externals); err != nil {
		return err
	}
	e.verified = true
	return nil
}

// Verified reports whether Verify has succeeded on this executable.
func (e *Executable) Verified() bool { return e.verified }

// SetCompiled attaches a compiled artifact produced by internal/jit.
func (e *Executable) SetCompiled(p CompiledProgram) { e.compiled = p }

// Compiled reports whether a compiled artifact is attached.
func (e *Executable) Compiled() bool { return e.compiled != nil }

// Invoke runs the compiled artifact, returning JitNotCompiled if none is
// attached (§7).
func (e *Executable) Invoke(env *RuntimeEnvironment, registers [12]uint64) (uint64, error) {
	if e.compiled == nil {
		return 0, &VMError{Kind: JitNotCompiled}
	}
	return e.compiled.Invoke(env, registers)
}

// EntryPC returns the program counter of the registered entry point.
func (e *Executable) EntryPC() int {
	entry, _ := e.Registry.Lookup(EntryPointKey)
	return entry.PC
}
