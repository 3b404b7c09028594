package ir

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

// Architecture names an instruction set a backend can target.
type Architecture string

const (
	ArchitectureInvalid Architecture = ""
	ArchitectureX86_64  Architecture = "x86_64"
	ArchitectureARM64   Architecture = "arm64"
)

// HostArchitecture maps GOARCH onto an Architecture; unknown hosts map to
// ArchitectureInvalid.
func HostArchitecture() Architecture {
	switch runtime.GOARCH {
	case "amd64":
		return ArchitectureX86_64
	case "arm64":
		return ArchitectureARM64
	default:
		return ArchitectureInvalid
	}
}

// CallConv identifies the register calling convention used by compiled code.
type CallConv uint8

const (
	CallConvInvalid CallConv = iota
	CallConvSystemV
	CallConvAAPCS64
)

func (c CallConv) String() string {
	switch c {
	case CallConvSystemV:
		return "system_v"
	case CallConvAAPCS64:
		return "aapcs64"
	default:
		return "invalid"
	}
}

// CompileOptions carries the settings a backend honours.
type CompileOptions struct {
	// AlignLoops pads loop header blocks to a 16-byte boundary.
	AlignLoops bool
}

// Backend lowers a finished Function to machine code for one architecture.
// Calls to imported functions appear as symbol relocations in the result.
type Backend interface {
	Arch() Architecture
	CallConv() CallConv
	Compile(fn *Function, opts CompileOptions) (asm.Program, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[Architecture]Backend)
)

// RegisterBackend wires an architecture-specific backend into the shared
// lookup. It panics when the same architecture is registered twice so
// mistakes are caught during init.
func RegisterBackend(arch Architecture, backend Backend) {
	if arch == ArchitectureInvalid {
		panic("ir: cannot register backend for invalid architecture")
	}
	if backend == nil {
		panic("ir: backend must be non-nil")
	}

	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[arch]; exists {
		panic(fmt.Sprintf("ir: backend for %s already registered", arch))
	}
	backends[arch] = backend
}

func LookupBackend(arch Architecture) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	if backend, ok := backends[arch]; ok {
		return backend, nil
	}
	if arch == ArchitectureInvalid {
		return nil, fmt.Errorf("ir: architecture must be specified")
	}
	return nil, fmt.Errorf("ir: no backend registered for %q", arch)
}
