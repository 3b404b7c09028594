package jit

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"golang.org/x/sys/cpu"
)

// ISA describes the instruction set compiled code targets.
type ISA struct {
	Arch     ir.Architecture
	CallConv ir.CallConv
	Features []string
}

func (i ISA) String() string {
	if len(i.Features) == 0 {
		return fmt.Sprintf("%s/%s", i.Arch, i.CallConv)
	}
	return fmt.Sprintf("%s/%s [%s]", i.Arch, i.CallConv, strings.Join(i.Features, " "))
}

func hostCallConv() ir.CallConv {
	switch ir.HostArchitecture() {
	case ir.ArchitectureX86_64:
		return ir.CallConvSystemV
	case ir.ArchitectureARM64:
		return ir.CallConvAAPCS64
	default:
		return ir.CallConvInvalid
	}
}

// HostISA validates that generated code can run on this machine. Only
// Linux is supported; x86-64 requires SSE2 and arm64 requires ASIMD.
func HostISA() (ISA, error) {
	if runtime.GOOS != "linux" {
		return ISA{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedArchitecture, runtime.GOOS, runtime.GOARCH)
	}
	isa := ISA{Arch: ir.HostArchitecture(), CallConv: hostCallConv()}
	switch isa.Arch {
	case ir.ArchitectureX86_64:
		if !cpu.X86.HasSSE2 {
			return ISA{}, fmt.Errorf("%w: x86_64 without SSE2", ErrUnsupportedArchitecture)
		}
		isa.Features = append(isa.Features, "sse2")
		if cpu.X86.HasSSE41 {
			isa.Features = append(isa.Features, "sse4.1")
		}
		if cpu.X86.HasAVX2 {
			isa.Features = append(isa.Features, "avx2")
		}
	case ir.ArchitectureARM64:
		if !cpu.ARM64.HasASIMD {
			return ISA{}, fmt.Errorf("%w: arm64 without ASIMD", ErrUnsupportedArchitecture)
		}
		isa.Features = append(isa.Features, "asimd")
		if cpu.ARM64.HasFP {
			isa.Features = append(isa.Features, "fp")
		}
	default:
		return ISA{}, fmt.Errorf("%w: %s", ErrUnsupportedArchitecture, runtime.GOARCH)
	}
	return isa, nil
}
