package arm64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

// Register identifiers exposed to callers. They mirror the amd64 package
// style so backends keep the same shape on both hosts.
const (
	X0 asm.Variable = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP
)

// XZR shares encoding 31 with SP; which one an instruction means depends
// on the instruction.
const XZR = SP

type operandSize uint8

const (
	size32 operandSize = 32
	size64 operandSize = 64
)

// Reg stores the logical register plus the width used by the instruction.
type Reg struct {
	id   asm.Variable
	size operandSize
}

func (r Reg) validate() error {
	if r.id < X0 || r.id > SP {
		return fmt.Errorf("arm64: invalid register %d", r.id)
	}
	switch r.size {
	case size32, size64:
		return nil
	default:
		return fmt.Errorf("arm64: unsupported register width %d", r.size)
	}
}

func (r Reg) sf() uint32 {
	if r.size == size64 {
		return 1 << 31
	}
	return 0
}

func Reg32(id asm.Variable) Reg { return Reg{id: id, size: size32} }
func Reg64(id asm.Variable) Reg { return Reg{id: id, size: size64} }

// VReg names a SIMD&FP register. The same register is used as s, d or q
// depending on the instruction.
type VReg uint8

const (
	V0 VReg = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
)

func (v VReg) validate() error {
	if v > V31 {
		return fmt.Errorf("arm64: invalid vector register %d", v)
	}
	return nil
}

// Memory represents [base + imm] addressing with an unsigned scaled offset.
type Memory struct {
	base    Reg
	hasBase bool
	disp    int32
}

func Mem(base Reg) Memory {
	return Memory{base: base, hasBase: true}
}

func (m Memory) WithDisp(disp int32) Memory {
	m.disp = disp
	return m
}

func (m Memory) validate() error {
	if !m.hasBase {
		return fmt.Errorf("arm64 asm: memory reference missing base register")
	}
	if m.base.size != size64 {
		return fmt.Errorf("arm64 asm: base register must be 64-bit")
	}
	return m.base.validate()
}

// Encodable reports whether disp fits the scaled unsigned 12-bit offset
// used by a load or store of width bytes.
func Encodable(disp int32, width int) bool {
	if disp < 0 || width <= 0 || disp%int32(width) != 0 {
		return false
	}
	return disp/int32(width) <= 0xFFF
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error {
	return f(ctx)
}
