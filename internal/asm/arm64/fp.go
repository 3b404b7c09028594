package arm64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

// FPSize selects the scalar floating-point precision.
type FPSize uint8

const (
	Single FPSize = iota
	Double
)

func (s FPSize) ftype() uint32 {
	if s == Double {
		return 1 << 22
	}
	return 0
}

func vregs(regs ...VReg) error {
	for _, r := range regs {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}

func threeVec(base uint32, dst, left, right VReg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := vregs(dst, left, right); err != nil {
			return 0, err
		}
		return base | uint32(right)<<16 | uint32(left)<<5 | uint32(dst), nil
	})
}

// Scalar arithmetic on s or d registers.
func FAdd(size FPSize, dst, left, right VReg) asm.Fragment {
	return threeVec(0x1E202800|size.ftype(), dst, left, right)
}

func FSub(size FPSize, dst, left, right VReg) asm.Fragment {
	return threeVec(0x1E203800|size.ftype(), dst, left, right)
}

func FMul(size FPSize, dst, left, right VReg) asm.Fragment {
	return threeVec(0x1E200800|size.ftype(), dst, left, right)
}

func FDiv(size FPSize, dst, left, right VReg) asm.Fragment {
	return threeVec(0x1E201800|size.ftype(), dst, left, right)
}

// FCmp compares two scalars. Unordered operands set C and V, so MI, LS, GT
// and GE are the conditions that stay false for NaN.
func FCmp(size FPSize, left, right VReg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := vregs(left, right); err != nil {
			return 0, err
		}
		return 0x1E202000 | size.ftype() | uint32(right)<<16 | uint32(left)<<5, nil
	})
}

// Two-lane double and 64-bit integer vector operations.
func FAdd2D(dst, left, right VReg) asm.Fragment  { return threeVec(0x4E60D400, dst, left, right) }
func FSub2D(dst, left, right VReg) asm.Fragment  { return threeVec(0x4EE0D400, dst, left, right) }
func FMul2D(dst, left, right VReg) asm.Fragment  { return threeVec(0x6E60DC00, dst, left, right) }
func FDiv2D(dst, left, right VReg) asm.Fragment  { return threeVec(0x6E60FC00, dst, left, right) }
func FCmEq2D(dst, left, right VReg) asm.Fragment { return threeVec(0x4E60E400, dst, left, right) }
func FCmGe2D(dst, left, right VReg) asm.Fragment { return threeVec(0x6E60E400, dst, left, right) }
func FCmGt2D(dst, left, right VReg) asm.Fragment { return threeVec(0x6EE0E400, dst, left, right) }
func Add2D(dst, left, right VReg) asm.Fragment   { return threeVec(0x4EE08400, dst, left, right) }
func Sub2D(dst, left, right VReg) asm.Fragment   { return threeVec(0x6EE08400, dst, left, right) }
func And16B(dst, left, right VReg) asm.Fragment  { return threeVec(0x4E201C00, dst, left, right) }
func Orr16B(dst, left, right VReg) asm.Fragment  { return threeVec(0x4EA01C00, dst, left, right) }

// Not16B inverts every bit of src.
func Not16B(dst, src VReg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := vregs(dst, src); err != nil {
			return 0, err
		}
		return 0x6E205800 | uint32(src)<<5 | uint32(dst), nil
	})
}

// DupElement2D broadcasts lane 0 of src to both lanes of dst.
func DupElement2D(dst, src VReg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := vregs(dst, src); err != nil {
			return 0, err
		}
		return 0x4E080400 | uint32(src)<<5 | uint32(dst), nil
	})
}

// DupGeneral2D broadcasts a 64-bit general register to both lanes of dst.
func DupGeneral2D(dst VReg, src Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := dst.validate(); err != nil {
			return 0, err
		}
		if src.size != size64 {
			return 0, fmt.Errorf("arm64 asm: dup from %d-bit register", src.size)
		}
		return 0x4E080C00 | rd(src)<<5 | uint32(dst), nil
	})
}

// LoadFP reads a 4, 8 or 16 byte value into an s, d or q register.
func LoadFP(dst VReg, mem Memory, width int) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := dst.validate(); err != nil {
			return 0, err
		}
		kind, err := fpLoadStoreKind(width)
		if err != nil {
			return 0, err
		}
		return encodeLoadStore(kind, uint32(dst), mem, false)
	})
}

func StoreFP(mem Memory, src VReg, width int) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := src.validate(); err != nil {
			return 0, err
		}
		kind, err := fpLoadStoreKind(width)
		if err != nil {
			return 0, err
		}
		return encodeLoadStore(kind, uint32(src), mem, true)
	})
}
