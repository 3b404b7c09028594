package amd64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

// Mandatory prefixes selecting the SSE data form.
var (
	prefixPS = []byte(nil)
	prefixPD = []byte{0x66}
	prefixSS = []byte{0xF3}
	prefixSD = []byte{0xF2}
)

func sseRegReg(prefix []byte, opcode byte, dst, src XReg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		rm, err := rmXmm(src)
		if err != nil {
			return err
		}
		code, err := encodeXmm(prefix, false, []byte{0x0F, opcode}, dst, rm)
		return emitEncoded(ctx, code, err)
	})
}

func sseLoad(prefix []byte, opcode byte, dst XReg, mem Memory) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		code, err := encodeXmm(prefix, false, []byte{0x0F, opcode}, dst, rmMem(mem))
		return emitEncoded(ctx, code, err)
	})
}

// MovsdLoad loads a float64 into the low lane of dst.
func MovsdLoad(dst XReg, mem Memory) asm.Fragment { return sseLoad(prefixSD, 0x10, dst, mem) }

// MovsdStore stores the low float64 lane of src.
func MovsdStore(mem Memory, src XReg) asm.Fragment { return sseLoad(prefixSD, 0x11, src, mem) }

func MovssLoad(dst XReg, mem Memory) asm.Fragment  { return sseLoad(prefixSS, 0x10, dst, mem) }
func MovssStore(mem Memory, src XReg) asm.Fragment { return sseLoad(prefixSS, 0x11, src, mem) }

// MovupdLoad loads 16 unaligned bytes.
func MovupdLoad(dst XReg, mem Memory) asm.Fragment  { return sseLoad(prefixPD, 0x10, dst, mem) }
func MovupdStore(mem Memory, src XReg) asm.Fragment { return sseLoad(prefixPD, 0x11, src, mem) }

func AddSD(dst, src XReg) asm.Fragment { return sseRegReg(prefixSD, 0x58, dst, src) }
func SubSD(dst, src XReg) asm.Fragment { return sseRegReg(prefixSD, 0x5C, dst, src) }
func MulSD(dst, src XReg) asm.Fragment { return sseRegReg(prefixSD, 0x59, dst, src) }
func DivSD(dst, src XReg) asm.Fragment { return sseRegReg(prefixSD, 0x5E, dst, src) }

func AddSS(dst, src XReg) asm.Fragment { return sseRegReg(prefixSS, 0x58, dst, src) }
func SubSS(dst, src XReg) asm.Fragment { return sseRegReg(prefixSS, 0x5C, dst, src) }
func MulSS(dst, src XReg) asm.Fragment { return sseRegReg(prefixSS, 0x59, dst, src) }
func DivSS(dst, src XReg) asm.Fragment { return sseRegReg(prefixSS, 0x5E, dst, src) }

func AddPD(dst, src XReg) asm.Fragment { return sseRegReg(prefixPD, 0x58, dst, src) }
func SubPD(dst, src XReg) asm.Fragment { return sseRegReg(prefixPD, 0x5C, dst, src) }
func MulPD(dst, src XReg) asm.Fragment { return sseRegReg(prefixPD, 0x59, dst, src) }
func DivPD(dst, src XReg) asm.Fragment { return sseRegReg(prefixPD, 0x5E, dst, src) }

// Ucomisd compares the low float64 lanes of a and b and sets ZF, PF and CF.
// An unordered result sets all three.
func Ucomisd(a, b XReg) asm.Fragment { return sseRegReg(prefixPD, 0x2E, a, b) }
func Ucomiss(a, b XReg) asm.Fragment { return sseRegReg(prefixPS, 0x2E, a, b) }

// Unpcklpd interleaves the low lanes; with dst == src it broadcasts lane 0.
func Unpcklpd(dst, src XReg) asm.Fragment   { return sseRegReg(prefixPD, 0x14, dst, src) }
func Punpcklqdq(dst, src XReg) asm.Fragment { return sseRegReg(prefixPD, 0x6C, dst, src) }
func Paddq(dst, src XReg) asm.Fragment      { return sseRegReg(prefixPD, 0xD4, dst, src) }
func Psubq(dst, src XReg) asm.Fragment      { return sseRegReg(prefixPD, 0xFB, dst, src) }
func Pand(dst, src XReg) asm.Fragment       { return sseRegReg(prefixPD, 0xDB, dst, src) }
func Por(dst, src XReg) asm.Fragment        { return sseRegReg(prefixPD, 0xEB, dst, src) }
func Pxor(dst, src XReg) asm.Fragment       { return sseRegReg(prefixPD, 0xEF, dst, src) }

// CmpPredicate is the imm8 of cmppd/cmpsd.
type CmpPredicate uint8

const (
	CmpEQ  CmpPredicate = 0
	CmpLT  CmpPredicate = 1
	CmpLE  CmpPredicate = 2
	CmpUNO CmpPredicate = 3
	CmpNEQ CmpPredicate = 4
	CmpNLT CmpPredicate = 5
	CmpNLE CmpPredicate = 6
	CmpORD CmpPredicate = 7
)

// CmpPD sets every lane of dst to all ones where pred(dst, src) holds.
func CmpPD(dst, src XReg, pred CmpPredicate) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if pred > CmpORD {
			return fmt.Errorf("amd64 asm: cmppd predicate %d", pred)
		}
		rm, err := rmXmm(src)
		if err != nil {
			return err
		}
		code, err := encodeXmm(prefixPD, false, []byte{0x0F, 0xC2}, dst, rm)
		if err != nil {
			return err
		}
		ctx.EmitBytes(append(code, byte(pred)))
		return nil
	})
}

// MovqToXmm moves a 64-bit GPR into the low lane of dst, clearing the rest.
func MovqToXmm(dst XReg, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		rm, err := rmReg(Reg64(src.id))
		if err != nil {
			return err
		}
		code, err := encodeXmm(prefixPD, true, []byte{0x0F, 0x6E}, dst, rm)
		return emitEncoded(ctx, code, err)
	})
}

// MovqFromXmm moves the low 64 bits of src into a GPR.
func MovqFromXmm(dst Reg, src XReg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		rm, err := rmReg(Reg64(dst.id))
		if err != nil {
			return err
		}
		code, err := encodeXmm(prefixPD, true, []byte{0x0F, 0x7E}, src, rm)
		return emitEncoded(ctx, code, err)
	})
}
