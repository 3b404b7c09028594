package arm64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

func word(w uint32) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emit32(w)
		return nil
	})
}

func encoded(encode func() (uint32, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		w, err := encode()
		if err != nil {
			return err
		}
		c.emit32(w)
		return nil
	})
}

// MovImmediate materializes value with a movz followed by movk for every
// non-zero halfword. 32-bit destinations receive the low 32 bits.
func MovImmediate(dst Reg, value int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := dst.validate(); err != nil {
			return err
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		v := uint64(value)
		if dst.size == size32 {
			v = uint64(uint32(value))
		}
		return emitMovImmediate(c, Reg64(dst.id), v)
	})
}

func emitMovImmediate(c *Context, dst Reg, value uint64) error {
	first := true
	for shift := uint32(0); shift < 64; shift += 16 {
		chunk := uint16((value >> shift) & 0xFFFF)
		if first {
			if chunk == 0 && value != 0 {
				continue
			}
			w, err := encodeMovz(dst, chunk, shift)
			if err != nil {
				return err
			}
			c.emit32(w)
			first = false
			continue
		}
		if chunk == 0 {
			continue
		}
		w, err := encodeMovk(dst, chunk, shift)
		if err != nil {
			return err
		}
		c.emit32(w)
	}
	return nil
}

// MovSymbol loads the address of an external symbol into dst with a fixed
// four-instruction movz/movk sequence patched at link time.
func MovSymbol(dst Reg, name string) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst.size != size64 {
			return fmt.Errorf("arm64 asm: symbol load requires 64-bit register")
		}
		if name == "" {
			return fmt.Errorf("arm64 asm: empty symbol name")
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		pos := c.Len()
		for shift := uint32(0); shift < 64; shift += 16 {
			var w uint32
			if shift == 0 {
				w, err = encodeMovz(dst, 0, shift)
			} else {
				w, err = encodeMovk(dst, 0, shift)
			}
			if err != nil {
				return err
			}
			c.emit32(w)
		}
		c.AddSymbol(pos, name, asm.RelocMovWide64)
		return nil
	})
}

// MovReg copies src into dst with ORR, so neither operand may be SP.
func MovReg(dst, src Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		return encodeRegReg(opOrrReg, dst, Reg{id: XZR, size: dst.size}, src)
	})
}

// AddImm computes dst = src + imm; register 31 is SP here.
func AddImm(dst, src Reg, imm uint32, shift12 bool) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeAddSubImm(opAddImm, dst, src, imm, shift12) })
}

func SubImm(dst, src Reg, imm uint32, shift12 bool) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeAddSubImm(opSubImm, dst, src, imm, shift12) })
}

func AddReg(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opAddReg, dst, left, right) })
}

func SubReg(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opSubReg, dst, left, right) })
}

func AndReg(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opAndReg, dst, left, right) })
}

func OrrReg(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opOrrReg, dst, left, right) })
}

func BicReg(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opBicReg, dst, left, right) })
}

func Lslv(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opLslv, dst, left, right) })
}

func Mul(dst, left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeRegReg(opMul, dst, left, right) })
}

// AddSPReg computes dst = SP + src using the extended-register form.
func AddSPReg(dst, src Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if dst.size != size64 || src.size != size64 {
			return 0, fmt.Errorf("arm64 asm: add from sp requires 64-bit registers")
		}
		return 0x8B206000 | rd(src)<<16 | uint32(SP)<<5 | rd(dst), nil
	})
}

func CmpReg(left, right Reg) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeCmpReg(left, right) })
}

// Cset writes 1 to dst when cond holds, 0 otherwise.
func Cset(dst Reg, cond Cond) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeCset(dst, cond) })
}

// Uxtb and Uxth zero-extend the low byte or halfword of src into dst.
func Uxtb(dst, src Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := sameWidth(Reg32(dst.id), Reg32(src.id)); err != nil {
			return 0, err
		}
		return 0x53001C00 | rd(src)<<5 | rd(dst), nil
	})
}

func Uxth(dst, src Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := sameWidth(Reg32(dst.id), Reg32(src.id)); err != nil {
			return 0, err
		}
		return 0x53003C00 | rd(src)<<5 | rd(dst), nil
	})
}

func Ubfx(dst, src Reg, lsb, width uint32) asm.Fragment {
	return encoded(func() (uint32, error) { return encodeUbfx(dst, src, lsb, width) })
}

// Load reads width bytes at mem into dst, zero-extending narrow values.
func Load(dst Reg, mem Memory, width int) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := dst.validate(); err != nil {
			return 0, err
		}
		kind, err := gprLoadStoreKind(width)
		if err != nil {
			return 0, err
		}
		if width == 8 && dst.size != size64 {
			return 0, fmt.Errorf("arm64 asm: 8-byte load into 32-bit register")
		}
		return encodeLoadStore(kind, rd(dst), mem, false)
	})
}

// Store writes the low width bytes of src to mem.
func Store(mem Memory, src Reg, width int) asm.Fragment {
	return encoded(func() (uint32, error) {
		if err := src.validate(); err != nil {
			return 0, err
		}
		kind, err := gprLoadStoreKind(width)
		if err != nil {
			return 0, err
		}
		return encodeLoadStore(kind, rd(src), mem, true)
	})
}

// StpPreFP pushes the frame pointer and link register: stp x29, x30, [sp, #-16]!
func StpPreFP() asm.Fragment { return word(0xA9BF7BFD) }

// LdpPostFP pops them again: ldp x29, x30, [sp], #16
func LdpPostFP() asm.Fragment { return word(0xA8C17BFD) }

func Jump(label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emitBranch(0x14000000, label, branchB)
		return nil
	})
}

func JumpIf(cond Cond, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emitBranch(0x54000000|uint32(cond&0xF), label, branchCond)
		return nil
	})
}

// JumpIfZero and JumpIfNotZero are cbz and cbnz.
func JumpIfZero(reg Reg, label asm.Label) asm.Fragment {
	return compareBranch(0x34000000, reg, label)
}

func JumpIfNotZero(reg Reg, label asm.Label) asm.Fragment {
	return compareBranch(0x35000000, reg, label)
}

func compareBranch(base uint32, reg Reg, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := reg.validate(); err != nil {
			return err
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emitBranch(base|reg.sf()|rd(reg), label, branchCompare)
		return nil
	})
}

func CallReg(target Reg) asm.Fragment {
	return encoded(func() (uint32, error) {
		if target.size != size64 {
			return 0, fmt.Errorf("arm64 asm: call target must be 64-bit")
		}
		return 0xD63F0000 | rd(target)<<5, nil
	})
}

func Ret() asm.Fragment { return word(0xD65F03C0) }

func Nop() asm.Fragment { return word(0xD503201F) }

// Align pads with nops until the next instruction is aligned to boundary.
func Align(boundary int) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if boundary < 4 || boundary&(boundary-1) != 0 {
			return fmt.Errorf("arm64 asm: invalid alignment %d", boundary)
		}
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		for c.Len()%boundary != 0 {
			c.emit32(0xD503201F)
		}
		return nil
	})
}
