package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

func emitEncoded(ctx asm.Context, code []byte, err error) error {
	if err != nil {
		return err
	}
	ctx.EmitBytes(code)
	return nil
}

// MovImmediate loads value into dst using the shortest encoding that
// preserves it.
func MovImmediate(dst Reg, value int64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		info, err := regInfo(dst.id)
		if err != nil {
			return err
		}
		rex := rexState{b: info.high}
		switch dst.size {
		case size64:
			switch {
			case value >= 0 && value <= 0xFFFFFFFF:
			case fitsInt32(value):
				rex.w = true
				out := []byte{}
				if p := rex.prefix(); p != 0 {
					out = append(out, p)
				}
				out = append(out, 0xC7, 0xC0|info.code)
				out = binary.LittleEndian.AppendUint32(out, uint32(value))
				ctx.EmitBytes(out)
				return nil
			default:
				rex.w = true
				out := []byte{rex.prefix(), 0xB8 + info.code}
				ctx.EmitBytes(binary.LittleEndian.AppendUint64(out, uint64(value)))
				return nil
			}
		case size32:
		default:
			return fmt.Errorf("amd64 asm: immediate load into %d-bit register", dst.size*8)
		}
		out := []byte{}
		if p := rex.prefix(); p != 0 {
			out = append(out, p)
		}
		out = append(out, 0xB8+info.code)
		ctx.EmitBytes(binary.LittleEndian.AppendUint32(out, uint32(value)))
		return nil
	})
}

// MovSymbol loads the absolute address of an external symbol into dst. The
// immediate is left zero and patched when the program is linked.
func MovSymbol(dst asm.Variable, name string) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		info, err := regInfo(dst)
		if err != nil {
			return err
		}
		if name == "" {
			return fmt.Errorf("amd64 asm: empty symbol name")
		}
		rex := rexState{w: true, b: info.high}
		out := []byte{rex.prefix(), 0xB8 + info.code}
		pos := ctx.Len() + len(out)
		ctx.EmitBytes(append(out, 0, 0, 0, 0, 0, 0, 0, 0))
		ctx.AddSymbol(pos, name, asm.RelocAbs64)
		return nil
	})
}

func MovReg(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := checkSameSize(dst, src); err != nil {
			return err
		}
		rm, err := rmReg(dst)
		if err != nil {
			return err
		}
		code, err := encodeGPR(sizePrefix(src.size), src.size == size64, []byte{movOpcode(src.size)}, src, rm)
		return emitEncoded(ctx, code, err)
	})
}

func movOpcode(size operandSize) byte {
	if size == size8 {
		return 0x88
	}
	return 0x89
}

// MovToMemory stores src at mem using the width of src.
func MovToMemory(mem Memory, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		code, err := encodeGPR(sizePrefix(src.size), src.size == size64, []byte{movOpcode(src.size)}, src, rmMem(mem))
		return emitEncoded(ctx, code, err)
	})
}

// MovFromMemory loads a 32- or 64-bit value. 32-bit loads clear the upper half.
func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst.size != size32 && dst.size != size64 {
			return fmt.Errorf("amd64 asm: use MovZX for %d-bit loads", dst.size*8)
		}
		code, err := encodeGPR(nil, dst.size == size64, []byte{0x8B}, dst, rmMem(mem))
		return emitEncoded(ctx, code, err)
	})
}

// MovZX loads a byte or word from mem and zero-extends it into dst.
func MovZX(dst Reg, mem Memory, width int) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		var op byte
		switch width {
		case 1:
			op = 0xB6
		case 2:
			op = 0xB7
		default:
			return fmt.Errorf("amd64 asm: movzx width %d", width)
		}
		code, err := encodeGPR(nil, false, []byte{0x0F, op}, Reg32(dst.id), rmMem(mem))
		return emitEncoded(ctx, code, err)
	})
}

// MovZXReg8 zero-extends the low byte of src into the 32-bit view of dst.
func MovZXReg8(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		rm, err := rmReg(Reg8(src.id))
		if err != nil {
			return err
		}
		code, err := encodeGPR(nil, false, []byte{0x0F, 0xB6}, Reg32(dst.id), rm)
		return emitEncoded(ctx, code, err)
	})
}

// MovZXReg16 zero-extends the low word of src into the 32-bit view of dst.
func MovZXReg16(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		rm, err := rmReg(Reg16(src.id))
		if err != nil {
			return err
		}
		code, err := encodeGPR(nil, false, []byte{0x0F, 0xB7}, Reg32(dst.id), rm)
		return emitEncoded(ctx, code, err)
	})
}

func aluRegReg(op byte, dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := checkSameSize(dst, src); err != nil {
			return err
		}
		if dst.size != size32 && dst.size != size64 {
			return fmt.Errorf("amd64 asm: alu op on %d-bit registers", dst.size*8)
		}
		rm, err := rmReg(dst)
		if err != nil {
			return err
		}
		code, err := encodeGPR(nil, dst.size == size64, []byte{op}, src, rm)
		return emitEncoded(ctx, code, err)
	})
}

func AddReg(dst, src Reg) asm.Fragment  { return aluRegReg(0x01, dst, src) }
func OrReg(dst, src Reg) asm.Fragment   { return aluRegReg(0x09, dst, src) }
func AndReg(dst, src Reg) asm.Fragment  { return aluRegReg(0x21, dst, src) }
func SubReg(dst, src Reg) asm.Fragment  { return aluRegReg(0x29, dst, src) }
func XorReg(dst, src Reg) asm.Fragment  { return aluRegReg(0x31, dst, src) }
func CmpReg(a, b Reg) asm.Fragment      { return aluRegReg(0x39, a, b) }
func TestReg(a, b Reg) asm.Fragment     { return aluRegReg(0x85, a, b) }

// IMulReg computes dst = dst * src, keeping the low half.
func IMulReg(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if err := checkSameSize(dst, src); err != nil {
			return err
		}
		rm, err := rmReg(src)
		if err != nil {
			return err
		}
		code, err := encodeGPR(nil, dst.size == size64, []byte{0x0F, 0xAF}, dst, rm)
		return emitEncoded(ctx, code, err)
	})
}

func aluRegImm(digit byte, dst Reg, imm int32) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst.size != size32 && dst.size != size64 {
			return fmt.Errorf("amd64 asm: alu immediate on %d-bit register", dst.size*8)
		}
		rm, err := rmReg(dst)
		if err != nil {
			return err
		}
		op := byte(0x81)
		if fitsInt8(int64(imm)) {
			op = 0x83
		}
		code, err := encodeInst(nil, dst.size == size64, []byte{op}, registerCode{code: digit}, rm, false)
		if err != nil {
			return err
		}
		if op == 0x83 {
			code = append(code, byte(int8(imm)))
		} else {
			code = binary.LittleEndian.AppendUint32(code, uint32(imm))
		}
		ctx.EmitBytes(code)
		return nil
	})
}

func AddRegImm(dst Reg, imm int32) asm.Fragment { return aluRegImm(0, dst, imm) }
func SubRegImm(dst Reg, imm int32) asm.Fragment { return aluRegImm(5, dst, imm) }
func CmpRegImm(dst Reg, imm int32) asm.Fragment { return aluRegImm(7, dst, imm) }

// Lea loads the effective address of mem into dst.
func Lea(dst Reg, mem Memory) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst.size != size64 {
			return fmt.Errorf("amd64 asm: lea requires 64-bit destination")
		}
		code, err := encodeGPR(nil, true, []byte{0x8D}, dst, rmMem(mem))
		return emitEncoded(ctx, code, err)
	})
}

// SetCC writes 1 to the byte register dst when cond holds, 0 otherwise.
func SetCC(cond Cond, dst Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if dst.size != size8 {
			return fmt.Errorf("amd64 asm: setcc requires 8-bit destination")
		}
		rm, err := rmReg(dst)
		if err != nil {
			return err
		}
		code, err := encodeInst(nil, false, []byte{0x0F, 0x90 | byte(cond&0xF)}, registerCode{}, rm, false)
		return emitEncoded(ctx, code, err)
	})
}

func pushPop(base byte, reg asm.Variable) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		info, err := regInfo(reg)
		if err != nil {
			return err
		}
		if info.high {
			ctx.EmitBytes([]byte{0x41, base + info.code})
			return nil
		}
		ctx.EmitBytes([]byte{base + info.code})
		return nil
	})
}

func Push(reg asm.Variable) asm.Fragment { return pushPop(0x50, reg) }
func Pop(reg asm.Variable) asm.Fragment  { return pushPop(0x58, reg) }

func Ret() asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		ctx.EmitBytes([]byte{0xC3})
		return nil
	})
}

// CallReg performs an indirect call through reg.
func CallReg(reg asm.Variable) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		info, err := regInfo(reg)
		if err != nil {
			return err
		}
		out := []byte{}
		if info.high {
			out = append(out, 0x41)
		}
		ctx.EmitBytes(append(out, 0xFF, 0xD0|info.code))
		return nil
	})
}

func Jump(label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emitRel32(label, 0xE9)
		return nil
	})
}

func JumpIf(cond Cond, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		c, err := requireContext(ctx)
		if err != nil {
			return err
		}
		c.emitRel32(label, 0x0F, 0x80|byte(cond&0xF))
		return nil
	})
}

// Align pads with single-byte NOPs until the next instruction starts on a
// multiple of boundary.
func Align(boundary int) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		if boundary <= 0 || boundary&(boundary-1) != 0 {
			return fmt.Errorf("amd64 asm: alignment %d is not a power of two", boundary)
		}
		for ctx.Len()%boundary != 0 {
			ctx.EmitBytes([]byte{0x90})
		}
		return nil
	})
}
