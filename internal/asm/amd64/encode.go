package amd64

import (
	"encoding/binary"
	"fmt"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rexB  bool
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}
	base, err := regInfo(mem.base.id)
	if err != nil {
		return memEncoding{}, err
	}

	enc := memEncoding{rexB: base.high}
	switch {
	case mem.disp == 0 && base.code != 5:
		enc.modrm = 0x00
	case mem.disp >= -128 && mem.disp <= 127:
		enc.modrm = 0x40
		enc.disp = []byte{byte(int8(mem.disp))}
	default:
		enc.modrm = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(mem.disp))
		enc.disp = buf[:]
	}
	// rsp and r12 as base always need a SIB byte with no index.
	if base.code == 4 {
		enc.sib = []byte{0x24}
	}
	enc.modrm |= base.code
	return enc, nil
}

// rmOperand is whatever sits in the ModRM r/m slot.
type rmOperand struct {
	isReg    bool
	reg      registerCode
	forceRex bool
	mem      Memory
}

func rmReg(r Reg) (rmOperand, error) {
	info, err := regInfo(r.id)
	if err != nil {
		return rmOperand{}, err
	}
	return rmOperand{
		isReg:    true,
		reg:      info,
		forceRex: r.size == size8 && info.needsRex,
	}, nil
}

func rmXmm(x XReg) (rmOperand, error) {
	if err := x.validate(); err != nil {
		return rmOperand{}, err
	}
	return rmOperand{isReg: true, reg: x.code()}, nil
}

func rmMem(m Memory) rmOperand {
	return rmOperand{mem: m}
}

// encodeInst lays out [legacy prefixes] [REX] opcode ModRM [SIB] [disp].
func encodeInst(legacy []byte, w bool, opcode []byte, reg registerCode, rm rmOperand, forceRex bool) ([]byte, error) {
	out := make([]byte, 0, 16)
	out = append(out, legacy...)

	rex := rexState{w: w, r: reg.high, force: forceRex}
	var tail []byte
	if rm.isReg {
		rex.b = rm.reg.high
		rex.force = rex.force || rm.forceRex
		tail = []byte{0xC0 | (reg.code&7)<<3 | rm.reg.code}
	} else {
		enc, err := encodeMemoryOperand(rm.mem)
		if err != nil {
			return nil, err
		}
		rex.b = enc.rexB
		tail = append(tail, enc.modrm|(reg.code&7)<<3)
		tail = append(tail, enc.sib...)
		tail = append(tail, enc.disp...)
	}
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	return append(out, tail...), nil
}

// encodeGPR encodes an instruction whose reg field is a general-purpose
// register. Byte-sized operands force a REX prefix for sil/dil/spl/bpl.
func encodeGPR(legacy []byte, w bool, opcode []byte, reg Reg, rm rmOperand) ([]byte, error) {
	info, err := regInfo(reg.id)
	if err != nil {
		return nil, err
	}
	return encodeInst(legacy, w, opcode, info, rm, reg.size == size8 && info.needsRex)
}

// encodeXmm encodes an instruction whose reg field is an SSE register.
func encodeXmm(legacy []byte, w bool, opcode []byte, reg XReg, rm rmOperand) ([]byte, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return encodeInst(legacy, w, opcode, reg.code(), rm, false)
}

func sizePrefix(size operandSize) []byte {
	if size == size16 {
		return []byte{0x66}
	}
	return nil
}

func checkSameSize(a, b Reg) error {
	if a.size != b.size {
		return fmt.Errorf("operand width mismatch: %d-bit vs %d-bit", a.size*8, b.size*8)
	}
	return nil
}

func fitsInt8(v int64) bool {
	return v >= -128 && v <= 127
}

func fitsInt32(v int64) bool {
	return v >= -(1<<31) && v <= (1<<31)-1
}
