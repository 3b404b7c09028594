package arm64

import (
	"fmt"
)

func rd(r Reg) uint32 { return uint32(r.id) & 0x1F }

func sameWidth(regs ...Reg) error {
	for _, r := range regs {
		if err := r.validate(); err != nil {
			return err
		}
		if r.size != regs[0].size {
			return fmt.Errorf("arm64 asm: mixed register widths")
		}
	}
	return nil
}

// encodeAddSubImm covers ADD/SUB (immediate); register 31 means SP.
func encodeAddSubImm(base uint32, dst, src Reg, imm uint32, shift12 bool) (uint32, error) {
	if err := sameWidth(dst, src); err != nil {
		return 0, err
	}
	if imm > 0xFFF {
		return 0, fmt.Errorf("arm64 asm: immediate out of range (%d)", imm)
	}
	word := base | dst.sf() | imm<<10 | rd(src)<<5 | rd(dst)
	if shift12 {
		word |= 1 << 22
	}
	return word, nil
}

// encodeRegReg covers the three-register data-processing forms where
// register 31 means the zero register.
func encodeRegReg(base uint32, dst, left, right Reg) (uint32, error) {
	if err := sameWidth(dst, left, right); err != nil {
		return 0, err
	}
	return base | dst.sf() | rd(right)<<16 | rd(left)<<5 | rd(dst), nil
}

const (
	opAddReg uint32 = 0x0B000000
	opSubReg uint32 = 0x4B000000
	opAndReg uint32 = 0x0A000000
	opOrrReg uint32 = 0x2A000000
	opBicReg uint32 = 0x0A200000
	opLslv   uint32 = 0x1AC02000
	opMul    uint32 = 0x1B007C00
	opAddImm uint32 = 0x11000000
	opSubImm uint32 = 0x51000000
)

func encodeCmpReg(left, right Reg) (uint32, error) {
	if err := sameWidth(left, right); err != nil {
		return 0, err
	}
	return 0x6B00001F | left.sf() | rd(right)<<16 | rd(left)<<5, nil
}

func encodeMovWide(base uint32, dst Reg, imm uint16, shift uint32) (uint32, error) {
	if dst.size != size64 {
		return 0, fmt.Errorf("arm64 asm: move-wide requires 64-bit destination")
	}
	if shift%16 != 0 || shift > 48 {
		return 0, fmt.Errorf("arm64 asm: invalid move-wide shift %d", shift)
	}
	return base | (shift/16)<<21 | uint32(imm)<<5 | rd(dst), nil
}

func encodeMovz(dst Reg, imm uint16, shift uint32) (uint32, error) {
	return encodeMovWide(0xD2800000, dst, imm, shift)
}

func encodeMovk(dst Reg, imm uint16, shift uint32) (uint32, error) {
	return encodeMovWide(0xF2800000, dst, imm, shift)
}

// encodeCset is CSINC dst, zr, zr, invert(cond).
func encodeCset(dst Reg, cond Cond) (uint32, error) {
	if err := dst.validate(); err != nil {
		return 0, err
	}
	return 0x1A9F07E0 | dst.sf() | uint32(cond.Invert()&0xF)<<12 | rd(dst), nil
}

func encodeUbfx(dst, src Reg, lsb, width uint32) (uint32, error) {
	if err := sameWidth(dst, src); err != nil {
		return 0, err
	}
	if dst.size != size64 || lsb > 63 || width == 0 || lsb+width > 64 {
		return 0, fmt.Errorf("arm64 asm: invalid ubfx #%d, #%d", lsb, width)
	}
	return 0xD3400000 | lsb<<16 | (lsb+width-1)<<10 | rd(src)<<5 | rd(dst), nil
}

type loadStoreKind struct {
	load  uint32
	store uint32
	width int
}

var (
	lsByte   = loadStoreKind{load: 0x39400000, store: 0x39000000, width: 1}
	lsHalf   = loadStoreKind{load: 0x79400000, store: 0x79000000, width: 2}
	lsWord   = loadStoreKind{load: 0xB9400000, store: 0xB9000000, width: 4}
	lsDouble = loadStoreKind{load: 0xF9400000, store: 0xF9000000, width: 8}
	lsFPS    = loadStoreKind{load: 0xBD400000, store: 0xBD000000, width: 4}
	lsFPD    = loadStoreKind{load: 0xFD400000, store: 0xFD000000, width: 8}
	lsFPQ    = loadStoreKind{load: 0x3DC00000, store: 0x3D800000, width: 16}
)

func encodeLoadStore(kind loadStoreKind, rt uint32, mem Memory, store bool) (uint32, error) {
	if err := mem.validate(); err != nil {
		return 0, err
	}
	if !Encodable(mem.disp, kind.width) {
		return 0, fmt.Errorf("arm64 asm: offset %d not encodable for %d-byte access", mem.disp, kind.width)
	}
	base := kind.load
	if store {
		base = kind.store
	}
	imm := uint32(mem.disp / int32(kind.width))
	return base | imm<<10 | rd(mem.base)<<5 | rt&0x1F, nil
}

func gprLoadStoreKind(width int) (loadStoreKind, error) {
	switch width {
	case 1:
		return lsByte, nil
	case 2:
		return lsHalf, nil
	case 4:
		return lsWord, nil
	case 8:
		return lsDouble, nil
	default:
		return loadStoreKind{}, fmt.Errorf("arm64 asm: unsupported access width %d", width)
	}
}

func fpLoadStoreKind(width int) (loadStoreKind, error) {
	switch width {
	case 4:
		return lsFPS, nil
	case 8:
		return lsFPD, nil
	case 16:
		return lsFPQ, nil
	default:
		return loadStoreKind{}, fmt.Errorf("arm64 asm: unsupported vector access width %d", width)
	}
}
