package arm64

import "github.com/meijies/query-compile-prototype/internal/asm"

// Cache maintenance and barrier instructions usable from EL0 on Linux.
func MrsCTR(dst Reg) asm.Fragment { return word(0xD53B0020 | rd(dst)) }
func DcCvau(addr Reg) asm.Fragment { return word(0xD50B7B20 | rd(addr)) }
func IcIvau(addr Reg) asm.Fragment { return word(0xD50B7520 | rd(addr)) }
func DsbIsh() asm.Fragment         { return word(0xD5033B9F) }
func Isb() asm.Fragment            { return word(0xD5033FDF) }

// SyncInstructionCache is a complete leaf routine taking [x0, x1) and making
// freshly written code in that range visible to instruction fetch. Line sizes
// come from CTR_EL0. Clobbers x2 to x6.
func SyncInstructionCache() asm.Fragment {
	var (
		start = Reg64(X0)
		end   = Reg64(X1)
		addr  = Reg64(X2)
		ctr   = Reg64(X3)
		line  = Reg64(X4)
		four  = Reg64(X5)
		mask  = Reg64(X6)
	)
	walk := func(lsb uint32, label asm.Label, op func(Reg) asm.Fragment) asm.Fragment {
		return asm.Group{
			Ubfx(line, ctr, lsb, 4),
			Lslv(line, four, line),
			SubImm(mask, line, 1, false),
			BicReg(addr, start, mask),
			asm.MarkLabel(label),
			op(addr),
			AddReg(addr, addr, line),
			CmpReg(addr, end),
			JumpIf(CondLO, label),
			DsbIsh(),
		}
	}
	return asm.Group{
		MrsCTR(ctr),
		MovImmediate(four, 4),
		walk(16, "dcache", DcCvau),
		walk(0, "icache", IcIvau),
		Isb(),
		Ret(),
	}
}
