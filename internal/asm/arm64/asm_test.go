package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

func emitWords(t *testing.T, frag asm.Fragment) []uint32 {
	t.Helper()
	code, err := EmitBytes(frag)
	if err != nil {
		t.Fatalf("EmitBytes failed: %v", err)
	}
	if len(code)%4 != 0 {
		t.Fatalf("code length %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}

func expectWords(t *testing.T, name string, got, want []uint32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d words %08x, want %d words %08x", name, len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: word %d = 0x%08x, want 0x%08x", name, i, got[i], want[i])
		}
	}
}

func TestEncoding(t *testing.T) {
	sp := func(disp int32) Memory { return Mem(Reg64(SP)).WithDisp(disp) }

	tests := []struct {
		name string
		frag asm.Fragment
		want []uint32
	}{
		{"stp fp lr", StpPreFP(), []uint32{0xA9BF7BFD}},
		{"ldp fp lr", LdpPostFP(), []uint32{0xA8C17BFD}},
		{"mov fp sp", AddImm(Reg64(X29), Reg64(SP), 0, false), []uint32{0x910003FD}},
		{"sub sp", SubImm(Reg64(SP), Reg64(SP), 32, false), []uint32{0xD10083FF}},
		{"fadd d", FAdd(Double, V16, V16, V17), []uint32{0x1E712A10}},
		{"fcmp d", FCmp(Double, V16, V17), []uint32{0x1E712200}},
		{"cset mi", Cset(Reg32(X9), CondMI), []uint32{0x1A9F57E9}},
		{"ldr q", LoadFP(V16, sp(16), 16), []uint32{0x3DC007F0}},
		{"ldr x", Load(Reg64(X9), sp(8), 8), []uint32{0xF94007E9}},
		{"blr x16", CallReg(Reg64(X16)), []uint32{0xD63F0200}},
		{"mul", Mul(Reg64(X9), Reg64(X9), Reg64(X10)), []uint32{0x9B0A7D29}},
		{"dup general", DupGeneral2D(V16, Reg64(X9)), []uint32{0x4E080D30}},
		{"fcmgt", FCmGt2D(V16, V16, V17), []uint32{0x6EF1E610}},
		{"movz high half", MovImmediate(Reg64(X9), 0x10000), []uint32{0xD2A00029}},
		{"mov zero", MovImmediate(Reg64(X9), 0), []uint32{0xD2800009}},
		{"mov reg", MovReg(Reg64(X0), Reg64(X9)), []uint32{0xAA0903E0}},
	}

	for _, tt := range tests {
		expectWords(t, tt.name, emitWords(t, tt.frag), tt.want)
	}
}

func TestOffsetNotEncodable(t *testing.T) {
	if _, err := EmitBytes(Load(Reg64(X9), Mem(Reg64(SP)).WithDisp(12), 8)); err == nil {
		t.Fatalf("expected misaligned offset to fail")
	}
	if !Encodable(0x7FF8, 8) || Encodable(0x7FF8, 4) {
		t.Fatalf("Encodable reported wrong ranges")
	}
}

func TestBranchPatching(t *testing.T) {
	got := emitWords(t, asm.Group{
		JumpIfZero(Reg64(X9), "target"),
		Nop(),
		asm.MarkLabel("target"),
		JumpIf(CondLO, "target"),
		Jump("target"),
	})
	want := []uint32{
		0xB4000049,
		0xD503201F,
		0x54000003,
		0x17FFFFFF,
	}
	expectWords(t, "branches", got, want)
}

func TestSymbolRelocation(t *testing.T) {
	prog, err := EmitProgram(asm.Group{
		MovSymbol(Reg64(X16), "helper"),
		CallReg(Reg64(X16)),
	})
	if err != nil {
		t.Fatalf("EmitProgram failed: %v", err)
	}
	code, err := prog.Link(func(string) (uintptr, bool) { return 0x0001000200030004, true })
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	expectWords(t, "linked", words, []uint32{0xD2800090, 0xF2A00070, 0xF2C00050, 0xF2E00030, 0xD63F0200})
}

func TestSyncInstructionCacheAssembles(t *testing.T) {
	words := emitWords(t, SyncInstructionCache())
	if words[0] != 0xD53B0023 {
		t.Fatalf("first instruction 0x%08x, want mrs x3, ctr_el0", words[0])
	}
	if last := words[len(words)-1]; last != 0xD65F03C0 {
		t.Fatalf("last instruction 0x%08x, want ret", last)
	}
}
