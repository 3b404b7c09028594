package arm64

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/meijies/query-compile-prototype/internal/asm"
	"github.com/meijies/query-compile-prototype/internal/ir"
)

func words(code []byte) []uint32 {
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out
}

func buildCompare(t *testing.T, withCall bool) *ir.Function {
	t.Helper()
	sig := ir.Signature{Params: []ir.Type{ir.F64, ir.F64}, Returns: []ir.Type{ir.I8}}
	b := ir.NewFunctionBuilder("lt", sig)
	entry := b.CreateBlock()
	params := b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	var res ir.Value
	if withCall {
		ref := b.ImportFunction("helper_lt", sig)
		res = b.Call(ref, params...)[0]
	} else {
		res = b.FCmp(ir.FloatLT, params[0], params[1])
	}
	b.Return(res)
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return fn
}

func TestCompileFrame(t *testing.T) {
	prog, err := backend{}.Compile(buildCompare(t, false), ir.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ws := words(prog.Bytes())
	if len(ws) < 6 {
		t.Fatalf("program too short: %d words", len(ws))
	}
	if ws[0] != 0xA9BF7BFD || ws[1] != 0x910003FD {
		t.Fatalf("prologue = %#08x %#08x", ws[0], ws[1])
	}
	tail := ws[len(ws)-3:]
	want := []uint32{0x910003BF, 0xA8C17BFD, 0xD65F03C0}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("epilogue word %d = %#08x, want %#08x", i, tail[i], want[i])
		}
	}
	// fcmp d16, d17 followed by cset x9, mi
	var sawCmp bool
	for i := 0; i+1 < len(ws); i++ {
		if ws[i] == 0x1E712200 && ws[i+1] == 0x9A9F57E9 {
			sawCmp = true
		}
	}
	if !sawCmp {
		t.Fatalf("expected fcmp/cset mi sequence in % x", prog.Bytes())
	}
}

func TestCompileCallUsesMovWideRelocation(t *testing.T) {
	prog, err := backend{}.Compile(buildCompare(t, true), ir.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	syms := prog.Symbols()
	if len(syms) != 1 || syms[0].Name != "helper_lt" || syms[0].Kind != asm.RelocMovWide64 {
		t.Fatalf("unexpected relocations %+v", syms)
	}

	code, err := prog.Link(func(name string) (uintptr, bool) { return 0x0000_1234_5678_9ABC, true })
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	ws := words(code[syms[0].Pos:])
	chunks := []uint32{0x9ABC, 0x5678, 0x1234, 0}
	for i, want := range chunks {
		if got := (ws[i] >> 5) & 0xFFFF; got != want {
			t.Fatalf("movwide chunk %d = %#x, want %#x", i, got, want)
		}
	}
	// blr x16
	if ws[4] != 0xD63F0200 {
		t.Fatalf("expected blr x16 after address, got %#08x", ws[4])
	}
}

func TestCompileRejectsTooManyFloatParams(t *testing.T) {
	params := make([]ir.Type, 9)
	for i := range params {
		params[i] = ir.F64
	}
	b := ir.NewFunctionBuilder("wide", ir.Signature{Params: params})
	entry := b.CreateBlock()
	b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.Return()
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := Compile(fn, ir.CompileOptions{}); !errors.Is(err, ir.ErrTooManyParams) {
		t.Fatalf("expected ErrTooManyParams, got %v", err)
	}
}

func TestCompileLargeFrameUsesAddressFallback(t *testing.T) {
	b := ir.NewFunctionBuilder("big", ir.Signature{Returns: []ir.Type{ir.I64}})
	entry := b.CreateBlock()
	b.SwitchToBlock(entry)
	big := b.CreateStackSlot(64*1024, 16)
	v := b.IConst(ir.I64, 42)
	b.StackStore(v, big, 64*1024-8)
	out := b.StackLoad(ir.I64, big, 64*1024-8)
	b.Return(out)
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := (backend{}).Compile(fn, ir.CompileOptions{}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
}
