package amd64

import (
	"bytes"
	"errors"
	"testing"

	"github.com/meijies/query-compile-prototype/internal/asm"
	"github.com/meijies/query-compile-prototype/internal/ir"
)

func buildAddCall(t *testing.T) *ir.Function {
	t.Helper()
	sig := ir.Signature{Params: []ir.Type{ir.F64, ir.F64}, Returns: []ir.Type{ir.F64}}
	b := ir.NewFunctionBuilder("add_call", sig)
	entry := b.CreateBlock()
	params := b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	ref := b.ImportFunction("helper_add", sig)
	res := b.Call(ref, params...)
	b.Return(res...)
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return fn
}

func TestCompileEmitsFrameAndCallRelocation(t *testing.T) {
	prog, err := backend{}.Compile(buildAddCall(t), ir.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	code := prog.Bytes()
	prologue := []byte{0x55, 0x48, 0x89, 0xE5}
	if !bytes.HasPrefix(code, prologue) {
		t.Fatalf("prologue = % x, want prefix % x", code[:4], prologue)
	}
	if !bytes.HasSuffix(code, []byte{0x48, 0x89, 0xEC, 0x5D, 0xC3}) {
		t.Fatalf("epilogue = % x", code[len(code)-5:])
	}

	syms := prog.Symbols()
	if len(syms) != 1 {
		t.Fatalf("expected 1 relocation, got %d", len(syms))
	}
	if syms[0].Name != "helper_add" || syms[0].Kind != asm.RelocAbs64 {
		t.Fatalf("unexpected relocation %+v", syms[0])
	}

	if _, err := prog.Link(func(string) (uintptr, bool) { return 0, false }); !errors.Is(err, asm.ErrUnresolvedSymbol) {
		t.Fatalf("expected unresolved symbol, got %v", err)
	}
}

func TestCompileRejectsStackArguments(t *testing.T) {
	params := make([]ir.Type, 7)
	for i := range params {
		params[i] = ir.I64
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

func TestCompileLoopAlignment(t *testing.T) {
	b := ir.NewFunctionBuilder("count", ir.Signature{Params: []ir.Type{ir.I64}, Returns: []ir.Type{ir.I64}})
	entry := b.CreateBlock()
	loop := b.CreateBlock()
	exit := b.CreateBlock()
	n := b.AppendFunctionParams(entry)[0]
	i := b.AppendBlockParam(loop, ir.I64)
	b.SwitchToBlock(entry)
	zero := b.IConst(ir.I64, 0)
	b.Jump(loop, zero)
	b.SwitchToBlock(loop)
	one := b.IConst(ir.I64, 1)
	next := b.IAdd(i, one)
	more := b.ICmp(ir.IntSLT, next, n)
	b.Brif(more, loop, []ir.Value{next}, exit, nil)
	b.SwitchToBlock(exit)
	b.Return(next)
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	plain, err := backend{}.Compile(fn, ir.CompileOptions{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	aligned, err := backend{}.Compile(fn, ir.CompileOptions{AlignLoops: true})
	if err != nil {
		t.Fatalf("Compile aligned: %v", err)
	}
	if aligned.Len() < plain.Len() {
		t.Fatalf("aligned code shorter than plain: %d < %d", aligned.Len(), plain.Len())
	}
	if len(plain.Symbols()) != 0 {
		t.Fatalf("loop without calls produced relocations: %v", plain.Symbols())
	}
}
