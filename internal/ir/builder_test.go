package ir

import (
	"errors"
	"strings"
	"testing"
)

func newEntry(t *testing.T, sig Signature) (*FunctionBuilder, []Value) {
	t.Helper()
	b := NewFunctionBuilder("test", sig)
	entry := b.CreateBlock()
	params := b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	return b, params
}

func TestBuilderCompareFunction(t *testing.T) {
	sig := Signature{Params: []Type{F64, F64, F64, F64}, Returns: []Type{I8}}
	b, p := newEntry(t, sig)
	sum := b.FAdd(p[0], p[1])
	q := b.FDiv(sum, p[2])
	lt := b.FCmp(FloatLT, q, p[3])
	b.Return(lt)
	b.SealAllBlocks()

	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got := fn.ValueType(lt); got != I8 {
		t.Fatalf("fcmp result type = %s, want i8", got)
	}

	dump := fn.String()
	for _, want := range []string{
		"function %test(f64, f64, f64, f64) -> (i8) {",
		"block0(v0: f64, v1: f64, v2: f64, v3: f64):",
		"v4 = fadd.f64 v0, v1",
		"v6 = fcmp lt v5, v3",
		"return v6",
	} {
		if !strings.Contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
}

func TestBuilderStickyError(t *testing.T) {
	b, p := newEntry(t, Signature{Params: []Type{F64, I64}})
	bad := b.FAdd(p[0], p[1])
	if bad != InvalidValue {
		t.Fatalf("expected InvalidValue for mismatched operands, got %s", bad)
	}
	if !errors.Is(b.Err(), ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", b.Err())
	}
	if v := b.IConst(I64, 1); v != InvalidValue {
		t.Fatalf("builder kept emitting after failure: %s", v)
	}
	if _, err := b.Finalize(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Finalize returned %v, want first error", err)
	}
}

func TestBuilderBranchRules(t *testing.T) {
	b, _ := newEntry(t, Signature{})
	next := b.CreateBlock()
	b.SealBlock(next)
	b.Jump(next)
	if !errors.Is(b.Err(), ErrSealedBlock) {
		t.Fatalf("expected ErrSealedBlock, got %v", b.Err())
	}

	b, _ = newEntry(t, Signature{})
	next = b.CreateBlock()
	x := b.IConst(I64, 3)
	b.Jump(next, x)
	if !errors.Is(b.Err(), ErrArityMismatch) {
		t.Fatalf("expected ErrArityMismatch, got %v", b.Err())
	}

	b, _ = newEntry(t, Signature{})
	next = b.CreateBlock()
	b.Jump(next)
	b.AppendBlockParam(next, I64)
	if !errors.Is(b.Err(), ErrBlockInUse) {
		t.Fatalf("expected ErrBlockInUse, got %v", b.Err())
	}
}

func TestBuilderTerminatedBlock(t *testing.T) {
	b, _ := newEntry(t, Signature{})
	b.Return()
	b.IConst(I32, 1)
	if !errors.Is(b.Err(), ErrBlockTerminated) {
		t.Fatalf("expected ErrBlockTerminated, got %v", b.Err())
	}
}

func TestFinalizeRequiresSealedTerminatedBlocks(t *testing.T) {
	b, _ := newEntry(t, Signature{})
	b.Return()
	if _, err := b.Finalize(); !errors.Is(err, ErrUnsealedBlock) {
		t.Fatalf("expected ErrUnsealedBlock, got %v", err)
	}

	b, _ = newEntry(t, Signature{})
	b.CreateBlock()
	b.Return()
	b.SealAllBlocks()
	if _, err := b.Finalize(); !errors.Is(err, ErrUnterminatedBlock) {
		t.Fatalf("expected ErrUnterminatedBlock, got %v", err)
	}

	b, _ = newEntry(t, Signature{})
	b.Return()
	b.SealAllBlocks()
	if _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if b.CreateBlock() != InvalidBlock || !errors.Is(b.Err(), ErrBuilderFinished) {
		t.Fatalf("expected ErrBuilderFinished after Finalize, got %v", b.Err())
	}
}

func TestStackSlotBounds(t *testing.T) {
	b, _ := newEntry(t, Signature{})
	slot := b.CreateStackSlot(8, 0)
	v := b.IConst(I64, 7)
	b.StackStore(v, slot, 0)
	if b.Err() != nil {
		t.Fatalf("in-bounds store failed: %v", b.Err())
	}
	b.StackStore(v, slot, 4)
	if !errors.Is(b.Err(), ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", b.Err())
	}
}

func TestCallChecksImportedSignature(t *testing.T) {
	sig := Signature{Params: []Type{F64, F64}, Returns: []Type{F64}}
	b, p := newEntry(t, Signature{Params: []Type{F64}})
	ref := b.ImportFunction("add", sig)
	again := b.ImportFunction("add", sig)
	if ref == again {
		t.Fatalf("expected distinct references for repeated imports")
	}
	if res := b.Call(ref, p[0]); res != nil {
		t.Fatalf("expected no results for arity mismatch, got %v", res)
	}
	if !errors.Is(b.Err(), ErrArityMismatch) {
		t.Fatalf("expected ErrArityMismatch, got %v", b.Err())
	}
}

func TestVectorOps(t *testing.T) {
	b, p := newEntry(t, Signature{Params: []Type{F64, F64}, Returns: []Type{I64}})
	va := b.Splat(F64X2, p[0])
	vb := b.Splat(F64X2, p[1])
	mask := b.FCmp(FloatLT, va, vb)
	if got := b.ValueType(mask); got != I64X2 {
		t.Fatalf("vector fcmp type = %s, want i64x2", got)
	}
	lane := b.ExtractLane(mask, 1)
	if got := b.ValueType(lane); got != I64 {
		t.Fatalf("lane type = %s, want i64", got)
	}
	b.ExtractLane(mask, 2)
	if !errors.Is(b.Err(), ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for lane 2, got %v", b.Err())
	}
}

func TestComputeFrame(t *testing.T) {
	b, p := newEntry(t, Signature{Params: []Type{F64, I64}})
	v := b.Splat(F64X2, p[0])
	slot := b.CreateStackSlot(24, 16)
	loop := b.CreateBlock()
	b.AppendBlockParam(loop, I64)
	b.AppendBlockParam(loop, F64X2)
	b.Jump(loop, p[1], v)
	b.SwitchToBlock(loop)
	b.Return()
	b.SealAllBlocks()
	fn, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	layout := ComputeFrame(fn, 0)
	if layout.Values[0] != 0 || layout.Values[1] != 8 {
		t.Fatalf("scalar homes = %v", layout.Values[:2])
	}
	if layout.Values[v]%16 != 0 {
		t.Fatalf("vector home %d not 16-byte aligned", layout.Values[v])
	}
	if layout.Slots[slot]%16 != 0 {
		t.Fatalf("slot offset %d not aligned", layout.Slots[slot])
	}
	if layout.Transfer < layout.Slots[slot]+24 {
		t.Fatalf("transfer area %d overlaps slot at %d", layout.Transfer, layout.Slots[slot])
	}
	if layout.Size < layout.Transfer+32 || layout.Size%16 != 0 {
		t.Fatalf("frame size %d too small or misaligned (transfer at %d)", layout.Size, layout.Transfer)
	}
	if fn.IsLoopHeader(loop) {
		t.Fatalf("%s has no back edge but was reported as a loop header", loop)
	}
}

func TestAssignRegisters(t *testing.T) {
	locs, err := AssignRegisters([]Type{I64, F64, I32, F64X2}, 2, 2, ErrTooManyParams)
	if err != nil {
		t.Fatalf("AssignRegisters: %v", err)
	}
	want := []RegLoc{{ClassInt, 0}, {ClassFloat, 0}, {ClassInt, 1}, {ClassFloat, 1}}
	for i := range want {
		if locs[i] != want[i] {
			t.Fatalf("loc %d = %+v, want %+v", i, locs[i], want[i])
		}
	}
	if _, err := AssignRegisters([]Type{I64, I64, I64}, 2, 2, ErrTooManyParams); !errors.Is(err, ErrTooManyParams) {
		t.Fatalf("expected ErrTooManyParams, got %v", err)
	}
}

func TestLookupBackendUnknown(t *testing.T) {
	if _, err := LookupBackend(ArchitectureInvalid); err == nil {
		t.Fatalf("expected error for invalid architecture")
	}
	if _, err := LookupBackend(Architecture("riscv64")); err == nil {
		t.Fatalf("expected error for unregistered architecture")
	}
}
