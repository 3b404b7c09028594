//go:build linux && (amd64 || arm64)

package codegen

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

func newUnit(t *testing.T) *CodegenContext {
	t.Helper()
	r := jit.NewRegistry()
	if err := jit.RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	c, err := NewBuilder(r).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func compile(t *testing.T, c *CodegenContext, f *FuncGenContext, results ...ir.Value) *CompiledFunction {
	t.Helper()
	id, err := f.Finalize(results...)
	if err != nil {
		t.Fatalf("Finalize %s: %v", f.Name(), err)
	}
	fn, err := c.Finalize(id)
	if err != nil {
		t.Fatalf("CodegenContext.Finalize %s: %v", f.Name(), err)
	}
	return fn
}

var f64x4 = []ir.Type{ir.F64, ir.F64, ir.F64, ir.F64}

func TestCompareThroughNativeCalls(t *testing.T) {
	c := newUnit(t)
	f, err := c.CreateFunctionBuilder("lt", f64x4, []ir.Type{ir.I8})
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	if f.State() != StateBuilding {
		t.Fatalf("state = %s", f.State())
	}
	sum := f.Call(jit.Float64AddWrapping, f.Param(0), f.Param(1))
	q := f.Call(jit.Float64DivWrapping, sum, f.Param(2))
	lt := f.Call(jit.Float64Lt, q, f.Param(3))
	fn := compile(t, c, f, lt)
	if f.State() != StateFinalized {
		t.Fatalf("state after finalize = %s", f.State())
	}

	var call func(a, b, c, d float64) bool
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	for _, tc := range []struct {
		a, b, c, d float64
		want       bool
	}{
		{3, 4, 3, 4, true},
		{9, 4, 3, 4, false},
		{5, 4, 3, 4, true},
	} {
		if got := call(tc.a, tc.b, tc.c, tc.d); got != tc.want {
			t.Fatalf("(%v+%v)/%v < %v = %v, want %v", tc.a, tc.b, tc.c, tc.d, got, tc.want)
		}
	}
}

func TestOneBuilderAtATime(t *testing.T) {
	c := newUnit(t)
	f, err := c.CreateFunctionBuilder("first", nil, nil)
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	if _, err := c.CreateFunctionBuilder("second", nil, nil); !errors.Is(err, ErrBuilderBusy) {
		t.Fatalf("expected ErrBuilderBusy, got %v", err)
	}
	compile(t, c, f)
	if _, err := f.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized on second Finalize, got %v", err)
	}
	if _, err := c.CreateFunctionBuilder("first", nil, nil); !errors.Is(err, jit.ErrDuplicateFunction) {
		t.Fatalf("expected ErrDuplicateFunction, got %v", err)
	}
	if _, err := c.CreateFunctionBuilder("second", nil, nil); err != nil {
		t.Fatalf("CreateFunctionBuilder after finalize: %v", err)
	}
}

func TestUnknownOperationPoisonsUnit(t *testing.T) {
	c := newUnit(t)
	f, err := c.CreateFunctionBuilder("bad", []ir.Type{ir.F64}, []ir.Type{ir.F64})
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	if v := f.Call("Float64Missing", f.Param(0), f.Param(0)); v != ir.InvalidValue {
		t.Fatalf("call to unknown operation produced %s", v)
	}
	if !errors.Is(f.Err(), jit.ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", f.Err())
	}
	if f.Builder().Err() != nil {
		t.Fatalf("failed resolution reached the IR builder: %v", f.Builder().Err())
	}
	if _, err := f.Finalize(f.Param(0)); !errors.Is(err, jit.ErrUnknownOperation) {
		t.Fatalf("Finalize returned %v", err)
	}
	if _, err := c.CreateFunctionBuilder("next", nil, nil); !errors.Is(err, ErrUnitFailed) {
		t.Fatalf("expected ErrUnitFailed, got %v", err)
	}
}

func TestResultArityIsFatal(t *testing.T) {
	r := jit.NewRegistry()
	ops, err := jit.Builtins()
	if err != nil {
		t.Fatalf("Builtins: %v", err)
	}
	// Any valid address works: the call is rejected before emission.
	if err := r.Register("Pair", ir.Signature{Params: []ir.Type{ir.F64}, Returns: []ir.Type{ir.F64, ir.F64}}, ops[0].Addr); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c, err := NewBuilder(r).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Close()
	f, _ := c.CreateFunctionBuilder("pair", []ir.Type{ir.F64}, nil)
	f.Call("Pair", f.Param(0))
	if !errors.Is(f.Err(), ErrResultArity) || !errors.Is(c.Err(), ErrResultArity) {
		t.Fatalf("expected ErrResultArity, got %v / %v", f.Err(), c.Err())
	}
}

func TestStaticStackSlots(t *testing.T) {
	c := newUnit(t)
	f, err := c.CreateFunctionBuilder("slots", []ir.Type{ir.I64, ir.F64, ir.I32}, []ir.Type{ir.F64})
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	f.MakeStaticStack(64)
	f.StackStoreValue("n", f.Param(0))
	f.StackStoreValue("x", f.Param(1))
	f.StackStoreValue("small", f.Param(2))
	f.StackStoreValue("x", f.Builder().FConst(ir.F64, 2.5))

	n, _ := f.StackValue("n")
	x, _ := f.StackValue("x")
	small, _ := f.StackValue("small")
	if n.Offset != 0 || x.Offset != 8 || small.Offset != 16 {
		t.Fatalf("offsets n=%d x=%d small=%d", n.Offset, x.Offset, small.Offset)
	}
	if x.Kind != ir.F64 || x.Category != SlotValue {
		t.Fatalf("x = %+v", x)
	}
	if f.StackUsed() != 20 {
		t.Fatalf("StackUsed = %d, want 20", f.StackUsed())
	}

	fn := compile(t, c, f, f.StackLoadValue("x"))
	var call func(int64, float64, int32) float64
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if got := call(1, 7.5, 3); got != 2.5 {
		t.Fatalf("loaded %v, want the last stored 2.5", got)
	}
}

func TestStackReferences(t *testing.T) {
	c := newUnit(t)
	// swap(p) exchanges p[0] and p[1] through a reference slot.
	f, err := c.CreateFunctionBuilder("swap", []ir.Type{ir.Pointer}, []ir.Type{ir.F64})
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	f.MakeStaticStack(32)
	f.StackStoreRef("buf", f.Param(0), ir.F64)
	a := f.StackLoadRefData("buf", 0)
	b := f.StackLoadRefData("buf", 1)
	f.StackStoreRefData("buf", 0, b)
	f.StackStoreRefData("buf", 1, a)
	info, ok := f.StackValue("buf")
	if !ok || info.Category != SlotRef || info.Kind != ir.F64 {
		t.Fatalf("buf = %+v", info)
	}
	fn := compile(t, c, f, a)

	var call func(unsafe.Pointer) float64
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	data := []float64{1, 2}
	if got := call(unsafe.Pointer(&data[0])); got != 1 {
		t.Fatalf("returned %v, want 1", got)
	}
	if data[0] != 2 || data[1] != 1 {
		t.Fatalf("data = %v, want [2 1]", data)
	}
}

func TestStackFaults(t *testing.T) {
	for _, tc := range []struct {
		name string
		run  func(f *FuncGenContext)
		want error
	}{
		{"no stack", func(f *FuncGenContext) {
			f.StackStoreValue("x", f.Param(0))
		}, ErrNoStaticStack},
		{"category switch", func(f *FuncGenContext) {
			f.MakeStaticStack(32)
			f.StackStoreValue("x", f.Param(0))
			f.StackLoadRefData("x", 0)
		}, ErrSlotCategory},
		{"kind switch", func(f *FuncGenContext) {
			f.MakeStaticStack(32)
			f.StackStoreValue("x", f.Param(0))
			f.StackStoreValue("x", f.Builder().IConst(ir.I32, 1))
		}, ErrSlotCategory},
		{"undefined", func(f *FuncGenContext) {
			f.MakeStaticStack(32)
			f.StackLoadValue("y")
		}, ErrSlotUndefined},
		{"capacity", func(f *FuncGenContext) {
			f.MakeStaticStack(12)
			f.StackStoreValue("x", f.Param(0))
			f.StackStoreValue("y", f.Param(0))
		}, ErrStackCapacity},
	} {
		c := newUnit(t)
		f, err := c.CreateFunctionBuilder("f", []ir.Type{ir.I64}, nil)
		if err != nil {
			t.Fatalf("%s: CreateFunctionBuilder: %v", tc.name, err)
		}
		tc.run(f)
		if !errors.Is(f.Err(), tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, f.Err(), tc.want)
		}
		if _, err := c.Finalize(f.ID()); !errors.Is(err, ErrUnitFailed) {
			t.Fatalf("%s: expected poisoned unit, got %v", tc.name, err)
		}
	}
}

func TestVectorLoop(t *testing.T) {
	c := newUnit(t)
	// (a[i]+b[i])/c < d over pairs of rows.
	params := []ir.Type{ir.Pointer, ir.Pointer, ir.Pointer, ir.I64, ir.F64, ir.F64}
	f, err := c.CreateFunctionBuilder("vlt", params, nil)
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	f.EmitVectorLoop(VectorLoop{
		Arrays:  []VectorInput{{Column: 0, Value: f.Param(0)}, {Column: 1, Value: f.Param(1)}},
		Scalars: []VectorInput{{Column: 2, Value: f.Param(4)}, {Column: 3, Value: f.Param(5)}},
		Result:  f.Param(2),
		Count:   f.Param(3),
	}, func(f *FuncGenContext) ir.Value {
		if f.VectorLanes() != 2 {
			t.Errorf("VectorLanes = %d inside loop", f.VectorLanes())
		}
		b := f.Builder()
		q := b.FDiv(b.FAdd(f.Column(0), f.Column(1)), f.Column(2))
		return b.FCmp(ir.FloatLT, q, f.Column(3))
	})
	if f.VectorLanes() != 1 {
		t.Fatalf("VectorLanes = %d after loop", f.VectorLanes())
	}
	fn := compile(t, c, f)

	var call func(a, b, out unsafe.Pointer, n int64, c, d float64)
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	a := []float64{2, 4, 1, 10}
	b := []float64{9, 4, 1, 10}
	out := make([]uint64, 4)
	call(unsafe.Pointer(&a[0]), unsafe.Pointer(&b[0]), unsafe.Pointer(&out[0]), 4, 3, 3)
	want := []bool{false, true, true, false}
	for i := range want {
		if (out[i] != 0) != want[i] {
			t.Fatalf("row %d mask %#x, want %v", i, out[i], want[i])
		}
	}

	// A zero count must not touch the buffers.
	out[0] = 7
	call(unsafe.Pointer(&a[0]), unsafe.Pointer(&b[0]), unsafe.Pointer(&out[0]), 0, 3, 3)
	if out[0] != 7 {
		t.Fatalf("empty loop wrote %#x", out[0])
	}
}

func TestColumnUnbound(t *testing.T) {
	c := newUnit(t)
	f, _ := c.CreateFunctionBuilder("f", nil, nil)
	if v := f.Column(3); v != ir.InvalidValue || !errors.Is(f.Err(), ErrColumnUnbound) {
		t.Fatalf("Column(3) = %s, err %v", v, f.Err())
	}
}

func TestIndependentCompilationsAgree(t *testing.T) {
	build := func() (*CompiledFunction, func(a, b, c, d float64) bool) {
		c := newUnit(t)
		f, err := c.CreateFunctionBuilder("lt", f64x4, []ir.Type{ir.I8})
		if err != nil {
			t.Fatalf("CreateFunctionBuilder: %v", err)
		}
		b := f.Builder()
		res := b.FCmp(ir.FloatLT, b.FDiv(b.FAdd(f.Param(0), f.Param(1)), f.Param(2)), f.Param(3))
		fn := compile(t, c, f, res)
		var call func(a, b, c, d float64) bool
		if err := fn.Bind(&call); err != nil {
			t.Fatalf("Bind: %v", err)
		}
		return fn, call
	}
	fn1, call1 := build()
	fn2, call2 := build()
	if fn1.Entry == fn2.Entry {
		t.Fatalf("two units share entry %#x", fn1.Entry)
	}
	for _, row := range [][4]float64{{3, 4, 3, 4}, {9, 4, 3, 4}, {5, 4, 3, 4}, {-1, 0, 0.5, -2}, {0, 0, 0, 0}} {
		if call1(row[0], row[1], row[2], row[3]) != call2(row[0], row[1], row[2], row[3]) {
			t.Fatalf("compilations disagree on %v", row)
		}
	}
}
