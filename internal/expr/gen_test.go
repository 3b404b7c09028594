//go:build linux && (amd64 || arm64)

package expr

import (
	"testing"
	"unsafe"

	"github.com/meijies/query-compile-prototype/internal/codegen"
	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

func compileScalar(t *testing.T, n Node, native bool) func(a, b, c, d float64) bool {
	t.Helper()
	r := jit.NewRegistry()
	if err := jit.RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	unit, err := codegen.NewBuilder(r).NativeArithmetic(native).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = unit.Close() })

	f, err := unit.CreateFunctionBuilder("pred", []ir.Type{ir.F64, ir.F64, ir.F64, ir.F64}, []ir.Type{ir.I8})
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	for i := 0; i < 4; i++ {
		f.BindColumn(i, f.Param(i))
	}
	id, err := f.Finalize(n.Gen(f))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	fn, err := unit.Finalize(id)
	if err != nil {
		t.Fatalf("unit Finalize: %v", err)
	}
	var call func(a, b, c, d float64) bool
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return call
}

var rows = [][]float64{
	{3, 4, 3, 4},
	{9, 4, 3, 4},
	{5, 4, 3, 4},
	{-2, 1, 0.25, -3},
	{0, 0, 0, 0},
	{1e300, 1e300, 1e-300, 1},
}

func TestGenMatchesEval(t *testing.T) {
	trees := []Node{
		sample(),
		&Binary{Op: OpGe, Left: Mul(Col(0), Float(2)), Right: Sub(Col(1), Int(3))},
		&Binary{Op: OpEq, Left: Div(Col(0), Col(2)), Right: Col(3)},
		&Binary{Op: OpNe, Left: Col(0), Right: Col(0)},
		&Binary{Op: OpLe, Left: Col(1), Right: Col(3)},
		&Binary{Op: OpGt, Left: Add(Col(0), Col(1)), Right: Float(5)},
	}
	for _, native := range []bool{true, false} {
		for _, n := range trees {
			call := compileScalar(t, n, native)
			for _, row := range rows {
				want := n.Eval(row) != 0
				if got := call(row[0], row[1], row[2], row[3]); got != want {
					t.Fatalf("native=%v %s on %v = %v, want %v", native, n, row, got, want)
				}
			}
		}
	}
}

func TestGenVector(t *testing.T) {
	unit, err := codegen.NewBuilder(nil).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer unit.Close()

	params := []ir.Type{ir.Pointer, ir.Pointer, ir.Pointer, ir.I64, ir.F64}
	f, err := unit.CreateFunctionBuilder("vec", params, nil)
	if err != nil {
		t.Fatalf("CreateFunctionBuilder: %v", err)
	}
	// a*2 + 1 > b - c, with c a scalar.
	n := &Binary{Op: OpGt, Left: Add(Mul(Col(0), Float(2)), Int(1)), Right: Sub(Col(1), Col(2))}
	f.EmitVectorLoop(codegen.VectorLoop{
		Arrays:  []codegen.VectorInput{{Column: 0, Value: f.Param(0)}, {Column: 1, Value: f.Param(1)}},
		Scalars: []codegen.VectorInput{{Column: 2, Value: f.Param(4)}},
		Result:  f.Param(2),
		Count:   f.Param(3),
	}, n.Gen)
	id, err := f.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	fn, err := unit.Finalize(id)
	if err != nil {
		t.Fatalf("unit Finalize: %v", err)
	}
	var call func(a, b, out unsafe.Pointer, n int64, c float64)
	if err := fn.Bind(&call); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	a := []float64{1, 2, 3, 4, -1, 0}
	b := []float64{4, 9, 1, 20, -5, 1}
	out := make([]uint64, len(a))
	call(unsafe.Pointer(&a[0]), unsafe.Pointer(&b[0]), unsafe.Pointer(&out[0]), int64(len(a)), 1)
	for i := range a {
		want := n.Eval([]float64{a[i], b[i], 1}) != 0
		if (out[i] != 0) != want {
			t.Fatalf("row %d: mask %#x, want %v", i, out[i], want)
		}
		if out[i] != 0 && out[i] != ^uint64(0) {
			t.Fatalf("row %d: mask %#x is not all ones", i, out[i])
		}
	}
}
