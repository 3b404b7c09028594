//go:build linux && (amd64 || arm64)

package predicate

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/meijies/query-compile-prototype/internal/codegen"
	"github.com/meijies/query-compile-prototype/internal/expr"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

func newUnit(t *testing.T, native bool) *codegen.CodegenContext {
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
	return unit
}

// (a + b) / c < d
func sample() expr.Node {
	return expr.Lt(expr.Div(expr.Add(expr.Col(0), expr.Col(1)), expr.Col(2)), expr.Col(3))
}

func TestEvalRow(t *testing.T) {
	p, err := Compile(newUnit(t, true), "lt", sample())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, tc := range []struct {
		row  []float64
		want bool
	}{
		{[]float64{3, 4, 3, 4}, true},
		{[]float64{9, 4, 3, 4}, false},
		{[]float64{5, 4, 3, 4}, true},
	} {
		got, err := p.EvalRow(tc.row)
		if err != nil {
			t.Fatalf("EvalRow: %v", err)
		}
		if got != tc.want {
			t.Fatalf("EvalRow(%v) = %v, want %v", tc.row, got, tc.want)
		}
	}
	if _, err := p.EvalRow([]float64{1, 2}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestEvaluateVector(t *testing.T) {
	p, err := Compile(newUnit(t, true), "lt", sample(), 2, 3)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := p.Evaluate(Batch{
		Arrays:  map[int][]float64{0: {2, 4}, 1: {9, 4}},
		Scalars: map[int]float64{2: 3, 3: 3},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !slices.Equal(got, []bool{false, true}) {
		t.Fatalf("Evaluate = %v, want [false true]", got)
	}
}

func TestEvaluateMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	trees := []expr.Node{
		sample(),
		&expr.Binary{Op: expr.OpGe, Left: expr.Mul(expr.Col(0), expr.Float(0.5)), Right: expr.Sub(expr.Col(1), expr.Col(3))},
		&expr.Binary{Op: expr.OpNe, Left: expr.Col(2), Right: expr.Sub(expr.Col(3), expr.Float(1.5))},
	}
	for _, native := range []bool{true, false} {
		unit := newUnit(t, native)
		for ti, n := range trees {
			p, err := Compile(unit, "p"+string(rune('a'+ti)), n, 3)
			if err != nil {
				t.Fatalf("Compile %s: %v", n, err)
			}
			// Odd length exercises the row function for the tail.
			const rows = 101
			b := Batch{Arrays: map[int][]float64{}, Scalars: map[int]float64{3: 1.5}}
			for c := 0; c < 3; c++ {
				col := make([]float64, rows)
				for i := range col {
					col[i] = float64(rng.Intn(9) - 3)
				}
				b.Arrays[c] = col
			}
			got, err := p.Evaluate(b)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			for i := 0; i < rows; i++ {
				row := []float64{b.Arrays[0][i], b.Arrays[1][i], b.Arrays[2][i], 1.5}
				if want := n.Eval(row) != 0; got[i] != want {
					t.Fatalf("native=%v %s row %d %v: got %v, want %v", native, n, i, row, got[i], want)
				}
			}
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	unit := newUnit(t, true)
	p, err := Compile(unit, "lt", sample(), 3)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, err = p.Evaluate(Batch{
		Arrays:  map[int][]float64{0: {1, 2}, 1: {1, 2, 3}, 2: {1, 2}},
		Scalars: map[int]float64{3: 1},
	})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	_, err = p.Evaluate(Batch{Arrays: map[int][]float64{0: {1}, 1: {1}, 2: {1}}})
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}

	if _, err := Compile(unit, "sum", expr.Add(expr.Col(0), expr.Col(1))); !errors.Is(err, ErrNotPredicate) {
		t.Fatalf("expected ErrNotPredicate, got %v", err)
	}
	if _, err := Compile(unit, "bad", sample(), 7); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn for unused scalar, got %v", err)
	}
}

func TestIndependentCompilations(t *testing.T) {
	p1, err := Compile(newUnit(t, true), "lt", sample())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p2, err := Compile(newUnit(t, false), "lt", sample())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b := Batch{Arrays: map[int][]float64{
		0: {3, 9, 5, 0, -1},
		1: {4, 4, 4, 0, 2},
		2: {3, 3, 3, 1, 0.5},
		3: {4, 4, 4, 0, 1},
	}}
	r1, err := p1.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	r2, err := p2.Evaluate(b)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !slices.Equal(r1, r2) || !slices.Equal(r1[:3], []bool{true, false, true}) {
		t.Fatalf("results differ: %v vs %v", r1, r2)
	}
}
