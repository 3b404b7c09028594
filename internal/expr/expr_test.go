package expr

import (
	"errors"
	"math"
	"testing"
)

func sample() Node {
	// (a + b) / c < d
	return Lt(Div(Add(Col(0), Col(1)), Col(2)), Col(3))
}

func TestEval(t *testing.T) {
	n := sample()
	for _, tc := range []struct {
		row  []float64
		want float64
	}{
		{[]float64{3, 4, 3, 4}, 1},
		{[]float64{9, 4, 3, 4}, 0},
		{[]float64{5, 4, 3, 4}, 1},
	} {
		if got := n.Eval(tc.row); got != tc.want {
			t.Fatalf("Eval(%v) = %v, want %v", tc.row, got, tc.want)
		}
	}
	if got := Col(5).Eval([]float64{1}); !math.IsNaN(got) {
		t.Fatalf("out of range column = %v, want NaN", got)
	}
	ne := &Binary{Op: OpNe, Left: Float(math.NaN()), Right: Float(math.NaN())}
	if ne.Eval(nil) != 1 {
		t.Fatalf("NaN != NaN should hold")
	}
}

func TestStringAndColumns(t *testing.T) {
	n := sample()
	if got, want := n.String(), "(((#0 + #1) / #2) < #3)"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
	if got := NumColumns(n); got != 4 {
		t.Fatalf("NumColumns = %d, want 4", got)
	}
	if got := NumColumns(Float(1)); got != 0 {
		t.Fatalf("NumColumns(literal) = %d", got)
	}
	if n.Kind() != KindBool || Add(Col(0), Int(1)).Kind() != KindFloat {
		t.Fatalf("unexpected kinds")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(sample()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate(Add(sample(), Col(0))); !errors.Is(err, ErrInvalidExpr) {
		t.Fatalf("arithmetic on a comparison: got %v", err)
	}
	if err := Validate(&Binary{Op: "pow", Left: Col(0), Right: Col(1)}); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}
	if err := Validate(&Binary{Op: OpAdd, Left: Col(0)}); !errors.Is(err, ErrInvalidExpr) {
		t.Fatalf("missing operand: got %v", err)
	}
	if err := Validate(Col(-1)); !errors.Is(err, ErrInvalidExpr) {
		t.Fatalf("negative column: got %v", err)
	}
}

func TestDecode(t *testing.T) {
	doc := `
op: lt
left:
  op: div
  left: {op: add, left: {column: 0, name: a}, right: {column: 1, name: b}}
  right: {int: 3}
right: {float: 3.5}
`
	n, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, want := n.String(), "(((a + b) / 3) < 3.5)"; got != want {
		t.Fatalf("decoded %q, want %q", got, want)
	}
	if got := n.Eval([]float64{2, 9}); got != 0 {
		t.Fatalf("Eval = %v, want 0", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		doc  string
		want error
	}{
		{"op: mod\nleft: {column: 0}\nright: {column: 1}\n", ErrUnknownOp},
		{"op: add\nleft: {column: 0}\n", ErrInvalidExpr},
		{"column: 0\nfloat: 1\n", ErrInvalidExpr},
		{"op: add\nleft: {op: lt, left: {column: 0}, right: {column: 1}}\nright: {column: 2}\n", ErrInvalidExpr},
	} {
		if _, err := Decode([]byte(tc.doc)); !errors.Is(err, tc.want) {
			t.Fatalf("%q: got %v, want %v", tc.doc, err, tc.want)
		}
	}
	if _, err := Decode([]byte("column: 0\nwidth: 3\n")); err == nil {
		t.Fatalf("expected unknown field to fail")
	}
}
