// Package expr holds the expression trees predicates are compiled from.
// Values are float64; comparisons produce booleans which evaluate to 1 or 0.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/meijies/query-compile-prototype/internal/codegen"
	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

var (
	ErrInvalidExpr = errors.New("expr: invalid expression")
	ErrUnknownOp   = errors.New("expr: unknown operator")
)

type Kind int

const (
	KindFloat Kind = iota
	KindBool
)

func (k Kind) String() string {
	if k == KindBool {
		return "bool"
	}
	return "f64"
}

// Node is an expression tree node.
type Node interface {
	codegen.ExprGen
	Kind() Kind
	Eval(row []float64) float64
	Children() []Node
	String() string
}

type Op string

const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
	OpLt  Op = "lt"
	OpLe  Op = "le"
	OpGt  Op = "gt"
	OpGe  Op = "ge"
	OpEq  Op = "eq"
	OpNe  Op = "ne"
)

type opInfo struct {
	symbol  string
	native  string
	compare bool
	cc      ir.FloatCC
}

var ops = map[Op]opInfo{
	OpAdd: {symbol: "+", native: jit.Float64AddWrapping},
	OpSub: {symbol: "-", native: jit.Float64SubWrapping},
	OpMul: {symbol: "*", native: jit.Float64MulWrapping},
	OpDiv: {symbol: "/", native: jit.Float64DivWrapping},
	OpLt:  {symbol: "<", native: jit.Float64Lt, compare: true, cc: ir.FloatLT},
	OpLe:  {symbol: "<=", native: jit.Float64Le, compare: true, cc: ir.FloatLE},
	OpGt:  {symbol: ">", native: jit.Float64Gt, compare: true, cc: ir.FloatGT},
	OpGe:  {symbol: ">=", native: jit.Float64Ge, compare: true, cc: ir.FloatGE},
	OpEq:  {symbol: "==", native: jit.Float64Eq, compare: true, cc: ir.FloatEQ},
	OpNe:  {symbol: "!=", native: jit.Float64Ne, compare: true, cc: ir.FloatNE},
}

func (o Op) Valid() bool {
	_, ok := ops[o]
	return ok
}

func (o Op) IsCompare() bool { return ops[o].compare }

// Binary applies Op to two float operands.
type Binary struct {
	Op    Op
	Left  Node
	Right Node
}

func (n *Binary) Kind() Kind {
	if n.Op.IsCompare() {
		return KindBool
	}
	return KindFloat
}

func (n *Binary) Children() []Node { return []Node{n.Left, n.Right} }

func (n *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, ops[n.Op].symbol, n.Right)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (n *Binary) Eval(row []float64) float64 {
	l, r := n.Left.Eval(row), n.Right.Eval(row)
	switch n.Op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	case OpLt:
		return boolValue(l < r)
	case OpLe:
		return boolValue(l <= r)
	case OpGt:
		return boolValue(l > r)
	case OpGe:
		return boolValue(l >= r)
	case OpEq:
		return boolValue(l == r)
	case OpNe:
		return boolValue(l != r)
	}
	return math.NaN()
}

// Gen emits the operands then the operator. Scalar code calls the native
// operation when the unit asks for native arithmetic; vector code is
// always inline.
func (n *Binary) Gen(f *codegen.FuncGenContext) ir.Value {
	l := n.Left.Gen(f)
	r := n.Right.Gen(f)
	info := ops[n.Op]
	if f.VectorLanes() == 1 && f.NativeArithmetic() {
		return f.Call(info.native, l, r)
	}
	b := f.Builder()
	switch n.Op {
	case OpAdd:
		return b.FAdd(l, r)
	case OpSub:
		return b.FSub(l, r)
	case OpMul:
		return b.FMul(l, r)
	case OpDiv:
		return b.FDiv(l, r)
	}
	return b.FCmp(info.cc, l, r)
}

// Column refers to an input column by position.
type Column struct {
	Index int
	Name  string
}

func (n *Column) Kind() Kind       { return KindFloat }
func (n *Column) Children() []Node { return nil }

func (n *Column) String() string {
	if n.Name != "" {
		return n.Name
	}
	return "#" + strconv.Itoa(n.Index)
}

func (n *Column) Eval(row []float64) float64 {
	if n.Index < 0 || n.Index >= len(row) {
		return math.NaN()
	}
	return row[n.Index]
}

func (n *Column) Gen(f *codegen.FuncGenContext) ir.Value { return f.Column(n.Index) }

// Literal is a constant. Integer literals are held as float64.
type Literal struct {
	Value float64
}

func Float(v float64) *Literal { return &Literal{Value: v} }
func Int(v int64) *Literal     { return &Literal{Value: float64(v)} }

func (n *Literal) Kind() Kind                 { return KindFloat }
func (n *Literal) Children() []Node           { return nil }
func (n *Literal) String() string             { return strconv.FormatFloat(n.Value, 'g', -1, 64) }
func (n *Literal) Eval(row []float64) float64 { return n.Value }

func (n *Literal) Gen(f *codegen.FuncGenContext) ir.Value {
	b := f.Builder()
	v := b.FConst(ir.F64, n.Value)
	if f.VectorLanes() > 1 {
		return b.Splat(ir.F64X2, v)
	}
	return v
}

func Add(l, r Node) *Binary { return &Binary{Op: OpAdd, Left: l, Right: r} }
func Sub(l, r Node) *Binary { return &Binary{Op: OpSub, Left: l, Right: r} }
func Mul(l, r Node) *Binary { return &Binary{Op: OpMul, Left: l, Right: r} }
func Div(l, r Node) *Binary { return &Binary{Op: OpDiv, Left: l, Right: r} }
func Lt(l, r Node) *Binary  { return &Binary{Op: OpLt, Left: l, Right: r} }
func Col(i int) *Column     { return &Column{Index: i} }

// Validate checks operators and operand kinds: arithmetic and comparisons
// take float operands only.
func Validate(n Node) error {
	switch n := n.(type) {
	case *Binary:
		if !n.Op.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownOp, n.Op)
		}
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("%w: %s is missing an operand", ErrInvalidExpr, n.Op)
		}
		for _, c := range n.Children() {
			if err := Validate(c); err != nil {
				return err
			}
			if c.Kind() != KindFloat {
				return fmt.Errorf("%w: %s operand %s is %s", ErrInvalidExpr, n.Op, c, c.Kind())
			}
		}
	case *Column:
		if n.Index < 0 {
			return fmt.Errorf("%w: column index %d", ErrInvalidExpr, n.Index)
		}
	case *Literal:
	case nil:
		return fmt.Errorf("%w: nil node", ErrInvalidExpr)
	default:
		return fmt.Errorf("%w: unsupported node %T", ErrInvalidExpr, n)
	}
	return nil
}

// NumColumns is one past the highest column index in the tree.
func NumColumns(n Node) int {
	if c, ok := n.(*Column); ok {
		return c.Index + 1
	}
	most := 0
	for _, c := range n.Children() {
		if k := NumColumns(c); k > most {
			most = k
		}
	}
	return most
}
