// Package predicate compiles boolean expression trees into native filters
// over float64 columns.
package predicate

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"slices"
	"time"
	"unsafe"

	"github.com/meijies/query-compile-prototype/internal/codegen"
	"github.com/meijies/query-compile-prototype/internal/expr"
	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/timeslice"
)

var (
	ErrNotPredicate   = errors.New("predicate: expression is not boolean")
	ErrLengthMismatch = errors.New("predicate: column length mismatch")
	ErrMissingColumn  = errors.New("predicate: column not supplied")
	ErrNoArrays       = errors.New("predicate: no array columns")
)

var (
	tsVector = timeslice.RegisterKind("predicate::vector", timeslice.FlagExecute)
	tsTail   = timeslice.RegisterKind("predicate::tail", timeslice.FlagExecute)
)

// lanes is the number of rows one vector iteration handles.
const lanes = 2

// Predicate is a compiled boolean expression. Evaluation may run from
// several goroutines at once; compilation may not.
type Predicate struct {
	Expr expr.Node

	width     int
	arrayCols []int
	scalarCol []int

	row    func(unsafe.Pointer) bool
	vector reflect.Value
}

func referenced(n expr.Node, seen map[int]bool) {
	if c, ok := n.(*expr.Column); ok {
		seen[c.Index] = true
	}
	for _, child := range n.Children() {
		referenced(child, seen)
	}
}

// Compile builds the row-at-a-time and the vectorized function for n in
// unit. Columns listed in scalarCols are passed as one value per call;
// every other referenced column is an array.
func Compile(unit *codegen.CodegenContext, name string, n expr.Node, scalarCols ...int) (*Predicate, error) {
	if err := expr.Validate(n); err != nil {
		return nil, err
	}
	if n.Kind() != expr.KindBool {
		return nil, fmt.Errorf("%w: %s", ErrNotPredicate, n)
	}

	seen := make(map[int]bool)
	referenced(n, seen)
	p := &Predicate{Expr: n, width: expr.NumColumns(n)}
	isScalar := make(map[int]bool, len(scalarCols))
	for _, c := range scalarCols {
		if !seen[c] {
			return nil, fmt.Errorf("%w: scalar column %d is not used by %s", ErrMissingColumn, c, n)
		}
		isScalar[c] = true
	}
	for c := range seen {
		if isScalar[c] {
			p.scalarCol = append(p.scalarCol, c)
		} else {
			p.arrayCols = append(p.arrayCols, c)
		}
	}
	slices.Sort(p.scalarCol)
	slices.Sort(p.arrayCols)

	if err := p.compileRow(unit, name+"_row"); err != nil {
		return nil, err
	}
	if len(p.arrayCols) > 0 {
		if err := p.compileVector(unit, name+"_vector"); err != nil {
			return nil, err
		}
	}
	slog.Debug("predicate compiled", "name", name, "expr", n.String(),
		"arrays", p.arrayCols, "scalars", p.scalarCol)
	return p, nil
}

func finalize(unit *codegen.CodegenContext, f *codegen.FuncGenContext, results ...ir.Value) (*codegen.CompiledFunction, error) {
	id, err := f.Finalize(results...)
	if err != nil {
		return nil, err
	}
	return unit.Finalize(id)
}

// compileRow emits func(row *float64) bool. Columns are read through a
// reference slot holding the row pointer.
func (p *Predicate) compileRow(unit *codegen.CodegenContext, name string) error {
	f, err := unit.CreateFunctionBuilder(name, []ir.Type{ir.Pointer}, []ir.Type{ir.I8})
	if err != nil {
		return err
	}
	f.MakeStaticStack(8)
	f.StackStoreRef("row", f.Param(0), ir.F64)
	for c := 0; c < p.width; c++ {
		f.BindColumn(c, f.StackLoadRefData("row", c))
	}
	fn, err := finalize(unit, f, p.Expr.Gen(f))
	if err != nil {
		return err
	}
	return fn.Bind(&p.row)
}

// compileVector emits
//
//	func(arrays..., out unsafe.Pointer, n int64, scalars... float64)
//
// writing one all-ones or all-zeros uint64 per row.
func (p *Predicate) compileVector(unit *codegen.CodegenContext, name string) error {
	params := make([]ir.Type, 0, len(p.arrayCols)+2+len(p.scalarCol))
	goParams := make([]reflect.Type, 0, cap(params))
	ptr := reflect.TypeOf(unsafe.Pointer(nil))
	for i := 0; i < len(p.arrayCols)+1; i++ {
		params = append(params, ir.Pointer)
		goParams = append(goParams, ptr)
	}
	params = append(params, ir.I64)
	goParams = append(goParams, reflect.TypeOf(int64(0)))
	for range p.scalarCol {
		params = append(params, ir.F64)
		goParams = append(goParams, reflect.TypeOf(float64(0)))
	}

	f, err := unit.CreateFunctionBuilder(name, params, nil)
	if err != nil {
		return err
	}
	loop := codegen.VectorLoop{
		Result: f.Param(len(p.arrayCols)),
		Count:  f.Param(len(p.arrayCols) + 1),
	}
	for i, c := range p.arrayCols {
		loop.Arrays = append(loop.Arrays, codegen.VectorInput{Column: c, Value: f.Param(i)})
	}
	for i, c := range p.scalarCol {
		loop.Scalars = append(loop.Scalars, codegen.VectorInput{Column: c, Value: f.Param(len(p.arrayCols) + 2 + i)})
	}
	f.EmitVectorLoop(loop, p.Expr.Gen)
	fn, err := finalize(unit, f)
	if err != nil {
		return err
	}
	p.vector, err = fn.MakeFunc(reflect.FuncOf(goParams, nil, false))
	return err
}

// Batch supplies column values by index.
type Batch struct {
	Arrays  map[int][]float64
	Scalars map[int]float64
}

func (p *Predicate) rows(b Batch) (int, error) {
	if len(p.arrayCols) == 0 {
		return 0, ErrNoArrays
	}
	n := -1
	for _, c := range p.arrayCols {
		a, ok := b.Arrays[c]
		if !ok {
			return 0, fmt.Errorf("%w: array column %d", ErrMissingColumn, c)
		}
		if n >= 0 && len(a) != n {
			return 0, fmt.Errorf("%w: column %d has %d rows, want %d", ErrLengthMismatch, c, len(a), n)
		}
		n = len(a)
	}
	for _, c := range p.scalarCol {
		if _, ok := b.Scalars[c]; !ok {
			return 0, fmt.Errorf("%w: scalar column %d", ErrMissingColumn, c)
		}
	}
	return n, nil
}

// EvalRow evaluates one row given every column up to the highest one the
// expression uses.
func (p *Predicate) EvalRow(row []float64) (bool, error) {
	if len(row) < p.width {
		return false, fmt.Errorf("%w: row has %d columns, want %d", ErrLengthMismatch, len(row), p.width)
	}
	if p.width == 0 {
		row = []float64{0}
	}
	ok := p.row(unsafe.Pointer(&row[0]))
	runtime.KeepAlive(row)
	return ok, nil
}

// Evaluate runs the vector function over the largest even prefix of the
// batch and the row function over the rest.
func (p *Predicate) Evaluate(b Batch) ([]bool, error) {
	n, err := p.rows(b)
	if err != nil {
		return nil, err
	}
	out := make([]bool, n)
	body := n - n%lanes
	start := time.Now()
	if body > 0 {
		masks := make([]uint64, body)
		args := make([]reflect.Value, 0, len(p.arrayCols)+2+len(p.scalarCol))
		for _, c := range p.arrayCols {
			args = append(args, reflect.ValueOf(unsafe.Pointer(&b.Arrays[c][0])))
		}
		args = append(args, reflect.ValueOf(unsafe.Pointer(&masks[0])), reflect.ValueOf(int64(body)))
		for _, c := range p.scalarCol {
			args = append(args, reflect.ValueOf(b.Scalars[c]))
		}
		p.vector.Call(args)
		runtime.KeepAlive(b.Arrays)
		for i, m := range masks {
			out[i] = m != 0
		}
		start = timeslice.Since(tsVector, start)
	}

	row := make([]float64, max(p.width, 1))
	for c, v := range b.Scalars {
		if c < p.width {
			row[c] = v
		}
	}
	for i := body; i < n; i++ {
		for _, c := range p.arrayCols {
			row[c] = b.Arrays[c][i]
		}
		out[i], _ = p.EvalRow(row)
	}
	if body < n {
		timeslice.Since(tsTail, start)
	}
	return out, nil
}

// Filter keeps the rows of each column whose mask entry is true.
func Filter(columns [][]float64, mask []bool) ([][]float64, error) {
	out := make([][]float64, len(columns))
	for i, col := range columns {
		if len(col) != len(mask) {
			return nil, fmt.Errorf("%w: column %d has %d rows, mask has %d", ErrLengthMismatch, i, len(col), len(mask))
		}
		kept := make([]float64, 0, len(col))
		for j, v := range col {
			if mask[j] {
				kept = append(kept, v)
			}
		}
		out[i] = kept
	}
	return out, nil
}
