package codegen

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

type State int

const (
	StateBuilding State = iota
	StateFinalizing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FuncGenContext builds one function of a CodegenContext. The first fault
// is sticky: later emission returns ir.InvalidValue, Finalize reports the
// fault and the owning unit is poisoned.
type FuncGenContext struct {
	unit   *CodegenContext
	id     jit.FuncID
	name   string
	b      *ir.FunctionBuilder
	params []ir.Value
	state  State
	err    error

	stack   *staticStack
	columns map[int]ir.Value
	lanes   int
}

func (f *FuncGenContext) ID() jit.FuncID { return f.id }
func (f *FuncGenContext) Name() string   { return f.name }
func (f *FuncGenContext) State() State   { return f.state }

// Builder exposes the underlying IR builder for instructions without a
// dedicated helper here.
func (f *FuncGenContext) Builder() *ir.FunctionBuilder { return f.b }

// NativeArithmetic reports whether scalar arithmetic should call native
// operations.
func (f *FuncGenContext) NativeArithmetic() bool { return f.unit.native }

func (f *FuncGenContext) Err() error {
	f.sync()
	return f.err
}

func (f *FuncGenContext) fail(err error) ir.Value {
	if f.err == nil {
		f.err = err
		f.unit.poison(err)
	}
	return ir.InvalidValue
}

// sync picks up a fault recorded by the IR builder.
func (f *FuncGenContext) sync() error {
	if f.err == nil {
		if err := f.b.Err(); err != nil {
			f.fail(err)
		}
	}
	return f.err
}

func (f *FuncGenContext) building() bool {
	if f.state != StateBuilding {
		if f.err == nil {
			f.err = fmt.Errorf("%w: %q", ErrFinalized, f.name)
		}
		return false
	}
	return f.sync() == nil
}

// Param returns the i-th parameter as received by the entry block.
func (f *FuncGenContext) Param(i int) ir.Value {
	if !f.building() {
		return ir.InvalidValue
	}
	if i < 0 || i >= len(f.params) {
		return f.fail(fmt.Errorf("%w: %d of %d in %q", ErrParamIndex, i, len(f.params), f.name))
	}
	return f.params[i]
}

func (f *FuncGenContext) Params() []ir.Value {
	return append([]ir.Value(nil), f.params...)
}

// Call emits a call to the native operation name and returns its single
// result. Each call site gets its own import. Nothing is emitted when the
// name does not resolve.
func (f *FuncGenContext) Call(name string, args ...ir.Value) ir.Value {
	if !f.building() {
		return ir.InvalidValue
	}
	op, err := f.unit.registry.Resolve(name)
	if err != nil {
		return f.fail(err)
	}
	if _, ok := f.unit.module.Symbol(name); !ok {
		return f.fail(fmt.Errorf("%w: %q was registered after the module was built", jit.ErrUnknownOperation, name))
	}
	if len(op.Sig.Returns) != 1 {
		return f.fail(fmt.Errorf("%w: %q returns %d values", ErrResultArity, name, len(op.Sig.Returns)))
	}
	ref := f.b.ImportFunction(op.Name, op.Sig)
	res := f.b.Call(ref, args...)
	if f.sync() != nil {
		return ir.InvalidValue
	}
	return res[0]
}

// Finalize returns results from the active block, seals every block and
// hands the body to the unit. The unit compiles it on
// CodegenContext.Finalize.
func (f *FuncGenContext) Finalize(results ...ir.Value) (jit.FuncID, error) {
	if f.state != StateBuilding {
		return f.id, fmt.Errorf("%w: %q", ErrFinalized, f.name)
	}
	f.state = StateFinalizing
	defer func() {
		f.state = StateFinalized
		if f.unit.active == f {
			f.unit.active = nil
		}
	}()

	if f.sync() != nil {
		return f.id, f.err
	}
	f.b.Return(results...)
	f.b.SealAllBlocks()
	fn, err := f.b.Finalize()
	if err != nil {
		f.fail(err)
		return f.id, err
	}
	f.unit.pending[f.id] = fn
	return f.id, nil
}

// BindColumn makes v the value expression columns with index i produce.
func (f *FuncGenContext) BindColumn(i int, v ir.Value) {
	f.columns[i] = v
}

func (f *FuncGenContext) Column(i int) ir.Value {
	if !f.building() {
		return ir.InvalidValue
	}
	v, ok := f.columns[i]
	if !ok {
		return f.fail(fmt.Errorf("%w: %d in %q", ErrColumnUnbound, i, f.name))
	}
	return v
}

// VectorLanes is 2 while a vector loop body is generated and 1 otherwise.
func (f *FuncGenContext) VectorLanes() int { return f.lanes }
