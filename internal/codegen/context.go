package codegen

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/jit"
)

// Builder configures a CodegenContext.
type Builder struct {
	registry *jit.Registry
	flags    jit.Flags
	native   bool
}

// NewBuilder starts a unit over registry. A nil registry gives a unit
// with no native operations. Native arithmetic is on by default.
func NewBuilder(registry *jit.Registry) *Builder {
	if registry == nil {
		registry = jit.NewRegistry()
	}
	return &Builder{registry: registry, flags: jit.DefaultFlags(), native: true}
}

func (b *Builder) Flags(f jit.Flags) *Builder {
	b.flags = f
	return b
}

// Debug makes the module log the IR of every function it defines.
func (b *Builder) Debug(on bool) *Builder {
	b.flags.Debug = on
	return b
}

// NativeArithmetic selects whether scalar float arithmetic and comparisons
// in expression trees go through registered native operations or are
// emitted inline.
func (b *Builder) NativeArithmetic(on bool) *Builder {
	b.native = on
	return b
}

func (b *Builder) Build() (*CodegenContext, error) {
	m, err := jit.Build(b.registry, b.flags)
	if err != nil {
		return nil, err
	}
	return &CodegenContext{
		module:   m,
		registry: b.registry,
		native:   b.native,
		pending:  make(map[jit.FuncID]*ir.Function),
	}, nil
}

// CodegenContext is a compilation unit: it owns the module and builds one
// function at a time. It must not be shared between goroutines.
type CodegenContext struct {
	module   *jit.Module
	registry *jit.Registry
	native   bool
	active   *FuncGenContext
	pending  map[jit.FuncID]*ir.Function
	err      error
}

// poison records a construction fault. The unit refuses further work.
func (c *CodegenContext) poison(err error) {
	if c.err == nil {
		c.err = err
		slog.Debug("codegen unit failed", "err", err)
	}
}

func (c *CodegenContext) Err() error { return c.err }

func (c *CodegenContext) unitErr() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrUnitFailed, c.err)
	}
	return nil
}

func (c *CodegenContext) Module() *jit.Module { return c.module }

func (c *CodegenContext) NativeArithmetic() bool { return c.native }

// CreateFunctionBuilder declares name in the module and returns a builder
// whose entry block holds one value per parameter.
func (c *CodegenContext) CreateFunctionBuilder(name string, params, returns []ir.Type) (*FuncGenContext, error) {
	if err := c.unitErr(); err != nil {
		return nil, err
	}
	if c.active != nil {
		return nil, fmt.Errorf("%w: %q", ErrBuilderBusy, c.active.name)
	}
	sig := ir.Signature{
		Params:  append([]ir.Type(nil), params...),
		Returns: append([]ir.Type(nil), returns...),
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidKind, name, err)
	}
	id, err := c.module.DeclareFunction(name, sig)
	if err != nil {
		return nil, err
	}

	b := ir.NewFunctionBuilder(name, sig)
	entry := b.CreateBlock()
	values := b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.SealBlock(entry)

	f := &FuncGenContext{
		unit:    c,
		id:      id,
		name:    name,
		b:       b,
		params:  values,
		columns: make(map[int]ir.Value),
		lanes:   1,
	}
	c.active = f
	return f, nil
}

// CompiledFunction is a function placed in executable memory.
type CompiledFunction struct {
	ID    jit.FuncID
	Name  string
	Sig   ir.Signature
	Entry uintptr
}

// Bind points the func variable fptr at the compiled code.
func (fn *CompiledFunction) Bind(fptr any) error {
	return jit.Bind(fn.Entry, fn.Sig, fptr)
}

func (fn *CompiledFunction) MakeFunc(ft reflect.Type) (reflect.Value, error) {
	return jit.MakeFunc(fn.Entry, fn.Sig, ft)
}

// Finalize compiles and links the body recorded for id by
// FuncGenContext.Finalize. Failure here is fatal to the unit.
func (c *CodegenContext) Finalize(id jit.FuncID) (*CompiledFunction, error) {
	if err := c.unitErr(); err != nil {
		return nil, err
	}
	fn, ok := c.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFinalized, id)
	}
	delete(c.pending, id)

	if err := c.module.DefineFunction(id, fn); err != nil {
		c.poison(err)
		return nil, err
	}
	entry, err := c.module.FunctionAddress(id)
	if err != nil {
		c.poison(err)
		return nil, err
	}
	sig, _ := c.module.Signature(id)
	return &CompiledFunction{ID: id, Name: fn.Name, Sig: sig, Entry: entry}, nil
}

// Close releases the module. Every CompiledFunction of the unit becomes
// invalid.
func (c *CodegenContext) Close() error {
	c.active = nil
	c.pending = nil
	return c.module.Close()
}
