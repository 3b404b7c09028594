package jit

import (
	"fmt"
	"sync"

	"github.com/meijies/query-compile-prototype/internal/ir"
)

var (
	sigBinaryF64  = ir.Signature{Params: []ir.Type{ir.F64, ir.F64}, Returns: []ir.Type{ir.F64}}
	sigCompareF64 = ir.Signature{Params: []ir.Type{ir.F64, ir.F64}, Returns: []ir.Type{ir.I8}}
	sigBinaryI64  = ir.Signature{Params: []ir.Type{ir.I64, ir.I64}, Returns: []ir.Type{ir.I64}}
)

type builtinDef struct {
	name string
	sig  ir.Signature
	body func(b *ir.FunctionBuilder, x, y ir.Value) ir.Value
}

func fcmp(cc ir.FloatCC) func(b *ir.FunctionBuilder, x, y ir.Value) ir.Value {
	return func(b *ir.FunctionBuilder, x, y ir.Value) ir.Value { return b.FCmp(cc, x, y) }
}

// Builtin helper names. Integer helpers wrap on overflow; the float
// comparisons return 1 or 0 and are false for NaN except Float64Ne.
const (
	Float64AddWrapping = "Float64AddWrapping"
	Float64SubWrapping = "Float64SubWrapping"
	Float64MulWrapping = "Float64MulWrapping"
	Float64DivWrapping = "Float64DivWrapping"
	Float64Lt          = "Float64Lt"
	Float64Le          = "Float64Le"
	Float64Gt          = "Float64Gt"
	Float64Ge          = "Float64Ge"
	Float64Eq          = "Float64Eq"
	Float64Ne          = "Float64Ne"
	Int64AddWrapping   = "Int64AddWrapping"
	Int64SubWrapping   = "Int64SubWrapping"
	Int64MulWrapping   = "Int64MulWrapping"
)

var builtinDefs = []builtinDef{
	{Float64AddWrapping, sigBinaryF64, (*ir.FunctionBuilder).FAdd},
	{Float64SubWrapping, sigBinaryF64, (*ir.FunctionBuilder).FSub},
	{Float64MulWrapping, sigBinaryF64, (*ir.FunctionBuilder).FMul},
	{Float64DivWrapping, sigBinaryF64, (*ir.FunctionBuilder).FDiv},
	{Float64Lt, sigCompareF64, fcmp(ir.FloatLT)},
	{Float64Le, sigCompareF64, fcmp(ir.FloatLE)},
	{Float64Gt, sigCompareF64, fcmp(ir.FloatGT)},
	{Float64Ge, sigCompareF64, fcmp(ir.FloatGE)},
	{Float64Eq, sigCompareF64, fcmp(ir.FloatEQ)},
	{Float64Ne, sigCompareF64, fcmp(ir.FloatNE)},
	{Int64AddWrapping, sigBinaryI64, (*ir.FunctionBuilder).IAdd},
	{Int64SubWrapping, sigBinaryI64, (*ir.FunctionBuilder).ISub},
	{Int64MulWrapping, sigBinaryI64, (*ir.FunctionBuilder).IMul},
}

var (
	builtinOnce sync.Once
	builtinOps  []NativeOperation
	builtinErr  error
)

func buildHelper(def builtinDef) (*ir.Function, error) {
	b := ir.NewFunctionBuilder(def.name, def.sig)
	entry := b.CreateBlock()
	params := b.AppendFunctionParams(entry)
	b.SwitchToBlock(entry)
	b.Return(def.body(b, params[0], params[1]))
	b.SealAllBlocks()
	return b.Finalize()
}

// compileBuiltins assembles the helpers into an arena that is never
// released, so their addresses are valid for the life of the process.
func compileBuiltins() ([]NativeOperation, error) {
	isa, err := HostISA()
	if err != nil {
		return nil, err
	}
	backend, err := ir.LookupBackend(isa.Arch)
	if err != nil {
		return nil, err
	}
	mem := newArena()
	noImports := func(string) (uintptr, bool) { return 0, false }

	ops := make([]NativeOperation, 0, len(builtinDefs))
	for _, def := range builtinDefs {
		fn, err := buildHelper(def)
		if err != nil {
			return nil, fmt.Errorf("jit: build helper %s: %w", def.name, err)
		}
		prog, err := backend.Compile(fn, ir.CompileOptions{})
		if err != nil {
			return nil, fmt.Errorf("jit: compile helper %s: %w", def.name, err)
		}
		code, err := prog.Link(noImports)
		if err != nil {
			return nil, fmt.Errorf("jit: link helper %s: %w", def.name, err)
		}
		addr, err := mem.place(code)
		if err != nil {
			return nil, fmt.Errorf("jit: place helper %s: %w", def.name, err)
		}
		ops = append(ops, NativeOperation{
			Name:     def.name,
			Sig:      def.sig.Clone(),
			CallConv: backend.CallConv(),
			Addr:     addr,
		})
	}
	return ops, nil
}

// Builtins returns the process-wide helper operations, compiling them on
// first use.
func Builtins() ([]NativeOperation, error) {
	builtinOnce.Do(func() {
		builtinOps, builtinErr = compileBuiltins()
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	return append([]NativeOperation(nil), builtinOps...), nil
}

func RegisterBuiltins(r *Registry) error {
	ops, err := Builtins()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := r.Add(op); err != nil {
			return err
		}
	}
	return nil
}
