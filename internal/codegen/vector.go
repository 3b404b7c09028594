package codegen

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/ir"
)

// VectorInput binds a loop operand to the column index expressions use.
// For Arrays Value is a pointer to float64 elements; for Scalars it is a
// float64 broadcast to every lane.
type VectorInput struct {
	Column int
	Value  ir.Value
}

// VectorLoop describes a loop processing two float64 lanes per iteration.
// Count must be a multiple of two; it is not checked.
type VectorLoop struct {
	Arrays  []VectorInput
	Scalars []VectorInput
	Result  ir.Value
	Count   ir.Value
}

const vectorBytes = 16

// EmitVectorLoop lowers loop around body. body runs once, during
// generation, with the columns bound to F64X2 values; the vector it returns
// is stored to Result for each pair of rows. On return the exit block is
// active.
func (f *FuncGenContext) EmitVectorLoop(loop VectorLoop, body func(*FuncGenContext) ir.Value) {
	if !f.building() {
		return
	}
	if f.lanes != 1 {
		f.fail(fmt.Errorf("%w: nested vector loop in %q", ErrVectorBody, f.name))
		return
	}
	b := f.b
	for _, a := range loop.Arrays {
		if t := b.ValueType(a.Value); t != ir.Pointer {
			f.fail(fmt.Errorf("%w: column %d array is %s", ErrVectorBody, a.Column, t))
			return
		}
	}
	for _, s := range loop.Scalars {
		if t := b.ValueType(s.Value); t != ir.F64 {
			f.fail(fmt.Errorf("%w: column %d scalar is %s", ErrVectorBody, s.Column, t))
			return
		}
	}
	if t := b.ValueType(loop.Result); t != ir.Pointer {
		f.fail(fmt.Errorf("%w: result is %s", ErrVectorBody, t))
		return
	}
	if t := b.ValueType(loop.Count); t != ir.I64 {
		f.fail(fmt.Errorf("%w: count is %s", ErrVectorBody, t))
		return
	}

	splats := make([]ir.Value, len(loop.Scalars))
	for i, s := range loop.Scalars {
		splats[i] = b.Splat(ir.F64X2, s.Value)
	}

	// body(ptrs..., result, splats..., index, bound)
	bodyBlk := b.CreateBlock()
	exit := b.CreateBlock()
	ptrs := make([]ir.Value, len(loop.Arrays))
	for i := range loop.Arrays {
		ptrs[i] = b.AppendBlockParam(bodyBlk, ir.Pointer)
	}
	result := b.AppendBlockParam(bodyBlk, ir.Pointer)
	lanes := make([]ir.Value, len(splats))
	for i := range splats {
		lanes[i] = b.AppendBlockParam(bodyBlk, ir.F64X2)
	}
	index := b.AppendBlockParam(bodyBlk, ir.I64)
	bound := b.AppendBlockParam(bodyBlk, ir.I64)

	zero := b.IConst(ir.I64, 0)
	args := make([]ir.Value, 0, len(ptrs)+len(lanes)+3)
	for _, a := range loop.Arrays {
		args = append(args, a.Value)
	}
	args = append(args, loop.Result)
	args = append(args, splats...)
	args = append(args, zero, loop.Count)
	empty := b.ICmp(ir.IntEQ, loop.Count, zero)
	b.Brif(empty, exit, nil, bodyBlk, args)
	if f.sync() != nil {
		return
	}

	b.SwitchToBlock(bodyBlk)
	saved := f.columns
	f.columns = make(map[int]ir.Value, len(loop.Arrays)+len(loop.Scalars))
	for i, a := range loop.Arrays {
		f.columns[a.Column] = b.Load(ir.F64X2, ptrs[i], 0)
	}
	for i, s := range loop.Scalars {
		f.columns[s.Column] = lanes[i]
	}
	f.lanes = 2
	out := body(f)
	f.lanes = 1
	f.columns = saved
	if f.sync() != nil {
		return
	}
	if t := b.ValueType(out); t != ir.F64X2 && t != ir.I64X2 {
		f.fail(fmt.Errorf("%w: body produced %s", ErrVectorBody, t))
		return
	}

	b.Store(out, result, 0)
	step := b.IConst(ir.I64, vectorBytes)
	next := make([]ir.Value, 0, len(args))
	for _, p := range ptrs {
		next = append(next, b.IAdd(p, step))
	}
	next = append(next, b.IAdd(result, step))
	next = append(next, lanes...)
	nextIndex := b.IAdd(index, b.IConst(ir.I64, 2))
	next = append(next, nextIndex, bound)
	more := b.ICmp(ir.IntULT, nextIndex, bound)
	b.Brif(more, bodyBlk, next, exit, nil)
	b.SealBlock(bodyBlk)

	b.SwitchToBlock(exit)
	b.SealBlock(exit)
	f.sync()
}
