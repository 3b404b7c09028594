package ir

import (
	"fmt"
	"math"
)

// FunctionBuilder constructs a Function instruction by instruction. The
// first construction fault is kept; every later call becomes a no-op that
// returns InvalidValue so callers can check Err once at the end.
type FunctionBuilder struct {
	fn      *Function
	current Block
	err     error
	done    bool
}

func NewFunctionBuilder(name string, sig Signature) *FunctionBuilder {
	b := &FunctionBuilder{
		fn:      &Function{Name: name, Sig: sig.Clone()},
		current: InvalidBlock,
	}
	if err := sig.Validate(); err != nil {
		b.fail(fmt.Errorf("signature of %q: %w", name, err))
	}
	return b
}

// Err returns the first construction fault, if any.
func (b *FunctionBuilder) Err() error { return b.err }

func (b *FunctionBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *FunctionBuilder) failed() bool {
	if b.done && b.err == nil {
		b.err = ErrBuilderFinished
	}
	return b.err != nil
}

// Signature returns the declared signature of the function being built.
func (b *FunctionBuilder) Signature() Signature { return b.fn.Sig.Clone() }

func (b *FunctionBuilder) ValueType(v Value) Type { return b.fn.ValueType(v) }

func (b *FunctionBuilder) CurrentBlock() Block { return b.current }

func (b *FunctionBuilder) CreateBlock() Block {
	if b.failed() {
		return InvalidBlock
	}
	b.fn.blocks = append(b.fn.blocks, blockData{})
	return Block(len(b.fn.blocks) - 1)
}

func (b *FunctionBuilder) validBlock(blk Block) bool {
	if blk < 0 || int(blk) >= len(b.fn.blocks) {
		b.fail(fmt.Errorf("%w: %s", ErrInvalidBlock, blk))
		return false
	}
	return true
}

func (b *FunctionBuilder) SwitchToBlock(blk Block) {
	if b.failed() || !b.validBlock(blk) {
		return
	}
	b.current = blk
}

// AppendBlockParam adds a parameter to blk. Parameters must be declared
// before any branch targets the block.
func (b *FunctionBuilder) AppendBlockParam(blk Block, t Type) Value {
	if b.failed() || !b.validBlock(blk) {
		return InvalidValue
	}
	if !t.Valid() {
		b.fail(fmt.Errorf("%w: parameter of %s", ErrInvalidType, blk))
		return InvalidValue
	}
	data := &b.fn.blocks[blk]
	if data.preds > 0 {
		b.fail(fmt.Errorf("%w: cannot add parameter to %s", ErrBlockInUse, blk))
		return InvalidValue
	}
	v := b.newValue(t, blk)
	data.params = append(data.params, v)
	return v
}

// AppendFunctionParams gives blk one parameter per signature parameter.
func (b *FunctionBuilder) AppendFunctionParams(blk Block) []Value {
	out := make([]Value, 0, len(b.fn.Sig.Params))
	for _, t := range b.fn.Sig.Params {
		out = append(out, b.AppendBlockParam(blk, t))
	}
	return out
}

func (b *FunctionBuilder) BlockParams(blk Block) []Value {
	if blk < 0 || int(blk) >= len(b.fn.blocks) {
		return nil
	}
	return append([]Value(nil), b.fn.blocks[blk].params...)
}

// SealBlock declares that no further branches into blk will be added.
func (b *FunctionBuilder) SealBlock(blk Block) {
	if b.failed() || !b.validBlock(blk) {
		return
	}
	b.fn.blocks[blk].sealed = true
}

func (b *FunctionBuilder) SealAllBlocks() {
	if b.failed() {
		return
	}
	for i := range b.fn.blocks {
		b.fn.blocks[i].sealed = true
	}
}

func (b *FunctionBuilder) newValue(t Type, blk Block) Value {
	b.fn.values = append(b.fn.values, valueData{typ: t, block: blk})
	return Value(len(b.fn.values) - 1)
}

func (b *FunctionBuilder) operand(v Value) (Type, bool) {
	if v < 0 || int(v) >= len(b.fn.values) {
		b.fail(fmt.Errorf("%w: %s", ErrForeignValue, v))
		return TypeInvalid, false
	}
	return b.fn.values[v].typ, true
}

func (b *FunctionBuilder) operands(vs ...Value) ([]Type, bool) {
	out := make([]Type, len(vs))
	for i, v := range vs {
		t, ok := b.operand(v)
		if !ok {
			return nil, false
		}
		out[i] = t
	}
	return out, true
}

// emit appends inst to the active block and allocates its results.
func (b *FunctionBuilder) emit(inst Inst, results ...Type) []Value {
	if b.current == InvalidBlock {
		b.fail(fmt.Errorf("%w: %s", ErrNoActiveBlock, inst.Op))
		return nil
	}
	data := &b.fn.blocks[b.current]
	if data.terminated {
		b.fail(fmt.Errorf("%w: %s after terminator in %s", ErrBlockTerminated, inst.Op, b.current))
		return nil
	}
	for _, t := range results {
		inst.Results = append(inst.Results, b.newValue(t, b.current))
	}
	b.fn.insts = append(b.fn.insts, inst)
	data.insts = append(data.insts, len(b.fn.insts)-1)
	if inst.Op.IsTerminator() {
		data.terminated = true
	}
	return inst.Results
}

func (b *FunctionBuilder) emitOne(inst Inst, result Type) Value {
	res := b.emit(inst, result)
	if len(res) != 1 {
		return InvalidValue
	}
	return res[0]
}

func (b *FunctionBuilder) typeError(op Opcode, format string, args ...any) Value {
	b.fail(fmt.Errorf("%w: %s: %s", ErrTypeMismatch, op, fmt.Sprintf(format, args...)))
	return InvalidValue
}

// IConst materializes an integer constant. The stored bits are truncated
// to the width of t.
func (b *FunctionBuilder) IConst(t Type, v int64) Value {
	if b.failed() {
		return InvalidValue
	}
	if !t.IsInt() {
		return b.typeError(OpIConst, "%s is not an integer type", t)
	}
	bits := uint64(v)
	if w := t.Bytes(); w < 8 {
		bits &= (1 << (8 * w)) - 1
	}
	return b.emitOne(Inst{Op: OpIConst, Type: t, Imm: int64(bits)}, t)
}

func (b *FunctionBuilder) FConst(t Type, v float64) Value {
	if b.failed() {
		return InvalidValue
	}
	var bits uint64
	switch t {
	case F64:
		bits = math.Float64bits(v)
	case F32:
		bits = uint64(math.Float32bits(float32(v)))
	default:
		return b.typeError(OpFConst, "%s is not a float type", t)
	}
	return b.emitOne(Inst{Op: OpFConst, Type: t, Imm: int64(bits)}, t)
}

func (b *FunctionBuilder) binary(op Opcode, x, y Value, allowed func(Type) bool) Value {
	if b.failed() {
		return InvalidValue
	}
	ts, ok := b.operands(x, y)
	if !ok {
		return InvalidValue
	}
	if ts[0] != ts[1] {
		return b.typeError(op, "%s vs %s", ts[0], ts[1])
	}
	if !allowed(ts[0]) {
		return b.typeError(op, "unsupported operand type %s", ts[0])
	}
	return b.emitOne(Inst{Op: op, Type: ts[0], Args: []Value{x, y}}, ts[0])
}

func wideInt(t Type) bool    { return t == I32 || t == I64 }
func intArith(t Type) bool   { return wideInt(t) || t == I64X2 }
func intBitwise(t Type) bool { return t.IsInt() || t == I64X2 }
func floatArith(t Type) bool { return t.IsFloat() || t == F64X2 }

func (b *FunctionBuilder) IAdd(x, y Value) Value { return b.binary(OpIAdd, x, y, intArith) }
func (b *FunctionBuilder) ISub(x, y Value) Value { return b.binary(OpISub, x, y, intArith) }
func (b *FunctionBuilder) IMul(x, y Value) Value { return b.binary(OpIMul, x, y, wideInt) }
func (b *FunctionBuilder) Band(x, y Value) Value { return b.binary(OpBand, x, y, intBitwise) }
func (b *FunctionBuilder) Bor(x, y Value) Value  { return b.binary(OpBor, x, y, intBitwise) }
func (b *FunctionBuilder) FAdd(x, y Value) Value { return b.binary(OpFAdd, x, y, floatArith) }
func (b *FunctionBuilder) FSub(x, y Value) Value { return b.binary(OpFSub, x, y, floatArith) }
func (b *FunctionBuilder) FMul(x, y Value) Value { return b.binary(OpFMul, x, y, floatArith) }
func (b *FunctionBuilder) FDiv(x, y Value) Value { return b.binary(OpFDiv, x, y, floatArith) }

// ICmp compares two 32- or 64-bit integers and yields 1 or 0 as an I8.
func (b *FunctionBuilder) ICmp(cc IntCC, x, y Value) Value {
	if b.failed() {
		return InvalidValue
	}
	ts, ok := b.operands(x, y)
	if !ok {
		return InvalidValue
	}
	if ts[0] != ts[1] || !wideInt(ts[0]) {
		return b.typeError(OpICmp, "%s vs %s", ts[0], ts[1])
	}
	if cc > IntUGE {
		return b.typeError(OpICmp, "condition %s", cc)
	}
	return b.emitOne(Inst{Op: OpICmp, Type: ts[0], Args: []Value{x, y}, Imm: int64(cc)}, I8)
}

// FCmp compares floats. Scalars yield an I8 of 1 or 0; F64X2 yields an
// I64X2 whose lanes are all ones or all zeros. Comparisons involving NaN
// are false except ne.
func (b *FunctionBuilder) FCmp(cc FloatCC, x, y Value) Value {
	if b.failed() {
		return InvalidValue
	}
	ts, ok := b.operands(x, y)
	if !ok {
		return InvalidValue
	}
	if ts[0] != ts[1] || !floatArith(ts[0]) {
		return b.typeError(OpFCmp, "%s vs %s", ts[0], ts[1])
	}
	if cc > FloatGE {
		return b.typeError(OpFCmp, "condition %s", cc)
	}
	result := I8
	if ts[0] == F64X2 {
		result = I64X2
	}
	return b.emitOne(Inst{Op: OpFCmp, Type: ts[0], Args: []Value{x, y}, Imm: int64(cc)}, result)
}

// Splat broadcasts a scalar into every lane of vt.
func (b *FunctionBuilder) Splat(vt Type, x Value) Value {
	if b.failed() {
		return InvalidValue
	}
	t, ok := b.operand(x)
	if !ok {
		return InvalidValue
	}
	if !vt.IsVector() || vt.LaneType() != t {
		return b.typeError(OpSplat, "%s into %s", t, vt)
	}
	return b.emitOne(Inst{Op: OpSplat, Type: vt, Args: []Value{x}}, vt)
}

func (b *FunctionBuilder) ExtractLane(x Value, lane int) Value {
	if b.failed() {
		return InvalidValue
	}
	t, ok := b.operand(x)
	if !ok {
		return InvalidValue
	}
	if !t.IsVector() || lane < 0 || lane >= t.Lanes() {
		return b.typeError(OpExtractLane, "lane %d of %s", lane, t)
	}
	return b.emitOne(Inst{Op: OpExtractLane, Type: t, Args: []Value{x}, Imm: int64(lane)}, t.LaneType())
}

func (b *FunctionBuilder) pointer(op Opcode, ptr Value) bool {
	t, ok := b.operand(ptr)
	if !ok {
		return false
	}
	if t != Pointer {
		b.typeError(op, "address operand is %s", t)
		return false
	}
	return true
}

// Load reads a value of type t from ptr+offset.
func (b *FunctionBuilder) Load(t Type, ptr Value, offset int32) Value {
	if b.failed() {
		return InvalidValue
	}
	if !t.Valid() {
		return b.typeError(OpLoad, "invalid type")
	}
	if !b.pointer(OpLoad, ptr) {
		return InvalidValue
	}
	return b.emitOne(Inst{Op: OpLoad, Type: t, Args: []Value{ptr}, Imm: int64(offset)}, t)
}

// Store writes x to ptr+offset.
func (b *FunctionBuilder) Store(x, ptr Value, offset int32) {
	if b.failed() {
		return
	}
	t, ok := b.operand(x)
	if !ok || !b.pointer(OpStore, ptr) {
		return
	}
	b.emit(Inst{Op: OpStore, Type: t, Args: []Value{x, ptr}, Imm: int64(offset)})
}

// CreateStackSlot reserves size bytes in the frame. align must be a power
// of two no larger than 16; zero means 8.
func (b *FunctionBuilder) CreateStackSlot(size, align int) StackSlot {
	if b.failed() {
		return -1
	}
	if align == 0 {
		align = 8
	}
	if size <= 0 || align < 0 || align > 16 || align&(align-1) != 0 {
		b.fail(fmt.Errorf("%w: size %d align %d", ErrInvalidSlot, size, align))
		return -1
	}
	b.fn.slots = append(b.fn.slots, StackSlotData{Size: size, Align: align})
	return StackSlot(len(b.fn.slots) - 1)
}

func (b *FunctionBuilder) slotAccess(op Opcode, slot StackSlot, offset int32, width int) bool {
	if slot < 0 || int(slot) >= len(b.fn.slots) {
		b.fail(fmt.Errorf("%w: %s: %s", ErrInvalidSlot, op, slot))
		return false
	}
	size := b.fn.slots[slot].Size
	if offset < 0 || int(offset)+width > size {
		b.fail(fmt.Errorf("%w: %s: %d bytes at offset %d of %d-byte %s", ErrInvalidSlot, op, width, offset, size, slot))
		return false
	}
	return true
}

func (b *FunctionBuilder) StackLoad(t Type, slot StackSlot, offset int32) Value {
	if b.failed() {
		return InvalidValue
	}
	if !t.Valid() {
		return b.typeError(OpStackLoad, "invalid type")
	}
	if !b.slotAccess(OpStackLoad, slot, offset, t.Bytes()) {
		return InvalidValue
	}
	return b.emitOne(Inst{Op: OpStackLoad, Type: t, Slot: slot, Imm: int64(offset)}, t)
}

func (b *FunctionBuilder) StackStore(x Value, slot StackSlot, offset int32) {
	if b.failed() {
		return
	}
	t, ok := b.operand(x)
	if !ok || !b.slotAccess(OpStackStore, slot, offset, t.Bytes()) {
		return
	}
	b.emit(Inst{Op: OpStackStore, Type: t, Args: []Value{x}, Slot: slot, Imm: int64(offset)})
}

// StackAddr yields the address of slot+offset. It stays valid until the
// function returns.
func (b *FunctionBuilder) StackAddr(slot StackSlot, offset int32) Value {
	if b.failed() {
		return InvalidValue
	}
	if !b.slotAccess(OpStackAddr, slot, offset, 0) {
		return InvalidValue
	}
	return b.emitOne(Inst{Op: OpStackAddr, Type: Pointer, Slot: slot, Imm: int64(offset)}, Pointer)
}

// ImportFunction declares an external function. Every call returns a new
// reference even when name was imported before.
func (b *FunctionBuilder) ImportFunction(name string, sig Signature) FuncRef {
	if b.failed() {
		return -1
	}
	if name == "" {
		b.fail(fmt.Errorf("%w: import with empty name", ErrInvalidType))
		return -1
	}
	if err := sig.Validate(); err != nil {
		b.fail(fmt.Errorf("import %q: %w", name, err))
		return -1
	}
	b.fn.funcs = append(b.fn.funcs, ExtFunc{Name: name, Sig: sig.Clone()})
	return FuncRef(len(b.fn.funcs) - 1)
}

func (b *FunctionBuilder) checkArgs(what string, want []Type, args []Value) bool {
	if len(want) != len(args) {
		b.fail(fmt.Errorf("%w: %s expects %d values, got %d", ErrArityMismatch, what, len(want), len(args)))
		return false
	}
	ts, ok := b.operands(args...)
	if !ok {
		return false
	}
	for i := range want {
		if ts[i] != want[i] {
			b.fail(fmt.Errorf("%w: %s value %d is %s, want %s", ErrTypeMismatch, what, i, ts[i], want[i]))
			return false
		}
	}
	return true
}

// Call invokes an imported function and returns one value per declared
// result.
func (b *FunctionBuilder) Call(ref FuncRef, args ...Value) []Value {
	if b.failed() {
		return nil
	}
	if ref < 0 || int(ref) >= len(b.fn.funcs) {
		b.fail(fmt.Errorf("%w: unknown function reference %s", ErrInvalidType, ref))
		return nil
	}
	ext := b.fn.funcs[ref]
	if !b.checkArgs("call "+ext.Name, ext.Sig.Params, args) {
		return nil
	}
	return b.emit(Inst{Op: OpCall, Func: ref, Args: append([]Value(nil), args...)}, ext.Sig.Returns...)
}

func (b *FunctionBuilder) target(blk Block, args []Value) (BlockCall, bool) {
	if !b.validBlock(blk) {
		return BlockCall{}, false
	}
	data := &b.fn.blocks[blk]
	if data.sealed {
		b.fail(fmt.Errorf("%w: %s", ErrSealedBlock, blk))
		return BlockCall{}, false
	}
	want := make([]Type, len(data.params))
	for i, p := range data.params {
		want[i] = b.fn.values[p].typ
	}
	if !b.checkArgs("branch to "+blk.String(), want, args) {
		return BlockCall{}, false
	}
	return BlockCall{Block: blk, Args: append([]Value(nil), args...)}, true
}

func (b *FunctionBuilder) Jump(blk Block, args ...Value) {
	if b.failed() {
		return
	}
	t, ok := b.target(blk, args)
	if !ok {
		return
	}
	b.emit(Inst{Op: OpJump, Targets: []BlockCall{t}})
	if b.err == nil {
		b.fn.blocks[blk].preds++
	}
}

// Brif branches to then when cond is non-zero and to els otherwise.
func (b *FunctionBuilder) Brif(cond Value, then Block, thenArgs []Value, els Block, elseArgs []Value) {
	if b.failed() {
		return
	}
	t, ok := b.operand(cond)
	if !ok {
		return
	}
	if !t.IsInt() {
		b.typeError(OpBrif, "condition is %s", t)
		return
	}
	tt, ok := b.target(then, thenArgs)
	if !ok {
		return
	}
	et, ok := b.target(els, elseArgs)
	if !ok {
		return
	}
	b.emit(Inst{Op: OpBrif, Type: t, Args: []Value{cond}, Targets: []BlockCall{tt, et}})
	if b.err == nil {
		b.fn.blocks[then].preds++
		b.fn.blocks[els].preds++
	}
}

func (b *FunctionBuilder) Return(values ...Value) {
	if b.failed() {
		return
	}
	if !b.checkArgs("return", b.fn.Sig.Returns, values) {
		return
	}
	b.emit(Inst{Op: OpReturn, Args: append([]Value(nil), values...)})
}

// Finalize checks the structural rules and hands out the function. The
// builder cannot be used afterwards.
func (b *FunctionBuilder) Finalize() (*Function, error) {
	if b.failed() {
		return nil, b.err
	}
	if err := verify(b.fn); err != nil {
		b.fail(err)
		return nil, err
	}
	b.done = true
	return b.fn, nil
}
