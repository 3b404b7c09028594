package ir

import "fmt"

type Value int32

// InvalidValue is returned by builder calls once construction has failed.
const InvalidValue Value = -1

func (v Value) String() string {
	if v < 0 {
		return "v?"
	}
	return fmt.Sprintf("v%d", int32(v))
}

type Block int32

const InvalidBlock Block = -1

func (b Block) String() string {
	if b < 0 {
		return "block?"
	}
	return fmt.Sprintf("block%d", int32(b))
}

type StackSlot int32

func (s StackSlot) String() string { return fmt.Sprintf("ss%d", int32(s)) }

type FuncRef int32

func (f FuncRef) String() string { return fmt.Sprintf("fn%d", int32(f)) }

type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpIConst
	OpFConst
	OpIAdd
	OpISub
	OpIMul
	OpBand
	OpBor
	OpICmp
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFCmp
	OpSplat
	OpExtractLane
	OpLoad
	OpStore
	OpStackLoad
	OpStackStore
	OpStackAddr
	OpCall
	OpJump
	OpBrif
	OpReturn
)

var opcodeNames = [...]string{
	OpInvalid:     "invalid",
	OpIConst:      "iconst",
	OpFConst:      "fconst",
	OpIAdd:        "iadd",
	OpISub:        "isub",
	OpIMul:        "imul",
	OpBand:        "band",
	OpBor:         "bor",
	OpICmp:        "icmp",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpFCmp:        "fcmp",
	OpSplat:       "splat",
	OpExtractLane: "extractlane",
	OpLoad:        "load",
	OpStore:       "store",
	OpStackLoad:   "stack_load",
	OpStackStore:  "stack_store",
	OpStackAddr:   "stack_addr",
	OpCall:        "call",
	OpJump:        "jump",
	OpBrif:        "brif",
	OpReturn:      "return",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

func (o Opcode) IsTerminator() bool {
	return o == OpJump || o == OpBrif || o == OpReturn
}

type IntCC uint8

const (
	IntEQ IntCC = iota
	IntNE
	IntSLT
	IntSLE
	IntSGT
	IntSGE
	IntULT
	IntULE
	IntUGT
	IntUGE
)

var intCCNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

func (c IntCC) String() string {
	if int(c) < len(intCCNames) {
		return intCCNames[c]
	}
	return fmt.Sprintf("intcc(%d)", uint8(c))
}

type FloatCC uint8

const (
	FloatEQ FloatCC = iota
	FloatNE
	FloatLT
	FloatLE
	FloatGT
	FloatGE
)

var floatCCNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

func (c FloatCC) String() string {
	if int(c) < len(floatCCNames) {
		return floatCCNames[c]
	}
	return fmt.Sprintf("floatcc(%d)", uint8(c))
}

// BlockCall is a branch target together with the values passed to its
// parameters.
type BlockCall struct {
	Block Block
	Args  []Value
}

// Inst is one instruction. Imm carries the constant bits for iconst and
// fconst, the byte offset for memory and stack accesses, the lane for
// extractlane and the condition code for comparisons.
type Inst struct {
	Op      Opcode
	Type    Type
	Args    []Value
	Results []Value
	Imm     int64
	Slot    StackSlot
	Func    FuncRef
	Targets []BlockCall
}

func (i *Inst) Result() Value {
	if len(i.Results) == 0 {
		return InvalidValue
	}
	return i.Results[0]
}

type valueData struct {
	typ   Type
	block Block
}

type blockData struct {
	params     []Value
	insts      []int
	sealed     bool
	preds      int
	terminated bool
}

// StackSlotData describes a fixed-size region of the function's frame.
type StackSlotData struct {
	Size  int
	Align int
}

// ExtFunc is an imported function referenced by call instructions.
type ExtFunc struct {
	Name string
	Sig  Signature
}

// Function is the finished body handed to a backend.
type Function struct {
	Name string
	Sig  Signature

	values []valueData
	insts  []Inst
	blocks []blockData
	slots  []StackSlotData
	funcs  []ExtFunc
}

func (f *Function) NumValues() int { return len(f.values) }

func (f *Function) NumBlocks() int { return len(f.blocks) }

func (f *Function) ValueType(v Value) Type {
	if v < 0 || int(v) >= len(f.values) {
		return TypeInvalid
	}
	return f.values[v].typ
}

func (f *Function) BlockParams(b Block) []Value {
	return f.blocks[b].params
}

// BlockInsts returns the instructions of b in program order.
func (f *Function) BlockInsts(b Block) []*Inst {
	out := make([]*Inst, 0, len(f.blocks[b].insts))
	for _, idx := range f.blocks[b].insts {
		out = append(out, &f.insts[idx])
	}
	return out
}

func (f *Function) StackSlots() []StackSlotData {
	return append([]StackSlotData(nil), f.slots...)
}

func (f *Function) ExtFunc(ref FuncRef) ExtFunc {
	return f.funcs[ref]
}

func (f *Function) NumExtFuncs() int { return len(f.funcs) }

// IsLoopHeader reports whether b is the target of a branch from itself or
// from a later block.
func (f *Function) IsLoopHeader(b Block) bool {
	for src := int(b); src < len(f.blocks); src++ {
		for _, idx := range f.blocks[src].insts {
			for _, t := range f.insts[idx].Targets {
				if t.Block == b {
					return true
				}
			}
		}
	}
	return false
}
