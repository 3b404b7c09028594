package amd64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
	"github.com/meijies/query-compile-prototype/internal/asm/amd64"
	"github.com/meijies/query-compile-prototype/internal/ir"
)

const (
	maxIntRegs   = 6
	maxFloatRegs = 8
	maxIntRets   = 2
	maxFloatRets = 2
	loopAlign    = 16
)

var paramRegisters = []asm.Variable{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9}

var floatRegisters = []amd64.XReg{
	amd64.XMM0, amd64.XMM1, amd64.XMM2, amd64.XMM3,
	amd64.XMM4, amd64.XMM5, amd64.XMM6, amd64.XMM7,
}

var resultRegisters = []asm.Variable{amd64.RAX, amd64.RDX}

// Call targets are materialized in R11; it is caller-saved and never
// carries an argument.
const callTarget = amd64.R11

type backend struct{}

func init() {
	ir.RegisterBackend(ir.ArchitectureX86_64, backend{})
}

func (backend) Arch() ir.Architecture { return ir.ArchitectureX86_64 }

func (backend) CallConv() ir.CallConv { return ir.CallConvSystemV }

func (backend) Compile(fn *ir.Function, opts ir.CompileOptions) (asm.Program, error) {
	frag, err := Compile(fn, opts)
	if err != nil {
		return asm.Program{}, err
	}
	return amd64.EmitProgram(frag)
}

// compiler lowers a function with every value living in its own frame slot.
// Registers only hold values between the load and store of one instruction.
type compiler struct {
	fn           *ir.Function
	opts         ir.CompileOptions
	layout       ir.FrameLayout
	fragments    asm.Group
	labelCounter int
}

func Compile(fn *ir.Function, opts ir.CompileOptions) (asm.Fragment, error) {
	if fn == nil {
		return nil, fmt.Errorf("amd64: nil function")
	}
	c := &compiler{
		fn:     fn,
		opts:   opts,
		layout: ir.ComputeFrame(fn, 0),
	}
	if err := c.compileFunction(); err != nil {
		return nil, fmt.Errorf("amd64: compile %q: %w", fn.Name, err)
	}
	return c.fragments, nil
}

func MustCompile(fn *ir.Function, opts ir.CompileOptions) asm.Fragment {
	frag, err := Compile(fn, opts)
	if err != nil {
		panic(err)
	}
	return frag
}

func (c *compiler) emit(frags ...asm.Fragment) {
	c.fragments = append(c.fragments, frags...)
}

func blockLabel(b ir.Block) asm.Label {
	return asm.Label(fmt.Sprintf("block%d", int32(b)))
}

func (c *compiler) newInternalLabel(prefix string) asm.Label {
	c.labelCounter++
	return asm.Label(fmt.Sprintf("__%s_%d", prefix, c.labelCounter))
}

func sp() amd64.Memory { return amd64.Mem(amd64.Reg64(amd64.RSP)) }

func (c *compiler) home(v ir.Value) amd64.Memory {
	return sp().WithDisp(c.layout.Values[v])
}

func (c *compiler) compileFunction() error {
	params, err := ir.AssignRegisters(c.fn.Sig.Params, maxIntRegs, maxFloatRegs, ir.ErrTooManyParams)
	if err != nil {
		return err
	}
	if _, err := ir.AssignRegisters(c.fn.Sig.Returns, maxIntRets, maxFloatRets, ir.ErrTooManyResults); err != nil {
		return err
	}

	c.emit(
		amd64.Push(amd64.RBP),
		amd64.MovReg(amd64.Reg64(amd64.RBP), amd64.Reg64(amd64.RSP)),
	)
	if c.layout.Size > 0 {
		c.emit(amd64.SubRegImm(amd64.Reg64(amd64.RSP), c.layout.Size))
	}

	for i, v := range c.fn.BlockParams(0) {
		c.spillIncoming(v, params[i], paramRegisters, floatRegisters)
	}

	for b := 0; b < c.fn.NumBlocks(); b++ {
		blk := ir.Block(b)
		if b > 0 && c.opts.AlignLoops && c.fn.IsLoopHeader(blk) {
			c.emit(amd64.Align(loopAlign))
		}
		c.emit(asm.MarkLabel(blockLabel(blk)))
		for _, inst := range c.fn.BlockInsts(blk) {
			if err := c.compileInst(inst); err != nil {
				return fmt.Errorf("%s: %w", blk, err)
			}
		}
	}
	return nil
}

// spillIncoming stores a value arriving in an ABI register into its home.
// Narrow integers are zero-extended since the upper bits are unspecified.
func (c *compiler) spillIncoming(v ir.Value, loc ir.RegLoc, ints []asm.Variable, floats []amd64.XReg) {
	t := c.fn.ValueType(v)
	if loc.Class == ir.ClassInt {
		reg := ints[loc.Index]
		c.emit(normalize(reg, t)...)
		c.emit(amd64.MovToMemory(c.home(v), amd64.Reg64(reg)))
		return
	}
	c.storeXmm(c.home(v), floats[loc.Index], t)
}

// normalize clears the bits of reg above the width of t.
func normalize(reg asm.Variable, t ir.Type) []asm.Fragment {
	switch t {
	case ir.I8:
		return []asm.Fragment{amd64.MovZXReg8(amd64.Reg64(reg), amd64.Reg64(reg))}
	case ir.I16:
		return []asm.Fragment{amd64.MovZXReg16(amd64.Reg64(reg), amd64.Reg64(reg))}
	case ir.I32:
		return []asm.Fragment{amd64.MovReg(amd64.Reg32(reg), amd64.Reg32(reg))}
	default:
		return nil
	}
}

func (c *compiler) loadXmm(dst amd64.XReg, mem amd64.Memory, t ir.Type) {
	switch {
	case t.IsVector():
		c.emit(amd64.MovupdLoad(dst, mem))
	case t == ir.F32:
		c.emit(amd64.MovssLoad(dst, mem))
	default:
		c.emit(amd64.MovsdLoad(dst, mem))
	}
}

func (c *compiler) storeXmm(mem amd64.Memory, src amd64.XReg, t ir.Type) {
	switch {
	case t.IsVector():
		c.emit(amd64.MovupdStore(mem, src))
	case t == ir.F32:
		c.emit(amd64.MovssStore(mem, src))
	default:
		c.emit(amd64.MovsdStore(mem, src))
	}
}

func (c *compiler) loadGPR(dst asm.Variable, v ir.Value) {
	c.emit(amd64.MovFromMemory(amd64.Reg64(dst), c.home(v)))
}

func (c *compiler) storeGPR(v ir.Value, src asm.Variable) {
	c.emit(amd64.MovToMemory(c.home(v), amd64.Reg64(src)))
}

// copyMem moves a value of type t between two frame locations.
func (c *compiler) copyMem(dst, src amd64.Memory, t ir.Type) {
	if t.IsVector() {
		c.emit(amd64.MovupdLoad(amd64.XMM0, src), amd64.MovupdStore(dst, amd64.XMM0))
		return
	}
	c.emit(
		amd64.MovFromMemory(amd64.Reg64(amd64.RAX), src),
		amd64.MovToMemory(dst, amd64.Reg64(amd64.RAX)),
	)
}

func (c *compiler) compileInst(inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpIConst, ir.OpFConst:
		c.emit(amd64.MovImmediate(amd64.Reg64(amd64.RAX), inst.Imm))
		c.storeGPR(inst.Result(), amd64.RAX)
		return nil
	case ir.OpIAdd, ir.OpISub, ir.OpIMul, ir.OpBand, ir.OpBor:
		return c.compileIntBinary(inst)
	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		return c.compileFloatBinary(inst)
	case ir.OpICmp:
		return c.compileICmp(inst)
	case ir.OpFCmp:
		if inst.Type.IsVector() {
			return c.compileVectorFCmp(inst)
		}
		return c.compileFCmp(inst)
	case ir.OpSplat:
		return c.compileSplat(inst)
	case ir.OpExtractLane:
		lane := sp().WithDisp(c.layout.Values[inst.Args[0]] + int32(8*inst.Imm))
		c.copyMem(c.home(inst.Result()), lane, inst.Type.LaneType())
		return nil
	case ir.OpLoad:
		c.loadGPR(amd64.RCX, inst.Args[0])
		c.loadFrom(amd64.Mem(amd64.Reg64(amd64.RCX)).WithDisp(int32(inst.Imm)), inst.Type, inst.Result())
		return nil
	case ir.OpStore:
		c.loadGPR(amd64.RCX, inst.Args[1])
		c.storeTo(amd64.Mem(amd64.Reg64(amd64.RCX)).WithDisp(int32(inst.Imm)), inst.Type, inst.Args[0])
		return nil
	case ir.OpStackLoad:
		c.loadFrom(c.slotMem(inst), inst.Type, inst.Result())
		return nil
	case ir.OpStackStore:
		c.storeTo(c.slotMem(inst), inst.Type, inst.Args[0])
		return nil
	case ir.OpStackAddr:
		c.emit(amd64.Lea(amd64.Reg64(amd64.RAX), c.slotMem(inst)))
		c.storeGPR(inst.Result(), amd64.RAX)
		return nil
	case ir.OpCall:
		return c.compileCall(inst)
	case ir.OpJump:
		c.compileTransfer(inst.Targets[0])
		c.emit(amd64.Jump(blockLabel(inst.Targets[0].Block)))
		return nil
	case ir.OpBrif:
		return c.compileBrif(inst)
	case ir.OpReturn:
		return c.compileReturn(inst)
	default:
		return fmt.Errorf("unsupported instruction %s", inst.Op)
	}
}

func (c *compiler) slotMem(inst *ir.Inst) amd64.Memory {
	return sp().WithDisp(c.layout.Slots[inst.Slot] + int32(inst.Imm))
}

// loadFrom reads a t-typed value at mem into the home of dst.
func (c *compiler) loadFrom(mem amd64.Memory, t ir.Type, dst ir.Value) {
	rax := amd64.Reg64(amd64.RAX)
	switch t.Bytes() {
	case 1, 2:
		c.emit(amd64.MovZX(rax, mem, t.Bytes()))
	case 4:
		c.emit(amd64.MovFromMemory(amd64.Reg32(amd64.RAX), mem))
	case 8:
		c.emit(amd64.MovFromMemory(rax, mem))
	default:
		c.emit(amd64.MovupdLoad(amd64.XMM0, mem), amd64.MovupdStore(c.home(dst), amd64.XMM0))
		return
	}
	c.storeGPR(dst, amd64.RAX)
}

func (c *compiler) storeTo(mem amd64.Memory, t ir.Type, src ir.Value) {
	switch t.Bytes() {
	case 1:
		c.loadGPR(amd64.RAX, src)
		c.emit(amd64.MovToMemory(mem, amd64.Reg8(amd64.RAX)))
	case 2:
		c.loadGPR(amd64.RAX, src)
		c.emit(amd64.MovToMemory(mem, amd64.Reg16(amd64.RAX)))
	case 4:
		c.loadGPR(amd64.RAX, src)
		c.emit(amd64.MovToMemory(mem, amd64.Reg32(amd64.RAX)))
	case 8:
		c.loadGPR(amd64.RAX, src)
		c.emit(amd64.MovToMemory(mem, amd64.Reg64(amd64.RAX)))
	default:
		c.emit(amd64.MovupdLoad(amd64.XMM0, c.home(src)), amd64.MovupdStore(mem, amd64.XMM0))
	}
}

func (c *compiler) compileIntBinary(inst *ir.Inst) error {
	if inst.Type == ir.I64X2 {
		c.emit(amd64.MovupdLoad(amd64.XMM0, c.home(inst.Args[0])), amd64.MovupdLoad(amd64.XMM1, c.home(inst.Args[1])))
		switch inst.Op {
		case ir.OpIAdd:
			c.emit(amd64.Paddq(amd64.XMM0, amd64.XMM1))
		case ir.OpISub:
			c.emit(amd64.Psubq(amd64.XMM0, amd64.XMM1))
		case ir.OpBand:
			c.emit(amd64.Pand(amd64.XMM0, amd64.XMM1))
		case ir.OpBor:
			c.emit(amd64.Por(amd64.XMM0, amd64.XMM1))
		default:
			return fmt.Errorf("unsupported %s.%s", inst.Op, inst.Type)
		}
		c.emit(amd64.MovupdStore(c.home(inst.Result()), amd64.XMM0))
		return nil
	}

	rax, rcx := amd64.Reg64(amd64.RAX), amd64.Reg64(amd64.RCX)
	c.loadGPR(amd64.RAX, inst.Args[0])
	c.loadGPR(amd64.RCX, inst.Args[1])
	switch inst.Op {
	case ir.OpIAdd:
		c.emit(amd64.AddReg(rax, rcx))
	case ir.OpISub:
		c.emit(amd64.SubReg(rax, rcx))
	case ir.OpIMul:
		c.emit(amd64.IMulReg(rax, rcx))
	case ir.OpBand:
		c.emit(amd64.AndReg(rax, rcx))
	case ir.OpBor:
		c.emit(amd64.OrReg(rax, rcx))
	}
	c.emit(normalize(amd64.RAX, inst.Type)...)
	c.storeGPR(inst.Result(), amd64.RAX)
	return nil
}

func (c *compiler) compileFloatBinary(inst *ir.Inst) error {
	type ops struct{ add, sub, mul, div func(dst, src amd64.XReg) asm.Fragment }
	var set ops
	switch inst.Type {
	case ir.F64:
		set = ops{amd64.AddSD, amd64.SubSD, amd64.MulSD, amd64.DivSD}
	case ir.F32:
		set = ops{amd64.AddSS, amd64.SubSS, amd64.MulSS, amd64.DivSS}
	case ir.F64X2:
		set = ops{amd64.AddPD, amd64.SubPD, amd64.MulPD, amd64.DivPD}
	default:
		return fmt.Errorf("unsupported %s.%s", inst.Op, inst.Type)
	}
	c.loadXmm(amd64.XMM0, c.home(inst.Args[0]), inst.Type)
	c.loadXmm(amd64.XMM1, c.home(inst.Args[1]), inst.Type)
	switch inst.Op {
	case ir.OpFAdd:
		c.emit(set.add(amd64.XMM0, amd64.XMM1))
	case ir.OpFSub:
		c.emit(set.sub(amd64.XMM0, amd64.XMM1))
	case ir.OpFMul:
		c.emit(set.mul(amd64.XMM0, amd64.XMM1))
	case ir.OpFDiv:
		c.emit(set.div(amd64.XMM0, amd64.XMM1))
	}
	c.storeXmm(c.home(inst.Result()), amd64.XMM0, inst.Type)
	return nil
}

var intConds = map[ir.IntCC]amd64.Cond{
	ir.IntEQ:  amd64.CondE,
	ir.IntNE:  amd64.CondNE,
	ir.IntSLT: amd64.CondL,
	ir.IntSLE: amd64.CondLE,
	ir.IntSGT: amd64.CondG,
	ir.IntSGE: amd64.CondGE,
	ir.IntULT: amd64.CondB,
	ir.IntULE: amd64.CondBE,
	ir.IntUGT: amd64.CondA,
	ir.IntUGE: amd64.CondAE,
}

func (c *compiler) compileICmp(inst *ir.Inst) error {
	cond, ok := intConds[ir.IntCC(inst.Imm)]
	if !ok {
		return fmt.Errorf("unsupported condition %s", ir.IntCC(inst.Imm))
	}
	c.loadGPR(amd64.RAX, inst.Args[0])
	c.loadGPR(amd64.RCX, inst.Args[1])
	if inst.Type == ir.I32 {
		c.emit(amd64.CmpReg(amd64.Reg32(amd64.RAX), amd64.Reg32(amd64.RCX)))
	} else {
		c.emit(amd64.CmpReg(amd64.Reg64(amd64.RAX), amd64.Reg64(amd64.RCX)))
	}
	c.emit(
		amd64.SetCC(cond, amd64.Reg8(amd64.RAX)),
		amd64.MovZXReg8(amd64.Reg64(amd64.RAX), amd64.Reg64(amd64.RAX)),
	)
	c.storeGPR(inst.Result(), amd64.RAX)
	return nil
}

// compileFCmp uses ucomis, which reports unordered as ZF=PF=CF=1. Ordering
// tests are phrased as "above" so NaN operands yield false; eq and ne
// additionally consult the parity flag.
func (c *compiler) compileFCmp(inst *ir.Inst) error {
	ucomi := amd64.Ucomisd
	if inst.Type == ir.F32 {
		ucomi = amd64.Ucomiss
	}
	c.loadXmm(amd64.XMM0, c.home(inst.Args[0]), inst.Type)
	c.loadXmm(amd64.XMM1, c.home(inst.Args[1]), inst.Type)

	al, cl := amd64.Reg8(amd64.RAX), amd64.Reg8(amd64.RCX)
	eax, ecx := amd64.Reg32(amd64.RAX), amd64.Reg32(amd64.RCX)
	rax, rcx := amd64.Reg64(amd64.RAX), amd64.Reg64(amd64.RCX)
	switch ir.FloatCC(inst.Imm) {
	case ir.FloatLT:
		c.emit(ucomi(amd64.XMM1, amd64.XMM0), amd64.SetCC(amd64.CondA, al))
	case ir.FloatLE:
		c.emit(ucomi(amd64.XMM1, amd64.XMM0), amd64.SetCC(amd64.CondAE, al))
	case ir.FloatGT:
		c.emit(ucomi(amd64.XMM0, amd64.XMM1), amd64.SetCC(amd64.CondA, al))
	case ir.FloatGE:
		c.emit(ucomi(amd64.XMM0, amd64.XMM1), amd64.SetCC(amd64.CondAE, al))
	case ir.FloatEQ:
		c.emit(
			ucomi(amd64.XMM0, amd64.XMM1),
			amd64.SetCC(amd64.CondE, al),
			amd64.SetCC(amd64.CondNP, cl),
			amd64.MovZXReg8(rcx, rcx),
			amd64.MovZXReg8(rax, rax),
			amd64.AndReg(eax, ecx),
		)
	case ir.FloatNE:
		c.emit(
			ucomi(amd64.XMM0, amd64.XMM1),
			amd64.SetCC(amd64.CondNE, al),
			amd64.SetCC(amd64.CondP, cl),
			amd64.MovZXReg8(rcx, rcx),
			amd64.MovZXReg8(rax, rax),
			amd64.OrReg(eax, ecx),
		)
	default:
		return fmt.Errorf("unsupported condition %s", ir.FloatCC(inst.Imm))
	}
	c.emit(amd64.MovZXReg8(rax, rax))
	c.storeGPR(inst.Result(), amd64.RAX)
	return nil
}

func (c *compiler) compileVectorFCmp(inst *ir.Inst) error {
	x, y := amd64.XMM0, amd64.XMM1
	var pred amd64.CmpPredicate
	switch ir.FloatCC(inst.Imm) {
	case ir.FloatEQ:
		pred = amd64.CmpEQ
	case ir.FloatNE:
		pred = amd64.CmpNEQ
	case ir.FloatLT:
		pred = amd64.CmpLT
	case ir.FloatLE:
		pred = amd64.CmpLE
	case ir.FloatGT:
		pred, x, y = amd64.CmpLT, y, x
	case ir.FloatGE:
		pred, x, y = amd64.CmpLE, y, x
	default:
		return fmt.Errorf("unsupported condition %s", ir.FloatCC(inst.Imm))
	}
	c.emit(
		amd64.MovupdLoad(amd64.XMM0, c.home(inst.Args[0])),
		amd64.MovupdLoad(amd64.XMM1, c.home(inst.Args[1])),
		amd64.CmpPD(x, y, pred),
		amd64.MovupdStore(c.home(inst.Result()), x),
	)
	return nil
}

func (c *compiler) compileSplat(inst *ir.Inst) error {
	switch inst.Type {
	case ir.F64X2:
		c.emit(
			amd64.MovsdLoad(amd64.XMM0, c.home(inst.Args[0])),
			amd64.Unpcklpd(amd64.XMM0, amd64.XMM0),
		)
	case ir.I64X2:
		c.loadGPR(amd64.RAX, inst.Args[0])
		c.emit(
			amd64.MovqToXmm(amd64.XMM0, amd64.Reg64(amd64.RAX)),
			amd64.Punpcklqdq(amd64.XMM0, amd64.XMM0),
		)
	default:
		return fmt.Errorf("unsupported splat to %s", inst.Type)
	}
	c.emit(amd64.MovupdStore(c.home(inst.Result()), amd64.XMM0))
	return nil
}

func (c *compiler) compileCall(inst *ir.Inst) error {
	ext := c.fn.ExtFunc(inst.Func)
	args, err := ir.AssignRegisters(ext.Sig.Params, maxIntRegs, maxFloatRegs, ir.ErrTooManyParams)
	if err != nil {
		return fmt.Errorf("call %s: %w", ext.Name, err)
	}
	rets, err := ir.AssignRegisters(ext.Sig.Returns, maxIntRets, maxFloatRets, ir.ErrTooManyResults)
	if err != nil {
		return fmt.Errorf("call %s: %w", ext.Name, err)
	}

	for i, arg := range inst.Args {
		loc := args[i]
		if loc.Class == ir.ClassInt {
			c.loadGPR(paramRegisters[loc.Index], arg)
			continue
		}
		c.loadXmm(floatRegisters[loc.Index], c.home(arg), ext.Sig.Params[i])
	}
	c.emit(amd64.MovSymbol(callTarget, ext.Name), amd64.CallReg(callTarget))

	for i, res := range inst.Results {
		loc := rets[i]
		c.spillIncoming(res, loc, resultRegisters, floatRegisters)
	}
	return nil
}

// compileTransfer copies branch arguments into the target's parameters in
// two phases through the transfer area.
func (c *compiler) compileTransfer(bc ir.BlockCall) {
	params := c.fn.BlockParams(bc.Block)
	for i, arg := range bc.Args {
		c.copyMem(sp().WithDisp(c.layout.Transfer+int32(16*i)), c.home(arg), c.fn.ValueType(arg))
	}
	for i, p := range params {
		c.copyMem(c.home(p), sp().WithDisp(c.layout.Transfer+int32(16*i)), c.fn.ValueType(p))
	}
}

func (c *compiler) compileBrif(inst *ir.Inst) error {
	els := c.newInternalLabel("else")
	c.loadGPR(amd64.RAX, inst.Args[0])
	c.emit(
		amd64.TestReg(amd64.Reg64(amd64.RAX), amd64.Reg64(amd64.RAX)),
		amd64.JumpIf(amd64.CondE, els),
	)
	c.compileTransfer(inst.Targets[0])
	c.emit(amd64.Jump(blockLabel(inst.Targets[0].Block)), asm.MarkLabel(els))
	c.compileTransfer(inst.Targets[1])
	c.emit(amd64.Jump(blockLabel(inst.Targets[1].Block)))
	return nil
}

func (c *compiler) compileReturn(inst *ir.Inst) error {
	rets, err := ir.AssignRegisters(c.fn.Sig.Returns, maxIntRets, maxFloatRets, ir.ErrTooManyResults)
	if err != nil {
		return err
	}
	for i, v := range inst.Args {
		loc := rets[i]
		if loc.Class == ir.ClassInt {
			c.loadGPR(resultRegisters[loc.Index], v)
			continue
		}
		c.loadXmm(floatRegisters[loc.Index], c.home(v), c.fn.Sig.Returns[i])
	}
	c.emit(
		amd64.MovReg(amd64.Reg64(amd64.RSP), amd64.Reg64(amd64.RBP)),
		amd64.Pop(amd64.RBP),
		amd64.Ret(),
	)
	return nil
}
