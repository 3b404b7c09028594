package arm64

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
	"github.com/meijies/query-compile-prototype/internal/asm/arm64"
	"github.com/meijies/query-compile-prototype/internal/ir"
)

const (
	maxIntRegs   = 8
	maxFloatRegs = 8
	maxIntRets   = 2
	maxFloatRets = 2
	loopAlign    = 16
	maxFrameSize = 0xFFFFFF
)

var paramRegisters = []asm.Variable{
	arm64.X0, arm64.X1, arm64.X2, arm64.X3,
	arm64.X4, arm64.X5, arm64.X6, arm64.X7,
}

var floatRegisters = []arm64.VReg{
	arm64.V0, arm64.V1, arm64.V2, arm64.V3,
	arm64.V4, arm64.V5, arm64.V6, arm64.V7,
}

// Scratch registers. x16 is the intra-procedure-call register and carries
// call targets; x17 holds addresses whose offsets do not fit an immediate.
const (
	scratch0   = arm64.X9
	scratch1   = arm64.X10
	callTarget = arm64.X16
	addrTemp   = arm64.X17
	vscratch0  = arm64.V16
	vscratch1  = arm64.V17
)

type backend struct{}

func init() {
	ir.RegisterBackend(ir.ArchitectureARM64, backend{})
}

func (backend) Arch() ir.Architecture { return ir.ArchitectureARM64 }

func (backend) CallConv() ir.CallConv { return ir.CallConvAAPCS64 }

func (backend) Compile(fn *ir.Function, opts ir.CompileOptions) (asm.Program, error) {
	frag, err := Compile(fn, opts)
	if err != nil {
		return asm.Program{}, err
	}
	return arm64.EmitProgram(frag)
}

type compiler struct {
	fn           *ir.Function
	opts         ir.CompileOptions
	layout       ir.FrameLayout
	fragments    asm.Group
	labelCounter int
}

// Compile lowers fn with every value kept in a frame slot addressed from
// sp. x29 holds the frame base so the epilogue can restore sp directly.
func Compile(fn *ir.Function, opts ir.CompileOptions) (asm.Fragment, error) {
	if fn == nil {
		return nil, fmt.Errorf("arm64: nil function")
	}
	c := &compiler{
		fn:     fn,
		opts:   opts,
		layout: ir.ComputeFrame(fn, 0),
	}
	if err := c.compileFunction(); err != nil {
		return nil, fmt.Errorf("arm64: compile %q: %w", fn.Name, err)
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

func x(id asm.Variable) arm64.Reg { return arm64.Reg64(id) }

func w(id asm.Variable) arm64.Reg { return arm64.Reg32(id) }

// spMem returns [sp+disp] for an access of width bytes. Offsets outside the
// scaled immediate range go through x17, which is clobbered.
func (c *compiler) spMem(disp int32, width int) arm64.Memory {
	if arm64.Encodable(disp, width) {
		return arm64.Mem(x(arm64.SP)).WithDisp(disp)
	}
	c.emit(
		arm64.MovImmediate(x(addrTemp), int64(disp)),
		arm64.AddSPReg(x(addrTemp), x(addrTemp)),
	)
	return arm64.Mem(x(addrTemp))
}

func (c *compiler) ptrMem(base asm.Variable, disp int32, width int) arm64.Memory {
	if arm64.Encodable(disp, width) {
		return arm64.Mem(x(base)).WithDisp(disp)
	}
	c.emit(
		arm64.MovImmediate(x(addrTemp), int64(disp)),
		arm64.AddReg(x(addrTemp), x(base), x(addrTemp)),
	)
	return arm64.Mem(x(addrTemp))
}

func homeWidth(t ir.Type) int {
	if t.IsVector() {
		return 16
	}
	return 8
}

func (c *compiler) home(v ir.Value) arm64.Memory {
	return c.spMem(c.layout.Values[v], homeWidth(c.fn.ValueType(v)))
}

func (c *compiler) compileFunction() error {
	params, err := ir.AssignRegisters(c.fn.Sig.Params, maxIntRegs, maxFloatRegs, ir.ErrTooManyParams)
	if err != nil {
		return err
	}
	if _, err := ir.AssignRegisters(c.fn.Sig.Returns, maxIntRets, maxFloatRets, ir.ErrTooManyResults); err != nil {
		return err
	}
	size := c.layout.Size
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes is too large", size)
	}

	c.emit(
		arm64.StpPreFP(),
		arm64.AddImm(x(arm64.X29), x(arm64.SP), 0, false),
	)
	if hi := uint32(size) >> 12; hi != 0 {
		c.emit(arm64.SubImm(x(arm64.SP), x(arm64.SP), hi, true))
	}
	if lo := uint32(size) & 0xFFF; lo != 0 {
		c.emit(arm64.SubImm(x(arm64.SP), x(arm64.SP), lo, false))
	}

	for i, v := range c.fn.BlockParams(0) {
		c.spillIncoming(v, params[i], paramRegisters, floatRegisters)
	}

	for b := 0; b < c.fn.NumBlocks(); b++ {
		blk := ir.Block(b)
		if b > 0 && c.opts.AlignLoops && c.fn.IsLoopHeader(blk) {
			c.emit(arm64.Align(loopAlign))
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

// normalize clears the bits of reg above the width of t.
func normalize(reg asm.Variable, t ir.Type) []asm.Fragment {
	switch t {
	case ir.I8:
		return []asm.Fragment{arm64.Uxtb(w(reg), w(reg))}
	case ir.I16:
		return []asm.Fragment{arm64.Uxth(w(reg), w(reg))}
	case ir.I32:
		return []asm.Fragment{arm64.MovReg(w(reg), w(reg))}
	default:
		return nil
	}
}

func fpWidth(t ir.Type) int {
	switch {
	case t.IsVector():
		return 16
	case t == ir.F32:
		return 4
	default:
		return 8
	}
}

func (c *compiler) spillIncoming(v ir.Value, loc ir.RegLoc, ints []asm.Variable, floats []arm64.VReg) {
	t := c.fn.ValueType(v)
	if loc.Class == ir.ClassInt {
		reg := ints[loc.Index]
		c.emit(normalize(reg, t)...)
		c.emit(arm64.Store(c.home(v), x(reg), 8))
		return
	}
	c.emit(arm64.StoreFP(c.home(v), floats[loc.Index], fpWidth(t)))
}

func (c *compiler) loadGPR(dst asm.Variable, v ir.Value) {
	c.emit(arm64.Load(x(dst), c.home(v), 8))
}

func (c *compiler) storeGPR(v ir.Value, src asm.Variable) {
	c.emit(arm64.Store(c.home(v), x(src), 8))
}

func (c *compiler) loadV(dst arm64.VReg, v ir.Value) {
	t := c.fn.ValueType(v)
	c.emit(arm64.LoadFP(dst, c.home(v), fpWidth(t)))
}

func (c *compiler) storeV(v ir.Value, src arm64.VReg) {
	t := c.fn.ValueType(v)
	c.emit(arm64.StoreFP(c.home(v), src, fpWidth(t)))
}

// copySlot moves a value of type t between two sp-relative offsets.
func (c *compiler) copySlot(dst, src int32, t ir.Type) {
	if t.IsVector() {
		c.emit(arm64.LoadFP(vscratch0, c.spMem(src, 16), 16))
		c.emit(arm64.StoreFP(c.spMem(dst, 16), vscratch0, 16))
		return
	}
	c.emit(arm64.Load(x(scratch0), c.spMem(src, 8), 8))
	c.emit(arm64.Store(c.spMem(dst, 8), x(scratch0), 8))
}

func (c *compiler) compileInst(inst *ir.Inst) error {
	switch inst.Op {
	case ir.OpIConst, ir.OpFConst:
		c.emit(arm64.MovImmediate(x(scratch0), inst.Imm))
		c.storeGPR(inst.Result(), scratch0)
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
		src := c.layout.Values[inst.Args[0]] + int32(8*inst.Imm)
		c.copySlot(c.layout.Values[inst.Result()], src, inst.Type.LaneType())
		return nil
	case ir.OpLoad:
		c.loadGPR(scratch1, inst.Args[0])
		c.loadFrom(func(width int) arm64.Memory {
			return c.ptrMem(scratch1, int32(inst.Imm), width)
		}, inst.Type, inst.Result())
		return nil
	case ir.OpStore:
		c.loadGPR(scratch1, inst.Args[1])
		c.storeTo(func(width int) arm64.Memory {
			return c.ptrMem(scratch1, int32(inst.Imm), width)
		}, inst.Type, inst.Args[0])
		return nil
	case ir.OpStackLoad:
		off := c.layout.Slots[inst.Slot] + int32(inst.Imm)
		c.loadFrom(func(width int) arm64.Memory { return c.spMem(off, width) }, inst.Type, inst.Result())
		return nil
	case ir.OpStackStore:
		off := c.layout.Slots[inst.Slot] + int32(inst.Imm)
		c.storeTo(func(width int) arm64.Memory { return c.spMem(off, width) }, inst.Type, inst.Args[0])
		return nil
	case ir.OpStackAddr:
		off := c.layout.Slots[inst.Slot] + int32(inst.Imm)
		if off >= 0 && off <= 0xFFF {
			c.emit(arm64.AddImm(x(scratch0), x(arm64.SP), uint32(off), false))
		} else {
			c.emit(
				arm64.MovImmediate(x(scratch0), int64(off)),
				arm64.AddSPReg(x(scratch0), x(scratch0)),
			)
		}
		c.storeGPR(inst.Result(), scratch0)
		return nil
	case ir.OpCall:
		return c.compileCall(inst)
	case ir.OpJump:
		c.compileTransfer(inst.Targets[0])
		c.emit(arm64.Jump(blockLabel(inst.Targets[0].Block)))
		return nil
	case ir.OpBrif:
		return c.compileBrif(inst)
	case ir.OpReturn:
		return c.compileReturn(inst)
	default:
		return fmt.Errorf("unsupported instruction %s", inst.Op)
	}
}

// loadFrom reads a t-typed value into the home of dst. mem is called once,
// immediately before the access, since it may clobber x17.
func (c *compiler) loadFrom(mem func(width int) arm64.Memory, t ir.Type, dst ir.Value) {
	switch width := t.Bytes(); width {
	case 1, 2, 4:
		c.emit(arm64.Load(w(scratch0), mem(width), width))
	case 8:
		c.emit(arm64.Load(x(scratch0), mem(width), width))
	default:
		c.emit(arm64.LoadFP(vscratch0, mem(width), width))
		c.storeV(dst, vscratch0)
		return
	}
	c.storeGPR(dst, scratch0)
}

func (c *compiler) storeTo(mem func(width int) arm64.Memory, t ir.Type, src ir.Value) {
	width := t.Bytes()
	if width == 16 {
		c.loadV(vscratch0, src)
		c.emit(arm64.StoreFP(mem(width), vscratch0, width))
		return
	}
	c.loadGPR(scratch0, src)
	c.emit(arm64.Store(mem(width), x(scratch0), width))
}

func (c *compiler) compileIntBinary(inst *ir.Inst) error {
	if inst.Type == ir.I64X2 {
		c.loadV(vscratch0, inst.Args[0])
		c.loadV(vscratch1, inst.Args[1])
		switch inst.Op {
		case ir.OpIAdd:
			c.emit(arm64.Add2D(vscratch0, vscratch0, vscratch1))
		case ir.OpISub:
			c.emit(arm64.Sub2D(vscratch0, vscratch0, vscratch1))
		case ir.OpBand:
			c.emit(arm64.And16B(vscratch0, vscratch0, vscratch1))
		case ir.OpBor:
			c.emit(arm64.Orr16B(vscratch0, vscratch0, vscratch1))
		default:
			return fmt.Errorf("unsupported %s.%s", inst.Op, inst.Type)
		}
		c.storeV(inst.Result(), vscratch0)
		return nil
	}

	dst, lhs, rhs := x(scratch0), x(scratch0), x(scratch1)
	c.loadGPR(scratch0, inst.Args[0])
	c.loadGPR(scratch1, inst.Args[1])
	switch inst.Op {
	case ir.OpIAdd:
		c.emit(arm64.AddReg(dst, lhs, rhs))
	case ir.OpISub:
		c.emit(arm64.SubReg(dst, lhs, rhs))
	case ir.OpIMul:
		c.emit(arm64.Mul(dst, lhs, rhs))
	case ir.OpBand:
		c.emit(arm64.AndReg(dst, lhs, rhs))
	case ir.OpBor:
		c.emit(arm64.OrrReg(dst, lhs, rhs))
	}
	c.emit(normalize(scratch0, inst.Type)...)
	c.storeGPR(inst.Result(), scratch0)
	return nil
}

func (c *compiler) compileFloatBinary(inst *ir.Inst) error {
	c.loadV(vscratch0, inst.Args[0])
	c.loadV(vscratch1, inst.Args[1])
	d, l, r := vscratch0, vscratch0, vscratch1

	if inst.Type == ir.F64X2 {
		switch inst.Op {
		case ir.OpFAdd:
			c.emit(arm64.FAdd2D(d, l, r))
		case ir.OpFSub:
			c.emit(arm64.FSub2D(d, l, r))
		case ir.OpFMul:
			c.emit(arm64.FMul2D(d, l, r))
		case ir.OpFDiv:
			c.emit(arm64.FDiv2D(d, l, r))
		}
		c.storeV(inst.Result(), d)
		return nil
	}

	size := arm64.Double
	switch inst.Type {
	case ir.F64:
	case ir.F32:
		size = arm64.Single
	default:
		return fmt.Errorf("unsupported %s.%s", inst.Op, inst.Type)
	}
	switch inst.Op {
	case ir.OpFAdd:
		c.emit(arm64.FAdd(size, d, l, r))
	case ir.OpFSub:
		c.emit(arm64.FSub(size, d, l, r))
	case ir.OpFMul:
		c.emit(arm64.FMul(size, d, l, r))
	case ir.OpFDiv:
		c.emit(arm64.FDiv(size, d, l, r))
	}
	c.storeV(inst.Result(), d)
	return nil
}

var intConds = map[ir.IntCC]arm64.Cond{
	ir.IntEQ:  arm64.CondEQ,
	ir.IntNE:  arm64.CondNE,
	ir.IntSLT: arm64.CondLT,
	ir.IntSLE: arm64.CondLE,
	ir.IntSGT: arm64.CondGT,
	ir.IntSGE: arm64.CondGE,
	ir.IntULT: arm64.CondLO,
	ir.IntULE: arm64.CondLS,
	ir.IntUGT: arm64.CondHI,
	ir.IntUGE: arm64.CondHS,
}

// Unordered fcmp sets C and V; these conditions are false for NaN except ne.
var floatConds = map[ir.FloatCC]arm64.Cond{
	ir.FloatEQ: arm64.CondEQ,
	ir.FloatNE: arm64.CondNE,
	ir.FloatLT: arm64.CondMI,
	ir.FloatLE: arm64.CondLS,
	ir.FloatGT: arm64.CondGT,
	ir.FloatGE: arm64.CondGE,
}

func (c *compiler) compileICmp(inst *ir.Inst) error {
	cond, ok := intConds[ir.IntCC(inst.Imm)]
	if !ok {
		return fmt.Errorf("unsupported condition %s", ir.IntCC(inst.Imm))
	}
	c.loadGPR(scratch0, inst.Args[0])
	c.loadGPR(scratch1, inst.Args[1])
	if inst.Type == ir.I32 {
		c.emit(arm64.CmpReg(w(scratch0), w(scratch1)))
	} else {
		c.emit(arm64.CmpReg(x(scratch0), x(scratch1)))
	}
	c.emit(arm64.Cset(x(scratch0), cond))
	c.storeGPR(inst.Result(), scratch0)
	return nil
}

func (c *compiler) compileFCmp(inst *ir.Inst) error {
	cond, ok := floatConds[ir.FloatCC(inst.Imm)]
	if !ok {
		return fmt.Errorf("unsupported condition %s", ir.FloatCC(inst.Imm))
	}
	size := arm64.Double
	if inst.Type == ir.F32 {
		size = arm64.Single
	}
	c.loadV(vscratch0, inst.Args[0])
	c.loadV(vscratch1, inst.Args[1])
	c.emit(
		arm64.FCmp(size, vscratch0, vscratch1),
		arm64.Cset(x(scratch0), cond),
	)
	c.storeGPR(inst.Result(), scratch0)
	return nil
}

func (c *compiler) compileVectorFCmp(inst *ir.Inst) error {
	c.loadV(vscratch0, inst.Args[0])
	c.loadV(vscratch1, inst.Args[1])
	d, a, b := vscratch0, vscratch0, vscratch1
	switch ir.FloatCC(inst.Imm) {
	case ir.FloatEQ:
		c.emit(arm64.FCmEq2D(d, a, b))
	case ir.FloatNE:
		c.emit(arm64.FCmEq2D(d, a, b), arm64.Not16B(d, d))
	case ir.FloatLT:
		c.emit(arm64.FCmGt2D(d, b, a))
	case ir.FloatLE:
		c.emit(arm64.FCmGe2D(d, b, a))
	case ir.FloatGT:
		c.emit(arm64.FCmGt2D(d, a, b))
	case ir.FloatGE:
		c.emit(arm64.FCmGe2D(d, a, b))
	default:
		return fmt.Errorf("unsupported condition %s", ir.FloatCC(inst.Imm))
	}
	c.storeV(inst.Result(), d)
	return nil
}

func (c *compiler) compileSplat(inst *ir.Inst) error {
	switch inst.Type {
	case ir.F64X2:
		c.loadV(vscratch0, inst.Args[0])
		c.emit(arm64.DupElement2D(vscratch0, vscratch0))
	case ir.I64X2:
		c.loadGPR(scratch0, inst.Args[0])
		c.emit(arm64.DupGeneral2D(vscratch0, x(scratch0)))
	default:
		return fmt.Errorf("unsupported splat to %s", inst.Type)
	}
	c.storeV(inst.Result(), vscratch0)
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
		c.loadV(floatRegisters[loc.Index], arg)
	}
	c.emit(arm64.MovSymbol(x(callTarget), ext.Name), arm64.CallReg(x(callTarget)))

	for i, res := range inst.Results {
		c.spillIncoming(res, rets[i], paramRegisters, floatRegisters)
	}
	return nil
}

// compileTransfer copies branch arguments into the target's parameters in
// two phases through the transfer area.
func (c *compiler) compileTransfer(bc ir.BlockCall) {
	params := c.fn.BlockParams(bc.Block)
	for i, arg := range bc.Args {
		c.copySlot(c.layout.Transfer+int32(16*i), c.layout.Values[arg], c.fn.ValueType(arg))
	}
	for i, p := range params {
		c.copySlot(c.layout.Values[p], c.layout.Transfer+int32(16*i), c.fn.ValueType(p))
	}
}

func (c *compiler) compileBrif(inst *ir.Inst) error {
	els := c.newInternalLabel("else")
	c.loadGPR(scratch0, inst.Args[0])
	c.emit(arm64.JumpIfZero(x(scratch0), els))
	c.compileTransfer(inst.Targets[0])
	c.emit(arm64.Jump(blockLabel(inst.Targets[0].Block)), asm.MarkLabel(els))
	c.compileTransfer(inst.Targets[1])
	c.emit(arm64.Jump(blockLabel(inst.Targets[1].Block)))
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
			c.loadGPR(paramRegisters[loc.Index], v)
			continue
		}
		c.loadV(floatRegisters[loc.Index], v)
	}
	c.emit(
		arm64.AddImm(x(arm64.SP), x(arm64.X29), 0, false),
		arm64.LdpPostFP(),
		arm64.Ret(),
	)
	return nil
}
