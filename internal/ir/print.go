package ir

import (
	"fmt"
	"math"
	"strings"
)

// String renders the function in a compact textual form used for debug
// logging.
func (f *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %%%s%s {\n", f.Name, f.Sig)
	for i, s := range f.slots {
		fmt.Fprintf(&sb, "    %s = explicit_slot %d, align %d\n", StackSlot(i), s.Size, s.Align)
	}
	for i, ext := range f.funcs {
		fmt.Fprintf(&sb, "    %s = %%%s%s\n", FuncRef(i), ext.Name, ext.Sig)
	}
	for i := range f.blocks {
		blk := Block(i)
		params := make([]string, 0, len(f.blocks[i].params))
		for _, p := range f.blocks[i].params {
			params = append(params, fmt.Sprintf("%s: %s", p, f.values[p].typ))
		}
		fmt.Fprintf(&sb, "%s(%s):\n", blk, strings.Join(params, ", "))
		for _, inst := range f.BlockInsts(blk) {
			sb.WriteString("    ")
			sb.WriteString(f.formatInst(inst))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func valueList(vs []Value) string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return strings.Join(out, ", ")
}

func blockCall(bc BlockCall) string {
	return fmt.Sprintf("%s(%s)", bc.Block, valueList(bc.Args))
}

func (f *Function) formatInst(inst *Inst) string {
	lhs := ""
	if len(inst.Results) > 0 {
		lhs = valueList(inst.Results) + " = "
	}
	var rhs string
	switch inst.Op {
	case OpIConst:
		rhs = fmt.Sprintf("iconst.%s %d", inst.Type, inst.Imm)
	case OpFConst:
		v := math.Float64frombits(uint64(inst.Imm))
		if inst.Type == F32 {
			v = float64(math.Float32frombits(uint32(inst.Imm)))
		}
		rhs = fmt.Sprintf("fconst.%s %g", inst.Type, v)
	case OpICmp:
		rhs = fmt.Sprintf("icmp %s %s", IntCC(inst.Imm), valueList(inst.Args))
	case OpFCmp:
		rhs = fmt.Sprintf("fcmp %s %s", FloatCC(inst.Imm), valueList(inst.Args))
	case OpExtractLane:
		rhs = fmt.Sprintf("extractlane %s, %d", valueList(inst.Args), inst.Imm)
	case OpLoad, OpStore:
		rhs = fmt.Sprintf("%s.%s %s%+d", inst.Op, inst.Type, valueList(inst.Args), inst.Imm)
	case OpStackLoad, OpStackStore, OpStackAddr:
		args := valueList(inst.Args)
		if args != "" {
			args += ", "
		}
		rhs = fmt.Sprintf("%s.%s %s%s%+d", inst.Op, inst.Type, args, inst.Slot, inst.Imm)
	case OpCall:
		rhs = fmt.Sprintf("call %s(%s)", inst.Func, valueList(inst.Args))
	case OpJump:
		rhs = "jump " + blockCall(inst.Targets[0])
	case OpBrif:
		rhs = fmt.Sprintf("brif %s, %s, %s", inst.Args[0], blockCall(inst.Targets[0]), blockCall(inst.Targets[1]))
	case OpReturn:
		rhs = "return " + valueList(inst.Args)
	default:
		rhs = fmt.Sprintf("%s.%s %s", inst.Op, inst.Type, valueList(inst.Args))
	}
	return strings.TrimRight(lhs+rhs, " ")
}
