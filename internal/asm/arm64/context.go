package arm64

import (
	"encoding/binary"
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

type Context struct {
	text     []byte
	labels   map[asm.Label]int
	branches []branchPatch
	symbols  []asm.SymbolReloc
}

type branchKind uint8

const (
	branchB branchKind = iota
	branchCond
	branchCompare
)

type branchPatch struct {
	label asm.Label
	pos   int
	kind  branchKind
}

func newContext() *Context {
	return &Context{
		labels: make(map[asm.Label]int),
	}
}

func requireContext(ctx asm.Context) (*Context, error) {
	if c, ok := ctx.(*Context); ok {
		return c, nil
	}
	return nil, fmt.Errorf("arm64 asm: unsupported context %T", ctx)
}

func EmitProgram(fragment asm.Fragment) (asm.Program, error) {
	ctx := newContext()
	if err := fragment.Emit(ctx); err != nil {
		return asm.Program{}, err
	}
	return ctx.finalize()
}

func EmitBytes(fragment asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(fragment)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

func (c *Context) EmitBytes(data []byte) {
	c.text = append(c.text, data...)
}

func (c *Context) Len() int {
	return len(c.text)
}

func (c *Context) emit32(word uint32) int {
	pos := len(c.text)
	c.text = binary.LittleEndian.AppendUint32(c.text, word)
	return pos
}

func (c *Context) SetLabel(label asm.Label) {
	c.labels[label] = len(c.text)
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

func (c *Context) AddSymbol(pos int, name string, kind asm.RelocKind) {
	c.symbols = append(c.symbols, asm.SymbolReloc{Pos: pos, Name: name, Kind: kind})
}

func (c *Context) emitBranch(word uint32, label asm.Label, kind branchKind) {
	pos := c.emit32(word)
	c.branches = append(c.branches, branchPatch{label: label, pos: pos, kind: kind})
}

func (c *Context) finalize() (asm.Program, error) {
	for _, br := range c.branches {
		if err := c.patchBranch(br); err != nil {
			return asm.Program{}, err
		}
	}
	return asm.NewProgram(c.text, c.symbols), nil
}

const (
	minBranchImm = -(1 << 25)
	maxBranchImm = (1 << 25) - 1
)

func (c *Context) patchBranch(p branchPatch) error {
	target, ok := c.labels[p.label]
	if !ok {
		return fmt.Errorf("arm64 asm: undefined label %q", p.label)
	}
	rel := target - p.pos
	if rel%4 != 0 {
		return fmt.Errorf("arm64 asm: branch offset must be multiple of 4")
	}
	imm := rel / 4
	word := binary.LittleEndian.Uint32(c.text[p.pos : p.pos+4])
	switch p.kind {
	case branchB:
		if imm < minBranchImm || imm > maxBranchImm {
			return fmt.Errorf("arm64 asm: branch target out of range")
		}
		word = (word &^ 0x03FFFFFF) | (uint32(imm) & 0x03FFFFFF)
	case branchCond, branchCompare:
		if imm < -(1<<18) || imm >= (1<<18) {
			return fmt.Errorf("arm64 asm: conditional branch out of range")
		}
		word = (word &^ (0x7FFFF << 5)) | (uint32(imm)&0x7FFFF)<<5
	default:
		return fmt.Errorf("arm64 asm: unsupported branch kind %d", p.kind)
	}
	binary.LittleEndian.PutUint32(c.text[p.pos:p.pos+4], word)
	return nil
}

// Cond is the four-bit condition field used by b.cond and cset.
type Cond uint8

const (
	CondEQ Cond = 0x0
	CondNE Cond = 0x1
	CondHS Cond = 0x2
	CondLO Cond = 0x3
	CondMI Cond = 0x4
	CondPL Cond = 0x5
	CondVS Cond = 0x6
	CondVC Cond = 0x7
	CondHI Cond = 0x8
	CondLS Cond = 0x9
	CondGE Cond = 0xA
	CondLT Cond = 0xB
	CondGT Cond = 0xC
	CondLE Cond = 0xD
	CondAL Cond = 0xE
)

// Invert returns the opposite condition.
func (c Cond) Invert() Cond {
	return c ^ 1
}
