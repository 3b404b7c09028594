package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/meijies/query-compile-prototype/internal/asm"
)

const (
	RAX asm.Variable = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is the x86 condition-code nibble shared by Jcc and SETcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

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

type Context struct {
	text    []byte
	labels  map[asm.Label]int
	jumps   []jumpPatch
	symbols []asm.SymbolReloc
}

type jumpPatch struct {
	label asm.Label
	pos   int
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
	return nil, fmt.Errorf("amd64 asm: unsupported context %T", ctx)
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

func (c *Context) SetLabel(label asm.Label) {
	c.labels[label] = len(c.text)
}

func (c *Context) EmitBytes(code []byte) {
	c.text = append(c.text, code...)
}

func (c *Context) Len() int {
	return len(c.text)
}

func (c *Context) AddSymbol(pos int, name string, kind asm.RelocKind) {
	c.symbols = append(c.symbols, asm.SymbolReloc{Pos: pos, Name: name, Kind: kind})
}

// emitRel32 appends opcode followed by a zero rel32 and records the patch.
func (c *Context) emitRel32(label asm.Label, opcode ...byte) {
	c.text = append(c.text, opcode...)
	c.jumps = append(c.jumps, jumpPatch{label: label, pos: len(c.text)})
	c.text = append(c.text, 0, 0, 0, 0)
}

func (c *Context) finalize() (asm.Program, error) {
	for _, j := range c.jumps {
		target, ok := c.labels[j.label]
		if !ok {
			return asm.Program{}, fmt.Errorf("undefined label %q", j.label)
		}
		rel := target - (j.pos + 4)
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return asm.Program{}, fmt.Errorf("jump to label %q out of range", j.label)
		}
		binary.LittleEndian.PutUint32(c.text[j.pos:j.pos+4], uint32(int32(rel)))
	}
	return asm.NewProgram(c.text, c.symbols), nil
}

type registerCode struct {
	code     byte
	high     bool
	needsRex bool
}

func regInfo(v asm.Variable) (registerCode, error) {
	switch v {
	case RAX:
		return registerCode{code: 0}, nil
	case RBX:
		return registerCode{code: 3}, nil
	case RCX:
		return registerCode{code: 1}, nil
	case RDX:
		return registerCode{code: 2}, nil
	case RSI:
		return registerCode{code: 6, needsRex: true}, nil
	case RDI:
		return registerCode{code: 7, needsRex: true}, nil
	case RSP:
		return registerCode{code: 4, needsRex: true}, nil
	case RBP:
		return registerCode{code: 5, needsRex: true}, nil
	case R8, R9, R10, R11, R12, R13, R14, R15:
		return registerCode{code: byte(v-R8) & 7, high: true, needsRex: true}, nil
	default:
		return registerCode{}, fmt.Errorf("unsupported register %d", v)
	}
}
