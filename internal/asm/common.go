package asm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type Value interface {
}

type Immediate int64

var (
	_ Value = Immediate(0)
)

type Variable int

var (
	_ Value = Variable(0)
)

// Context is the sink every Fragment emits into. Architecture packages provide
// the concrete implementation and recover it with a type assertion when they
// need branch or relocation bookkeeping.
type Context interface {
	EmitBytes(data []byte)
	Len() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)

	AddSymbol(pos int, name string, kind RelocKind)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

// RelocKind describes how a symbol address is written into the code.
type RelocKind uint8

const (
	// RelocAbs64 is a little-endian 64-bit absolute address.
	RelocAbs64 RelocKind = iota + 1
	// RelocMovWide64 is a movz/movk/movk/movk sequence; each instruction
	// carries 16 bits of the address in its imm16 field.
	RelocMovWide64
)

func (k RelocKind) String() string {
	switch k {
	case RelocAbs64:
		return "abs64"
	case RelocMovWide64:
		return "movwide64"
	default:
		return fmt.Sprintf("reloc(%d)", uint8(k))
	}
}

// SymbolReloc records a reference to an external symbol at a code offset.
type SymbolReloc struct {
	Pos  int
	Name string
	Kind RelocKind
}

var ErrUnresolvedSymbol = errors.New("unresolved symbol")

type Program struct {
	code    []byte
	symbols []SymbolReloc
}

func NewProgram(code []byte, symbols []SymbolReloc) Program {
	return Program{
		code:    append([]byte(nil), code...),
		symbols: append([]SymbolReloc(nil), symbols...),
	}
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

func (p Program) Symbols() []SymbolReloc {
	return append([]SymbolReloc(nil), p.symbols...)
}

func (p Program) Clone() Program {
	return NewProgram(p.code, p.symbols)
}

// Link returns a copy of the code with every symbol relocation patched using
// resolve. The result is position independent apart from those patches.
func (p Program) Link(resolve func(name string) (uintptr, bool)) ([]byte, error) {
	out := append([]byte(nil), p.code...)
	for _, sym := range p.symbols {
		addr, ok := resolve(sym.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnresolvedSymbol, sym.Name)
		}
		if err := patchSymbol(out, sym, uint64(addr)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func patchSymbol(code []byte, sym SymbolReloc, addr uint64) error {
	switch sym.Kind {
	case RelocAbs64:
		if sym.Pos < 0 || sym.Pos+8 > len(code) {
			return fmt.Errorf("relocation for %q at %d out of range (code len %d)", sym.Name, sym.Pos, len(code))
		}
		binary.LittleEndian.PutUint64(code[sym.Pos:], addr)
	case RelocMovWide64:
		if sym.Pos < 0 || sym.Pos+16 > len(code) {
			return fmt.Errorf("relocation for %q at %d out of range (code len %d)", sym.Name, sym.Pos, len(code))
		}
		for i := 0; i < 4; i++ {
			pos := sym.Pos + i*4
			word := binary.LittleEndian.Uint32(code[pos:])
			chunk := uint32(addr>>(16*i)) & 0xFFFF
			word = (word &^ (0xFFFF << 5)) | chunk<<5
			binary.LittleEndian.PutUint32(code[pos:], word)
		}
	default:
		return fmt.Errorf("unsupported relocation kind %s for %q", sym.Kind, sym.Name)
	}
	return nil
}
