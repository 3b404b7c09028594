package codegen

import (
	"fmt"

	"github.com/meijies/query-compile-prototype/internal/ir"
)

type SlotCategory int

const (
	// SlotValue holds the bits of a value of its kind.
	SlotValue SlotCategory = iota
	// SlotRef holds a pointer to elements of its kind.
	SlotRef
)

func (c SlotCategory) String() string {
	if c == SlotRef {
		return "ref"
	}
	return "value"
}

// StackValueInfo describes a named slot of the static stack. For SlotRef
// slots Kind is the element kind behind the pointer.
type StackValueInfo struct {
	Name     string
	Kind     ir.Type
	Category SlotCategory
	Offset   int32
}

// staticStack hands out offsets in one frame slot. Offsets only grow;
// names are never released.
type staticStack struct {
	slot     ir.StackSlot
	capacity int32
	next     int32
	byName   map[string]StackValueInfo
}

// MakeStaticStack reserves capacity bytes of scratch frame for named
// slots. It may be called once per function.
func (f *FuncGenContext) MakeStaticStack(capacity int) {
	if !f.building() {
		return
	}
	if f.stack != nil {
		f.fail(fmt.Errorf("codegen: static stack of %q already created", f.name))
		return
	}
	if capacity <= 0 {
		f.fail(fmt.Errorf("%w: capacity %d", ErrStackCapacity, capacity))
		return
	}
	slot := f.b.CreateStackSlot(capacity, 16)
	if f.sync() != nil {
		return
	}
	f.stack = &staticStack{slot: slot, capacity: int32(capacity), byName: make(map[string]StackValueInfo)}
}

func (f *FuncGenContext) allocate(name string, kind ir.Type, cat SlotCategory) (StackValueInfo, bool) {
	if f.stack == nil {
		f.fail(fmt.Errorf("%w: slot %q", ErrNoStaticStack, name))
		return StackValueInfo{}, false
	}
	if info, ok := f.stack.byName[name]; ok {
		if info.Category != cat || info.Kind != kind {
			f.fail(fmt.Errorf("%w: %q is %s %s, used as %s %s",
				ErrSlotCategory, name, info.Category, info.Kind, cat, kind))
			return StackValueInfo{}, false
		}
		return info, true
	}

	width := int32(kind.Bytes())
	if cat == SlotRef {
		width = int32(ir.Pointer.Bytes())
	}
	off := (f.stack.next + width - 1) &^ (width - 1)
	if off+width > f.stack.capacity {
		f.fail(fmt.Errorf("%w: %q needs %d bytes at %d of %d", ErrStackCapacity, name, width, off, f.stack.capacity))
		return StackValueInfo{}, false
	}
	info := StackValueInfo{Name: name, Kind: kind, Category: cat, Offset: off}
	f.stack.byName[name] = info
	f.stack.next = off + width
	return info, true
}

func (f *FuncGenContext) lookupSlot(name string, cat SlotCategory) (StackValueInfo, bool) {
	if f.stack == nil {
		f.fail(fmt.Errorf("%w: slot %q", ErrNoStaticStack, name))
		return StackValueInfo{}, false
	}
	info, ok := f.stack.byName[name]
	if !ok {
		f.fail(fmt.Errorf("%w: %q", ErrSlotUndefined, name))
		return StackValueInfo{}, false
	}
	if info.Category != cat {
		f.fail(fmt.Errorf("%w: %q is a %s slot", ErrSlotCategory, name, info.Category))
		return StackValueInfo{}, false
	}
	return info, true
}

// StackValue reports the slot recorded for name, if any.
func (f *FuncGenContext) StackValue(name string) (StackValueInfo, bool) {
	if f.stack == nil {
		return StackValueInfo{}, false
	}
	info, ok := f.stack.byName[name]
	return info, ok
}

// StackUsed is the number of bytes handed out so far.
func (f *FuncGenContext) StackUsed() int {
	if f.stack == nil {
		return 0
	}
	return int(f.stack.next)
}

// StackStoreValue stores v under name, allocating the slot on first use.
func (f *FuncGenContext) StackStoreValue(name string, v ir.Value) {
	if !f.building() {
		return
	}
	kind := f.b.ValueType(v)
	if !kind.Valid() {
		f.fail(fmt.Errorf("%w: %s for slot %q", ir.ErrForeignValue, v, name))
		return
	}
	info, ok := f.allocate(name, kind, SlotValue)
	if !ok {
		return
	}
	f.b.StackStore(v, f.stack.slot, info.Offset)
	f.sync()
}

func (f *FuncGenContext) StackLoadValue(name string) ir.Value {
	if !f.building() {
		return ir.InvalidValue
	}
	info, ok := f.lookupSlot(name, SlotValue)
	if !ok {
		return ir.InvalidValue
	}
	v := f.b.StackLoad(info.Kind, f.stack.slot, info.Offset)
	if f.sync() != nil {
		return ir.InvalidValue
	}
	return v
}

// StackStoreRef stores the pointer ptr under name; elements behind it are
// of the given kind.
func (f *FuncGenContext) StackStoreRef(name string, ptr ir.Value, kind ir.Type) {
	if !f.building() {
		return
	}
	if t := f.b.ValueType(ptr); t != ir.Pointer {
		f.fail(fmt.Errorf("%w: slot %q needs a pointer, got %s", ir.ErrTypeMismatch, name, t))
		return
	}
	if !kind.Valid() {
		f.fail(fmt.Errorf("%w: element kind of %q", ErrInvalidKind, name))
		return
	}
	info, ok := f.allocate(name, kind, SlotRef)
	if !ok {
		return
	}
	f.b.StackStore(ptr, f.stack.slot, info.Offset)
	f.sync()
}

// refAddr reloads the pointer stored under name. Element index i lives at
// byte offset i*kind.Bytes() from it; the index is not bounds checked.
func (f *FuncGenContext) refAddr(name string, index int) (StackValueInfo, ir.Value, int32, bool) {
	info, ok := f.lookupSlot(name, SlotRef)
	if !ok {
		return info, ir.InvalidValue, 0, false
	}
	p := f.b.StackLoad(ir.Pointer, f.stack.slot, info.Offset)
	if f.sync() != nil {
		return info, ir.InvalidValue, 0, false
	}
	return info, p, int32(index * info.Kind.Bytes()), true
}

func (f *FuncGenContext) StackLoadRefData(name string, index int) ir.Value {
	if !f.building() {
		return ir.InvalidValue
	}
	info, p, off, ok := f.refAddr(name, index)
	if !ok {
		return ir.InvalidValue
	}
	v := f.b.Load(info.Kind, p, off)
	if f.sync() != nil {
		return ir.InvalidValue
	}
	return v
}

func (f *FuncGenContext) StackStoreRefData(name string, index int, v ir.Value) {
	if !f.building() {
		return
	}
	info, p, off, ok := f.refAddr(name, index)
	if !ok {
		return
	}
	if t := f.b.ValueType(v); t != info.Kind {
		f.fail(fmt.Errorf("%w: %q holds %s elements, got %s", ir.ErrTypeMismatch, name, info.Kind, t))
		return
	}
	f.b.Store(v, p, off)
	f.sync()
}
