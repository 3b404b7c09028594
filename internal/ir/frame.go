package ir

import "fmt"

// FrameLayout assigns every SSA value, block parameter and stack slot a
// fixed offset from the stack pointer. Backends keep values in these home
// slots and use registers only as scratch.
type FrameLayout struct {
	Values []int32
	Slots  []int32
	// Transfer is the start of the scratch area block arguments are staged
	// through, so a jump that permutes parameters never reads a slot it
	// has already overwritten.
	Transfer int32
	Size     int32
}

const (
	scalarHome   = 8
	vectorHome   = 16
	frameAlign   = 16
	transferSlot = 16
)

func alignUp(v, align int32) int32 {
	return (v + align - 1) &^ (align - 1)
}

// ComputeFrame lays out fn starting at offset base. Size is rounded to 16.
func ComputeFrame(fn *Function, base int32) FrameLayout {
	layout := FrameLayout{
		Values: make([]int32, len(fn.values)),
		Slots:  make([]int32, len(fn.slots)),
	}
	off := base
	for i, v := range fn.values {
		if v.typ.IsVector() {
			off = alignUp(off, vectorHome)
			layout.Values[i] = off
			off += vectorHome
			continue
		}
		layout.Values[i] = off
		off += scalarHome
	}
	for i, s := range fn.slots {
		align := int32(s.Align)
		if align < scalarHome {
			align = scalarHome
		}
		off = alignUp(off, align)
		layout.Slots[i] = off
		off += alignUp(int32(s.Size), scalarHome)
	}

	maxArgs := 0
	for i := range fn.insts {
		for _, t := range fn.insts[i].Targets {
			if len(t.Args) > maxArgs {
				maxArgs = len(t.Args)
			}
		}
	}
	off = alignUp(off, transferSlot)
	layout.Transfer = off
	off += int32(maxArgs) * transferSlot

	layout.Size = alignUp(off, frameAlign)
	return layout
}

// ParamClass splits types into the integer and floating/vector register
// files of the calling conventions.
type ParamClass uint8

const (
	ClassInt ParamClass = iota
	ClassFloat
)

func ClassOf(t Type) ParamClass {
	if t.IsInt() {
		return ClassInt
	}
	return ClassFloat
}

// RegLoc is the register a value is passed in: the Index'th register of
// its class.
type RegLoc struct {
	Class ParamClass
	Index int
}

// AssignRegisters places types into the integer and float register files in
// order. Anything that would need the stack fails with overflow.
func AssignRegisters(types []Type, maxInt, maxFloat int, overflow error) ([]RegLoc, error) {
	out := make([]RegLoc, len(types))
	ints, floats := 0, 0
	for i, t := range types {
		switch ClassOf(t) {
		case ClassInt:
			if ints >= maxInt {
				return nil, fmt.Errorf("%w: more than %d integer values", overflow, maxInt)
			}
			out[i] = RegLoc{Class: ClassInt, Index: ints}
			ints++
		default:
			if floats >= maxFloat {
				return nil, fmt.Errorf("%w: more than %d float values", overflow, maxFloat)
			}
			out[i] = RegLoc{Class: ClassFloat, Index: floats}
			floats++
		}
	}
	return out, nil
}
