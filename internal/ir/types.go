package ir

import "fmt"

// Type is the kind of an SSA value. Only primitive kinds exist; composite
// data travels as a Pointer plus a layout the caller computes.
type Type uint8

const (
	TypeInvalid Type = iota
	I8
	I16
	I32
	I64
	F32
	F64
	F64X2
	I64X2
)

// Pointer is the integer type used for addresses on every supported host.
const Pointer = I64

var typeNames = map[Type]string{
	I8:    "i8",
	I16:   "i16",
	I32:   "i32",
	I64:   "i64",
	F32:   "f32",
	F64:   "f64",
	F64X2: "f64x2",
	I64X2: "i64x2",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t Type) Valid() bool {
	return t > TypeInvalid && t <= I64X2
}

// Bytes is the storage width of one value of t.
func (t Type) Bytes() int {
	switch t {
	case I8:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	case F64X2, I64X2:
		return 16
	default:
		return 0
	}
}

func (t Type) IsInt() bool {
	return t >= I8 && t <= I64
}

func (t Type) IsFloat() bool {
	return t == F32 || t == F64
}

func (t Type) IsVector() bool {
	return t == F64X2 || t == I64X2
}

// Lanes is the number of scalar elements in t.
func (t Type) Lanes() int {
	if t.IsVector() {
		return 2
	}
	return 1
}

// LaneType is the element type of a vector, or t itself for scalars.
func (t Type) LaneType() Type {
	switch t {
	case F64X2:
		return F64
	case I64X2:
		return I64
	default:
		return t
	}
}

// VectorOf returns the two-lane vector whose elements are lane.
func VectorOf(lane Type) (Type, bool) {
	switch lane {
	case F64:
		return F64X2, true
	case I64:
		return I64X2, true
	default:
		return TypeInvalid, false
	}
}

// ParseType maps the textual names used in dumps and config files back to
// a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeInvalid, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Signature lists positional parameter and return kinds.
type Signature struct {
	Params  []Type
	Returns []Type
}

func (s Signature) String() string {
	return fmt.Sprintf("(%s) -> (%s)", joinTypes(s.Params), joinTypes(s.Returns))
}

func (s Signature) Equal(o Signature) bool {
	if len(s.Params) != len(o.Params) || len(s.Returns) != len(o.Returns) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range s.Returns {
		if s.Returns[i] != o.Returns[i] {
			return false
		}
	}
	return true
}

func (s Signature) Validate() error {
	for _, t := range s.Params {
		if !t.Valid() {
			return fmt.Errorf("%w: parameter %s", ErrInvalidType, t)
		}
	}
	for _, t := range s.Returns {
		if !t.Valid() {
			return fmt.Errorf("%w: return %s", ErrInvalidType, t)
		}
	}
	return nil
}

func (s Signature) Clone() Signature {
	return Signature{
		Params:  append([]Type(nil), s.Params...),
		Returns: append([]Type(nil), s.Returns...),
	}
}

func joinTypes(ts []Type) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ", "
		}
		out += t.String()
	}
	return out
}
