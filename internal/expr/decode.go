package expr

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawNode is the YAML form of a node. Exactly one of Op, Column, Float
// and Int is set.
type rawNode struct {
	Op     string   `yaml:"op,omitempty"`
	Left   *rawNode `yaml:"left,omitempty"`
	Right  *rawNode `yaml:"right,omitempty"`
	Column *int     `yaml:"column,omitempty"`
	Name   string   `yaml:"name,omitempty"`
	Float  *float64 `yaml:"float,omitempty"`
	Int    *int64   `yaml:"int,omitempty"`
}

func (r *rawNode) build(path string) (Node, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s: missing node", ErrInvalidExpr, path)
	}
	set := 0
	for _, ok := range []bool{r.Op != "", r.Column != nil, r.Float != nil, r.Int != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: %s: node needs exactly one of op, column, float, int", ErrInvalidExpr, path)
	}

	switch {
	case r.Op != "":
		op := Op(r.Op)
		if !op.Valid() {
			return nil, fmt.Errorf("%w: %s: %q", ErrUnknownOp, path, r.Op)
		}
		left, err := r.Left.build(path + ".left")
		if err != nil {
			return nil, err
		}
		right, err := r.Right.build(path + ".right")
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	case r.Column != nil:
		return &Column{Index: *r.Column, Name: r.Name}, nil
	case r.Float != nil:
		return Float(*r.Float), nil
	default:
		return Int(*r.Int), nil
	}
}

// Decode reads a tree such as
//
//	op: lt
//	left: {op: add, left: {column: 0}, right: {float: 1.5}}
//	right: {column: 1, name: limit}
func Decode(data []byte) (Node, error) {
	var raw rawNode
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("expr: decode: %w", err)
	}
	n, err := raw.build("$")
	if err != nil {
		return nil, err
	}
	if err := Validate(n); err != nil {
		return nil, err
	}
	return n, nil
}

func Load(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("expr: read %s: %w", path, err)
	}
	return Decode(data)
}
