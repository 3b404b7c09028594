package codegen

import "github.com/meijies/query-compile-prototype/internal/ir"

// ExprGen is implemented by expression nodes. Gen appends the instructions
// computing the node to the active block of f and returns the result. It
// must not create control flow that leaves a different block active, and
// it must not finalize f.
type ExprGen interface {
	Gen(f *FuncGenContext) ir.Value
}
