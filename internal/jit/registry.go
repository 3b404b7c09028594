package jit

import (
	"fmt"
	"sync"

	"github.com/meijies/query-compile-prototype/internal/ir"
)

// NativeOperation is a precompiled routine generated code may call by name.
// Addr must stay valid for as long as any function referencing it can run.
type NativeOperation struct {
	Name     string
	Sig      ir.Signature
	CallConv ir.CallConv
	Addr     uintptr
}

// Registry is the catalog of native operations a Module imports when it
// is built.
type Registry struct {
	mu    sync.RWMutex
	index map[string]int
	ops   []NativeOperation
	conv  ir.CallConv
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
		conv:  hostCallConv(),
	}
}

// Register adds an operation using the host calling convention.
func (r *Registry) Register(name string, sig ir.Signature, addr uintptr) error {
	return r.Add(NativeOperation{Name: name, Sig: sig, CallConv: r.conv, Addr: addr})
}

// Add registers op as given, including its calling convention.
func (r *Registry) Add(op NativeOperation) error {
	if op.Name == "" {
		return fmt.Errorf("jit: native operation name must be non-empty")
	}
	if op.Addr == 0 {
		return fmt.Errorf("jit: native operation %q has a nil address", op.Name)
	}
	if err := op.Sig.Validate(); err != nil {
		return fmt.Errorf("jit: native operation %q: %w", op.Name, err)
	}
	op.Sig = op.Sig.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[op.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateOperation, op.Name)
	}
	r.index[op.Name] = len(r.ops)
	r.ops = append(r.ops, op)
	return nil
}

func (r *Registry) Resolve(name string) (NativeOperation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.index[name]
	if !ok {
		return NativeOperation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	op := r.ops[idx]
	op.Sig = op.Sig.Clone()
	return op, nil
}

// Enumerate returns every operation in registration order.
func (r *Registry) Enumerate() []NativeOperation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NativeOperation, len(r.ops))
	for i, op := range r.ops {
		op.Sig = op.Sig.Clone()
		out[i] = op
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}
