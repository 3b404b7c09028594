package jit

import (
	"errors"
	"testing"

	"github.com/meijies/query-compile-prototype/internal/ir"
)

func TestRegistryRegisterResolve(t *testing.T) {
	r := NewRegistry()
	sig := ir.Signature{Params: []ir.Type{ir.F64, ir.F64}, Returns: []ir.Type{ir.F64}}
	for i, name := range []string{"add", "sub", "mul"} {
		if err := r.Register(name, sig, uintptr(0x1000+i*0x10)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	op, err := r.Resolve("sub")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if op.Addr != 0x1010 || !op.Sig.Equal(sig) || op.CallConv != hostCallConv() {
		t.Fatalf("resolved %+v", op)
	}

	if err := r.Register("sub", sig, 0x2000); !errors.Is(err, ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
	if op, _ := r.Resolve("sub"); op.Addr != 0x1010 {
		t.Fatalf("duplicate registration replaced the original: %#x", op.Addr)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("missing"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestRegistryEnumerateOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"z", "a", "m"}
	for _, n := range names {
		if err := r.Register(n, ir.Signature{}, 0x10); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	ops := r.Enumerate()
	if len(ops) != len(names) || r.Len() != len(names) {
		t.Fatalf("got %d operations, want %d", len(ops), len(names))
	}
	for i, op := range ops {
		if op.Name != names[i] {
			t.Fatalf("op %d = %s, want %s", i, op.Name, names[i])
		}
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", ir.Signature{}, 0x10); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := r.Register("nil", ir.Signature{}, 0); err == nil {
		t.Fatalf("expected error for nil address")
	}
	if err := r.Register("bad", ir.Signature{Params: []ir.Type{ir.Type(200)}}, 0x10); !errors.Is(err, ir.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestRegistryClonesSignature(t *testing.T) {
	r := NewRegistry()
	params := []ir.Type{ir.F64}
	if err := r.Register("neg", ir.Signature{Params: params}, 0x10); err != nil {
		t.Fatalf("Register: %v", err)
	}
	params[0] = ir.I8
	op, _ := r.Resolve("neg")
	if op.Sig.Params[0] != ir.F64 {
		t.Fatalf("registry shares caller's slice: %s", op.Sig)
	}
}
