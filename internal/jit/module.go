package jit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/meijies/query-compile-prototype/internal/ir"
	"github.com/meijies/query-compile-prototype/internal/timeslice"
)

var (
	tsCompile = timeslice.RegisterKind("jit::compile", timeslice.FlagCompile)
	tsLink    = timeslice.RegisterKind("jit::link", timeslice.FlagCompile)
	tsPlace   = timeslice.RegisterKind("jit::place", timeslice.FlagCompile)
)

// FuncID identifies a function declared in a Module.
type FuncID int

type moduleFunc struct {
	name    string
	sig     ir.Signature
	addr    uintptr
	size    int
	defined bool
}

// Module is one compilation unit's executable image. It owns the arena its
// functions live in and the snapshot of native operations taken at Build.
// A Module is not safe for concurrent use; compiled code is.
type Module struct {
	isa     ISA
	flags   Flags
	backend ir.Backend
	imports map[string]NativeOperation
	funcs   []moduleFunc
	byName  map[string]FuncID
	mem     *arena
	closed  bool
}

// Build validates the host and flags, then imports every operation in the
// registry. Operations registered later are not visible to the module.
func Build(registry *Registry, flags Flags) (*Module, error) {
	if err := flags.Validate(); err != nil {
		return nil, err
	}
	isa, err := HostISA()
	if err != nil {
		return nil, err
	}
	backend, err := ir.LookupBackend(isa.Arch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArchitecture, err)
	}

	m := &Module{
		isa:     isa,
		flags:   flags,
		backend: backend,
		imports: make(map[string]NativeOperation),
		byName:  make(map[string]FuncID),
		mem:     newArena(),
	}
	if registry != nil {
		for _, op := range registry.Enumerate() {
			if op.CallConv != backend.CallConv() {
				return nil, fmt.Errorf("%w: %q uses %s, module uses %s",
					ErrCallConvMismatch, op.Name, op.CallConv, backend.CallConv())
			}
			m.imports[op.Name] = op
		}
	}

	slog.Debug("jit module built", "isa", isa.String(), "imports", len(m.imports), "opt_level", flags.OptLevel)
	return m, nil
}

// MustBuild is Build for process startup; it panics on failure.
func MustBuild(registry *Registry, flags Flags) *Module {
	m, err := Build(registry, flags)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Module) ISA() ISA     { return m.isa }
func (m *Module) Flags() Flags { return m.flags }

func (m *Module) DeclareFunction(name string, sig ir.Signature) (FuncID, error) {
	if m.closed {
		return 0, ErrModuleClosed
	}
	if name == "" {
		return 0, fmt.Errorf("jit: function name must be non-empty")
	}
	if err := sig.Validate(); err != nil {
		return 0, fmt.Errorf("jit: declare %q: %w", name, err)
	}
	if _, exists := m.byName[name]; exists {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateFunction, name)
	}
	if _, exists := m.imports[name]; exists {
		return 0, fmt.Errorf("%w: %q shadows a native operation", ErrDuplicateFunction, name)
	}
	id := FuncID(len(m.funcs))
	m.funcs = append(m.funcs, moduleFunc{name: name, sig: sig.Clone()})
	m.byName[name] = id
	return id, nil
}

func (m *Module) lookup(id FuncID) (*moduleFunc, error) {
	if id < 0 || int(id) >= len(m.funcs) {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownFunction, id)
	}
	return &m.funcs[id], nil
}

// DefineFunction compiles fn, links its calls against the imported
// operations and previously defined functions, and maps it executable.
// On error nothing is placed and the declaration stays undefined.
func (m *Module) DefineFunction(id FuncID, fn *ir.Function) error {
	if m.closed {
		return ErrModuleClosed
	}
	decl, err := m.lookup(id)
	if err != nil {
		return err
	}
	if decl.defined {
		return fmt.Errorf("%w: %q", ErrAlreadyDefined, decl.name)
	}
	if !fn.Sig.Equal(decl.sig) {
		return fmt.Errorf("%w: %q declared %s, body has %s", ErrSignatureMismatch, decl.name, decl.sig, fn.Sig)
	}

	if m.flags.Debug {
		slog.Debug("jit function ir", "name", decl.name, "ir", fn.String())
	}

	start := time.Now()
	prog, err := m.backend.Compile(fn, m.flags.compileOptions())
	if err != nil {
		return fmt.Errorf("jit: compile %q: %w", decl.name, err)
	}
	start = timeslice.Since(tsCompile, start)
	code, err := prog.Link(m.resolve)
	if err != nil {
		return fmt.Errorf("jit: link %q: %w", decl.name, err)
	}
	start = timeslice.Since(tsLink, start)
	addr, err := m.mem.place(code)
	if err != nil {
		return fmt.Errorf("jit: place %q: %w", decl.name, err)
	}
	timeslice.Since(tsPlace, start)

	decl.addr = addr
	decl.size = len(code)
	decl.defined = true
	slog.Debug("jit function defined",
		"name", decl.name,
		"signature", decl.sig.String(),
		"bytes", len(code),
		"relocations", len(prog.Symbols()),
		"addr", fmt.Sprintf("%#x", addr))
	return nil
}

func (m *Module) resolve(name string) (uintptr, bool) {
	if op, ok := m.imports[name]; ok {
		return op.Addr, true
	}
	if id, ok := m.byName[name]; ok && m.funcs[id].defined {
		return m.funcs[id].addr, true
	}
	return 0, false
}

// Symbol reports the address bound to name: an imported operation or a
// defined function.
func (m *Module) Symbol(name string) (uintptr, bool) {
	if m.closed {
		return 0, false
	}
	return m.resolve(name)
}

func (m *Module) FunctionAddress(id FuncID) (uintptr, error) {
	if m.closed {
		return 0, ErrModuleClosed
	}
	decl, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	if !decl.defined {
		return 0, fmt.Errorf("%w: %q is declared but not defined", ErrUnknownFunction, decl.name)
	}
	return decl.addr, nil
}

func (m *Module) Signature(id FuncID) (ir.Signature, error) {
	decl, err := m.lookup(id)
	if err != nil {
		return ir.Signature{}, err
	}
	return decl.sig.Clone(), nil
}

func (m *Module) Name(id FuncID) (string, error) {
	decl, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return decl.name, nil
}

// CodeSize is the number of bytes mapped for this module's functions.
func (m *Module) CodeSize() int { return m.mem.size() }

// Close unmaps all code. Entry points obtained from the module must not be
// called afterwards.
func (m *Module) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.mem.release()
	slog.Debug("jit module released", "functions", len(m.funcs))
	return err
}
