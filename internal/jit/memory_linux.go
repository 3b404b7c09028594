//go:build linux

package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// arena owns the executable mappings of a module. Every function gets its
// own page-aligned mapping which is never reused while the arena is open.
type arena struct {
	mu      sync.Mutex
	regions [][]byte
	closed  bool
}

func newArena() *arena { return &arena{} }

// place copies code into a fresh RW mapping, flips it to RX and returns the
// entry address.
func (a *arena) place(code []byte) (uintptr, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("jit: empty code")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrModuleClosed
	}

	pageSize := unix.Getpagesize()
	allocSize := ((len(code) + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("jit: mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return 0, fmt.Errorf("jit: mprotect code region: %w", err)
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	if err := flushInstructionCache(base, len(code)); err != nil {
		return 0, err
	}

	release = false
	a.regions = append(a.regions, mem)
	return base, nil
}

func (a *arena) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, r := range a.regions {
		total += len(r)
	}
	return total
}

// release unmaps every region. Entry points handed out become invalid.
func (a *arena) release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var firstErr error
	for _, r := range a.regions {
		if err := unix.Munmap(r); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("jit: munmap code region: %w", err)
		}
	}
	a.regions = nil
	return firstErr
}
