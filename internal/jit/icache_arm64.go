//go:build linux && arm64

package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/meijies/query-compile-prototype/internal/asm/arm64"
	"golang.org/x/sys/unix"
)

var (
	syncOnce sync.Once
	syncAddr uintptr
	syncErr  error
)

// loadSyncRoutine assembles the cache maintenance routine into its own
// mapping. The mapping lives for the rest of the process.
func loadSyncRoutine() (uintptr, error) {
	code, err := arm64.EmitBytes(arm64.SyncInstructionCache())
	if err != nil {
		return 0, fmt.Errorf("jit: assemble cache sync: %w", err)
	}
	mem, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("jit: mmap cache sync: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return 0, fmt.Errorf("jit: mprotect cache sync: %w", err)
	}
	return uintptr(unsafe.Pointer(&mem[0])), nil
}

// flushInstructionCache makes freshly written code visible to instruction
// fetch; data and instruction caches are not coherent on arm64.
func flushInstructionCache(addr uintptr, size int) error {
	syncOnce.Do(func() {
		syncAddr, syncErr = loadSyncRoutine()
	})
	if syncErr != nil {
		return syncErr
	}
	purego.SyscallN(syncAddr, addr, addr+uintptr(size))
	return nil
}
