//go:build linux && !arm64

package jit

// x86 keeps instruction fetch coherent with stores.
func flushInstructionCache(addr uintptr, size int) error { return nil }
