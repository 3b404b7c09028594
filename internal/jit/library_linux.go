//go:build linux

package jit

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// ImportLibrary opens path and registers each symbol. The handle is never
// closed since registered addresses must stay valid for the process.
func ImportLibrary(r *Registry, path string, symbols []LibrarySymbol) error {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("jit: open %s: %w", path, err)
	}
	for _, sym := range symbols {
		addr, err := purego.Dlsym(handle, sym.Symbol)
		if err != nil {
			return fmt.Errorf("jit: resolve %s in %s: %w", sym.Symbol, path, err)
		}
		if err := r.Register(sym.Name, sym.Sig, addr); err != nil {
			return err
		}
	}
	return nil
}
