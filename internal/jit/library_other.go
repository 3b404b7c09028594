//go:build !linux

package jit

import "fmt"

func ImportLibrary(r *Registry, path string, symbols []LibrarySymbol) error {
	return fmt.Errorf("%w: cannot load %s", ErrUnsupportedArchitecture, path)
}
