//go:build !linux

package jit

import "fmt"

type arena struct{}

func newArena() *arena { return &arena{} }

func (a *arena) place(code []byte) (uintptr, error) {
	return 0, fmt.Errorf("%w: no executable memory support", ErrUnsupportedArchitecture)
}

func (a *arena) size() int { return 0 }

func (a *arena) release() error { return nil }
