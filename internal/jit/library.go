package jit

import "github.com/meijies/query-compile-prototype/internal/ir"

// LibrarySymbol maps a registry name onto a symbol exported by a shared
// library.
type LibrarySymbol struct {
	Name   string
	Symbol string
	Sig    ir.Signature
}

const libmPath = "libm.so.6"

var libmSymbols = []LibrarySymbol{
	{Name: "Float64Pow", Symbol: "pow", Sig: sigBinaryF64},
	{Name: "Float64Fmod", Symbol: "fmod", Sig: sigBinaryF64},
	{Name: "Float64Hypot", Symbol: "hypot", Sig: sigBinaryF64},
}

// ImportLibm registers pow, fmod and hypot from the C math library.
func ImportLibm(r *Registry) error {
	return ImportLibrary(r, libmPath, libmSymbols)
}
