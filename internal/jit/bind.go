package jit

import (
	"fmt"
	"reflect"

	"github.com/ebitengine/purego"
	"github.com/meijies/query-compile-prototype/internal/ir"
)

func kindMatches(t ir.Type, gt reflect.Type) bool {
	switch t {
	case ir.I8:
		switch gt.Kind() {
		case reflect.Bool, reflect.Int8, reflect.Uint8:
			return true
		}
	case ir.I16:
		switch gt.Kind() {
		case reflect.Int16, reflect.Uint16:
			return true
		}
	case ir.I32:
		switch gt.Kind() {
		case reflect.Int32, reflect.Uint32:
			return true
		}
	case ir.I64:
		switch gt.Kind() {
		case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint,
			reflect.Uintptr, reflect.UnsafePointer, reflect.Pointer:
			return true
		}
	case ir.F32:
		return gt.Kind() == reflect.Float32
	case ir.F64:
		return gt.Kind() == reflect.Float64
	}
	return false
}

func checkFuncType(sig ir.Signature, ft reflect.Type) error {
	if ft.Kind() != reflect.Func {
		return fmt.Errorf("%w: %s is not a func type", ErrSignatureMismatch, ft)
	}
	if ft.IsVariadic() {
		return fmt.Errorf("%w: variadic %s", ErrSignatureMismatch, ft)
	}
	if len(sig.Returns) > 1 {
		return fmt.Errorf("%w: cannot bind %d results to a Go func", ErrSignatureMismatch, len(sig.Returns))
	}
	if ft.NumIn() != len(sig.Params) || ft.NumOut() != len(sig.Returns) {
		return fmt.Errorf("%w: %s does not match %s", ErrSignatureMismatch, ft, sig)
	}
	for i, p := range sig.Params {
		if !kindMatches(p, ft.In(i)) {
			return fmt.Errorf("%w: parameter %d is %s, Go type %s", ErrSignatureMismatch, i, p, ft.In(i))
		}
	}
	for i, r := range sig.Returns {
		if !kindMatches(r, ft.Out(i)) {
			return fmt.Errorf("%w: result %d is %s, Go type %s", ErrSignatureMismatch, i, r, ft.Out(i))
		}
	}
	return nil
}

func register(fptr any, entry uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jit: bind entry %#x: %v", entry, r)
		}
	}()
	purego.RegisterFunc(fptr, entry)
	return nil
}

// Bind points the Go func variable fptr at entry. The func type must agree
// with sig kind for kind; vectors cannot cross the boundary.
//
//	var lt func(a, b, c, d float64) bool
//	err := jit.Bind(addr, sig, &lt)
func Bind(entry uintptr, sig ir.Signature, fptr any) error {
	if entry == 0 {
		return fmt.Errorf("jit: bind nil entry point")
	}
	pv := reflect.ValueOf(fptr)
	if pv.Kind() != reflect.Pointer || pv.IsNil() {
		return fmt.Errorf("%w: Bind needs a non-nil pointer to a func, got %T", ErrSignatureMismatch, fptr)
	}
	if err := checkFuncType(sig, pv.Elem().Type()); err != nil {
		return err
	}
	return register(fptr, entry)
}

// MakeFunc is Bind for a func type only known at runtime.
func MakeFunc(entry uintptr, sig ir.Signature, ft reflect.Type) (reflect.Value, error) {
	if entry == 0 {
		return reflect.Value{}, fmt.Errorf("jit: bind nil entry point")
	}
	if err := checkFuncType(sig, ft); err != nil {
		return reflect.Value{}, err
	}
	fptr := reflect.New(ft)
	if err := register(fptr.Interface(), entry); err != nil {
		return reflect.Value{}, err
	}
	return fptr.Elem(), nil
}
