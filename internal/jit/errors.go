package jit

import "errors"

var (
	ErrDuplicateOperation      = errors.New("jit: duplicate native operation")
	ErrUnknownOperation        = errors.New("jit: unknown native operation")
	ErrUnsupportedArchitecture = errors.New("jit: unsupported host architecture")
	ErrUnsupportedSetting      = errors.New("jit: unsupported setting")
	ErrCallConvMismatch        = errors.New("jit: calling convention mismatch")
	ErrDuplicateFunction       = errors.New("jit: duplicate function")
	ErrUnknownFunction         = errors.New("jit: unknown function")
	ErrAlreadyDefined          = errors.New("jit: function already defined")
	ErrSignatureMismatch       = errors.New("jit: signature mismatch")
	ErrModuleClosed            = errors.New("jit: module closed")
)
