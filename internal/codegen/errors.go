package codegen

import "errors"

var (
	ErrBuilderBusy   = errors.New("codegen: another function builder is active")
	ErrUnitFailed    = errors.New("codegen: compilation unit failed")
	ErrFinalized     = errors.New("codegen: function builder already finalized")
	ErrNotFinalized  = errors.New("codegen: function has no finalized body")
	ErrResultArity   = errors.New("codegen: native operation must return exactly one value")
	ErrParamIndex    = errors.New("codegen: parameter index out of range")
	ErrNoStaticStack = errors.New("codegen: static stack not created")
	ErrStackCapacity = errors.New("codegen: static stack capacity exceeded")
	ErrSlotCategory  = errors.New("codegen: stack slot used with a different category or kind")
	ErrSlotUndefined = errors.New("codegen: stack slot not defined")
	ErrColumnUnbound = errors.New("codegen: column not bound")
	ErrVectorBody    = errors.New("codegen: invalid vector loop")
	ErrInvalidKind   = errors.New("codegen: invalid value kind")
)
