package ir

import "errors"

// Construction faults. Builders record the first one they hit and refuse
// to produce a function afterwards.
var (
	ErrInvalidType       = errors.New("ir: invalid type")
	ErrTypeMismatch      = errors.New("ir: type mismatch")
	ErrArityMismatch     = errors.New("ir: arity mismatch")
	ErrNoActiveBlock     = errors.New("ir: no active block")
	ErrBlockTerminated   = errors.New("ir: block already terminated")
	ErrBlockInUse        = errors.New("ir: block already has predecessors")
	ErrSealedBlock       = errors.New("ir: branch to sealed block")
	ErrUnsealedBlock     = errors.New("ir: unsealed block")
	ErrUnterminatedBlock = errors.New("ir: block has no terminator")
	ErrForeignValue      = errors.New("ir: value does not belong to this function")
	ErrInvalidBlock      = errors.New("ir: invalid block")
	ErrInvalidSlot       = errors.New("ir: invalid stack slot")
	ErrBuilderFinished   = errors.New("ir: builder already finalized")

	// Backend limits.
	ErrTooManyParams  = errors.New("ir: too many register parameters")
	ErrTooManyResults = errors.New("ir: too many register results")
)
