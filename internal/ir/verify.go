package ir

import "fmt"

// verify enforces the rules that can only be checked once the body is
// complete: the entry block takes the function parameters, and every block
// is sealed and ends in a terminator.
func verify(fn *Function) error {
	if len(fn.blocks) == 0 {
		return fmt.Errorf("%w: %q has no blocks", ErrUnterminatedBlock, fn.Name)
	}

	entry := fn.blocks[0]
	if len(entry.params) != len(fn.Sig.Params) {
		return fmt.Errorf("%w: entry block of %q takes %d parameters, signature has %d",
			ErrArityMismatch, fn.Name, len(entry.params), len(fn.Sig.Params))
	}
	for i, p := range entry.params {
		if got, want := fn.values[p].typ, fn.Sig.Params[i]; got != want {
			return fmt.Errorf("%w: entry parameter %d of %q is %s, want %s", ErrTypeMismatch, i, fn.Name, got, want)
		}
	}
	if entry.preds > 0 {
		return fmt.Errorf("%w: entry block of %q is a branch target", ErrBlockInUse, fn.Name)
	}

	for i, blk := range fn.blocks {
		if !blk.sealed {
			return fmt.Errorf("%w: %s in %q", ErrUnsealedBlock, Block(i), fn.Name)
		}
		if !blk.terminated {
			return fmt.Errorf("%w: %s in %q", ErrUnterminatedBlock, Block(i), fn.Name)
		}
	}
	return nil
}
