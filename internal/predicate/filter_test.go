package predicate

import (
	"errors"
	"slices"
	"testing"
)

func TestFilter(t *testing.T) {
	cols := [][]float64{{1, 2, 3, 4}, {10, 20, 30, 40}}
	got, err := Filter(cols, []bool{false, true, true, false})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !slices.Equal(got[0], []float64{2, 3}) || !slices.Equal(got[1], []float64{20, 30}) {
		t.Fatalf("Filter = %v", got)
	}
	if _, err := Filter(cols, []bool{true}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
