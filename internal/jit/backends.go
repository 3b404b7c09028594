package jit

import (
	_ "github.com/meijies/query-compile-prototype/internal/ir/amd64"
	_ "github.com/meijies/query-compile-prototype/internal/ir/arm64"
)
