package mpsync

import (
	_ "unsafe" // for go:linkname
)

// procyield executes the architecture's spin-wait hint (PAUSE on amd64,
// YIELD on arm64) cycles times without giving up the thread.
//
//go:linkname procyield runtime.procyield
func procyield(cycles uint32)
