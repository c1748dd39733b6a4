//go:build debug
// +build debug

package gc

// heavyassert enables TLAB validation on every bump and collection.
const heavyassert = true
