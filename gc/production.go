//go:build !debug
// +build !debug

package gc

const heavyassert = false
