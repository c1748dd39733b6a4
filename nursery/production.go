//go:build !debug
// +build !debug

package nursery

const heavyassert = false
