//go:build debug
// +build debug

package nursery

// heavyassert enables audits that are too expensive for production,
// fragment validation on every rebuild and header checks before publish.
const heavyassert = true
