// Package lib provide small, self-contained helpers that are not tied
// to the allocator algorithms, like statistical histograms for sizes.
package lib
