package lib

import "fmt"
import "sort"
import "strings"
import "strconv"
import "math/bits"

// HistogramSize statistical histogram of byte sizes. Samples are counted
// in power-of-two buckets between `from` and `till`, samples outside
// the range go to the first and last bucket.
type HistogramSize struct {
	n         int64
	minval    int64
	maxval    int64
	sum       int64
	histogram []int64
	init      bool
	from      int // log2 of lowest bucket
	till      int // log2 of highest bucket
}

// NewhistogramSize return a new histogram for sizes in [from, till),
// both are rounded down to a power of two.
func NewhistogramSize(from, till int64) *HistogramSize {
	if from <= 0 || till <= from {
		panic(fmt.Errorf("invalid histogram range [%v,%v)", from, till))
	}
	h := &HistogramSize{from: log2(from), till: log2(till)}
	h.histogram = make([]int64, 1+(h.till-h.from)+1)
	return h
}

// Add a sample to this histogram.
func (h *HistogramSize) Add(sample int64) {
	h.n++
	h.sum += sample
	if h.init == false || sample < h.minval {
		h.minval = sample
		h.init = true
	}
	if h.maxval < sample {
		h.maxval = sample
	}

	if sample <= 0 {
		h.histogram[0]++
		return
	}
	switch lg := log2(sample); {
	case lg < h.from:
		h.histogram[0]++
	case lg >= h.till:
		h.histogram[len(h.histogram)-1]++
	default:
		h.histogram[lg-h.from+1]++
	}
}

// Min return minimum value from sample.
func (h *HistogramSize) Min() int64 {
	return h.minval
}

// Max return maximum value from sample.
func (h *HistogramSize) Max() int64 {
	return h.maxval
}

// Samples return total number of samples in the set.
func (h *HistogramSize) Samples() int64 {
	return h.n
}

// Sum return the sum of all sample values.
func (h *HistogramSize) Sum() int64 {
	return h.sum
}

// Mean return the average value of all samples.
func (h *HistogramSize) Mean() int64 {
	if h.n == 0 {
		return 0
	}
	return int64(float64(h.sum) / float64(h.n))
}

// Stats return a map of bucket's lower bound to the number of samples
// in that bucket, "-" is for samples below the range and "+" for
// samples beyond the range.
func (h *HistogramSize) Stats() map[string]int64 {
	m := make(map[string]int64)
	for i, v := range h.histogram {
		if v == 0 {
			continue
		}
		switch i {
		case 0:
			m["-"] = v
		case len(h.histogram) - 1:
			m["+"] = v
		default:
			m[strconv.Itoa(1<<uint(h.from+i-1))] = v
		}
	}
	return m
}

// Fullstats includes min, max, mean along with Stats().
func (h *HistogramSize) Fullstats() map[string]interface{} {
	hmap := make(map[string]interface{})
	for k, v := range h.Stats() {
		hmap[k] = v
	}
	return map[string]interface{}{
		"samples":   h.Samples(),
		"min":       h.Min(),
		"max":       h.Max(),
		"mean":      h.Mean(),
		"histogram": hmap,
	}
}

// Logstring return Fullstats as loggable string.
func (h *HistogramSize) Logstring() string {
	stats := h.Fullstats()
	ss := []string{}
	for _, key := range []string{"samples", "min", "max", "mean"} {
		ss = append(ss, fmt.Sprintf(`"%v": %v`, key, stats[key]))
	}
	histogram := stats["histogram"].(map[string]interface{})
	keys := []int{}
	for k := range histogram {
		if n, err := strconv.Atoi(k); err == nil {
			keys = append(keys, n)
		}
	}
	sort.Ints(keys)
	hs := []string{}
	if v, ok := histogram["-"]; ok {
		hs = append(hs, fmt.Sprintf(`"-": %v`, v))
	}
	for _, k := range keys {
		ks := strconv.Itoa(k)
		hs = append(hs, fmt.Sprintf(`"%v": %v`, ks, histogram[ks]))
	}
	if v, ok := histogram["+"]; ok {
		hs = append(hs, fmt.Sprintf(`"+": %v`, v))
	}
	ss = append(ss, `"histogram": {`+strings.Join(hs, ",")+"}")
	return "{" + strings.Join(ss, ",") + "}"
}

func log2(n int64) int {
	return bits.Len64(uint64(n)) - 1
}
