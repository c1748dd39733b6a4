package lib

import "fmt"
import "math"
import "time"

// AverageDuration compute mean and deviation of time durations, like
// the time mutators stay stopped during a collection.
type AverageDuration struct {
	n      int64
	minval time.Duration
	maxval time.Duration
	sum    time.Duration
	sumsq  float64
}

// Add a sample.
func (av *AverageDuration) Add(sample time.Duration) {
	if av.n == 0 || sample < av.minval {
		av.minval = sample
	}
	if av.maxval < sample {
		av.maxval = sample
	}
	av.n++
	av.sum += sample
	f := float64(sample)
	av.sumsq += f * f
}

// Min return the shortest sample.
func (av *AverageDuration) Min() time.Duration {
	return av.minval
}

// Max return the longest sample.
func (av *AverageDuration) Max() time.Duration {
	return av.maxval
}

// Samples return number of samples added so far.
func (av *AverageDuration) Samples() int64 {
	return av.n
}

// Sum return the total duration of all samples.
func (av *AverageDuration) Sum() time.Duration {
	return av.sum
}

// Mean return the average duration.
func (av *AverageDuration) Mean() time.Duration {
	if av.n == 0 {
		return 0
	}
	return av.sum / time.Duration(av.n)
}

// SD return the standard deviation.
func (av *AverageDuration) SD() time.Duration {
	if av.n == 0 {
		return 0
	}
	mean := float64(av.sum) / float64(av.n)
	variance := (av.sumsq / float64(av.n)) - (mean * mean)
	if variance <= 0 {
		return 0
	}
	return time.Duration(math.Sqrt(variance))
}

// Fullstats return samples, min, max, mean and deviation, durations
// are in nanoseconds.
func (av *AverageDuration) Fullstats() map[string]interface{} {
	return map[string]interface{}{
		"samples":     av.Samples(),
		"min":         int64(av.Min()),
		"max":         int64(av.Max()),
		"mean":        int64(av.Mean()),
		"stddeviance": int64(av.SD()),
	}
}

// Logstring return a loggable summary.
func (av *AverageDuration) Logstring() string {
	fmsg := `{"samples": %v, "min": "%v", "max": "%v", "mean": "%v", "sd": "%v"}`
	return fmt.Sprintf(fmsg, av.n, av.Min(), av.Max(), av.Mean(), av.SD())
}
