package sample

import (
	"fmt"
	"strings"
)

// Trace collects the samples of one motor cycle for current logging.
// It never grows past its capacity; samples beyond it are counted but dropped.
type Trace struct {
	samples []Sample
	dropped int
}

// NewTrace creates a trace holding up to capacity samples.
func NewTrace(capacity int) *Trace {
	return &Trace{samples: make([]Sample, 0, capacity)}
}

// Reset clears the trace, keeping its storage.
func (t *Trace) Reset() {
	t.samples = t.samples[:0]
	t.dropped = 0
}

// Add appends a sample if there is room.
func (t *Trace) Add(s Sample) {
	if len(t.samples) == cap(t.samples) {
		t.dropped++
		return
	}
	t.samples = append(t.samples, s)
}

// Samples returns the collected samples. The slice aliases the trace.
func (t *Trace) Samples() []Sample { return t.samples }

// Dropped returns the number of samples that did not fit.
func (t *Trace) Dropped() int { return t.dropped }

// Summary formats a decimated trace for a log line. Home samples are marked with '*'.
func (t *Trace) Summary(maxPoints int) string {
	points := DownsampleSamples(nil, t.samples, maxPoints)

	var b strings.Builder
	fmt.Fprintf(&b, "%d samples", len(t.samples))
	if t.dropped > 0 {
		fmt.Fprintf(&b, " (+%d dropped)", t.dropped)
	}
	for _, s := range points {
		mark := ""
		if s.Home {
			mark = "*"
		}
		fmt.Fprintf(&b, " %dms:%.1f/%.1f%s", s.Elapsed.Milliseconds(), s.CurrentMA, s.AverageMA, mark)
	}
	return b.String()
}

// DownsampleSamples downsamples a slice of samples to a maximum number of points.
// Uses simple decimation to reduce the number of points for logging.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// If len(samples) <= maxPoints, copies all samples to dst.
func DownsampleSamples(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if len(samples) <= maxPoints {
		if cap(dst) >= len(samples) {
			dst = dst[:len(samples)]
			copy(dst, samples)
			return dst
		}
		result := make([]Sample, len(samples))
		copy(result, samples)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, maxPoints)
	}

	// Calculate step size for decimation
	step := float64(len(samples)) / float64(maxPoints)

	for i := 0; i < maxPoints; i++ {
		idx := int(float64(i) * step)
		if idx < len(samples) {
			dst = append(dst, samples[idx])
		}
	}

	return dst
}
