// Package sample provides current sample bookkeeping for the homing and
// short circuit algorithms: the running average, idle baseline sampling and
// trace decimation for current logging.
package sample

import (
	"fmt"
	"log"
	"time"

	"github.com/itohio/vendmotor/pkg/hw"
)

// Sample is one current reading taken during a motor cycle.
type Sample struct {
	Elapsed   time.Duration // Since the relays were energized
	CurrentMA float32
	AverageMA float32 // Running average after this sample
	Home      bool    // Counted toward home detection
}

// Average is a running arithmetic mean of current readings.
// The zero value is an empty average.
type Average struct {
	sum float32
	n   int
}

// Add folds a reading into the average.
func (a *Average) Add(v float32) {
	a.sum += v
	a.n++
}

// Value returns the mean, 0 when empty.
func (a *Average) Value() float32 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float32(a.n)
}

// Count returns the number of folded readings.
func (a *Average) Count() int { return a.n }

// Reset empties the average.
func (a *Average) Reset() {
	a.sum = 0
	a.n = 0
}

// Baseline averages n readings taken interval apart. Failed reads are logged
// and skipped; an error is returned only when no read succeeded.
func Baseline(s hw.CurrentSensor, n int, interval time.Duration, sleep func(time.Duration)) (float32, error) {
	if sleep == nil {
		sleep = time.Sleep
	}

	var avg Average
	var lastErr error
	for i := 0; i < n; i++ {
		v, err := s.CurrentMA()
		if err != nil {
			log.Printf("[sample] baseline read %d failed: %v", i, err)
			lastErr = err
		} else {
			avg.Add(v)
		}
		sleep(interval)
	}

	if avg.Count() == 0 {
		if lastErr == nil {
			return 0, fmt.Errorf("no baseline samples requested")
		}
		return 0, fmt.Errorf("failed to establish baseline: %w", lastErr)
	}
	return avg.Value(), nil
}
