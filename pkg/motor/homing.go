package motor

import (
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/sample"
)

// Result is the outcome of a homing cycle. The first three values equal the
// fault state persisted for the cell.
type Result uint8

const (
	Success        Result = 0
	CurrentOutlier Result = 1
	HomeTimeout    Result = 2
	MotorFlagged   Result = 3
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case CurrentOutlier:
		return "CurrentOutlier"
	case HomeTimeout:
		return "HomeTimeout"
	case MotorFlagged:
		return "MotorFlagged"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// FaultState returns the state to persist for the cell. ok is false for
// MotorFlagged, which leaves the existing flag untouched.
func (r Result) FaultState() (state grid.FaultState, ok bool) {
	switch r {
	case Success:
		return grid.Functional, true
	case CurrentOutlier:
		return grid.CurrentOutlier, true
	case HomeTimeout:
		return grid.HomeTimeout, true
	default:
		return 0, false
	}
}

// cycle holds the parameters of one homing run.
type cycle struct {
	name         string
	minSamples   int
	settle       time.Duration
	timeout      time.Duration
	outlierCheck bool
}

// RunOneRev turns the motor of cell one revolution and stops it when the
// current signature of the home position is seen.
func (c *Controller) RunOneRev(cell grid.Cell) (Result, error) {
	return c.run(cell, cycle{
		name:         "revolution",
		minSamples:   c.cfg.MinSamples,
		settle:       c.cfg.SettleDelay,
		timeout:      c.cfg.Timeout,
		outlierCheck: true,
	})
}

// SendHome drives the motor of cell back to its home position with relaxed
// timing. It does not check for current outliers.
func (c *Controller) SendHome(cell grid.Cell) (Result, error) {
	return c.run(cell, cycle{
		name:       "home",
		minSamples: c.home.MinSamples,
		settle:     c.home.SettleDelay,
		timeout:    c.home.Timeout,
	})
}

// run executes one homing cycle.
//
// After the settle delay the sensor is polled every PollInterval. Samples are
// folded into a running average. Once more than minSamples samples were
// folded, a reading above the average by more than the home delta counts
// toward home; HomeSamples consecutive such readings end the cycle. Any other
// reading resets the count and is folded into the average.
func (c *Controller) run(cell grid.Cell, p cycle) (Result, error) {
	ok, err := c.Relay(cell, ModeOn)
	if err != nil {
		return HomeTimeout, multierr.Append(err, c.PowerOffAll())
	}
	if !ok {
		return MotorFlagged, nil
	}

	start := c.now()
	c.sleep(p.settle)

	delta := c.cfg.HomeDeltaMA()
	if c.trace != nil {
		c.trace.Reset()
	}

	var avg sample.Average
	homeCount, outliers := 0, 0
	result := Success
	for homeCount < c.cfg.HomeSamples {
		cur, err := c.sensor.CurrentMA()
		elapsed := c.now().Sub(start)
		if elapsed > p.timeout {
			log.Printf("[motor] %s %s timeout after %v (%d samples, avg %.1fmA)", cell, p.name, elapsed, avg.Count(), avg.Value())
			result = HomeTimeout
			break
		}
		if err != nil {
			log.Printf("[motor] %s sensor read failed: %v", cell, err)
			c.sleep(c.cfg.PollInterval)
			continue
		}

		home := avg.Count() > p.minSamples && cur-avg.Value() > delta
		if home {
			homeCount++
		} else {
			if p.outlierCheck && avg.Count() > 0 && avg.Count() <= p.minSamples &&
				math32.Abs(cur-avg.Value()) > c.cfg.OutlierDeltaMA {
				outliers++
				if outliers > c.cfg.MaxOutliers {
					log.Printf("[motor] %s current outlier %.1fmA (avg %.1fmA), %d outliers", cell, cur, avg.Value(), outliers)
					result = CurrentOutlier
					break
				}
			}
			homeCount = 0
			avg.Add(cur)
		}

		if c.trace != nil {
			c.trace.Add(sample.Sample{Elapsed: elapsed, CurrentMA: cur, AverageMA: avg.Value(), Home: home})
		}
		c.sleep(c.cfg.PollInterval)
	}

	if c.trace != nil {
		log.Printf("[motor] %s %s current: %s", cell, p.name, c.trace.Summary(64))
	}

	if err := c.release(cell); err != nil {
		return HomeTimeout, err
	}
	return result, nil
}
