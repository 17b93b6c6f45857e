// Package diag holds the short circuit test and the confirmed row by row
// transfer of the fault matrix to the remote display.
package diag

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/motor"
	"github.com/itohio/vendmotor/pkg/sample"
)

// Tester probes motors for short circuits. Like the motor controller it must
// only be used from the dispatcher goroutine.
type Tester struct {
	ctl    *motor.Controller
	sensor hw.CurrentSensor
	matrix *grid.Matrix
	cfg    config.DiagnosticsConfig

	report func(line string)
	sleep  func(time.Duration)
}

// NewTester creates a tester writing its verdicts into matrix.
func NewTester(ctl *motor.Controller, sensor hw.CurrentSensor, matrix *grid.Matrix, cfg config.DiagnosticsConfig) *Tester {
	return &Tester{
		ctl:    ctl,
		sensor: sensor,
		matrix: matrix,
		cfg:    cfg,
		report: func(string) {},
		sleep:  time.Sleep,
	}
}

// OnReport registers the sink for per-cell short circuit notices.
func (t *Tester) OnReport(fn func(line string)) {
	if fn == nil {
		fn = func(string) {}
	}
	t.report = fn
}

// Run establishes the idle baseline and tests one cell (row and column
// given), one row (row only) or the whole bank (no row). Failing cells do not
// stop the run; hardware errors are collected and returned.
func (t *Tester) Run(row grid.Row, col grid.Col) error {
	if t.ctl.Energized() {
		if err := t.ctl.PowerOffAll(); err != nil {
			return err
		}
	}

	baseline, err := sample.Baseline(t.sensor, t.cfg.BaselineSamples, t.cfg.BaselineInterval, t.sleep)
	if err != nil {
		return err
	}
	log.Printf("[diag] idle baseline %.2fmA", baseline)

	var errs error
	switch {
	case !row.Valid():
		for i := 0; i < grid.Rows; i++ {
			errs = multierr.Append(errs, t.testRow(grid.RowAt(i), baseline))
		}
	case !col.Present():
		errs = t.testRow(row, baseline)
	default:
		cell, err := grid.NewCell(row, col)
		if err != nil {
			return err
		}
		_, errs = t.TestCell(cell, baseline)
	}

	log.Printf("[diag] test complete")
	return errs
}

func (t *Tester) testRow(row grid.Row, baseline float32) error {
	var errs error
	for j := 0; j < grid.Cols; j++ {
		_, err := t.TestCell(grid.Cell{Row: row, Col: grid.ColAt(j)}, baseline)
		errs = multierr.Append(errs, err)
		t.sleep(t.cfg.CellGap)
	}
	return errs
}

// TestCell drives the cell in test mode and samples the current. A cell
// exceeding baseline by the idle margin for ShortThreshold samples is flagged
// ShortCircuit, otherwise it is marked Functional. On a relay error the cell
// keeps its previous state.
func (t *Tester) TestCell(cell grid.Cell, baseline float32) (grid.FaultState, error) {
	prev, _ := t.matrix.Get(cell)

	if _, err := t.ctl.Relay(cell, motor.ModeTest); err != nil {
		return prev, multierr.Append(err, t.ctl.PowerOffAll())
	}

	over := 0
	for i := 0; i < t.cfg.TestSamples; i++ {
		cur, err := t.sensor.CurrentMA()
		if err != nil {
			log.Printf("[diag] %s sensor read failed: %v", cell, err)
		} else if cur-baseline > t.cfg.IdleMarginMA {
			over++
		}

		if over >= t.cfg.ShortThreshold {
			if err := t.release(cell); err != nil {
				return prev, err
			}
			t.matrix.Set(cell, grid.ShortCircuit)
			t.report(motor.FlagNotice(cell, grid.ShortCircuit))
			log.Printf("[diag] %s short circuit: %.2fmA over baseline %.2fmA", cell, cur, baseline)
			return grid.ShortCircuit, nil
		}
		t.sleep(t.cfg.SampleInterval)
	}

	if err := t.release(cell); err != nil {
		return prev, err
	}
	t.matrix.Set(cell, grid.Functional)
	log.Printf("[diag] %s functional", cell)
	return grid.Functional, nil
}

func (t *Tester) release(cell grid.Cell) error {
	_, err := t.ctl.Relay(cell, motor.ModeOff)
	if err != nil {
		return fmt.Errorf("test %s: %w", cell, multierr.Append(err, t.ctl.PowerOffAll()))
	}
	return nil
}
