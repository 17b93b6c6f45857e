// Package motor owns relay actuation and the current-sense homing cycle.
//
// A Controller is not safe for concurrent use. It is driven from the
// dispatcher goroutine only, which keeps relay switching and sensor timing
// free of locks.
package motor

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/sample"
)

// Mode selects how a cell's relays are driven.
type Mode int

const (
	// ModeOff releases the row and column lines.
	ModeOff Mode = iota
	// ModeOn drives row and column; refused for flagged cells.
	ModeOn
	// ModeTest drives the column line only, holding the row line released.
	ModeTest
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeTest:
		return "test"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Flags gives read access to the fault state of a cell.
type Flags interface {
	Get(c grid.Cell) (grid.FaultState, bool)
}

// traceCapacity bounds the current log of one cycle.
const traceCapacity = 2048

// Controller drives the relay bank and runs homing cycles.
type Controller struct {
	relays hw.Relays
	sensor hw.CurrentSensor
	flags  Flags
	cfg    config.MotorConfig
	home   config.HomeConfig

	notify    func(line string)
	energized bool
	trace     *sample.Trace

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a controller. flags is consulted before every power-on.
func New(relays hw.Relays, sensor hw.CurrentSensor, flags Flags, cfg *config.Config) *Controller {
	c := &Controller{
		relays: relays,
		sensor: sensor,
		flags:  flags,
		cfg:    cfg.Motor,
		home:   cfg.Home,
		notify: func(string) {},
		sleep:  time.Sleep,
		now:    time.Now,
	}
	if cfg.Motor.LogCurrent {
		c.trace = sample.NewTrace(traceCapacity)
	}
	return c
}

// OnFlagged registers the sink of "Error;Motor ..." notices for refused power-ons.
func (c *Controller) OnFlagged(fn func(line string)) {
	if fn == nil {
		fn = func(string) {}
	}
	c.notify = fn
}

// Energized reports whether any relay pair may be on.
func (c *Controller) Energized() bool { return c.energized }

// FlagNotice formats the notice emitted when a flagged cell is refused.
func FlagNotice(cell grid.Cell, state grid.FaultState) string {
	return fmt.Sprintf("Error;Motor %s;Flag %d", cell, state)
}

// Relay drives one cell in the given mode. It returns false without touching
// the relays when a power-on is refused because the cell is flagged.
// Energizing first releases any other energized cell.
func (c *Controller) Relay(cell grid.Cell, mode Mode) (bool, error) {
	if !cell.Valid() {
		return false, fmt.Errorf("%w: %s", grid.ErrInvalidCell, cell)
	}
	row, col := grid.RowPin(cell.Row), grid.ColPin(cell.Col)

	switch mode {
	case ModeOff:
		err := multierr.Combine(
			c.relays.SetLine(row, false),
			c.relays.SetLine(col, false),
		)
		if err != nil {
			return true, fmt.Errorf("failed to release %s: %w", cell, err)
		}
		c.energized = false
		return true, nil

	case ModeOn:
		if state, _ := c.flags.Get(cell); state != grid.Functional {
			log.Printf("[motor] %s refused, flagged %s", cell, state)
			c.notify(FlagNotice(cell, state))
			return false, nil
		}
		if err := c.releaseOthers(); err != nil {
			return true, err
		}
		c.energized = true
		if err := c.relays.SetLine(row, true); err != nil {
			return true, fmt.Errorf("failed to energize %s: %w", cell, err)
		}
		if err := c.relays.SetLine(col, true); err != nil {
			return true, fmt.Errorf("failed to energize %s: %w", cell, err)
		}
		return true, nil

	case ModeTest:
		if err := c.releaseOthers(); err != nil {
			return true, err
		}
		c.energized = true
		if err := c.relays.SetLine(row, false); err != nil {
			return true, fmt.Errorf("failed to probe %s: %w", cell, err)
		}
		if err := c.relays.SetLine(col, true); err != nil {
			return true, fmt.Errorf("failed to probe %s: %w", cell, err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("unknown relay mode %d", int(mode))
	}
}

func (c *Controller) releaseOthers() error {
	if !c.energized {
		return nil
	}
	return c.PowerOffAll()
}

// PowerOffAll releases every relay line, pausing SwitchDelay between lines.
// All lines are attempted even when some fail.
func (c *Controller) PowerOffAll() error {
	var err error
	for line := uint8(0); line < grid.RelayLines; line++ {
		err = multierr.Append(err, c.relays.SetLine(line, false))
		c.sleep(c.cfg.SwitchDelay)
	}
	if err != nil {
		return fmt.Errorf("power off: %w", err)
	}
	c.energized = false
	return nil
}

// release de-energizes a cell, falling back to releasing every line.
func (c *Controller) release(cell grid.Cell) error {
	_, err := c.Relay(cell, ModeOff)
	if err == nil {
		return nil
	}
	log.Printf("[motor] %v, releasing all relays", err)
	return multierr.Append(err, c.PowerOffAll())
}
