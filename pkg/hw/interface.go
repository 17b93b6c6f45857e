// Package hw contains the relay expander and current-sense transducer drivers
// of the motor bank, and a simulated bank for development and tests.
package hw

// Relays drives the relay expander output lines.
type Relays interface {
	// SetLine energizes (on) or releases one output line.
	SetLine(line uint8, on bool) error
}

// CurrentSensor reads the shared current-sense channel.
type CurrentSensor interface {
	// CurrentMA returns the instantaneous current in milliamps.
	CurrentMA() (float32, error)
}

// Bank is a complete motor bank: relays plus the shared sensor.
type Bank interface {
	Relays
	CurrentSensor
}

var (
	_ Relays        = (*Expander)(nil)
	_ CurrentSensor = (*INA219)(nil)
	_ Bank          = (*Mock)(nil)
)
