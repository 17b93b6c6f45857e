package hw

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/itohio/vendmotor/pkg/config"
)

type bank struct {
	Relays
	CurrentSensor
}

// NewBank combines relays and a sensor into a Bank.
func NewBank(r Relays, s CurrentSensor) Bank {
	return bank{Relays: r, CurrentSensor: s}
}

// Open initializes the host drivers, opens the I2C bus and brings up the
// relay expander and the current-sense transducer. Closing the returned
// closer releases the bus.
func Open(cfg config.HardwareConfig) (Bank, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open i2c bus %q: %w", cfg.I2CBus, err)
	}

	relays, err := NewExpander(bus, cfg.ExpanderAddress)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	sensor, err := NewINA219(bus, cfg.SensorAddress, cfg.ShuntMilliohm, cfg.MaxCurrentMA)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return NewBank(relays, sensor), bus, nil
}
