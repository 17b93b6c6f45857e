package hw

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
)

// INA219 reads the shared motor current through an INA219 transducer.
type INA219 struct {
	dev *ina219.Dev
}

// NewINA219 opens and calibrates the transducer.
func NewINA219(bus i2c.Bus, addr uint16, shuntMilliohm, maxCurrentMA float32) (*INA219, error) {
	opts := ina219.Opts{
		Address:       int(addr),
		SenseResistor: physic.ElectricResistance(shuntMilliohm * float32(physic.MilliOhm)),
		MaxCurrent:    physic.ElectricCurrent(maxCurrentMA * float32(physic.MilliAmpere)),
	}
	dev, err := ina219.New(bus, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ina219 at 0x%02x: %w", addr, err)
	}
	return &INA219{dev: dev}, nil
}

// CurrentMA returns the current in milliamps.
func (s *INA219) CurrentMA() (float32, error) {
	p, err := s.dev.Sense()
	if err != nil {
		return 0, fmt.Errorf("failed to sense current: %w", err)
	}
	return float32(p.Current) / float32(physic.MilliAmpere), nil
}
