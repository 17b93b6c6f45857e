package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
)

// PCAL9535A register map (16 bit expander, two 8 bit ports).
const (
	regOutput0 = 0x02
	regOutput1 = 0x03
	regConfig0 = 0x06
	regConfig1 = 0x07

	// ExpanderLines is the number of outputs on the expander.
	ExpanderLines = 16
)

// Expander drives the relays through a PCAL9535A I2C port expander.
// Output state is shadowed so a single line can be changed with one write.
type Expander struct {
	dev *i2c.Dev

	mu  sync.Mutex
	out [2]byte
}

// NewExpander configures every expander line as a low output.
func NewExpander(bus i2c.Bus, addr uint16) (*Expander, error) {
	e := &Expander{dev: &i2c.Dev{Bus: bus, Addr: addr}}

	for _, w := range [][]byte{
		{regOutput0, 0x00},
		{regOutput1, 0x00},
		{regConfig0, 0x00}, // 0 = output
		{regConfig1, 0x00},
	} {
		if err := e.dev.Tx(w, nil); err != nil {
			return nil, fmt.Errorf("failed to configure expander at 0x%02x: %w", addr, err)
		}
	}
	return e, nil
}

// SetLine sets a single output line.
func (e *Expander) SetLine(line uint8, on bool) error {
	if line >= ExpanderLines {
		return fmt.Errorf("expander line %d out of range", line)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	port := line / 8
	mask := byte(1) << (line % 8)
	next := e.out[port] &^ mask
	if on {
		next |= mask
	}

	if err := e.dev.Tx([]byte{regOutput0 + port, next}, nil); err != nil {
		return fmt.Errorf("failed to write expander line %d: %w", line, err)
	}
	e.out[port] = next
	return nil
}

// Outputs returns the shadowed output state, port 0 in the low byte.
func (e *Expander) Outputs() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint16(e.out[0]) | uint16(e.out[1])<<8
}
