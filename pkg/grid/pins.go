package grid

// Relay expander output lines. Rows drive the ground side relays on port 0,
// columns drive the supply side relays on port 1.
const (
	// RelayLines is the number of expander outputs used by the bank.
	RelayLines = 16

	// NoPin is returned when a symbol has no relay line.
	NoPin uint8 = 255
)

type pinEntry struct {
	key byte
	pin uint8
}

// Small fixed tables, scanned linearly.
var (
	rowPins = [Rows]pinEntry{
		{'A', 0}, {'B', 1}, {'C', 2}, {'D', 3}, {'E', 4}, {'F', 5},
	}
	colPins = [Cols]pinEntry{
		{'1', 8}, {'2', 9}, {'3', 10}, {'4', 11}, {'5', 12}, {'6', 13}, {'7', 14}, {'8', 15},
	}
)

// Pin returns the relay line of a row or column symbol. Row symbols must be
// upper case (see ValidateRow). Unknown symbols return NoPin.
func Pin(key byte) uint8 {
	for _, e := range rowPins {
		if e.key == key {
			return e.pin
		}
	}
	for _, e := range colPins {
		if e.key == key {
			return e.pin
		}
	}
	return NoPin
}

// RowPin returns the relay line driving a row.
func RowPin(r Row) uint8 { return Pin(byte(r)) }

// ColPin returns the relay line driving a column.
func ColPin(c Col) uint8 { return Pin(byte(c)) }
