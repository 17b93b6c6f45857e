// Package grid models the 6x8 motor bank: row and column symbols, their
// matrix indexes and the per-cell fault state.
package grid

import (
	"errors"
	"fmt"
)

const (
	// Rows is the number of motor rows (A..F).
	Rows = 6
	// Cols is the number of motor columns (1..8).
	Cols = 8
	// Cells is the total number of motors in the bank.
	Cells = Rows * Cols

	// InvalidIndex is returned by Index for characters that are neither a row nor a column.
	InvalidIndex = 255
)

// ErrInvalidCell is returned when a row or column symbol does not name a motor.
var ErrInvalidCell = errors.New("invalid cell")

// Row is a validated, upper case row symbol 'A'..'F'. NoRow means "absent or invalid".
type Row byte

// Col is a raw column symbol as received on the wire. NoCol means absent.
// Validity is only established by Index.
type Col byte

const (
	NoRow Row = 0
	NoCol Col = 0
)

// ValidateRow normalizes a row character to upper case. Any character outside
// a..f / A..F, including the zero byte, yields NoRow.
func ValidateRow(c byte) Row {
	switch {
	case c >= 'A' && c <= 'F':
		return Row(c)
	case c >= 'a' && c <= 'f':
		return Row(c - 'a' + 'A')
	default:
		return NoRow
	}
}

// Index converts a row (either case) or column character to its zero based
// matrix index. Anything else returns InvalidIndex.
func Index(c byte) uint8 {
	switch {
	case c >= 'A' && c <= 'F':
		return c - 'A'
	case c >= 'a' && c <= 'f':
		return c - 'a'
	case c >= '1' && c <= '8':
		return c - '1'
	default:
		return InvalidIndex
	}
}

// RowAt returns the row symbol for a matrix row index, or NoRow when out of range.
func RowAt(i int) Row {
	if i < 0 || i >= Rows {
		return NoRow
	}
	return Row('A' + i)
}

// ColAt returns the column symbol for a matrix column index, or NoCol when out of range.
func ColAt(i int) Col {
	if i < 0 || i >= Cols {
		return NoCol
	}
	return Col('1' + i)
}

// Valid reports whether r names a row.
func (r Row) Valid() bool { return r >= 'A' && r <= 'F' }

// Index returns the matrix row index of r.
func (r Row) Index() uint8 { return Index(byte(r)) }

// Present reports whether a column character was given at all.
func (c Col) Present() bool { return c != NoCol }

// Valid reports whether c names a column.
func (c Col) Valid() bool { return c >= '1' && c <= '8' }

// Index returns the matrix column index of c.
func (c Col) Index() uint8 {
	if !c.Valid() {
		return InvalidIndex
	}
	return byte(c) - '1'
}

// Cell identifies one motor.
type Cell struct {
	Row Row
	Col Col
}

// NewCell validates a row and column pair.
func NewCell(row Row, col Col) (Cell, error) {
	if !row.Valid() || !col.Valid() {
		return Cell{}, fmt.Errorf("%w: %c%c", ErrInvalidCell, printable(byte(row)), printable(byte(col)))
	}
	return Cell{Row: row, Col: col}, nil
}

// CellAt returns the cell at the given matrix position.
func CellAt(rowIdx, colIdx int) Cell {
	return Cell{Row: RowAt(rowIdx), Col: ColAt(colIdx)}
}

// Valid reports whether both coordinates name a motor.
func (c Cell) Valid() bool { return c.Row.Valid() && c.Col.Valid() }

// String formats the cell the way it appears on the wire, e.g. "A1".
func (c Cell) String() string {
	return string([]byte{printable(byte(c.Row)), printable(byte(c.Col))})
}

func printable(b byte) byte {
	if b == 0 {
		return ' '
	}
	return b
}
