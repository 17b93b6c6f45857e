package grid

import (
	"strconv"
	"strings"
)

// FaultState is the persisted health of one motor.
type FaultState uint8

const (
	Functional FaultState = iota
	CurrentOutlier
	HomeTimeout
	ShortCircuit
)

func (s FaultState) String() string {
	switch s {
	case Functional:
		return "Functional"
	case CurrentOutlier:
		return "CurrentOutlier"
	case HomeTimeout:
		return "HomeTimeout"
	case ShortCircuit:
		return "ShortCircuit"
	default:
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Matrix is the 6x8 fault-state matrix. The zero value has every motor Functional.
//
// Matrix carries no lock: it is owned by the dispatcher goroutine and every
// reader and writer runs there.
type Matrix struct {
	cells [Rows][Cols]FaultState
}

// Get returns the state of a cell. ok is false when the cell is not valid.
func (m *Matrix) Get(c Cell) (FaultState, bool) {
	if !c.Valid() {
		return 0, false
	}
	return m.cells[c.Row.Index()][c.Col.Index()], true
}

// Set stores the state of a cell and reports whether the cell was valid.
func (m *Matrix) Set(c Cell, s FaultState) bool {
	if !c.Valid() {
		return false
	}
	m.cells[c.Row.Index()][c.Col.Index()] = s
	return true
}

// ResetRow sets every cell of a row back to Functional.
func (m *Matrix) ResetRow(r Row) bool {
	if !r.Valid() {
		return false
	}
	m.cells[r.Index()] = [Cols]FaultState{}
	return true
}

// ResetAll sets all 48 cells back to Functional.
func (m *Matrix) ResetAll() {
	m.cells = [Rows][Cols]FaultState{}
}

// Row returns a copy of one matrix row by index.
func (m *Matrix) Row(i int) [Cols]FaultState {
	return m.cells[i]
}

// Snapshot returns a copy of the whole matrix.
func (m *Matrix) Snapshot() [Rows][Cols]FaultState {
	return m.cells
}

// Flagged returns the number of cells that are not Functional.
func (m *Matrix) Flagged() int {
	n := 0
	for i := range m.cells {
		for _, s := range m.cells[i] {
			if s != Functional {
				n++
			}
		}
	}
	return n
}

// FormatRow renders a matrix row as the comma separated state list used on the wire.
// Every value is followed by a comma, e.g. "0,0,3,0,0,0,0,0,".
func FormatRow(row [Cols]FaultState) string {
	var b strings.Builder
	for _, s := range row {
		b.WriteString(strconv.Itoa(int(s)))
		b.WriteByte(',')
	}
	return b.String()
}
