package hw

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chewxy/math32"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/grid"
)

// Mock simulates a motor bank for testing and development.
//
// The simulation is driven by sensor reads, not wall time: every CurrentMA
// call while a motor is driven advances its revolution by one sample. A
// driven motor draws the running current and, once per revolution, rises
// by the home spike for SpikeSamples samples. In test mode (column line only)
// a shorted cell draws ShortMA; the probed row is the row line driven last.
type Mock struct {
	cfg config.MockConfig

	mu      sync.Mutex
	lines   [grid.RelayLines]bool
	lastRow grid.Row
	driven  grid.Cell
	sample  int // Revolution sample of the driven motor
	reads   int // Total reads, drives the noise
	shorted map[grid.Cell]bool
	stalled map[grid.Cell]bool
	writes  int
}

// NewMock creates a simulated bank.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	m := &Mock{
		cfg:     *cfg,
		shorted: parseCells(cfg.Shorted),
		stalled: parseCells(cfg.Stalled),
	}
	if m.cfg.RevolutionSamples <= 0 {
		m.cfg.RevolutionSamples = 300
	}
	if m.cfg.SpikeSamples <= 0 {
		m.cfg.SpikeSamples = 10
	}
	return m
}

func parseCells(list []string) map[grid.Cell]bool {
	cells := make(map[grid.Cell]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if len(s) != 2 {
			continue
		}
		c, err := grid.NewCell(grid.ValidateRow(s[0]), grid.Col(s[1]))
		if err != nil {
			continue
		}
		cells[c] = true
	}
	return cells
}

// SetShorted marks a cell as shorted.
func (m *Mock) SetShorted(c grid.Cell, shorted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shorted[c] = shorted
}

// SetStalled marks a cell as never reaching home.
func (m *Mock) SetStalled(c grid.Cell, stalled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalled[c] = stalled
}

// SetLine implements Relays.
func (m *Mock) SetLine(line uint8, on bool) error {
	if line >= grid.RelayLines {
		return fmt.Errorf("mock line %d out of range", line)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	m.lines[line] = on
	for i := 0; i < grid.Rows; i++ {
		if r := grid.RowAt(i); grid.RowPin(r) == line {
			m.lastRow = r
		}
	}

	cell := m.drivenCell()
	if cell != m.driven {
		m.driven = cell
		m.sample = 0
	}
	return nil
}

// drivenCell returns the single cell with both lines on, or the zero cell.
func (m *Mock) drivenCell() grid.Cell {
	var cell grid.Cell
	n := 0
	for i := 0; i < grid.Rows; i++ {
		if !m.lines[grid.RowPin(grid.RowAt(i))] {
			continue
		}
		for j := 0; j < grid.Cols; j++ {
			if m.lines[grid.ColPin(grid.ColAt(j))] {
				cell = grid.CellAt(i, j)
				n++
			}
		}
	}
	if n != 1 {
		return grid.Cell{}
	}
	return cell
}

// CurrentMA implements CurrentSensor.
func (m *Mock) CurrentMA() (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	x := float32(m.reads)
	noise := (math32.Sin(x*0.7) + math32.Cos(x*1.3)) * m.cfg.NoiseMA * 0.5
	current := m.cfg.IdleMA + noise

	if m.driven.Valid() {
		n := m.sample
		m.sample++
		current += m.cfg.RunningMA
		if !m.stalled[m.driven] {
			pos := n % m.cfg.RevolutionSamples
			if n >= m.cfg.RevolutionSamples && pos < m.cfg.SpikeSamples {
				current += m.cfg.HomeSpikeMA
			}
		}
		return math32.Max(current, 0), nil
	}

	if probed, ok := m.probedCell(); ok && m.shorted[probed] {
		current += m.cfg.ShortMA
	}
	return math32.Max(current, 0), nil
}

// probedCell returns the cell under test: one column line on, no row line on.
func (m *Mock) probedCell() (grid.Cell, bool) {
	for i := 0; i < grid.Rows; i++ {
		if m.lines[grid.RowPin(grid.RowAt(i))] {
			return grid.Cell{}, false
		}
	}
	var col grid.Col
	for j := 0; j < grid.Cols; j++ {
		if m.lines[grid.ColPin(grid.ColAt(j))] {
			if col != grid.NoCol {
				return grid.Cell{}, false
			}
			col = grid.ColAt(j)
		}
	}
	if col == grid.NoCol || !m.lastRow.Valid() {
		return grid.Cell{}, false
	}
	return grid.Cell{Row: m.lastRow, Col: col}, true
}

// Energized returns the lines currently on.
func (m *Mock) Energized() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var on []uint8
	for i, v := range m.lines {
		if v {
			on = append(on, uint8(i))
		}
	}
	return on
}

// Writes returns the number of relay line writes so far.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
