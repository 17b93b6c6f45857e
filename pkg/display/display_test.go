package display

import (
	"testing"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/vendmotor/pkg/diag"
	"github.com/itohio/vendmotor/pkg/grid"
)

type answers struct{ lines []string }

func (a *answers) send(line string) error {
	a.lines = append(a.lines, line)
	return nil
}

func transferLines(m *grid.Matrix) []string {
	lines := []string{diag.Header}
	for i := 0; i < grid.Rows; i++ {
		lines = append(lines, diag.FormatRow(i, m.Row(i)))
	}
	return lines
}

func TestReceiver_Complete(t *testing.T) {
	var m grid.Matrix
	m.Set(grid.Cell{Row: 'A', Col: '3'}, grid.HomeTimeout)
	m.Set(grid.Cell{Row: 'E', Col: '8'}, grid.ShortCircuit)

	var a answers
	r := NewReceiver(a.send)
	var got []States
	r.OnMatrix(func(s States) { got = append(got, s) })

	assert.False(t, r.Feed("RECEIVE SUCCESS"))
	for _, l := range transferLines(&m) {
		assert.True(t, r.Feed(l), l)
	}
	assert.False(t, r.Feed("send motorStateMatrix DONE"))

	assert.Len(t, a.lines, grid.Rows)
	for _, l := range a.lines {
		assert.Equal(t, "rowreceived", l)
	}
	require.Len(t, got, 1)
	assert.Equal(t, m.Snapshot(), got[0])
}

func TestReceiver_Retransmission(t *testing.T) {
	var m grid.Matrix
	var a answers
	r := NewReceiver(a.send)
	var got int
	r.OnMatrix(func(States) { got++ })

	lines := transferLines(&m)
	r.Feed(lines[0])
	r.Feed(lines[1])
	r.Feed(lines[1]) // Our confirmation was lost
	for _, l := range lines[2:] {
		r.Feed(l)
	}

	assert.Len(t, a.lines, grid.Rows+1)
	assert.Equal(t, 1, got)
}

func TestReceiver_Abort(t *testing.T) {
	var a answers
	r := NewReceiver(a.send)
	completed, aborted := 0, 0
	r.OnMatrix(func(States) { completed++ })
	r.OnAbort(func() { aborted++ })

	r.Feed(diag.Header)
	for i := 0; i < 5; i++ {
		r.Feed("ROW0;0,0,0,0,0,0,0,0,")
	}
	assert.True(t, r.Feed(diag.AbortMarker))
	assert.Equal(t, 1, aborted)

	// Rows after an abort do not complete a matrix.
	for i := 1; i < grid.Rows; i++ {
		r.Feed(diag.FormatRow(i, [grid.Cols]grid.FaultState{}))
	}
	assert.Equal(t, 0, completed)

	// A stray marker is ignored.
	r.Feed(diag.AbortMarker)
	assert.Equal(t, 1, aborted)
}

func TestReceiver_BadRowNotConfirmed(t *testing.T) {
	var a answers
	r := NewReceiver(a.send)
	r.Feed(diag.Header)
	assert.True(t, r.Feed("ROW9;0,0,0,0,0,0,0,0,"))
	assert.Empty(t, a.lines)
}

func TestCellAt(t *testing.T) {
	size := fyne.NewSize(grid.Cols*10, grid.Rows*10)
	tests := []struct {
		pos  fyne.Position
		want string
		ok   bool
	}{
		{fyne.NewPos(0, 0), "A1", true},
		{fyne.NewPos(15, 5), "A2", true},
		{fyne.NewPos(79, 59), "F8", true},
		{fyne.NewPos(35, 42), "E4", true},
		{fyne.NewPos(80, 10), "", false},
		{fyne.NewPos(-1, 10), "", false},
	}
	for _, tt := range tests {
		c, ok := cellAt(size, tt.pos)
		assert.Equal(t, tt.ok, ok, tt.pos)
		if ok {
			assert.Equal(t, tt.want, c.String())
		}
	}
}

func TestMatrixWidget(t *testing.T) {
	test.NewTempApp(t)

	w := NewMatrixWidget()
	w.Resize(fyne.NewSize(grid.Cols*10, grid.Rows*10))
	_, known := w.Matrix()
	assert.False(t, known)

	var picked []grid.Cell
	w.OnSelect(func(c grid.Cell) { picked = append(picked, c) })
	w.Tapped(&fyne.PointEvent{Position: fyne.NewPos(25, 15)})
	assert.Equal(t, grid.Cell{Row: 'B', Col: '3'}, w.Selected())
	assert.Equal(t, []grid.Cell{{Row: 'B', Col: '3'}}, picked)

	var s States
	s[1][2] = grid.ShortCircuit
	w.SetMatrix(s)
	got, known := w.Matrix()
	assert.True(t, known)
	assert.Equal(t, s, got)

	r := test.WidgetRenderer(w)
	assert.Len(t, r.Objects(), 1+2*grid.Cells)
}
