package display

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/vendmotor/pkg/grid"
)

// Cell colors by fault state.
var (
	colorUnknown  = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	colorSelected = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	stateColors   = map[grid.FaultState]color.Color{
		grid.Functional:     color.RGBA{R: 40, G: 160, B: 70, A: 255},
		grid.CurrentOutlier: color.RGBA{R: 255, G: 165, B: 0, A: 255},
		grid.HomeTimeout:    color.RGBA{R: 230, G: 210, B: 40, A: 255},
		grid.ShortCircuit:   color.RGBA{R: 210, G: 40, B: 40, A: 255},
	}
)

// MatrixWidget is a custom Fyne widget that displays the fault matrix and
// lets the user pick a cell.
type MatrixWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu       sync.RWMutex
	states   States
	known    bool
	selected grid.Cell

	onSelect func(grid.Cell)
}

// NewMatrixWidget creates a widget with no matrix received yet.
func NewMatrixWidget() *MatrixWidget {
	w := &MatrixWidget{selected: grid.CellAt(0, 0)}
	w.ExtendBaseWidget(w)
	return w
}

// SetMatrix shows a received matrix. Call it on the Fyne thread (fyne.Do).
func (w *MatrixWidget) SetMatrix(states States) {
	w.mu.Lock()
	w.states = states
	w.known = true
	w.mu.Unlock()

	w.Refresh()
}

// Matrix returns the displayed matrix and whether one was received.
func (w *MatrixWidget) Matrix() (States, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.states, w.known
}

// Selected returns the selected cell.
func (w *MatrixWidget) Selected() grid.Cell {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selected
}

// OnSelect sets the callback invoked when the user picks a cell.
func (w *MatrixWidget) OnSelect(fn func(grid.Cell)) {
	w.mu.Lock()
	w.onSelect = fn
	w.mu.Unlock()
}

// Tapped selects the cell under the pointer.
func (w *MatrixWidget) Tapped(ev *fyne.PointEvent) {
	c, ok := cellAt(w.Size(), ev.Position)
	if !ok {
		return
	}

	w.mu.Lock()
	w.selected = c
	fn := w.onSelect
	w.mu.Unlock()

	w.Refresh()
	if fn != nil {
		fn(c)
	}
}

// CreateRenderer creates the widget renderer.
func (w *MatrixWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &matrixRenderer{matrix: w, bg: bg, objects: []fyne.CanvasObject{bg}}
}

// cellAt maps a position inside a widget of the given size to a cell.
func cellAt(size fyne.Size, pos fyne.Position) (grid.Cell, bool) {
	if size.Width <= 0 || size.Height <= 0 || pos.X < 0 || pos.Y < 0 {
		return grid.Cell{}, false
	}
	col := int(pos.X / (size.Width / grid.Cols))
	row := int(pos.Y / (size.Height / grid.Rows))
	if row >= grid.Rows || col >= grid.Cols {
		return grid.Cell{}, false
	}
	return grid.CellAt(row, col), true
}

// matrixRenderer renders the matrix widget.
type matrixRenderer struct {
	matrix  *MatrixWidget
	bg      *canvas.Rectangle
	objects []fyne.CanvasObject
}

// MinSize returns the minimum size of the widget.
func (r *matrixRenderer) MinSize() fyne.Size {
	return fyne.NewSize(grid.Cols*48, grid.Rows*40)
}

// Layout arranges the widget components.
func (r *matrixRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)
	r.Refresh()
}

// Refresh redraws every cell.
func (r *matrixRenderer) Refresh() {
	r.matrix.mu.RLock()
	states := r.matrix.states
	known := r.matrix.known
	selected := r.matrix.selected
	r.matrix.mu.RUnlock()

	size := r.matrix.Size()
	r.objects = []fyne.CanvasObject{r.bg}
	if size.Width == 0 || size.Height == 0 {
		return
	}

	const gap = 3
	cw := size.Width / grid.Cols
	ch := size.Height / grid.Rows
	for i := 0; i < grid.Rows; i++ {
		for j := 0; j < grid.Cols; j++ {
			c := grid.CellAt(i, j)
			fill := color.Color(colorUnknown)
			if known {
				fill = stateColors[states[i][j]]
			}

			rect := canvas.NewRectangle(fill)
			if c == selected {
				rect.StrokeColor = colorSelected
				rect.StrokeWidth = 2
			}
			rect.Move(fyne.NewPos(float32(j)*cw+gap, float32(i)*ch+gap))
			rect.Resize(fyne.NewSize(cw-2*gap, ch-2*gap))

			label := canvas.NewText(c.String(), color.RGBA{R: 240, G: 240, B: 240, A: 255})
			label.TextSize = 12
			label.Alignment = fyne.TextAlignCenter
			label.Move(fyne.NewPos(float32(j)*cw, float32(i)*ch+ch/2-8))
			label.Resize(fyne.NewSize(cw, 16))

			r.objects = append(r.objects, rect, label)
		}
	}
}

// Objects returns all canvas objects for rendering.
func (r *matrixRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *matrixRenderer) Destroy() {}
