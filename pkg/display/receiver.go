// Package display is the remote side of the matrix transfer and a Fyne
// widget that shows the fault matrix.
package display

import (
	"log"
	"strings"
	"sync"

	"github.com/itohio/vendmotor/pkg/diag"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/ingress"
)

// States is a complete fault matrix as received.
type States = [grid.Rows][grid.Cols]grid.FaultState

// Receiver assembles a transferred matrix from controller output lines and
// confirms each row.
type Receiver struct {
	answer func(string) error

	mu        sync.Mutex
	receiving bool
	rows      States
	got       [grid.Rows]bool
	onMatrix  func(States)
	onAbort   func()
}

// NewReceiver creates a receiver that confirms rows with answer.
func NewReceiver(answer func(string) error) *Receiver {
	return &Receiver{answer: answer}
}

// OnMatrix sets the callback receiving every completely transferred matrix.
func (r *Receiver) OnMatrix(fn func(States)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMatrix = fn
}

// OnAbort sets the callback invoked when the controller abandons a transfer.
func (r *Receiver) OnAbort(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAbort = fn
}

// Feed processes one controller line. It reports whether the line was part
// of the transfer protocol.
func (r *Receiver) Feed(line string) bool {
	switch {
	case line == diag.Header:
		r.mu.Lock()
		r.receiving = true
		r.got = [grid.Rows]bool{}
		r.mu.Unlock()
		return true

	case line == diag.AbortMarker:
		r.mu.Lock()
		wasReceiving := r.receiving
		r.receiving = false
		fn := r.onAbort
		r.mu.Unlock()
		if wasReceiving {
			log.Printf("[display] transfer abandoned by controller")
			if fn != nil {
				fn()
			}
		}
		return true

	case strings.HasPrefix(line, diag.RowPrefix):
		r.row(line)
		return true
	}
	return false
}

func (r *Receiver) row(line string) {
	i, states, err := diag.ParseRow(line)
	if err != nil {
		// Not confirmed, the controller resends.
		log.Printf("[display] bad row %q: %v", line, err)
		return
	}

	r.mu.Lock()
	var (
		complete bool
		matrix   States
		fn       func(States)
	)
	if r.receiving {
		r.rows[i] = states
		r.got[i] = true
		complete = true
		for _, ok := range r.got {
			complete = complete && ok
		}
		if complete {
			r.receiving = false
			matrix, fn = r.rows, r.onMatrix
		}
	} else {
		log.Printf("[display] row %d outside of a transfer", i)
	}
	r.mu.Unlock()

	if err := r.answer(ingress.AckToken); err != nil {
		log.Printf("[display] confirm row %d: %v", i, err)
	}
	if complete && fn != nil {
		fn(matrix)
	}
}
