package diag

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/grid"
)

// Matrix transfer wire format.
const (
	Header      = "MOTORSTATEMATRIX;"
	AbortMarker = "MOTORSTATEMATRIX;ABORT"
	RowPrefix   = "ROW"
)

// ErrTransferAbandoned is returned when a row was never confirmed.
var ErrTransferAbandoned = errors.New("transfer abandoned")

// Confirmation is a binary signal: any number of Gives before a Take
// release exactly one Take.
type Confirmation struct {
	ch chan struct{}
}

// NewConfirmation creates an unset signal.
func NewConfirmation() *Confirmation {
	return &Confirmation{ch: make(chan struct{}, 1)}
}

// Give sets the signal. It never blocks.
func (c *Confirmation) Give() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// Take waits up to timeout for the signal and clears it.
func (c *Confirmation) Take(timeout time.Duration) bool {
	select {
	case <-c.ch:
		return true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.ch:
		return true
	case <-t.C:
		return false
	}
}

// Drain clears a stale signal.
func (c *Confirmation) Drain() {
	select {
	case <-c.ch:
	default:
	}
}

// FormatRow formats one row line, e.g. "ROW0;0,0,2,0,0,0,0,0,".
func FormatRow(i int, row [grid.Cols]grid.FaultState) string {
	return fmt.Sprintf("%s%d;%s", RowPrefix, i, grid.FormatRow(row))
}

// ParseRow parses a row line produced by FormatRow.
func ParseRow(line string) (int, [grid.Cols]grid.FaultState, error) {
	var row [grid.Cols]grid.FaultState

	rest, ok := strings.CutPrefix(line, RowPrefix)
	if !ok {
		return 0, row, fmt.Errorf("not a row line: %q", line)
	}
	num, values, ok := strings.Cut(rest, ";")
	if !ok {
		return 0, row, fmt.Errorf("row line without delimiter: %q", line)
	}
	i, err := strconv.Atoi(num)
	if err != nil || i < 0 || i >= grid.Rows {
		return 0, row, fmt.Errorf("bad row number %q", num)
	}

	fields := strings.Split(strings.TrimSuffix(values, ","), ",")
	if len(fields) != grid.Cols {
		return 0, row, fmt.Errorf("row %d has %d values", i, len(fields))
	}
	for j, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil || v > uint64(grid.ShortCircuit) {
			return 0, row, fmt.Errorf("row %d: bad value %q", i, f)
		}
		row[j] = grid.FaultState(v)
	}
	return i, row, nil
}

// Transfer sends the fault matrix row by row, waiting for a confirmation
// after each row.
type Transfer struct {
	send    func(line string) error
	confirm *Confirmation
	cfg     config.TransferConfig
}

// NewTransfer creates a transfer writing lines with send.
func NewTransfer(send func(line string) error, confirm *Confirmation, cfg config.TransferConfig) *Transfer {
	return &Transfer{send: send, confirm: confirm, cfg: cfg}
}

// Send transmits the header and all rows. A row that is not confirmed
// within ConfirmTimeout is sent again; after MaxRetries unconfirmed sends in
// a row the transfer is abandoned with ErrTransferAbandoned.
func (t *Transfer) Send(m *grid.Matrix) error {
	t.confirm.Drain()
	log.Printf("[transfer] sending matrix")
	t.write(Header)

	rows := m.Snapshot()
	retries := 0
	for i := 0; i < grid.Rows; {
		if retries >= t.cfg.MaxRetries {
			log.Printf("[transfer] row %d not confirmed after %d attempts, cancelling", i, retries)
			if t.cfg.SendAbortMarker() {
				t.write(AbortMarker)
			}
			return fmt.Errorf("%w at row %d", ErrTransferAbandoned, i)
		}

		t.write(FormatRow(i, rows[i]))
		if t.confirm.Take(t.cfg.ConfirmTimeout) {
			retries = 0
			i++
			continue
		}
		retries++
		log.Printf("[transfer] row %d confirmation timeout, repeating (%d)", i, retries)
	}

	log.Printf("[transfer] matrix sent")
	return nil
}

func (t *Transfer) write(line string) {
	if err := t.send(line); err != nil {
		log.Printf("[transfer] write failed: %v", err)
	}
}
