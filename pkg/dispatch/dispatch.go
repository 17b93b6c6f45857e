// Package dispatch is the single consumer of the command queue. It owns the
// fault matrix, the motor controller and the diagnostics, and is the only
// code that touches the relays or the current sensor.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/vendmotor/pkg/command"
	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/diag"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/motor"
)

// Link is an outbound transport.
type Link interface {
	Name() string
	// Connected reports whether the link can currently deliver.
	Connected() bool
	WriteLine(line string) error
}

// Reply texts.
const (
	ReplyInvalidCell = "INVALID CELL"
	ReplyDone        = "DONE"
	ReplySendDone    = "send motorStateMatrix DONE"
)

// ResultText returns the reply suffix for a homing result.
func ResultText(r motor.Result) string {
	switch r {
	case motor.Success:
		return ReplyDone
	case motor.CurrentOutlier:
		return "ERROR 1: CURRENT OUTLIER"
	case motor.HomeTimeout:
		return "ERROR 2: HOME TIMEOUT"
	case motor.MotorFlagged:
		return "ERROR 3: MOTOR FLAGGED"
	default:
		return fmt.Sprintf("ERROR %d: UNKNOWN", uint8(r))
	}
}

// Dispatcher executes queued commands one at a time.
type Dispatcher struct {
	queue    *command.Queue
	matrix   grid.Matrix
	motor    *motor.Controller
	tester   *diag.Tester
	transfer *diag.Transfer

	primary Link
	others  []Link
	poll    time.Duration
}

// New creates a dispatcher driving bank. Command results are written to
// primary and to every connected link in others; fault notices and the
// matrix transfer go to primary only.
func New(queue *command.Queue, bank hw.Bank, confirm *diag.Confirmation, cfg *config.Config, primary Link, others ...Link) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		primary: primary,
		others:  others,
		poll:    cfg.Queue.PollInterval,
	}
	if d.poll <= 0 {
		d.poll = config.Default().Queue.PollInterval
	}

	d.motor = motor.New(bank, bank, &d.matrix, cfg)
	d.motor.OnFlagged(d.notify)
	d.tester = diag.NewTester(d.motor, bank, &d.matrix, cfg.Diagnostics)
	d.tester.OnReport(d.notify)
	d.transfer = diag.NewTransfer(primary.WriteLine, confirm, cfg.Transfer)
	return d
}

// Run releases every relay and then polls the queue until ctx is done.
// A command in progress always runs to completion.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.motor.PowerOffAll(); err != nil {
		log.Printf("[dispatch] initial power off: %v", err)
	}

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.queue.Waiting() > 0 {
			if rec, ok := d.queue.TryDequeue(); ok {
				d.Handle(&rec)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Handle parses and executes one command. It must not be called
// concurrently with Run.
func (d *Dispatcher) Handle(rec *command.Record) {
	log.Printf("[dispatch] command received: %q", rec.String())

	p, ok := command.Parse(rec.Bytes())
	if !ok {
		log.Printf("[dispatch] no delimiter, dropping %q", rec.String())
		return
	}

	switch p.Action {
	case command.ActionDispense:
		d.dispense(p)
	case command.ActionStop:
		d.stop(p)
	case command.ActionTest:
		d.test(p)
	case command.ActionReset:
		d.reset(p)
	case command.ActionSendMatrix:
		d.send()
	case command.ActionHome:
		d.home(p)
	default:
		// Unknown actions get no reply.
		log.Printf("[dispatch] unknown action %q ignored", p.Keyword)
	}
}

func (d *Dispatcher) dispense(p command.Parsed) {
	cell, ok := d.cell(p)
	if !ok {
		return
	}

	res, err := d.motor.RunOneRev(cell)
	if err != nil {
		log.Printf("[dispatch] %s %s: %v", p.Keyword, cell, err)
	}
	if state, ok := res.FaultState(); ok {
		d.matrix.Set(cell, state)
	}
	log.Printf("[dispatch] %s %s: %s", p.Keyword, cell, res)
	d.reply(fmt.Sprintf("%s %s", p.Keyword, ResultText(res)))
}

func (d *Dispatcher) home(p command.Parsed) {
	cell, ok := d.cell(p)
	if !ok {
		return
	}

	res, err := d.motor.SendHome(cell)
	if err != nil {
		log.Printf("[dispatch] %s %s: %v", p.Keyword, cell, err)
	}
	log.Printf("[dispatch] %s %s: %s", p.Keyword, cell, res)
	d.reply(fmt.Sprintf("%s %s", p.Keyword, ResultText(res)))
}

func (d *Dispatcher) stop(p command.Parsed) {
	if err := d.motor.PowerOffAll(); err != nil {
		log.Printf("[dispatch] stop: %v", err)
	}
	d.reply(p.Keyword + " " + ReplyDone)
}

func (d *Dispatcher) test(p command.Parsed) {
	if p.HasCol() && (!p.HasRow() || !p.Col.Valid()) {
		d.invalid(p)
		return
	}
	if err := d.tester.Run(p.Row, p.Col); err != nil {
		log.Printf("[dispatch] test: %v", err)
	}
	d.reply(p.Keyword + " " + ReplyDone)
}

func (d *Dispatcher) reset(p command.Parsed) {
	switch {
	case !p.HasRow() && !p.HasCol():
		d.matrix.ResetAll()
	case p.HasRow() && !p.HasCol():
		d.matrix.ResetRow(p.Row)
	case p.HasRow() && p.Col.Valid():
		d.matrix.Set(p.Cell(), grid.Functional)
	default:
		d.invalid(p)
		return
	}
	d.reply(p.Keyword + " " + ReplyDone)
}

func (d *Dispatcher) send() {
	err := d.transfer.Send(&d.matrix)
	switch {
	case errors.Is(err, diag.ErrTransferAbandoned):
		log.Printf("[dispatch] %v", err)
	case err != nil:
		log.Printf("[dispatch] send: %v", err)
	}
	d.reply(ReplySendDone)
}

// cell validates a single cell target, replying INVALID CELL otherwise.
func (d *Dispatcher) cell(p command.Parsed) (grid.Cell, bool) {
	cell, err := grid.NewCell(p.Row, p.Col)
	if err != nil {
		d.invalid(p)
		return grid.Cell{}, false
	}
	return cell, true
}

func (d *Dispatcher) invalid(p command.Parsed) {
	log.Printf("[dispatch] %s: invalid cell %q", p.Keyword, p.Target())
	d.reply(ReplyInvalidCell + " " + p.Target())
}

// reply writes a command result to the primary link and every connected
// secondary link.
func (d *Dispatcher) reply(line string) {
	d.write(d.primary, line)
	for _, l := range d.others {
		if l.Connected() {
			d.write(l, line)
		}
	}
}

// notify writes an out of band notice to the primary link.
func (d *Dispatcher) notify(line string) {
	d.write(d.primary, line)
}

func (d *Dispatcher) write(l Link, line string) {
	if err := l.WriteLine(line); err != nil {
		log.Printf("[dispatch] %s write failed: %v", l.Name(), err)
	}
}

// Snapshot copies the fault matrix. Like Handle it must not race with Run.
func (d *Dispatcher) Snapshot() [grid.Rows][grid.Cols]grid.FaultState {
	return d.matrix.Snapshot()
}
