// Package vending wires the controller together: the command queue, the
// ingress tasks of every transport, the dispatcher and the connectivity
// monitor, supervised as one group.
package vending

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/vendmotor/pkg/command"
	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/diag"
	"github.com/itohio/vendmotor/pkg/dispatch"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/ingress"
	"github.com/itohio/vendmotor/pkg/transport"
)

// Banner is written to the serial link once every task runs.
const Banner = "MotorControl Ready"

// ErrSerialClosed is returned by Run when the serial link ends.
var ErrSerialClosed = errors.New("serial link closed")

var (
	_ dispatch.Link = (*transport.Serial)(nil)
	_ dispatch.Link = (*transport.MQTT)(nil)
)

// Machine is a complete motor bank controller.
type Machine struct {
	queue      *command.Queue
	confirm    *diag.Confirmation
	ingress    *ingress.Ingress
	dispatcher *dispatch.Dispatcher

	serial *transport.Serial
	mqtt   *transport.MQTT
}

// New creates a controller for bank. The serial link is the primary
// transport; mq may be nil when no broker is configured.
func New(cfg *config.Config, bank hw.Bank, serial *transport.Serial, mq *transport.MQTT) *Machine {
	m := &Machine{
		queue:   command.NewQueue(cfg.Queue.Capacity),
		confirm: diag.NewConfirmation(),
		serial:  serial,
		mqtt:    mq,
	}
	m.ingress = ingress.New(m.queue, m.confirm, cfg.Queue.EnqueueTimeout)

	var others []dispatch.Link
	if mq != nil {
		others = append(others, mq)
	}
	m.dispatcher = dispatch.New(m.queue, bank, m.confirm, cfg, serial, others...)
	return m
}

// Run runs every task until ctx is done or one of them fails. It returns
// nil when stopped through ctx.
func (m *Machine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		if err := m.serial.Serve(gctx, m.ingress); err != nil {
			return err
		}
		return ErrSerialClosed
	})
	if m.mqtt != nil {
		g.Go(func() error {
			return m.mqtt.Serve(gctx, m.ingress)
		})
	}

	log.Printf("[vending] all tasks started")
	if err := m.serial.WriteLine(Banner); err != nil {
		log.Printf("[vending] banner: %v", err)
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("controller stopped: %w", err)
}

// Close closes every link.
func (m *Machine) Close() error {
	err := m.serial.Close()
	if m.mqtt != nil {
		err = multierr.Append(err, m.mqtt.Close())
	}
	return err
}
