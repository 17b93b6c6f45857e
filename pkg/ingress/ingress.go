// Package ingress turns raw transport input into queued command records or
// transfer confirmations.
package ingress

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/itohio/vendmotor/pkg/command"
	"github.com/itohio/vendmotor/pkg/diag"
)

// Feedback tokens.
const (
	AckToken       = "rowreceived"
	ReceiveSuccess = "RECEIVE SUCCESS"
	ReceiveFail    = "RECEIVE FAIL"
)

// Ingress validates input and offers it to the command queue.
// It is safe for concurrent use by several transports.
type Ingress struct {
	queue   *command.Queue
	confirm *diag.Confirmation
	wait    time.Duration
}

// New creates an ingress. wait bounds the enqueue, see command.Queue.Enqueue.
func New(queue *command.Queue, confirm *diag.Confirmation, wait time.Duration) *Ingress {
	return &Ingress{queue: queue, confirm: confirm, wait: wait}
}

// Accept handles one complete command (a line without terminator, or a
// message payload) received from src. It returns the feedback to send back
// on the same transport, or "" when nothing is to be sent.
func (in *Ingress) Accept(ctx context.Context, src string, payload []byte) string {
	rec, err := command.NewRecord(payload)
	if err != nil {
		log.Printf("[ingress] %s: discarding input: %v", src, err)
		return ReceiveFail
	}

	if bytes.HasPrefix(payload, []byte(AckToken)) {
		in.confirm.Give()
		return ""
	}

	if err := in.queue.Enqueue(ctx, rec, in.wait); err != nil {
		if errors.Is(err, command.ErrQueueFull) {
			log.Printf("[ingress] %s: command queue full, dropping %q", src, payload)
			return ReceiveFail
		}
		log.Printf("[ingress] %s: enqueue aborted: %v", src, err)
		return ""
	}
	log.Printf("[ingress] %s: command enqueued: %q", src, payload)
	return ReceiveSuccess
}

// ServeLines reads newline terminated commands from r until EOF, a read
// error or ctx cancellation. Feedback is written with reply. A line that
// does not fit a command record is answered with ReceiveFail, the rest of it
// is discarded and flush, when set, drops any input still buffered by the
// transport.
func (in *Ingress) ServeLines(ctx context.Context, src string, r io.Reader, reply func(string) error, flush func() error) error {
	// Room for the largest accepted command plus "\r\n".
	br := bufio.NewReaderSize(r, command.MaxLen+1)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := br.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			if err := discardLine(br); err != nil {
				return finish(ctx, src, err)
			}
			in.reject(src, br, r, reply, flush)
			continue
		case err != nil:
			// A final unterminated line is dropped.
			return finish(ctx, src, err)
		}

		line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
		if len(line) >= command.MaxLen {
			in.reject(src, br, r, reply, flush)
			continue
		}
		if fb := in.Accept(ctx, src, line); fb != "" {
			in.reply(src, reply, fb)
		}
	}
}

// reject answers an oversized frame and drops whatever input is pending.
func (in *Ingress) reject(src string, br *bufio.Reader, r io.Reader, reply func(string) error, flush func() error) {
	log.Printf("[ingress] %s: command length invalid, discarding input", src)
	if flush != nil {
		if err := flush(); err != nil {
			log.Printf("[ingress] %s: flush failed: %v", src, err)
		}
	}
	br.Reset(r)
	in.reply(src, reply, ReceiveFail)
}

func (in *Ingress) reply(src string, reply func(string) error, line string) {
	if reply == nil {
		return
	}
	if err := reply(line); err != nil {
		log.Printf("[ingress] %s: reply failed: %v", src, err)
	}
}

// discardLine consumes input up to and including the next newline.
func discardLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func finish(ctx context.Context, src string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		log.Printf("[ingress] %s: input closed", src)
		return nil
	}
	return fmt.Errorf("%s read: %w", src, err)
}
