// Package transport provides the links commands arrive on and replies leave
// by: a line oriented serial link and an MQTT link, plus a connectivity
// monitor that keeps reconnectable links up.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/multierr"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/ingress"
)

// LineEnding terminates every line written to a serial link.
const LineEnding = "\r\n"

// ErrNotConnected is returned when writing to a link that is down.
var ErrNotConnected = errors.New("not connected")

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Serial is a line oriented link over a serial port or any byte stream.
type Serial struct {
	name  string
	rw    io.ReadWriter
	flush func() error

	wmu sync.Mutex // Serializes writes so lines never interleave

	mu     sync.RWMutex
	closed bool
}

// OpenSerial opens the configured serial port.
func OpenSerial(cfg config.SerialConfig) (*Serial, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	s := NewStream("serial", port)
	s.flush = port.ResetInputBuffer
	return s, nil
}

// NewStream wraps a byte stream, e.g. one end of a pipe, as a serial link.
// If rw is an io.Closer it is closed by Close.
func NewStream(name string, rw io.ReadWriter) *Serial {
	return &Serial{name: name, rw: rw}
}

// Name returns the link name used in logs.
func (s *Serial) Name() string { return s.name }

// Connected reports whether the link is open.
func (s *Serial) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// WriteLine writes line followed by CR LF.
func (s *Serial) WriteLine(line string) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.rw, line+LineEnding); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

// Serve feeds incoming command lines to in until the stream ends or ctx is
// done. Cancelling ctx closes the link to unblock the pending read.
func (s *Serial) Serve(ctx context.Context, in *ingress.Ingress) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	defer s.Close()

	return in.ServeLines(ctx, s.name, s.rw, s.WriteLine, s.flush)
}

// Lines calls fn with every non-empty line read until the stream ends or ctx
// is done. It is the reading side used by a host talking to the controller.
func (s *Serial) Lines(ctx context.Context, fn func(line string)) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.Close()

	scanner := bufio.NewScanner(s.rw)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s read: %w", s.name, err)
	}
	return nil
}

// Close closes the underlying stream.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if c, ok := s.rw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close %s: %w", s.name, err)
		}
	}
	return nil
}

// Pipe returns the two ends of an in-memory full duplex stream. Closing one
// end ends the stream for the other.
func Pipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &pipeEnd{r: ar, w: aw}, &pipeEnd{r: br, w: bw}
}

type pipeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeEnd) Close() error {
	return multierr.Combine(p.w.Close(), p.r.Close())
}
