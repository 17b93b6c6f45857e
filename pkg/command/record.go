// Package command holds the fixed-shape command record, the bounded command
// queue between ingress tasks and the dispatcher, and the command parser.
package command

import (
	"errors"
	"fmt"
)

// MaxLen is the capacity of a command buffer, terminator included. A command
// therefore carries at most MaxLen-1 content bytes.
const MaxLen = 64

var (
	// ErrEmpty is returned for zero length input.
	ErrEmpty = errors.New("command: empty")
	// ErrTooLong is returned for input that does not fit a record.
	ErrTooLong = errors.New("command: too long")
)

// Record is a bounds checked command line with an explicit length.
// buf[n] is always zero, so the text is terminated.
type Record struct {
	n   int
	buf [MaxLen]byte
}

// NewRecord copies b into a record. Input of length 0 or >= MaxLen is rejected,
// never truncated.
func NewRecord(b []byte) (Record, error) {
	var r Record
	switch {
	case len(b) == 0:
		return r, ErrEmpty
	case len(b) >= MaxLen:
		return r, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLong, len(b), MaxLen-1)
	}
	r.n = copy(r.buf[:], b)
	return r, nil
}

// Len returns the content length.
func (r *Record) Len() int { return r.n }

// Bytes returns the content without terminator. The slice aliases the record.
func (r *Record) Bytes() []byte { return r.buf[:r.n] }

func (r *Record) String() string { return string(r.buf[:r.n]) }
