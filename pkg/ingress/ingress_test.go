package ingress

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/vendmotor/pkg/command"
	"github.com/itohio/vendmotor/pkg/diag"
)

func newIngress(wait time.Duration) (*Ingress, *command.Queue, *diag.Confirmation) {
	q := command.NewQueue(command.DefaultCapacity)
	c := diag.NewConfirmation()
	return New(q, c, wait), q, c
}

func TestAccept(t *testing.T) {
	in, q, c := newIngress(0)
	ctx := context.Background()

	assert.Equal(t, ReceiveSuccess, in.Accept(ctx, "test", []byte("disp;a1")))
	assert.Equal(t, 1, q.Waiting())

	assert.Equal(t, ReceiveFail, in.Accept(ctx, "test", nil))
	assert.Equal(t, ReceiveFail, in.Accept(ctx, "test", []byte(strings.Repeat("x", command.MaxLen))))
	assert.Equal(t, 1, q.Waiting())

	// Acknowledgements bypass the queue.
	assert.Equal(t, "", in.Accept(ctx, "test", []byte("rowreceived")))
	assert.Equal(t, "", in.Accept(ctx, "test", []byte("rowreceived;ROW2")))
	assert.Equal(t, 1, q.Waiting())
	assert.True(t, c.Take(time.Millisecond))
	assert.False(t, c.Take(time.Millisecond), "one confirmation pending at most")

	r, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "disp;a1", r.String())
}

func TestAccept_QueueFull(t *testing.T) {
	in, q, _ := newIngress(5 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < command.DefaultCapacity; i++ {
		require.Equal(t, ReceiveSuccess, in.Accept(ctx, "test", []byte("stop;")))
	}
	start := time.Now()
	assert.Equal(t, ReceiveFail, in.Accept(ctx, "test", []byte("stop;")))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, command.DefaultCapacity, q.Waiting())

	// A full rowreceived still confirms.
	assert.Equal(t, "", in.Accept(ctx, "test", []byte("rowreceived")))
}

func TestAccept_Cancelled(t *testing.T) {
	in, q, _ := newIngress(-1)
	for i := 0; i < command.DefaultCapacity; i++ {
		require.Equal(t, ReceiveSuccess, in.Accept(context.Background(), "test", []byte("stop;")))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "", in.Accept(ctx, "test", []byte("stop;")))
	assert.Equal(t, command.DefaultCapacity, q.Waiting())
}

type replies struct {
	mu    sync.Mutex
	lines []string
}

func (r *replies) add(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func (r *replies) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestServeLines(t *testing.T) {
	in, q, c := newIngress(0)
	input := "disp;a1\r\n" +
		"\n" +
		"rowreceived\n" +
		strings.Repeat("y", command.MaxLen) + "\n"

	var out replies
	flushes := 0
	err := in.ServeLines(context.Background(), "serial", strings.NewReader(input), out.add, func() error {
		flushes++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{ReceiveSuccess, ReceiveFail, ReceiveFail}, out.get())
	assert.Equal(t, 1, flushes)
	assert.True(t, c.Take(time.Millisecond))

	r, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "disp;a1", r.String())
	assert.Equal(t, 0, q.Waiting())
}

func TestServeLines_LongFrameDiscarded(t *testing.T) {
	in, q, _ := newIngress(0)
	pr, pw := io.Pipe()

	var out replies
	done := make(chan error, 1)
	go func() {
		done <- in.ServeLines(context.Background(), "serial", pr, out.add, nil)
	}()

	// The tail of the long frame looks like a command but must not be queued.
	_, err := pw.Write([]byte(strings.Repeat("z", 100) + "disp;b2\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("test;\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeLines did not return")
	}

	assert.Equal(t, []string{ReceiveFail, ReceiveSuccess}, out.get())
	r, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "test;", r.String())
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestServeLines_MaxLength(t *testing.T) {
	in, q, _ := newIngress(0)
	longest := strings.Repeat("a", command.MaxLen-1)

	var out replies
	require.NoError(t, in.ServeLines(context.Background(), "serial", strings.NewReader(longest+"\r\n"), out.add, nil))
	assert.Equal(t, []string{ReceiveSuccess}, out.get())
	r, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, longest, r.String())
}

func TestServeLines_Cancelled(t *testing.T) {
	in, _, _ := newIngress(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := in.ServeLines(ctx, "serial", strings.NewReader("disp;a1\n"), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
