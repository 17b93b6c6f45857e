package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/vendmotor/pkg/command"
	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/diag"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/ingress"
)

type fakeLink struct {
	name      string
	mu        sync.Mutex
	lines     []string
	connected bool
	onLine    func(line string)
}

func (l *fakeLink) Name() string { return l.name }

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) WriteLine(line string) error {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	hook := l.onLine
	l.mu.Unlock()
	if hook != nil {
		hook(line)
	}
	return nil
}

func (l *fakeLink) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.lines
	l.lines = nil
	return out
}

type rig struct {
	d       *Dispatcher
	queue   *command.Queue
	in      *ingress.Ingress
	confirm *diag.Confirmation
	bank    *hw.Mock
	serial  *fakeLink
	mqtt    *fakeLink
	offline *fakeLink
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Queue.EnqueueTimeout = 0
	cfg.Queue.PollInterval = time.Millisecond
	cfg.Motor.SettleDelay = 0
	cfg.Motor.PollInterval = 0
	cfg.Motor.SwitchDelay = 0
	cfg.Motor.Timeout = 2 * time.Second
	cfg.Home.SettleDelay = 0
	cfg.Diagnostics.BaselineInterval = 0
	cfg.Diagnostics.SampleInterval = 0
	cfg.Diagnostics.CellGap = 0
	cfg.Transfer.ConfirmTimeout = 20 * time.Millisecond
	cfg.Mock = config.MockConfig{
		IdleMA:            2,
		RunningMA:         60,
		HomeSpikeMA:       48,
		RevolutionSamples: 260,
		SpikeSamples:      12,
		ShortMA:           30,
		Shorted:           []string{"A1"},
		Stalled:           []string{"C1"},
	}
	return cfg
}

func newRig(t *testing.T, cfg *config.Config) *rig {
	t.Helper()
	r := &rig{
		queue:   command.NewQueue(cfg.Queue.Capacity),
		confirm: diag.NewConfirmation(),
		bank:    hw.NewMock(&cfg.Mock),
		serial:  &fakeLink{name: "serial", connected: true},
		mqtt:    &fakeLink{name: "mqtt", connected: true},
		offline: &fakeLink{name: "offline"},
	}
	r.in = ingress.New(r.queue, r.confirm, cfg.Queue.EnqueueTimeout)
	r.d = New(r.queue, r.bank, r.confirm, cfg, r.serial, r.mqtt, r.offline)
	return r
}

// feed pushes serial input through ingress and executes what was queued.
func (r *rig) feed(t *testing.T, input string) {
	t.Helper()
	err := r.in.ServeLines(context.Background(), "serial", strings.NewReader(input), r.serial.WriteLine, nil)
	require.NoError(t, err)
	for {
		rec, ok := r.queue.TryDequeue()
		if !ok {
			return
		}
		r.d.Handle(&rec)
	}
}

func TestDispense_Success(t *testing.T) {
	r := newRig(t, testConfig())

	r.feed(t, "disp;a1\n")

	assert.Equal(t, []string{"RECEIVE SUCCESS", "disp DONE"}, r.serial.take())
	assert.Equal(t, []string{"disp DONE"}, r.mqtt.take())
	assert.Empty(t, r.offline.take())
	assert.Equal(t, grid.Functional, r.d.Snapshot()[0][0])
	assert.Empty(t, r.bank.Energized())
}

func TestDispense_InvalidCell(t *testing.T) {
	r := newRig(t, testConfig())

	r.feed(t, "disp;z9\ndisp;a9\ndisp;a\n")

	assert.Equal(t, []string{
		"RECEIVE SUCCESS", "RECEIVE SUCCESS", "RECEIVE SUCCESS",
		"INVALID CELL z9", "INVALID CELL a9", "INVALID CELL a",
	}, r.serial.take())
	assert.Equal(t, []string{"INVALID CELL z9", "INVALID CELL a9", "INVALID CELL a"}, r.mqtt.take())
	assert.Zero(t, r.bank.Writes(), "no relay action")
}

func TestDispense_TimeoutFlagsUntilReset(t *testing.T) {
	cfg := testConfig()
	cfg.Motor.Timeout = 30 * time.Millisecond
	r := newRig(t, cfg)
	c1 := grid.Cell{Row: 'C', Col: '1'}

	r.feed(t, "disp;c1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "disp ERROR 2: HOME TIMEOUT"}, r.serial.take())
	s, _ := r.d.matrix.Get(c1)
	assert.Equal(t, grid.HomeTimeout, s)

	// Refused without touching the relays, and the flag is kept.
	writes := r.bank.Writes()
	r.feed(t, "disp;C1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "Error;Motor C1;Flag 2", "disp ERROR 3: MOTOR FLAGGED"}, r.serial.take())
	assert.Equal(t, []string{"disp ERROR 2: HOME TIMEOUT", "disp ERROR 3: MOTOR FLAGGED"}, r.mqtt.take())
	assert.Equal(t, writes, r.bank.Writes())
	s, _ = r.d.matrix.Get(c1)
	assert.Equal(t, grid.HomeTimeout, s)

	r.feed(t, "home;c1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "Error;Motor C1;Flag 2", "home ERROR 3: MOTOR FLAGGED"}, r.serial.take())

	r.feed(t, "rst;c\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "rst DONE"}, r.serial.take())
	s, _ = r.d.matrix.Get(c1)
	assert.Equal(t, grid.Functional, s)
}

func TestReset(t *testing.T) {
	r := newRig(t, testConfig())
	fill := func() {
		for i := 0; i < grid.Rows; i++ {
			for j := 0; j < grid.Cols; j++ {
				r.d.matrix.Set(grid.CellAt(i, j), grid.CurrentOutlier)
			}
		}
	}

	fill()
	r.feed(t, "rst;\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "rst DONE"}, r.serial.take())
	assert.Equal(t, 0, r.d.matrix.Flagged())

	fill()
	r.feed(t, "rst;b\nrst;d4\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "RECEIVE SUCCESS", "rst DONE", "rst DONE"}, r.serial.take())
	assert.Equal(t, grid.Cells-grid.Cols-1, r.d.matrix.Flagged())
	s, _ := r.d.matrix.Get(grid.Cell{Row: 'D', Col: '4'})
	assert.Equal(t, grid.Functional, s)

	r.feed(t, "rst;z1\nrst;a9\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "RECEIVE SUCCESS", "INVALID CELL z1", "INVALID CELL a9"}, r.serial.take())
	assert.Equal(t, grid.Cells-grid.Cols-1, r.d.matrix.Flagged())
}

func TestShortCircuitTest(t *testing.T) {
	r := newRig(t, testConfig())

	r.feed(t, "test;\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "Error;Motor A1;Flag 3", "test DONE"}, r.serial.take())
	assert.Equal(t, []string{"test DONE"}, r.mqtt.take())
	assert.Equal(t, 1, r.d.matrix.Flagged())
	assert.Equal(t, grid.ShortCircuit, r.d.Snapshot()[0][0])

	// A shorted motor is refused power-on.
	r.feed(t, "disp;a1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "Error;Motor A1;Flag 3", "disp ERROR 3: MOTOR FLAGGED"}, r.serial.take())

	r.feed(t, "test;b\ntest;b2\ntest;z1\ntest;b0\n")
	assert.Equal(t, []string{
		"RECEIVE SUCCESS", "RECEIVE SUCCESS", "RECEIVE SUCCESS", "RECEIVE SUCCESS",
		"test DONE", "test DONE", "INVALID CELL z1", "INVALID CELL b0",
	}, r.serial.take())
}

func TestStop(t *testing.T) {
	r := newRig(t, testConfig())
	require.NoError(t, r.bank.SetLine(3, true))

	r.feed(t, "stop;\nstop;a1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "RECEIVE SUCCESS", "stop DONE", "stop DONE"}, r.serial.take())
	assert.Empty(t, r.bank.Energized())
}

func TestUnknownActionIsSilent(t *testing.T) {
	r := newRig(t, testConfig())

	// Unknown actions and lines without a delimiter produce no reply.
	r.feed(t, "spin;a1\nDISP;a1\ndisp a1\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "RECEIVE SUCCESS", "RECEIVE SUCCESS"}, r.serial.take())
	assert.Empty(t, r.mqtt.take())
	assert.Zero(t, r.bank.Writes())
}

func TestSendMatrix(t *testing.T) {
	r := newRig(t, testConfig())
	r.d.matrix.Set(grid.Cell{Row: 'B', Col: '3'}, grid.HomeTimeout)
	r.serial.onLine = func(line string) {
		if strings.HasPrefix(line, diag.RowPrefix) {
			r.in.Accept(context.Background(), "serial", []byte("rowreceived"))
		}
	}

	r.feed(t, "send;\n")
	assert.Equal(t, []string{
		"RECEIVE SUCCESS",
		"MOTORSTATEMATRIX;",
		"ROW0;0,0,0,0,0,0,0,0,",
		"ROW1;0,0,2,0,0,0,0,0,",
		"ROW2;0,0,0,0,0,0,0,0,",
		"ROW3;0,0,0,0,0,0,0,0,",
		"ROW4;0,0,0,0,0,0,0,0,",
		"ROW5;0,0,0,0,0,0,0,0,",
		"send motorStateMatrix DONE",
	}, r.serial.take())
	assert.Equal(t, []string{"send motorStateMatrix DONE"}, r.mqtt.take())
}

func TestSendMatrix_Abandoned(t *testing.T) {
	r := newRig(t, testConfig())

	r.feed(t, "send;\n")
	lines := r.serial.take()
	require.Len(t, lines, 1+1+5+1+1)
	assert.Equal(t, "ROW0;0,0,0,0,0,0,0,0,", lines[6])
	assert.Equal(t, diag.AbortMarker, lines[7])
	assert.Equal(t, "send motorStateMatrix DONE", lines[8])
}

func TestHome(t *testing.T) {
	cfg := testConfig()
	r := newRig(t, cfg)

	r.feed(t, "home;b2\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "home DONE"}, r.serial.take())
	assert.Equal(t, 0, r.d.matrix.Flagged())
	assert.Empty(t, r.bank.Energized())

	r.feed(t, "home;x2\n")
	assert.Equal(t, []string{"RECEIVE SUCCESS", "INVALID CELL x2"}, r.serial.take())
}

func TestRun(t *testing.T) {
	r := newRig(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.d.Run(ctx) }()

	for _, line := range []string{"rst;", "stop;", "disp;f8"} {
		assert.Equal(t, ingress.ReceiveSuccess, r.in.Accept(ctx, "mqtt", []byte(line)))
	}

	assert.Eventually(t, func() bool {
		r.mqtt.mu.Lock()
		defer r.mqtt.mu.Unlock()
		return len(r.mqtt.lines) == 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, []string{"rst DONE", "stop DONE", "disp DONE"}, r.mqtt.take())
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "DONE", ResultText(0))
	assert.Equal(t, "ERROR 1: CURRENT OUTLIER", ResultText(1))
	assert.Equal(t, "ERROR 2: HOME TIMEOUT", ResultText(2))
	assert.Equal(t, "ERROR 3: MOTOR FLAGGED", ResultText(3))
}
