package diag

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/grid"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/motor"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Motor.SwitchDelay = 0
	cfg.Diagnostics.BaselineInterval = 0
	cfg.Diagnostics.SampleInterval = 0
	cfg.Diagnostics.CellGap = 0
	cfg.Mock = config.MockConfig{
		IdleMA:    2,
		RunningMA: 60,
		ShortMA:   30,
		Shorted:   []string{"A1", "C5"},
	}
	return cfg
}

func newTester(cfg *config.Config, m *grid.Matrix) (*Tester, *hw.Mock, *[]string) {
	bank := hw.NewMock(&cfg.Mock)
	ctl := motor.New(bank, bank, m, cfg)
	tester := NewTester(ctl, bank, m, cfg.Diagnostics)
	tester.sleep = func(time.Duration) {}
	var reports []string
	tester.OnReport(func(line string) { reports = append(reports, line) })
	return tester, bank, &reports
}

func TestTester_WholeGrid(t *testing.T) {
	cfg := fastConfig()
	var m grid.Matrix
	m.Set(grid.Cell{Row: 'B', Col: '2'}, grid.HomeTimeout)
	tester, bank, reports := newTester(cfg, &m)

	require.NoError(t, tester.Run(grid.NoRow, grid.NoCol))

	assert.Equal(t, []string{"Error;Motor A1;Flag 3", "Error;Motor C5;Flag 3"}, *reports)
	assert.Equal(t, 2, m.Flagged())
	s, _ := m.Get(grid.Cell{Row: 'A', Col: '1'})
	assert.Equal(t, grid.ShortCircuit, s)
	s, _ = m.Get(grid.Cell{Row: 'B', Col: '2'})
	assert.Equal(t, grid.Functional, s, "a passing test clears older flags")
	assert.Empty(t, bank.Energized())
}

func TestTester_RowAndCell(t *testing.T) {
	cfg := fastConfig()
	var m grid.Matrix
	tester, _, reports := newTester(cfg, &m)

	require.NoError(t, tester.Run('C', grid.NoCol))
	assert.Equal(t, []string{"Error;Motor C5;Flag 3"}, *reports)
	assert.Equal(t, 1, m.Flagged())

	*reports = nil
	require.NoError(t, tester.Run('A', '2'))
	assert.Empty(t, *reports)
	require.NoError(t, tester.Run('A', '1'))
	assert.Equal(t, []string{"Error;Motor A1;Flag 3"}, *reports)
	assert.Equal(t, 2, m.Flagged())

	assert.ErrorIs(t, tester.Run('A', '9'), grid.ErrInvalidCell)
}

func TestTester_ThresholdCounting(t *testing.T) {
	cfg := fastConfig()
	var m grid.Matrix
	tester, _, _ := newTester(cfg, &m)

	// 14 of 20 samples over the margin is not a short.
	reads := 0
	tester.sensor = sensorFunc(func() (float32, error) {
		reads++
		if reads%10 < 7 {
			return 10, nil
		}
		return 2, nil
	})
	s, err := tester.TestCell(grid.Cell{Row: 'D', Col: '1'}, 2)
	require.NoError(t, err)
	assert.Equal(t, grid.Functional, s)
	assert.Equal(t, 20, reads)

	// Every sample over the margin stops after the threshold.
	reads = 0
	tester.sensor = sensorFunc(func() (float32, error) {
		reads++
		return 3.5, nil
	})
	s, err = tester.TestCell(grid.Cell{Row: 'D', Col: '1'}, 2)
	require.NoError(t, err)
	assert.Equal(t, grid.ShortCircuit, s)
	assert.Equal(t, 15, reads)
}

type sensorFunc func() (float32, error)

func (f sensorFunc) CurrentMA() (float32, error) { return f() }

func TestTester_BaselineFailure(t *testing.T) {
	cfg := fastConfig()
	var m grid.Matrix
	tester, _, _ := newTester(cfg, &m)
	boom := errors.New("bus down")
	tester.sensor = sensorFunc(func() (float32, error) { return 0, boom })

	assert.ErrorIs(t, tester.Run(grid.NoRow, grid.NoCol), boom)
	assert.Equal(t, 0, m.Flagged())
}

func TestConfirmation(t *testing.T) {
	c := NewConfirmation()
	assert.False(t, c.Take(time.Millisecond))

	c.Give()
	c.Give()
	assert.True(t, c.Take(time.Millisecond))
	assert.False(t, c.Take(time.Millisecond), "gives do not accumulate")

	c.Give()
	c.Drain()
	assert.False(t, c.Take(time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Give()
	}()
	assert.True(t, c.Take(time.Second))
}

// recordingLink records lines and confirms rows according to a policy.
type recordingLink struct {
	mu      sync.Mutex
	lines   []string
	confirm *Confirmation
	ack     func(line string, attempt int) bool
	tries   map[string]int
}

func (l *recordingLink) send(line string) error {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	if l.tries == nil {
		l.tries = map[string]int{}
	}
	l.tries[line]++
	attempt := l.tries[line]
	l.mu.Unlock()

	if strings.HasPrefix(line, RowPrefix) && l.ack != nil && l.ack(line, attempt) {
		l.confirm.Give()
	}
	return nil
}

func transferConfig() config.TransferConfig {
	return config.TransferConfig{ConfirmTimeout: 20 * time.Millisecond, MaxRetries: 5}
}

func TestTransfer_AllConfirmed(t *testing.T) {
	var m grid.Matrix
	m.Set(grid.Cell{Row: 'A', Col: '2'}, grid.CurrentOutlier)
	m.Set(grid.Cell{Row: 'F', Col: '8'}, grid.ShortCircuit)

	confirm := NewConfirmation()
	link := &recordingLink{confirm: confirm, ack: func(string, int) bool { return true }}
	tr := NewTransfer(link.send, confirm, transferConfig())

	require.NoError(t, tr.Send(&m))
	assert.Equal(t, []string{
		"MOTORSTATEMATRIX;",
		"ROW0;0,1,0,0,0,0,0,0,",
		"ROW1;0,0,0,0,0,0,0,0,",
		"ROW2;0,0,0,0,0,0,0,0,",
		"ROW3;0,0,0,0,0,0,0,0,",
		"ROW4;0,0,0,0,0,0,0,0,",
		"ROW5;0,0,0,0,0,0,0,3,",
	}, link.lines)
}

func TestTransfer_NoConfirmations(t *testing.T) {
	var m grid.Matrix
	confirm := NewConfirmation()
	confirm.Give() // stale, must not count
	link := &recordingLink{confirm: confirm}
	tr := NewTransfer(link.send, confirm, transferConfig())

	err := tr.Send(&m)
	assert.ErrorIs(t, err, ErrTransferAbandoned)

	require.Len(t, link.lines, 1+5+1)
	assert.Equal(t, Header, link.lines[0])
	for _, l := range link.lines[1:6] {
		assert.Equal(t, "ROW0;0,0,0,0,0,0,0,0,", l)
	}
	assert.Equal(t, AbortMarker, link.lines[6])
}

func TestTransfer_RetryResetsPerRow(t *testing.T) {
	var m grid.Matrix
	confirm := NewConfirmation()
	// Every row is confirmed only on its third attempt.
	link := &recordingLink{confirm: confirm, ack: func(_ string, attempt int) bool { return attempt >= 3 }}
	tr := NewTransfer(link.send, confirm, transferConfig())

	require.NoError(t, tr.Send(&m))
	assert.Len(t, link.lines, 1+3*grid.Rows)
	assert.Equal(t, "ROW5;0,0,0,0,0,0,0,0,", link.lines[len(link.lines)-1])
}

func TestTransfer_AbortMarkerDisabled(t *testing.T) {
	var m grid.Matrix
	confirm := NewConfirmation()
	off := false
	cfg := transferConfig()
	cfg.MaxRetries = 2
	cfg.AbortMarker = &off
	link := &recordingLink{confirm: confirm, ack: func(line string, _ int) bool { return !strings.HasPrefix(line, "ROW3") }}
	tr := NewTransfer(link.send, confirm, cfg)

	assert.ErrorIs(t, tr.Send(&m), ErrTransferAbandoned)
	assert.Equal(t, "ROW3;0,0,0,0,0,0,0,0,", link.lines[len(link.lines)-1])
	assert.Len(t, link.lines, 1+3+2)
}

func TestParseRow(t *testing.T) {
	i, row, err := ParseRow("ROW4;0,1,2,3,0,0,0,0,")
	require.NoError(t, err)
	assert.Equal(t, 4, i)
	assert.Equal(t, [grid.Cols]grid.FaultState{0, 1, 2, 3}, row)

	for _, bad := range []string{
		"ROWX;0,0,0,0,0,0,0,0,",
		"ROW6;0,0,0,0,0,0,0,0,",
		"ROW1;0,0,0,",
		"ROW1;0,0,0,0,0,0,0,9,",
		"ROW1 0,0,0,0,0,0,0,0,",
		"MOTORSTATEMATRIX;",
	} {
		_, _, err := ParseRow(bad)
		assert.Error(t, err, bad)
	}
}
