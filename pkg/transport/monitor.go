package transport

import (
	"context"
	"log"
	"time"
)

// Reconnector is a link that can re-establish its connection.
type Reconnector interface {
	Name() string
	Connected() bool
	Connect() error
}

// Monitor periodically checks a link and reconnects it when it is down.
// It never touches motor state.
type Monitor struct {
	link     Reconnector
	interval time.Duration // Liveness check period
	retry    time.Duration // Minimum time between connection attempts
	now      func() time.Time
}

// NewMonitor creates a monitor for link.
func NewMonitor(link Reconnector, interval, retry time.Duration) *Monitor {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Monitor{link: link, interval: interval, retry: retry, now: time.Now}
}

// Run connects the link and keeps it connected until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var lastAttempt time.Time
	up := false
	for {
		connected := m.link.Connected()
		if up && !connected {
			log.Printf("[monitor] %s link down", m.link.Name())
		}
		up = connected

		if !connected && (lastAttempt.IsZero() || m.now().Sub(lastAttempt) >= m.retry) {
			lastAttempt = m.now()
			if err := m.link.Connect(); err != nil {
				log.Printf("[monitor] %s connect failed: %v, retrying in %s", m.link.Name(), err, m.retry)
			} else {
				up = true
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
