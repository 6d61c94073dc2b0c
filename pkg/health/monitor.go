package health

import (
	"context"
	"time"
)

// Monitor runs a Checker on a fixed interval and tracks its Status with
// hysteresis, invoking onChange whenever the aggregate healthy/unhealthy
// verdict flips. It is the background driver the dispatch daemon uses to
// watch a MySQL backend's reachability independently of the store's own
// query path, so a database outage is visible on /health before the next
// lease attempt fails.
type Monitor struct {
	checker  Checker
	config   Config
	status   *Status
	onChange func(Status)
	stopCh   chan struct{}
}

// NewMonitor builds a Monitor. onChange may be nil.
func NewMonitor(checker Checker, config Config, onChange func(Status)) *Monitor {
	return &Monitor{
		checker:  checker,
		config:   config,
		status:   NewStatus(),
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the check loop in a background goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends the check loop. Safe to call once.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	if m.config.StartPeriod > 0 {
		select {
		case <-time.After(m.config.StartPeriod):
		case <-m.stopCh:
			return
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	wasHealthy := m.status.Healthy
	result := m.checker.Check(ctx)
	m.status.Update(result, m.config)

	if m.onChange != nil && m.status.Healthy != wasHealthy {
		m.onChange(*m.status)
	}
}

// Snapshot returns a copy of the current tracked status.
func (m *Monitor) Snapshot() Status {
	return *m.status
}
