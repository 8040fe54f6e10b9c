package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Health Monitor — periodic checks of the external collaborators
// ---------------------------------------------------------------------------

// Status represents the health of a collaborator.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is the minimal health surface of a collaborator.
type Pinger func(ctx context.Context) error

// ComponentHealth is the latest health result for one collaborator.
type ComponentHealth struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Latency     time.Duration `json:"latency_ms"`
}

// SystemHealth aggregates all collaborator checks.
type SystemHealth struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     time.Duration              `json:"uptime"`
}

// Monitor pings registered collaborators on an interval. Transitions are
// logged at warn so an operator filtering at warn sees degradations.
type Monitor struct {
	mu        sync.RWMutex
	pingers   map[string]Pinger
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
}

// NewMonitor creates a health monitor with the given check interval.
func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		pingers:   make(map[string]Pinger),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
	}
}

// Register adds a named collaborator check. Call before Run.
func (m *Monitor) Register(name string, ping Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingers[name] = ping
}

// Run checks collaborators until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

func (m *Monitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	pingers := make(map[string]Pinger, len(m.pingers))
	for name, p := range m.pingers {
		pingers[name] = p
	}
	m.mu.RUnlock()

	for name, ping := range pingers {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := ping(checkCtx)
		cancel()

		cur := ComponentHealth{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
			Latency:     time.Since(start),
		}
		if err != nil {
			cur.Status = StatusUnhealthy
			cur.Error = err.Error()
		}

		m.mu.Lock()
		prev, existed := m.results[name]
		m.results[name] = cur
		m.mu.Unlock()

		if existed && prev.Status != cur.Status {
			if cur.Status == StatusUnhealthy {
				log.Warn().Str("component", name).Str("error", cur.Error).
					Msg("health: collaborator UNHEALTHY")
			} else {
				log.Warn().Str("component", name).
					Msg("health: collaborator recovered")
			}
		}
	}
}

// Snapshot returns the current aggregate health.
func (m *Monitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if h.Status == StatusUnhealthy {
			worst = StatusUnhealthy
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Uptime:     time.Since(m.startTime),
	}
}
