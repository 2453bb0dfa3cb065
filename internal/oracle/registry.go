// Package oracle holds the backend registry, the health monitor that keeps it
// honest, and the deterministic selector that ranks backends for a job.
package oracle

import (
	"sort"
	"sync"
	"time"

	"github.com/signalnine/frugal/internal/backend"
	"github.com/signalnine/frugal/internal/config"
)

type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// emaAlpha weights new observations when updating rolling scores.
const emaAlpha = 0.3

// State is the registry's view of one backend. Score seeds come from config;
// speed and reliability are refined from observed outcomes.
type State struct {
	ID                  string
	Type                string
	Enabled             bool
	Paid                bool
	Capabilities        []string
	Models              []string
	Quality             float64
	Speed               float64
	CostEfficiency      float64
	Reliability         float64
	Health              HealthStatus
	ConsecutiveFailures int
	AvgLatency          time.Duration
	Checks              int
	Failures            int
	LastCheck           time.Time
}

func (s *State) covers(taskKind string) bool {
	if taskKind == "" || len(s.Capabilities) == 0 {
		return true
	}
	for _, c := range s.Capabilities {
		if c == taskKind {
			return true
		}
	}
	return false
}

// Registry holds all configured backends. Health fields are written by the
// monitor concurrently with selector reads; Snapshot returns consistent
// copies, never live pointers.
type Registry struct {
	mu       sync.RWMutex
	states   map[string]*State
	adapters map[string]backend.Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		states:   map[string]*State{},
		adapters: map[string]backend.Adapter{},
	}
}

func (r *Registry) Add(ad backend.Adapter, cfg config.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[cfg.ID] = &State{
		ID:             cfg.ID,
		Type:           cfg.Type,
		Enabled:        cfg.Enabled(),
		Paid:           cfg.Provider != "",
		Capabilities:   cfg.Capabilities,
		Models:         cfg.Models,
		Quality:        cfg.Scores.Quality,
		Speed:          cfg.Scores.Speed,
		CostEfficiency: cfg.Scores.CostEfficiency,
		Reliability:    cfg.Scores.Reliability,
		Health:         HealthUnknown,
	}
	r.adapters[cfg.ID] = ad
}

func (r *Registry) Adapter(id string) backend.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// Snapshot returns copies of all states, sorted by id.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]State, 0, len(r.states))
	for _, s := range r.states {
		copied := *s
		copied.Capabilities = append([]string(nil), s.Capabilities...)
		copied.Models = append([]string(nil), s.Models...)
		states = append(states, copied)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// Observe folds one execution attempt's outcome into the backend's rolling
// speed and reliability scores. Exponential moving average, not a replace.
func (r *Registry) Observe(id string, latency time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.states[id]
	if !found {
		return
	}
	outcome := 0.0
	if ok {
		outcome = 1.0
	}
	s.Reliability = emaAlpha*outcome + (1-emaAlpha)*s.Reliability

	if latency > 0 {
		if s.AvgLatency == 0 {
			s.AvgLatency = latency
		} else {
			s.AvgLatency = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(s.AvgLatency))
		}
		// Latency maps onto a 0-1 speed score: 1s -> 0.5, faster -> higher.
		speed := 1.0 / (1.0 + latency.Seconds())
		s.Speed = emaAlpha*speed + (1-emaAlpha)*s.Speed
	}
}

// recordCheck applies one health-check outcome and returns the new status.
// Recovery is immediate on success; degradation needs consecutive failures.
func (r *Registry) recordCheck(id string, ok bool, degradedAfter, unhealthyAfter int) HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, found := r.states[id]
	if !found {
		return HealthUnknown
	}
	s.Checks++
	s.LastCheck = time.Now()
	if ok {
		s.ConsecutiveFailures = 0
		s.Health = HealthHealthy
		return s.Health
	}
	s.Failures++
	s.ConsecutiveFailures++
	switch {
	case s.ConsecutiveFailures >= unhealthyAfter:
		s.Health = HealthUnhealthy
	case s.ConsecutiveFailures >= degradedAfter:
		s.Health = HealthDegraded
	}
	return s.Health
}
