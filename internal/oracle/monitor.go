package oracle

import (
	"context"
	"log"
	"time"

	"github.com/signalnine/frugal/internal/config"
)

// Monitor probes every registered backend on a fixed interval. It runs
// independently of job execution and uses its own short per-probe timeout, so
// a hung backend can never block a running job.
type Monitor struct {
	reg          *Registry
	interval     time.Duration
	probeTimeout time.Duration
	degraded     int
	unhealthy    int
	stop         chan struct{}
	done         chan struct{}
}

func NewMonitor(reg *Registry, cfg config.Health) *Monitor {
	return &Monitor{
		reg:          reg,
		interval:     cfg.Interval(),
		probeTimeout: cfg.ProbeTimeout(),
		degraded:     cfg.DegradedThreshold,
		unhealthy:    cfg.UnhealthyThreshold,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// CheckNow probes all backends once, synchronously. Called at startup so the
// selector has health data before the first job runs.
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, s := range m.reg.Snapshot() {
		if !s.Enabled {
			continue
		}
		m.probe(ctx, s.ID)
	}
}

func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CheckNow(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) probe(ctx context.Context, id string) {
	ad := m.reg.Adapter(id)
	if ad == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := ad.HealthCheck(probeCtx)
	status := m.reg.recordCheck(id, err == nil, m.degraded, m.unhealthy)
	if err != nil {
		log.Printf("health check failed for %s (%s): %v", id, status, err)
	}
}
