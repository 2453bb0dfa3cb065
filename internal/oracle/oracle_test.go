package oracle_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/signalnine/frugal/internal/backend"
	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/oracle"
)

type fakeAdapter struct {
	id        string
	cost      int
	healthErr error
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Concurrent() bool { return false }

func (f *fakeAdapter) EstimateCost(backend.Request) int { return f.cost }

func (f *fakeAdapter) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeAdapter) Execute(context.Context, backend.Request) (*backend.Result, error) {
	return &backend.Result{Output: "ok"}, nil
}

func (f *fakeAdapter) ListModels(context.Context) ([]backend.ModelDescriptor, error) {
	return nil, nil
}

func addBackend(reg *oracle.Registry, fake *fakeAdapter, cfg config.Backend) {
	if cfg.ID == "" {
		cfg.ID = fake.id
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"m"}
	}
	reg.Add(fake, cfg)
}

func health() config.Health {
	return config.Health{IntervalSec: 1, ProbeTimeoutSec: 1, DegradedThreshold: 3, UnhealthyThreshold: 6}
}

func TestHealthTransitions(t *testing.T) {
	reg := oracle.NewRegistry()
	fake := &fakeAdapter{id: "b"}
	addBackend(reg, fake, config.Backend{})
	mon := oracle.NewMonitor(reg, health())
	ctx := context.Background()

	status := func() oracle.HealthStatus { return reg.Snapshot()[0].Health }

	if status() != oracle.HealthUnknown {
		t.Fatalf("initial: got %s", status())
	}

	// unknown -> healthy on first success
	mon.CheckNow(ctx)
	if status() != oracle.HealthHealthy {
		t.Errorf("after success: got %s, want healthy", status())
	}

	// 3 consecutive failures -> degraded
	fake.healthErr = errors.New("down")
	for i := 0; i < 3; i++ {
		mon.CheckNow(ctx)
	}
	if status() != oracle.HealthDegraded {
		t.Errorf("after 3 failures: got %s, want degraded", status())
	}

	// continued failures -> unhealthy
	for i := 0; i < 3; i++ {
		mon.CheckNow(ctx)
	}
	if status() != oracle.HealthUnhealthy {
		t.Errorf("after 6 failures: got %s, want unhealthy", status())
	}

	// a single success recovers immediately
	fake.healthErr = nil
	mon.CheckNow(ctx)
	if status() != oracle.HealthHealthy {
		t.Errorf("after recovery: got %s, want healthy", status())
	}
	if reg.Snapshot()[0].ConsecutiveFailures != 0 {
		t.Error("consecutive failures must reset on success")
	}
}

func TestObserveEMA(t *testing.T) {
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "b"}, config.Backend{
		Scores: config.Scores{Reliability: 0.5, Speed: 0.5},
	})

	reg.Observe("b", 100*time.Millisecond, true)
	s := reg.Snapshot()[0]
	if s.Reliability <= 0.5 {
		t.Errorf("reliability should rise after success, got %f", s.Reliability)
	}
	if s.Reliability == 1.0 {
		t.Error("EMA must not jump straight to 1.0")
	}
	if s.AvgLatency != 100*time.Millisecond {
		t.Errorf("first latency seeds the average, got %s", s.AvgLatency)
	}

	reg.Observe("b", 300*time.Millisecond, false)
	s2 := reg.Snapshot()[0]
	if s2.Reliability >= s.Reliability {
		t.Error("reliability should fall after failure")
	}
	if s2.AvgLatency <= 100*time.Millisecond || s2.AvgLatency >= 300*time.Millisecond {
		t.Errorf("latency EMA out of range: %s", s2.AvgLatency)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "b"}, config.Backend{Capabilities: []string{"extract"}})
	snap := reg.Snapshot()
	snap[0].Health = oracle.HealthUnhealthy
	snap[0].Capabilities[0] = "mutated"
	fresh := reg.Snapshot()
	if fresh[0].Health != oracle.HealthUnknown || fresh[0].Capabilities[0] != "extract" {
		t.Error("snapshot mutation leaked into registry")
	}
}

func selectorFixture(t *testing.T, allowPaid bool) (*oracle.Registry, *oracle.Selector) {
	t.Helper()
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "local-a", cost: 0}, config.Backend{
		Scores: config.Scores{Quality: 0.5, Speed: 0.9, CostEfficiency: 1.0, Reliability: 0.8},
	})
	addBackend(reg, &fakeAdapter{id: "local-b", cost: 0}, config.Backend{
		Scores: config.Scores{Quality: 0.4, Speed: 0.4, CostEfficiency: 1.0, Reliability: 0.4},
	})
	addBackend(reg, &fakeAdapter{id: "paid", cost: 80}, config.Backend{
		Provider: "openrouter",
		Scores:   config.Scores{Quality: 0.95, Speed: 0.6, CostEfficiency: 0.1, Reliability: 0.9},
	})
	mon := oracle.NewMonitor(reg, health())
	mon.CheckNow(context.Background())
	return reg, oracle.NewSelector(reg, allowPaid, 1)
}

func chainIDs(chain []oracle.Candidate) []string {
	ids := make([]string, len(chain))
	for i, c := range chain {
		ids[i] = c.BackendID
	}
	return ids
}

func TestSelectFreeBeforePaid(t *testing.T) {
	_, sel := selectorFixture(t, true)
	chain := sel.Select(oracle.Requirements{}, 1000, oracle.QualityFirst)
	// paid has the highest quality score but free tiers must come first
	want := []string{"local-a", "local-b", "paid"}
	if !reflect.DeepEqual(chainIDs(chain), want) {
		t.Errorf("chain: got %v, want %v", chainIDs(chain), want)
	}
}

func TestSelectBudgetExcludesOutright(t *testing.T) {
	_, sel := selectorFixture(t, true)
	chain := sel.Select(oracle.Requirements{}, 50, oracle.CostFirst)
	for _, c := range chain {
		if c.BackendID == "paid" {
			t.Error("backend priced above remaining budget must be excluded")
		}
	}
}

func TestSelectEstimateCoversWholeRound(t *testing.T) {
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "paid", cost: 20}, config.Backend{Provider: "openrouter"})
	oracle.NewMonitor(reg, health()).CheckNow(context.Background())
	sel := oracle.NewSelector(reg, true, 3)

	// 3 samples at 20 each: the round costs 60, not 20
	if chain := sel.Select(oracle.Requirements{}, 50, oracle.CostFirst); len(chain) != 0 {
		t.Errorf("round estimate 60 must not fit budget 50, got %v", chainIDs(chain))
	}
	chain := sel.Select(oracle.Requirements{}, 60, oracle.CostFirst)
	if len(chain) != 1 {
		t.Fatalf("round estimate 60 fits budget 60, got %v", chainIDs(chain))
	}
	if chain[0].EstimatedCost != 60 {
		t.Errorf("candidate must carry the round estimate: got %d, want 60", chain[0].EstimatedCost)
	}
}

func TestSelectKillSwitch(t *testing.T) {
	_, sel := selectorFixture(t, false)
	chain := sel.Select(oracle.Requirements{}, 1000000, oracle.QualityFirst)
	for _, c := range chain {
		if c.Paid {
			t.Error("paid backend selected with kill-switch off")
		}
	}
}

func TestSelectDeterministic(t *testing.T) {
	_, sel := selectorFixture(t, true)
	first := chainIDs(sel.Select(oracle.Requirements{}, 1000, oracle.Balanced))
	for i := 0; i < 10; i++ {
		again := chainIDs(sel.Select(oracle.Requirements{}, 1000, oracle.Balanced))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("selection not deterministic: %v vs %v", first, again)
		}
	}
}

func TestSelectCapabilityFilter(t *testing.T) {
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "coder"}, config.Backend{Capabilities: []string{"code"}})
	addBackend(reg, &fakeAdapter{id: "generalist"}, config.Backend{})
	oracle.NewMonitor(reg, health()).CheckNow(context.Background())
	sel := oracle.NewSelector(reg, false, 1)

	chain := sel.Select(oracle.Requirements{TaskKind: "extract"}, 0, oracle.Balanced)
	if !reflect.DeepEqual(chainIDs(chain), []string{"generalist"}) {
		t.Errorf("capability filter: got %v", chainIDs(chain))
	}
}

func TestSelectExcludesUnhealthyAndDisabled(t *testing.T) {
	reg := oracle.NewRegistry()
	down := &fakeAdapter{id: "down", healthErr: errors.New("nope")}
	addBackend(reg, down, config.Backend{})
	addBackend(reg, &fakeAdapter{id: "off"}, config.Backend{Disabled: true})
	addBackend(reg, &fakeAdapter{id: "up"}, config.Backend{})
	mon := oracle.NewMonitor(reg, health())
	for i := 0; i < 6; i++ {
		mon.CheckNow(context.Background())
	}
	sel := oracle.NewSelector(reg, false, 1)
	chain := sel.Select(oracle.Requirements{}, 0, oracle.Balanced)
	if !reflect.DeepEqual(chainIDs(chain), []string{"up"}) {
		t.Errorf("got %v, want only 'up'", chainIDs(chain))
	}
}

func TestSelectDegradedRankedLower(t *testing.T) {
	reg := oracle.NewRegistry()
	flaky := &fakeAdapter{id: "a-flaky"}
	addBackend(reg, flaky, config.Backend{
		Scores: config.Scores{Quality: 0.9, Speed: 0.9, CostEfficiency: 0.9, Reliability: 0.9},
	})
	addBackend(reg, &fakeAdapter{id: "b-steady"}, config.Backend{
		Scores: config.Scores{Quality: 0.6, Speed: 0.6, CostEfficiency: 0.6, Reliability: 0.6},
	})
	mon := oracle.NewMonitor(reg, health())
	mon.CheckNow(context.Background())
	flaky.healthErr = errors.New("wobbly")
	for i := 0; i < 3; i++ {
		mon.CheckNow(context.Background())
	}
	sel := oracle.NewSelector(reg, false, 1)
	chain := sel.Select(oracle.Requirements{}, 0, oracle.Balanced)
	if len(chain) != 2 {
		t.Fatalf("degraded backend must stay eligible, got %v", chainIDs(chain))
	}
	if chain[0].BackendID != "b-steady" {
		t.Errorf("degraded backend should rank below healthy, got %v", chainIDs(chain))
	}
}

func TestMonitorStartStop(t *testing.T) {
	reg := oracle.NewRegistry()
	addBackend(reg, &fakeAdapter{id: "b"}, config.Backend{})
	mon := oracle.NewMonitor(reg, health())
	mon.Start()
	time.Sleep(1500 * time.Millisecond)
	mon.Stop()
	if reg.Snapshot()[0].Checks == 0 {
		t.Error("monitor never probed")
	}
}
