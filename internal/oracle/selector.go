package oracle

import (
	"sort"
	"time"

	"github.com/signalnine/frugal/internal/backend"
)

type Criteria string

const (
	CostFirst    Criteria = "cost_first"
	QualityFirst Criteria = "quality_first"
	Balanced     Criteria = "balanced"
)

type weights struct {
	quality, speed, cost, reliability float64
}

func weightsFor(c Criteria) weights {
	switch c {
	case CostFirst:
		return weights{quality: 0.15, speed: 0.15, cost: 0.55, reliability: 0.15}
	case QualityFirst:
		return weights{quality: 0.55, speed: 0.15, cost: 0.15, reliability: 0.15}
	default:
		return weights{quality: 0.25, speed: 0.25, cost: 0.25, reliability: 0.25}
	}
}

type Requirements struct {
	TaskKind string
	Prompt   string
}

// Candidate is one entry in the ordered fallback chain handed to the runner.
// EstimatedCost covers a full consensus round (k attempts), not one request.
type Candidate struct {
	BackendID     string
	Model         string
	EstimatedCost int
	Paid          bool
	Score         float64
	latency       time.Duration
}

// Selector ranks backends for a job. Selection is deterministic given
// identical registry state and criteria: no randomness anywhere.
type Selector struct {
	reg       *Registry
	allowPaid bool
	kSamples  int
}

func NewSelector(reg *Registry, allowPaid bool, kSamples int) *Selector {
	if kSamples < 1 {
		kSamples = 1
	}
	return &Selector{reg: reg, allowPaid: allowPaid, kSamples: kSamples}
}

// Select returns the full fallback chain, best first. Free backends always
// precede paid ones regardless of score (the local-first guarantee); within
// each group, weighted score descending, then lower observed latency, then id.
func (s *Selector) Select(req Requirements, budgetRemainingCents int, criteria Criteria) []Candidate {
	w := weightsFor(criteria)
	var candidates []Candidate
	for _, state := range s.reg.Snapshot() {
		if !state.Enabled {
			continue
		}
		if state.Health != HealthHealthy && state.Health != HealthDegraded {
			continue
		}
		if !state.covers(req.TaskKind) {
			continue
		}
		if state.Paid && !s.allowPaid {
			continue
		}
		if len(state.Models) == 0 {
			continue
		}
		model := state.Models[0]
		est := 0
		if ad := s.reg.Adapter(state.ID); ad != nil {
			// A consensus round runs k attempts; the estimate must cover
			// all of them, not just one request.
			est = s.kSamples * ad.EstimateCost(backend.Request{Prompt: req.Prompt, Model: model})
		}
		// A backend whose round estimate exceeds remaining budget is
		// excluded outright.
		if est > budgetRemainingCents {
			continue
		}
		score := w.quality*state.Quality + w.speed*state.Speed +
			w.cost*state.CostEfficiency + w.reliability*state.Reliability
		// Degraded backends stay eligible but rank below healthy peers.
		if state.Health == HealthDegraded {
			score /= 2
		}
		candidates = append(candidates, Candidate{
			BackendID:     state.ID,
			Model:         model,
			EstimatedCost: est,
			Paid:          state.Paid,
			Score:         score,
			latency:       state.AvgLatency,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Paid != b.Paid {
			return !a.Paid
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.latency != b.latency {
			return a.latency < b.latency
		}
		return a.BackendID < b.BackendID
	})
	return candidates
}
