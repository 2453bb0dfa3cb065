// Package consensus runs k independent samples of one job against one backend
// and accepts the plurality result when agreement clears the threshold. This
// is a statistical agreement check over independent model outputs, nothing
// more.
package consensus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/frugal/internal/backend"
	"github.com/signalnine/frugal/internal/job"
	"github.com/signalnine/frugal/internal/schema"
)

const thresholdEpsilon = 0.01

type RoundOpts struct {
	JobID          string
	Adapter        backend.Adapter
	Prompt         string
	Model          string
	Temperature    float64
	K              int
	Threshold      float64
	Schema         *schema.Schema
	AttemptTimeout time.Duration
}

// Round is the outcome of one k-sample consensus round. Never mutated after
// computation; a new decision needs a new round.
type Round struct {
	RoundID    string
	K          int
	Attempts   []job.Attempt
	ValidCount int
	Agreement  float64
	Accepted   bool
	Result     string
	CostCents  int
	Latency    time.Duration
}

// Unreachable reports whether every attempt failed to reach the backend at
// all. Drives immediate failover instead of same-tier retry upstream.
func (r *Round) Unreachable() bool {
	for _, a := range r.Attempts {
		if a.FailKind != string(backend.FailUnreachable) {
			return false
		}
	}
	return len(r.Attempts) > 0
}

// Run executes k attempts, validates each against the schema, and computes
// agreement among the valid ones. A rejected round is an expected outcome,
// not an error; only a cancelled context aborts early.
func Run(ctx context.Context, opts RoundOpts) *Round {
	round := &Round{
		RoundID: uuid.NewString()[:8],
		K:       opts.K,
	}
	start := time.Now()

	attempts := make([]job.Attempt, opts.K)
	if opts.Adapter.Concurrent() {
		var wg sync.WaitGroup
		for i := 0; i < opts.K; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				attempts[i] = runAttempt(ctx, opts, round.RoundID)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < opts.K; i++ {
			attempts[i] = runAttempt(ctx, opts, round.RoundID)
		}
	}
	round.Attempts = attempts
	round.Latency = time.Since(start)

	// Plurality over the normalized outputs of schema-valid attempts.
	counts := map[string]int{}
	firstSeen := map[string]int{}
	for i, a := range attempts {
		round.CostCents += a.CostCents
		if !a.SchemaValid {
			continue
		}
		round.ValidCount++
		key := normalize(a.Output)
		counts[key]++
		if _, seen := firstSeen[key]; !seen {
			firstSeen[key] = i
		}
	}
	if round.ValidCount == 0 {
		return round
	}

	best := ""
	for key := range counts {
		if best == "" {
			best = key
			continue
		}
		if counts[key] > counts[best] || (counts[key] == counts[best] && firstSeen[key] < firstSeen[best]) {
			best = key
		}
	}

	// The epsilon keeps a threshold written as 0.67 from rejecting an exact
	// two-thirds plurality (0.6667).
	round.Agreement = float64(counts[best]) / float64(round.ValidCount)
	round.Accepted = round.Agreement >= opts.Threshold-thresholdEpsilon
	if round.Accepted {
		round.Result = attempts[firstSeen[best]].Output
	}
	return round
}

func runAttempt(ctx context.Context, opts RoundOpts, roundID string) job.Attempt {
	attempt := job.Attempt{
		ID:        uuid.NewString()[:8],
		JobID:     opts.JobID,
		RoundID:   roundID,
		BackendID: opts.Adapter.ID(),
		Model:     opts.Model,
		Prompt:    opts.Prompt,
		CreatedAt: time.Now(),
	}
	res, err := opts.Adapter.Execute(ctx, backend.Request{
		Prompt:      opts.Prompt,
		Model:       opts.Model,
		Temperature: opts.Temperature,
		Timeout:     opts.AttemptTimeout,
	})
	if err != nil {
		attempt.Err = err.Error()
		if f, ok := backend.AsFailure(err); ok {
			attempt.FailKind = string(f.Kind)
		} else {
			attempt.FailKind = string(backend.FailExecution)
		}
		return attempt
	}
	attempt.Output = res.Output
	attempt.LatencyMS = res.Latency.Milliseconds()
	attempt.CostCents = res.CostCents
	attempt.SchemaValid = opts.Schema.Validate(res.Output).Valid
	return attempt
}

// normalize makes attempt outputs comparable: canonical JSON (sorted keys,
// tight separators) when the output parses, otherwise lower-cased
// whitespace-collapsed text. Deterministic by construction.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if canonical, err := json.Marshal(v); err == nil {
			return string(canonical)
		}
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
