// Package runner orchestrates one job end to end: backend selection, budget
// gating, consensus rounds, retry and escalation, and the terminal receipt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/consensus"
	"github.com/signalnine/frugal/internal/job"
	"github.com/signalnine/frugal/internal/ledger"
	"github.com/signalnine/frugal/internal/oracle"
	"github.com/signalnine/frugal/internal/schema"
	"github.com/signalnine/frugal/internal/store"
)

// maxContextBytes bounds how much of the job context goes into the prompt.
const maxContextBytes = 4000

type Runner struct {
	cfg   *config.Config
	reg   *oracle.Registry
	sel   *oracle.Selector
	led   *ledger.Ledger
	store *store.Store
	slots chan struct{}
}

func New(cfg *config.Config, reg *oracle.Registry, sel *oracle.Selector, led *ledger.Ledger, st *store.Store) *Runner {
	slots := cfg.Routing.MaxConcurrentJobs
	if slots < 1 {
		slots = 1
	}
	return &Runner{
		cfg:   cfg,
		reg:   reg,
		sel:   sel,
		led:   led,
		store: st,
		slots: make(chan struct{}, slots),
	}
}

// Run executes one job to a terminal state. The receipt is returned in both
// cases; a non-nil error means the job failed and carries the typed reason.
func (r *Runner) Run(ctx context.Context, j *job.Job) (*job.Receipt, error) {
	// A malformed schema is a submission error: the job never starts.
	sch, err := schema.Compile(j.SchemaRaw)
	if err != nil {
		return nil, err
	}

	if err := j.Transition(job.StatusQueued); err != nil {
		return nil, err
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return r.fail(j, ctxReason(ctx, ctx), nil)
	}
	defer func() { <-r.slots }()

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.Routing.JobTimeout())
	defer cancel()

	if err := j.Transition(job.StatusRunning); err != nil {
		return nil, err
	}
	j.StartedAt = time.Now()

	prompt := BuildPrompt(j)
	req := oracle.Requirements{TaskKind: j.TaskKind, Prompt: prompt}
	criteria := oracle.Criteria(r.cfg.Routing.Criteria)

	// The chain is selected without a budget cap so that tiers priced out of
	// budget are walked, skipped, and recorded in the tier history; the gates
	// below run before every attempt. An empty chain means no backend covers
	// the job at any price.
	chain := r.sel.Select(req, math.MaxInt, criteria)
	if len(chain) == 0 {
		return r.fail(j, job.ReasonNoBackend, nil)
	}

	lastReason := job.ReasonNoBackend
	var lastRound *consensus.Round

	// Per-job override of the configured same-tier retry limit.
	maxRetries := r.cfg.Routing.MaxRetriesPerTier
	if j.MaxRetries > 0 {
		maxRetries = j.MaxRetries
	}

	for _, cand := range chain {
		adapter := r.reg.Adapter(cand.BackendID)
		if adapter == nil {
			continue
		}
		tierRetries := 0
		for {
			if jobCtx.Err() != nil {
				return r.fail(j, ctxReason(ctx, jobCtx), lastRound)
			}

			// Budget gate: per-job ceiling, then the shared project ledger.
			// A skip is explicit and logged, never a silent substitution.
			if cand.EstimatedCost > j.BudgetCents-j.CostCents {
				log.Printf("job %s: skipping %s: estimate %d exceeds job budget remaining %d",
					j.ID, cand.BackendID, cand.EstimatedCost, j.BudgetCents-j.CostCents)
				j.TierHistory = append(j.TierHistory, job.TierAttempt{BackendID: cand.BackendID, Attempt: 1, Outcome: job.ReasonBudgetExhausted})
				lastReason = job.ReasonBudgetExhausted
				break
			}
			reservation, err := r.led.Reserve(jobCtx, j.Project, cand.EstimatedCost)
			if errors.Is(err, ledger.ErrWouldExceed) {
				log.Printf("job %s: skipping %s: %v", j.ID, cand.BackendID, err)
				j.TierHistory = append(j.TierHistory, job.TierAttempt{BackendID: cand.BackendID, Attempt: 1, Outcome: job.ReasonBudgetExhausted})
				lastReason = job.ReasonBudgetExhausted
				break
			}
			if err != nil {
				return nil, fmt.Errorf("budget reservation: %w", err)
			}

			round := consensus.Run(jobCtx, consensus.RoundOpts{
				JobID:     j.ID,
				Adapter:   adapter,
				Prompt:    prompt,
				Model:     cand.Model,
				K:         r.cfg.Routing.KSamples,
				Threshold: r.cfg.Routing.ConsensusThreshold,
				Schema:    sch,
			})
			lastRound = round

			for _, a := range round.Attempts {
				if err := r.store.AppendAttempt(context.Background(), a); err != nil {
					log.Printf("warning: recording attempt %s: %v", a.ID, err)
				}
				r.reg.Observe(a.BackendID, time.Duration(a.LatencyMS)*time.Millisecond, a.Err == "")
			}
			// Actual cost is committed whether or not the round was accepted;
			// rejected samples still cost money.
			if err := reservation.Commit(context.Background(), round.CostCents); err != nil {
				log.Printf("warning: committing spend for job %s: %v", j.ID, err)
			}
			j.CostCents += round.CostCents

			if round.Accepted {
				j.TierHistory = append(j.TierHistory, job.TierAttempt{BackendID: cand.BackendID, Attempt: tierRetries + 1, Outcome: job.ReasonOK})
				j.Result = round.Result
				j.Reason = job.ReasonOK
				j.Transition(job.StatusCompleted)
				j.CompletedAt = time.Now()
				receipt := r.buildReceipt(j, cand.Model, round)
				if err := r.store.AppendReceipt(context.Background(), *receipt); err != nil {
					log.Printf("warning: recording receipt for job %s: %v", j.ID, err)
				}
				return receipt, nil
			}

			if jobCtx.Err() != nil {
				return r.fail(j, ctxReason(ctx, jobCtx), lastRound)
			}

			outcome := classify(round)
			j.TierHistory = append(j.TierHistory, job.TierAttempt{BackendID: cand.BackendID, Attempt: tierRetries + 1, Outcome: outcome})
			lastReason = outcome
			j.RetryCount++

			if outcome == job.ReasonBackendUnreachable {
				// Unreachable means failover, not same-tier retry.
				break
			}
			tierRetries++
			if !r.cfg.Routing.SameTierRetry() || tierRetries > maxRetries {
				break
			}
			j.Transition(job.StatusRetrying)
			select {
			case <-time.After(backoff(tierRetries)):
			case <-jobCtx.Done():
			}
			j.Transition(job.StatusRunning)
		}
	}

	return r.fail(j, lastReason, lastRound)
}

func classify(round *consensus.Round) job.Reason {
	if round.Unreachable() {
		return job.ReasonBackendUnreachable
	}
	if round.ValidCount > 0 {
		return job.ReasonConsensusRejected
	}
	for _, a := range round.Attempts {
		if a.Err == "" {
			// at least one attempt ran and produced schema-invalid output
			return job.ReasonSchemaInvalid
		}
	}
	return job.ReasonExecutionError
}

func ctxReason(parent, jobCtx context.Context) job.Reason {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return job.ReasonCancelled
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return job.ReasonJobTimeout
	}
	return job.ReasonCancelled
}

func (r *Runner) fail(j *job.Job, reason job.Reason, round *consensus.Round) (*job.Receipt, error) {
	j.Reason = reason
	j.Transition(job.StatusFailed)
	j.CompletedAt = time.Now()
	receipt := r.buildReceipt(j, "", round)
	if err := r.store.AppendReceipt(context.Background(), *receipt); err != nil {
		log.Printf("warning: recording receipt for job %s: %v", j.ID, err)
	}
	return receipt, fmt.Errorf("job %s failed: %s", j.ID, reason)
}

func (r *Runner) buildReceipt(j *job.Job, model string, round *consensus.Round) *job.Receipt {
	receipt := &job.Receipt{
		JobID:     j.ID,
		Project:   j.Project,
		Status:    j.Status,
		Reason:    j.Reason,
		TierPath:  tierPath(j.TierHistory),
		Model:     model,
		CostCents: j.CostCents,
		CreatedAt: time.Now(),
	}
	if !j.StartedAt.IsZero() {
		receipt.LatencyMS = j.CompletedAt.Sub(j.StartedAt).Milliseconds()
	}
	if round != nil {
		receipt.Agreement = round.Agreement
		receipt.Accepted = round.Accepted
	}
	return receipt
}

// tierPath collapses the tier history into the ordered list of distinct
// backends attempted.
func tierPath(history []job.TierAttempt) []string {
	var path []string
	for _, h := range history {
		if len(path) == 0 || path[len(path)-1] != h.BackendID {
			path = append(path, h.BackendID)
		}
	}
	if path == nil {
		path = []string{}
	}
	return path
}

func backoff(attempt int) time.Duration {
	const base = 500 * time.Millisecond
	const max = 10 * time.Second
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// BuildPrompt assembles the prompt sent to every backend: goal, optional
// schema instruction, and truncated context.
func BuildPrompt(j *job.Job) string {
	var b strings.Builder
	b.WriteString("You are a careful assistant. Goal: ")
	b.WriteString(j.Goal)
	b.WriteString("\n")
	if len(j.SchemaRaw) > 0 {
		b.WriteString("Produce strictly valid JSON matching this schema:\n")
		b.Write(j.SchemaRaw)
		b.WriteString("\n")
	}
	ctx := j.Context
	if len(ctx) > maxContextBytes {
		ctx = ctx[:maxContextBytes]
	}
	b.WriteString("Context (may be empty):\n---\n")
	b.WriteString(ctx)
	b.WriteString("\n---\nReturn ONLY the output (no extra prose).")
	return b.String()
}
