// Package ledger enforces budget ceilings. Check+reserve is one atomic
// operation: the gate runs before any paid attempt starts, never after.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/store"
)

// ErrWouldExceed means the estimated cost does not fit under a ceiling. The
// caller skips the tier; it is never a crash.
var ErrWouldExceed = errors.New("budget would exceed ceiling")

const dayFormat = "2006-01-02"

type Ledger struct {
	mu       sync.Mutex
	store    *store.Store
	budgets  map[string][]config.Budget
	reserved map[string]int
	now      func() time.Time
}

func New(st *store.Store, budgets []config.Budget) *Ledger {
	byProject := map[string][]config.Budget{}
	for _, b := range budgets {
		byProject[b.Project] = append(byProject[b.Project], b)
	}
	return &Ledger{
		store:    st,
		budgets:  byProject,
		reserved: map[string]int{},
		now:      time.Now,
	}
}

// Reservation holds headroom for one in-flight attempt. Commit records the
// actual cost (which may differ from the estimate); Release drops the hold
// without spending.
type Reservation struct {
	ledger   *Ledger
	project  string
	estimate int
	done     bool
}

// Check reports whether an estimated cost fits without reserving.
func (l *Ledger) Check(ctx context.Context, project string, estCents int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headroomLocked(ctx, project, estCents)
}

// Reserve atomically checks the estimate against every ceiling and holds the
// headroom, so two jobs can never both pass a check against the same
// remaining budget.
func (l *Ledger) Reserve(ctx context.Context, project string, estCents int) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.headroomLocked(ctx, project, estCents); err != nil {
		return nil, err
	}
	l.reserved[project] += estCents
	return &Reservation{ledger: l, project: project, estimate: estCents}, nil
}

// Remaining returns the tightest headroom across the project's ceilings, or
// MaxInt when no ceiling is configured.
func (l *Ledger) Remaining(ctx context.Context, project string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	budgets := l.budgets[project]
	if len(budgets) == 0 {
		return math.MaxInt32, nil
	}
	remaining := math.MaxInt32
	for _, b := range budgets {
		spent, err := l.spent(ctx, b)
		if err != nil {
			return 0, err
		}
		headroom := b.CeilingCents - spent - l.reserved[project]
		if headroom < remaining {
			remaining = headroom
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Ledger) headroomLocked(ctx context.Context, project string, estCents int) error {
	for _, b := range l.budgets[project] {
		spent, err := l.spent(ctx, b)
		if err != nil {
			return err
		}
		if spent+l.reserved[project]+estCents > b.CeilingCents {
			return fmt.Errorf("%w: project %s %s ceiling %d, spent %d, reserved %d, estimate %d",
				ErrWouldExceed, project, b.Period, b.CeilingCents, spent, l.reserved[project], estCents)
		}
	}
	return nil
}

func (l *Ledger) spent(ctx context.Context, b config.Budget) (int, error) {
	day := ""
	if b.Period == "daily" {
		day = l.now().UTC().Format(dayFormat)
	}
	return l.store.Spent(ctx, b.Project, b.Period, day)
}

// Commit releases the hold and records the actual cost. An actual cost above
// the estimate is still recorded in full; the overrun tightens the next check
// rather than being forgiven.
func (r *Reservation) Commit(ctx context.Context, actualCents int) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	r.ledger.reserved[r.project] -= r.estimate
	if actualCents == 0 {
		return nil
	}
	for _, b := range r.ledger.budgets[r.project] {
		day := ""
		if b.Period == "daily" {
			day = r.ledger.now().UTC().Format(dayFormat)
		}
		if err := r.ledger.store.AddSpend(ctx, b.Project, b.Period, day, actualCents); err != nil {
			return fmt.Errorf("recording spend: %w", err)
		}
	}
	return nil
}

// Release drops the reservation without recording spend.
func (r *Reservation) Release() {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.ledger.reserved[r.project] -= r.estimate
}
