package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reason is the typed terminal (or per-tier) outcome attached to jobs and receipts.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonConsensusRejected  Reason = "consensus_rejected"
	ReasonSchemaInvalid      Reason = "schema_invalid"
	ReasonBackendUnreachable Reason = "backend_unreachable"
	ReasonExecutionError     Reason = "execution_error"
	ReasonBudgetExhausted    Reason = "budget_exhausted"
	ReasonNoBackend          Reason = "no_backend_available"
	ReasonJobTimeout         Reason = "job_timeout"
	ReasonCancelled          Reason = "cancelled"
)

// Job is one unit of work. Created by the caller, mutated only by the runner.
type Job struct {
	ID          string
	Project     string
	Goal        string
	Context     string
	SchemaRaw   []byte
	TaskKind    string
	BudgetCents int
	MaxRetries  int

	Status      Status
	TierHistory []TierAttempt
	RetryCount  int
	CostCents   int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      string
	Reason      Reason
}

// TierAttempt records one entry in the job's escalation path.
type TierAttempt struct {
	BackendID string
	Attempt   int
	Outcome   Reason
}

// Attempt is one invocation of one backend. Append-only once recorded.
type Attempt struct {
	ID          string
	JobID       string
	RoundID     string
	BackendID   string
	Model       string
	Prompt      string
	Output      string
	LatencyMS   int64
	CostCents   int
	SchemaValid bool
	FailKind    string
	Err         string
	CreatedAt   time.Time
}

// Receipt is the immutable record appended when a job reaches a terminal state.
type Receipt struct {
	JobID     string
	Project   string
	Status    Status
	Reason    Reason
	TierPath  []string
	Model     string
	CostCents int
	LatencyMS int64
	Agreement float64
	Accepted  bool
	CreatedAt time.Time
}

func New(project, goal string) *Job {
	return &Job{
		ID:        uuid.NewString()[:8],
		Project:   project,
		Goal:      goal,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusQueued, StatusFailed},
	StatusQueued:   {StatusRunning, StatusFailed},
	StatusRunning:  {StatusRetrying, StatusCompleted, StatusFailed},
	StatusRetrying: {StatusRunning, StatusFailed},
}

// Transition moves the job to a new status, rejecting any regression from a
// terminal state.
func (j *Job) Transition(to Status) error {
	if j.Status == to {
		return nil
	}
	for _, allowed := range transitions[j.Status] {
		if allowed == to {
			j.Status = to
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s", j.Status, to)
}
