package job_test

import (
	"testing"

	"github.com/signalnine/frugal/internal/job"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to job.Status
		ok       bool
	}{
		{job.StatusPending, job.StatusQueued, true},
		{job.StatusQueued, job.StatusRunning, true},
		{job.StatusRunning, job.StatusRetrying, true},
		{job.StatusRetrying, job.StatusRunning, true},
		{job.StatusRunning, job.StatusCompleted, true},
		{job.StatusRunning, job.StatusFailed, true},
		{job.StatusCompleted, job.StatusRunning, false},
		{job.StatusFailed, job.StatusRunning, false},
		{job.StatusCompleted, job.StatusFailed, false},
		{job.StatusPending, job.StatusRunning, false},
	}
	for _, tt := range tests {
		j := &job.Job{Status: tt.from}
		err := j.Transition(tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s -> %s: expected error", tt.from, tt.to)
		}
	}
}

func TestTransitionSameStatus(t *testing.T) {
	j := &job.Job{Status: job.StatusRunning}
	if err := j.Transition(job.StatusRunning); err != nil {
		t.Errorf("self transition should be a no-op, got %v", err)
	}
}

func TestNew(t *testing.T) {
	j := job.New("proj", "extract vendor")
	if j.ID == "" {
		t.Error("expected generated id")
	}
	if j.Status != job.StatusPending {
		t.Errorf("expected pending, got %s", j.Status)
	}
	if j.Status.Terminal() {
		t.Error("pending must not be terminal")
	}
}
