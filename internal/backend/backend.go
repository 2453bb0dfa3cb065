// Package backend defines the execution adapter contract and its concrete
// variants. New backend types are registered by type string; instantiation is
// configuration-driven.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/pricing"
)

type FailureKind string

const (
	FailTimeout     FailureKind = "timeout"
	FailUnreachable FailureKind = "unreachable"
	FailExecution   FailureKind = "execution_error"
	FailCancelled   FailureKind = "cancelled"
)

// Failure is a typed execution failure. Unreachable means the backend could
// not be contacted at all; ExecutionError means it ran and errored. The
// distinction drives different retry policies upstream.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// AsFailure extracts a typed Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ctxFailure maps a context error to its failure kind.
func ctxFailure(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailTimeout, Message: "attempt deadline exceeded"}
	}
	return &Failure{Kind: FailCancelled, Message: "attempt cancelled"}
}

type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type Result struct {
	Output       string
	Latency      time.Duration
	CostCents    int
	InputTokens  int
	OutputTokens int
}

type ModelDescriptor struct {
	Name string
}

// Adapter executes single prompts against one backend. All implementations
// honor Request.Timeout by returning a Timeout failure rather than hanging.
type Adapter interface {
	ID() string
	Execute(ctx context.Context, req Request) (*Result, error)
	HealthCheck(ctx context.Context) error
	ListModels(ctx context.Context) ([]ModelDescriptor, error)
	EstimateCost(req Request) int
	Concurrent() bool
}

// Deps carries shared collaborators into adapter constructors.
type Deps struct {
	Pricing *pricing.Table
	Secrets map[string]string
	Client  *http.Client
}

type Constructor func(cfg config.Backend, deps Deps) (Adapter, error)

var constructors = map[string]Constructor{}

// Register installs a constructor for a backend type string. Built-in types
// register themselves in init; callers may add custom types before New.
func Register(kind string, ctor Constructor) {
	constructors[kind] = ctor
}

func New(cfg config.Backend, deps Deps) (Adapter, error) {
	ctor, ok := constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q for %q", cfg.Type, cfg.ID)
	}
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	return ctor(cfg, deps)
}

func init() {
	Register("local", newOllama)
	Register("remote_api", newRemote)
	Register("server_model", newContainer)
}
