package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/signalnine/frugal/internal/config"
)

// Ollama is the local backend variant: a model server on localhost that costs
// nothing per request.
type Ollama struct {
	id          string
	host        string
	models      []string
	temperature float64
	timeout     time.Duration
	concurrent  bool
	client      *http.Client
}

func newOllama(cfg config.Backend, deps Deps) (Adapter, error) {
	return &Ollama{
		id:          cfg.ID,
		host:        strings.TrimSuffix(cfg.Endpoint, "/"),
		models:      cfg.Models,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout(),
		concurrent:  cfg.Concurrent,
		client:      deps.Client,
	}, nil
}

func (o *Ollama) ID() string       { return o.id }
func (o *Ollama) Concurrent() bool { return o.concurrent }

// EstimateCost is always 0: local backends are free by definition.
func (o *Ollama) EstimateCost(Request) int { return 0 }

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options"`
	Stream  bool           `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *Ollama) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = o.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	temp := req.Temperature
	if temp == 0 {
		temp = o.temperature
	}
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Options: map[string]any{"temperature": temp},
		Stream:  false,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding generate request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxFailure(ctx.Err())
		}
		return nil, &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Failure{Kind: FailExecution, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Failure{Kind: FailExecution, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	return &Result{
		Output:    strings.TrimSpace(out.Response),
		Latency:   time.Since(start),
		CostCents: 0,
	}, nil
}

func (o *Ollama) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Failure{Kind: FailExecution, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return nil
}

func (o *Ollama) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("building tags request: %w", err)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	descriptors := make([]ModelDescriptor, 0, len(tags.Models))
	for _, m := range tags.Models {
		descriptors = append(descriptors, ModelDescriptor{Name: m.Name})
	}
	return descriptors, nil
}
