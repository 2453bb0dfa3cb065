package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/pricing"
)

// estOutputTokens is the assumed completion size when estimating cost before
// a request has run.
const estOutputTokens = 500

// Remote is the remote_api variant: an OpenAI-style chat completions endpoint
// billed per token through the pricing table.
type Remote struct {
	id          string
	baseURL     string
	provider    string
	models      []string
	apiKey      string
	temperature float64
	timeout     time.Duration
	concurrent  bool
	pricing     *pricing.Table
	client      *http.Client
}

func newRemote(cfg config.Backend, deps Deps) (Adapter, error) {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = deps.Secrets[cfg.APIKeyEnv]
		if key == "" {
			key = os.Getenv(cfg.APIKeyEnv)
		}
		if key == "" {
			return nil, fmt.Errorf("backend %q: %s is not set", cfg.ID, cfg.APIKeyEnv)
		}
	}
	return &Remote{
		id:          cfg.ID,
		baseURL:     strings.TrimSuffix(cfg.Endpoint, "/"),
		provider:    cfg.Provider,
		models:      cfg.Models,
		apiKey:      key,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout(),
		concurrent:  cfg.Concurrent,
		pricing:     deps.Pricing,
		client:      deps.Client,
	}, nil
}

func (r *Remote) ID() string       { return r.id }
func (r *Remote) Concurrent() bool { return r.concurrent }

// EstimateCost approximates tokens at four bytes each plus a fixed completion
// allowance. The estimate gates selection; only actual usage is committed.
func (r *Remote) EstimateCost(req Request) int {
	inTokens := len(req.Prompt) / 4
	return r.pricing.CostCents(r.provider, req.Model, inTokens, estOutputTokens)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *Remote) Execute(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	temp := req.Temperature
	if temp == 0 {
		temp = r.temperature
	}
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: temp,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
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

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Failure{Kind: FailExecution, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if out.Error != nil {
		return nil, &Failure{Kind: FailExecution, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return nil, &Failure{Kind: FailExecution, Message: "response contained no choices"}
	}

	return &Result{
		Output:       strings.TrimSpace(out.Choices[0].Message.Content),
		Latency:      time.Since(start),
		CostCents:    r.pricing.CostCents(r.provider, req.Model, out.Usage.PromptTokens, out.Usage.CompletionTokens),
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

// HealthCheck probes the model list endpoint. Probes never hit completions,
// so health monitoring is free even on paid backends.
func (r *Remote) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Failure{Kind: FailExecution, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return nil
}

func (r *Remote) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("building models request: %w", err)
	}
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &Failure{Kind: FailUnreachable, Message: err.Error()}
	}
	defer resp.Body.Close()
	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	descriptors := make([]ModelDescriptor, 0, len(listing.Data))
	for _, m := range listing.Data {
		descriptors = append(descriptors, ModelDescriptor{Name: m.ID})
	}
	return descriptors, nil
}
