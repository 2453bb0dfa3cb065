package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable policy loaded once at startup and passed explicitly
// to every component.
type Config struct {
	Backends []Backend `yaml:"backends"`
	Routing  Routing   `yaml:"routing"`
	Budgets  []Budget  `yaml:"budgets"`
	Health   Health    `yaml:"health"`
	Store    Store     `yaml:"store"`
	Pricing  string    `yaml:"pricing"`
	Secrets  Secrets   `yaml:"secrets"`
}

type Backend struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"` // local | remote_api | server_model | custom
	Disabled     bool     `yaml:"disabled"`
	Endpoint     string   `yaml:"endpoint"`
	Image        string   `yaml:"image"`   // server_model only
	Command      []string `yaml:"command"` // server_model only
	Models       []string `yaml:"models"`
	Capabilities []string `yaml:"capabilities"` // empty = general purpose
	Provider     string   `yaml:"provider"`     // pricing table key; empty = free
	APIKeyEnv    string   `yaml:"api_key_env"`
	Concurrent   bool     `yaml:"concurrent"`
	Temperature  float64  `yaml:"temperature"`
	TimeoutSec   int      `yaml:"timeout_seconds"`
	Scores       Scores   `yaml:"scores"`
}

// Scores are the configured 0-1 seeds; the health monitor refines speed and
// reliability from observed outcomes.
type Scores struct {
	Quality        float64 `yaml:"quality"`
	Speed          float64 `yaml:"speed"`
	CostEfficiency float64 `yaml:"cost_efficiency"`
	Reliability    float64 `yaml:"reliability"`
}

type Routing struct {
	KSamples           int     `yaml:"k_samples"`
	ConsensusThreshold float64 `yaml:"consensus_threshold"`
	MaxRetriesPerTier  int     `yaml:"max_retries_per_tier"`
	RetrySameTier      *bool   `yaml:"retry_same_tier"`
	MaxConcurrentJobs  int     `yaml:"max_concurrent_jobs"`
	JobTimeoutSec      int     `yaml:"job_timeout_seconds"`
	Criteria           string  `yaml:"criteria"` // cost_first | quality_first | balanced
}

type Budget struct {
	Project      string `yaml:"project"`
	Period       string `yaml:"period"` // lifetime | daily
	CeilingCents int    `yaml:"ceiling_cents"`
}

type Health struct {
	IntervalSec        int `yaml:"interval_seconds"`
	ProbeTimeoutSec    int `yaml:"probe_timeout_seconds"`
	DegradedThreshold  int `yaml:"degraded_threshold"`
	UnhealthyThreshold int `yaml:"unhealthy_threshold"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

// AllowPaidEnv is the global kill-switch for nonzero-cost backends,
// independent of any per-job budget.
const AllowPaidEnv = "FRUGAL_ALLOW_PAID"

func PaidAllowed() bool {
	return os.Getenv(AllowPaidEnv) == "1"
}

func (b *Backend) Enabled() bool { return !b.Disabled }

func (b *Backend) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

func (r *Routing) JobTimeout() time.Duration {
	return time.Duration(r.JobTimeoutSec) * time.Second
}

func (r *Routing) SameTierRetry() bool {
	return r.RetrySameTier == nil || *r.RetrySameTier
}

func (h *Health) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

func (h *Health) ProbeTimeout() time.Duration {
	return time.Duration(h.ProbeTimeoutSec) * time.Second
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Backends) == 0 {
		return fmt.Errorf("no backends defined")
	}
	seen := map[string]bool{}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.ID == "" {
			return fmt.Errorf("backend %d: id is required", i)
		}
		if seen[b.ID] {
			return fmt.Errorf("backend %q: duplicate id", b.ID)
		}
		seen[b.ID] = true
		switch b.Type {
		case "local", "remote_api":
			if b.Endpoint == "" {
				return fmt.Errorf("backend %q: endpoint is required for type %s", b.ID, b.Type)
			}
		case "server_model":
			if b.Image == "" {
				return fmt.Errorf("backend %q: image is required for type server_model", b.ID)
			}
		case "":
			return fmt.Errorf("backend %q: type is required", b.ID)
		}
		if len(b.Models) == 0 {
			return fmt.Errorf("backend %q: at least one model is required", b.ID)
		}
		if b.Type == "remote_api" && b.Provider == "" {
			return fmt.Errorf("backend %q: provider is required for remote_api backends", b.ID)
		}
		if b.TimeoutSec == 0 {
			b.TimeoutSec = 120
		}
		if b.Temperature == 0 {
			b.Temperature = 0.2
		}
		if b.Scores == (Scores{}) {
			b.Scores = Scores{Quality: 0.5, Speed: 0.5, CostEfficiency: 0.5, Reliability: 0.5}
		}
		for _, s := range []float64{b.Scores.Quality, b.Scores.Speed, b.Scores.CostEfficiency, b.Scores.Reliability} {
			if s < 0 || s > 1 {
				return fmt.Errorf("backend %q: scores must be in [0,1]", b.ID)
			}
		}
	}

	r := &cfg.Routing
	if r.KSamples == 0 {
		r.KSamples = 3
	}
	if r.KSamples < 1 {
		return fmt.Errorf("k_samples must be at least 1")
	}
	if r.ConsensusThreshold == 0 {
		r.ConsensusThreshold = 0.67
	}
	if r.ConsensusThreshold < 0 || r.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in [0,1]")
	}
	if r.MaxRetriesPerTier == 0 {
		r.MaxRetriesPerTier = 1
	}
	if r.MaxConcurrentJobs == 0 {
		r.MaxConcurrentJobs = 1
	}
	if r.JobTimeoutSec == 0 {
		r.JobTimeoutSec = 600
	}
	switch r.Criteria {
	case "":
		r.Criteria = "cost_first"
	case "cost_first", "quality_first", "balanced":
	default:
		return fmt.Errorf("unknown criteria %q", r.Criteria)
	}

	for i := range cfg.Budgets {
		bu := &cfg.Budgets[i]
		if bu.Project == "" {
			return fmt.Errorf("budget %d: project is required", i)
		}
		switch bu.Period {
		case "":
			bu.Period = "lifetime"
		case "lifetime", "daily":
		default:
			return fmt.Errorf("budget %q: unknown period %q", bu.Project, bu.Period)
		}
		if bu.CeilingCents < 0 {
			return fmt.Errorf("budget %q: ceiling_cents must not be negative", bu.Project)
		}
	}

	h := &cfg.Health
	if h.IntervalSec == 0 {
		h.IntervalSec = 15
	}
	if h.ProbeTimeoutSec == 0 {
		h.ProbeTimeoutSec = 3
	}
	if h.DegradedThreshold == 0 {
		h.DegradedThreshold = 3
	}
	if h.UnhealthyThreshold == 0 {
		h.UnhealthyThreshold = 6
	}
	if h.UnhealthyThreshold <= h.DegradedThreshold {
		return fmt.Errorf("unhealthy_threshold must be greater than degraded_threshold")
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "out/frugal.db"
	}
	return nil
}
