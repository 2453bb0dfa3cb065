package pricing

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPricing holds prices in cents per 1K tokens.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// CostCents calculates total cost for a request, rounded up to whole cents.
// Unknown providers and models cost 0 (free/local backends are never listed).
func (t *Table) CostCents(provider, model string, inputTokens, outputTokens int) int {
	if t == nil || t.Providers == nil {
		return 0
	}
	models, ok := t.Providers[provider]
	if !ok {
		return 0
	}
	p, ok := models[model]
	if !ok {
		return 0
	}
	cents := (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
	if cents <= 0 {
		return 0
	}
	return int(math.Ceil(cents))
}
