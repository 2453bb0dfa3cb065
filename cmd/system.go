package cmd

import (
	"fmt"
	"log"

	"github.com/signalnine/frugal/internal/backend"
	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/ledger"
	"github.com/signalnine/frugal/internal/oracle"
	"github.com/signalnine/frugal/internal/pricing"
	"github.com/signalnine/frugal/internal/runner"
	"github.com/signalnine/frugal/internal/store"
)

// system wires config, store, registry, monitor, selector, ledger, and runner
// together. Every command that touches backends goes through here.
type system struct {
	cfg    *config.Config
	store  *store.Store
	reg    *oracle.Registry
	mon    *oracle.Monitor
	sel    *oracle.Selector
	runner *runner.Runner
}

func buildSystem(cfgPath string) (*system, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	var secrets map[string]string
	if cfg.Secrets.EnvFile != "" {
		secrets, err = backend.LoadSecrets(cfg.Secrets.EnvFile)
		if err != nil {
			log.Printf("warning: could not load secrets: %v", err)
		}
	}

	var table *pricing.Table
	if cfg.Pricing != "" {
		table, err = pricing.Load(cfg.Pricing)
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	reg := oracle.NewRegistry()
	deps := backend.Deps{Pricing: table, Secrets: secrets}
	for _, b := range cfg.Backends {
		if b.Disabled {
			log.Printf("backend %s is disabled, skipping", b.ID)
			continue
		}
		ad, err := backend.New(b, deps)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("building backend %s: %w", b.ID, err)
		}
		reg.Add(ad, b)
	}

	mon := oracle.NewMonitor(reg, cfg.Health)
	sel := oracle.NewSelector(reg, config.PaidAllowed(), cfg.Routing.KSamples)
	led := ledger.New(st, cfg.Budgets)

	return &system{
		cfg:    cfg,
		store:  st,
		reg:    reg,
		mon:    mon,
		sel:    sel,
		runner: runner.New(cfg, reg, sel, led, st),
	}, nil
}

func (s *system) Close() {
	s.store.Close()
}
