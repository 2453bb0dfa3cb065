package cmd

import (
	"fmt"
	"os"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/schema"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-file...]",
		Short: "Check the config file and optional JSON schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: %d backends, %d budgets, k=%d threshold=%.2f\n",
				len(cfg.Backends), len(cfg.Budgets), cfg.Routing.KSamples, cfg.Routing.ConsensusThreshold)

			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				if _, err := schema.Compile(raw); err != nil {
					return fmt.Errorf("schema %s: %w", path, err)
				}
				fmt.Printf("schema ok: %s\n", path)
			}
			return nil
		},
	}
}
