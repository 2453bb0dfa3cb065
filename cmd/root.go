package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "frugal",
		Short: "Budget-aware, local-first job runner for model backends",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "frugal.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newReceiptsCmd())
	root.AddCommand(newOracleCmd())
	root.AddCommand(newValidateCmd())
	return root
}
