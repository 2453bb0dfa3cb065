package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/frugal/internal/config"
	"github.com/signalnine/frugal/internal/ledger"
	"github.com/signalnine/frugal/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagReceiptsProject string
	flagReceiptsLimit   int
)

func newReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Show recent receipts and remaining budget for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			receipts, err := st.Receipts(cmd.Context(), flagReceiptsProject, flagReceiptsLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tJOB\tSTATUS\tREASON\tTIERS\tMODEL\tCOST\tAGREEMENT")
			for _, r := range receipts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d¢\t%.2f\n",
					r.CreatedAt.Format("2006-01-02 15:04"),
					r.JobID, r.Status, r.Reason,
					strings.Join(r.TierPath, "->"), r.Model,
					r.CostCents, r.Agreement)
			}
			w.Flush()

			led := ledger.New(st, cfg.Budgets)
			remaining, err := led.Remaining(cmd.Context(), flagReceiptsProject)
			if err != nil {
				return err
			}
			fmt.Printf("\nremaining budget: %d¢\n", remaining)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagReceiptsProject, "project", "default", "project to list")
	cmd.Flags().IntVar(&flagReceiptsLimit, "limit", 20, "max receipts to show")
	return cmd
}
