package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	flagOracleShow bool
	flagOracleFree bool
)

func newOracleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Probe backends and show their health and scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := buildSystem(cfgFile)
			if err != nil {
				return err
			}
			defer sys.Close()

			if !flagOracleShow {
				return nil
			}
			sys.mon.CheckNow(cmd.Context())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tTYPE\tHEALTH\tCOST\tQUALITY\tRELIABILITY\tMODELS")
			for _, s := range sys.reg.Snapshot() {
				if flagOracleFree && s.Paid {
					continue
				}
				cost := "free"
				if s.Paid {
					cost = "paid"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
					s.ID, s.Type, s.Health, cost, s.Quality, s.Reliability,
					strings.Join(s.Models, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&flagOracleShow, "show", true, "list backends with health and scores")
	cmd.Flags().BoolVar(&flagOracleFree, "free", false, "only show zero-cost backends")
	return cmd
}
