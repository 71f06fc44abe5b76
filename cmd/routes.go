package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the services and endpoints unfurl recognizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer appInstance.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range appInstance.Table().Domains() {
				auth := ""
				if d.AuthValue != "" {
					auth = " (authenticated)"
				}
				fmt.Fprintf(tw, "%s%s\n", d.Name, auth)
				for _, ep := range d.Endpoints {
					fmt.Fprintf(tw, "  %s\t%s\t%s\n", ep.Name, ep.Route, ep.URL)
				}
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write routes: %w", err)
			}
			return nil
		},
	}
}
