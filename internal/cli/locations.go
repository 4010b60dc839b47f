package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLocationsCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "locations",
		Short: "List campaign locations with their pairing for the active phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := g.catalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"phase":     catalog.Phase(),
					"total":     catalog.Total(),
					"locations": catalog.All(),
				})
			}

			fmt.Fprintf(out, "Phase: %s  (%d locations)\n\n", catalog.Phase(), catalog.Total())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tTIER\tPAIRED WITH\tKNOCKOUT")
			for _, loc := range catalog.All() {
				ko := ""
				if loc.Knockout {
					ko = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s %s\t%s\n", loc.Slug, loc.Name, loc.Tier, loc.Flag, loc.Country, ko)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}
