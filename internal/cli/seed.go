package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"casework/internal/assignment/seed"
)

func SeedCmd() *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Inspect seed rosters",
	}
	seedCmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a roster and print the ids it resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := seed.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printHeading(out, "Units")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tWIP LIMIT")
			for _, u := range roster.Units {
				limit := fmt.Sprint(u.WIPLimit)
				if u.WIPLimit == 0 {
					limit = subtleColor.Sprint("none")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Name, limit)
			}
			w.Flush()

			keys := make(map[string]string, len(roster.StaffKeys))
			for key, userID := range roster.StaffKeys {
				keys[userID.String()] = key
			}
			fmt.Fprintln(out)
			printHeading(out, "Staff")
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tID\tROLE\tWIP LIMIT\tSKILLS\tESCALATES TO")
			for _, s := range roster.Staff {
				chain := subtleColor.Sprint("-")
				if s.EscalationChainID != nil {
					chain = keys[s.EscalationChainID.String()]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
					keys[s.UserID.String()], s.UserID, s.Role, s.WIPLimit, s.Skills, chain)
			}
			w.Flush()
			fmt.Fprintln(out, okColor.Sprintf("\n%d unit(s), %d staff OK", len(roster.Units), len(roster.Staff)))
			return nil
		},
	})
	return seedCmd
}
