package cli

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"casework/internal/assignment/models"
	"casework/internal/assignment/service/monitor"
	id "casework/pkg/domain"
)

func AssignmentCmd() *cobra.Command {
	assignmentCmd := &cobra.Command{
		Use:     "assignment",
		Aliases: []string{"a"},
		Short:   "Work with assignments",
	}

	assignmentCmd.AddCommand(&cobra.Command{
		Use:   "mine",
		Short: "List your active assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			var resp struct {
				Items []models.Assignment `json:"items"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/assignments/mine", nil, &resp); err != nil {
				return fmt.Errorf("failed to list assignments: %w", err)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active assignments.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORK ITEM\tPRIORITY\tSTATUS\tDEADLINE\tFLAGS")
			for _, a := range resp.Items {
				flags := ""
				if a.NeedsReview {
					flags = warnColor.Sprint("review")
				}
				if a.EscalatedAt != nil {
					flags += " " + dangerColor.Sprint("escalated")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.WorkItemID, a.Priority, colorStatus(string(a.Status)), formatTime(&a.SLADeadline), flags)
			}
			return w.Flush()
		},
	})

	assignmentCmd.AddCommand(&cobra.Command{
		Use:   "sla [assignment-id]",
		Short: "Show the SLA standing of an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			assignmentID, err := id.ParseAssignmentID(args[0])
			if err != nil {
				return err
			}
			var view monitor.StatusView
			if err := client.Do(cmd.Context(), http.MethodGet, "/assignments/"+assignmentID.String()+"/sla", nil, &view); err != nil {
				return fmt.Errorf("failed to load SLA status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", colorStatus(string(view.Status)))
			fmt.Fprintf(out, "Deadline: %s\n", formatTime(&view.SLADeadline))
			fmt.Fprintf(out, "Remaining: %s\n", formatRemaining(view.RemainingSeconds))
			fmt.Fprintf(out, "Elapsed: %.0f%%\n", view.ElapsedFraction*100)
			return nil
		},
	})

	for _, action := range []struct{ use, path, short string }{
		{"start", "start", "Start working on an assignment"},
		{"complete", "complete", "Mark an assignment done"},
		{"cancel", "cancel", "Cancel an assignment (supervisor)"},
		{"clear-review", "review/clear", "Clear the needs-review flag (supervisor)"},
	} {
		assignmentCmd.AddCommand(&cobra.Command{
			Use:   action.use + " [assignment-id]",
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := clientFromEnv()
				if err != nil {
					return err
				}
				assignmentID, err := id.ParseAssignmentID(args[0])
				if err != nil {
					return err
				}
				var a models.Assignment
				if err := client.Do(cmd.Context(), http.MethodPost, "/assignments/"+assignmentID.String()+"/"+action.path, nil, &a); err != nil {
					return fmt.Errorf("%s failed: %w", action.use, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Assignment %s is now %s\n", a.ID, colorStatus(string(a.Status)))
				return nil
			},
		})
	}
	return assignmentCmd
}
