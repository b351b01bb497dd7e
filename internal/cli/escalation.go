package cli

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
)

func EscalationCmd() *cobra.Command {
	escalationCmd := &cobra.Command{
		Use:   "escalation",
		Short: "Raise and handle escalations",
	}

	escalationCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open escalations addressed to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			var resp struct {
				Items []models.EscalationEvent `json:"items"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/escalations", nil, &resp); err != nil {
				return fmt.Errorf("failed to list escalations: %w", err)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No open escalations.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tASSIGNMENT\tREASON\tFROM\tCREATED\tACKED")
			for _, e := range resp.Items {
				reason := string(e.Reason)
				if e.Reason == models.EscalationSLABreach {
					reason = dangerColor.Sprint(reason)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.AssignmentID, reason, e.FromID, formatTime(&e.CreatedAt), formatTime(e.AcknowledgedAt))
			}
			return w.Flush()
		},
	})

	raiseCmd := &cobra.Command{
		Use:   "raise [assignment-id]",
		Short: "Escalate one of your assignments to your supervisor",
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
			reason, _ := cmd.Flags().GetString("reason")
			body := map[string]any{"assignment_id": assignmentID, "reason": reason}
			var ev models.EscalationEvent
			if err := client.Do(cmd.Context(), http.MethodPost, "/escalations", body, &ev); err != nil {
				return fmt.Errorf("escalation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Escalated to %s (escalation %s)\n", ev.ToID, ev.ID)
			return nil
		},
	}
	raiseCmd.Flags().String("reason", "", "why the work needs attention")
	_ = raiseCmd.MarkFlagRequired("reason")

	ackCmd := &cobra.Command{
		Use:   "ack [escalation-id]",
		Short: "Acknowledge an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			escalationID, err := id.ParseEscalationID(args[0])
			if err != nil {
				return err
			}
			if err := client.Do(cmd.Context(), http.MethodPost, "/escalations/"+escalationID.String()+"/acknowledge", nil, nil); err != nil {
				return fmt.Errorf("acknowledge failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprint("Acknowledged"))
			return nil
		},
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve [escalation-id]",
		Short: "Resolve an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			escalationID, err := id.ParseEscalationID(args[0])
			if err != nil {
				return err
			}
			resolution, _ := cmd.Flags().GetString("resolution")
			body := map[string]string{"resolution": resolution}
			if err := client.Do(cmd.Context(), http.MethodPost, "/escalations/"+escalationID.String()+"/resolve", body, nil); err != nil {
				return fmt.Errorf("resolve failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprint("Resolved"))
			return nil
		},
	}
	resolveCmd.Flags().String("resolution", "", "outcome of the escalation")
	_ = resolveCmd.MarkFlagRequired("resolution")

	escalationCmd.AddCommand(raiseCmd, ackCmd, resolveCmd)
	return escalationCmd
}
