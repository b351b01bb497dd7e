package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"casework/internal/assignment/service/availability"
	"casework/internal/assignment/service/override"
	id "casework/pkg/domain"
)

func AvailabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability [available|unavailable|on_leave]",
		Short: "Change your availability, or a team member's with --staff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			staff, _ := cmd.Flags().GetString("staff")
			until, _ := cmd.Flags().GetString("until")
			reason, _ := cmd.Flags().GetString("reason")

			req := availability.UpdateRequest{Status: args[0], Reason: reason}
			if staff != "" {
				staffID, err := id.ParseUserID(staff)
				if err != nil {
					return err
				}
				req.StaffID = &staffID
			}
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("--until must be RFC3339: %w", err)
				}
				req.UnavailableUntil = &t
			}

			var resp availability.UpdateResponse
			if err := client.Do(cmd.Context(), http.MethodPost, "/availability", req, &resp); err != nil {
				return fmt.Errorf("availability update failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is now %s\n", resp.StaffID, colorStatus(string(resp.Status)))
			for _, item := range resp.ReassignedItems {
				fmt.Fprintf(out, "  %s %s (%s) -> %s\n", okColor.Sprint("reassigned"), item.WorkItemID, item.Priority, item.AssigneeID)
			}
			for _, assignmentID := range resp.FlaggedForReview {
				fmt.Fprintf(out, "  %s %s\n", warnColor.Sprint("flagged"), assignmentID)
			}
			if resp.ReassignmentWarning != "" {
				fmt.Fprintln(out, dangerColor.Sprint(resp.ReassignmentWarning))
			}
			return nil
		},
	}
	cmd.Flags().String("staff", "", "staff member to update (supervisors)")
	cmd.Flags().String("until", "", "expected return, RFC3339")
	cmd.Flags().String("reason", "", "free-text reason")
	return cmd
}

func OverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Assign a work item to a chosen staff member, bypassing capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			workItem, _ := cmd.Flags().GetString("work-item")
			assignee, _ := cmd.Flags().GetString("assignee")
			reason, _ := cmd.Flags().GetString("reason")

			workItemID, err := id.ParseWorkItemID(workItem)
			if err != nil {
				return err
			}
			assigneeID, err := id.ParseUserID(assignee)
			if err != nil {
				return err
			}
			var resp struct {
				ID               id.AssignmentID `json:"id"`
				CapacityBypassed bool            `json:"capacity_bypassed"`
			}
			req := override.Request{WorkItemID: workItemID, AssigneeID: assigneeID, Reason: reason}
			if err := client.Do(cmd.Context(), http.MethodPost, "/overrides", req, &resp); err != nil {
				return fmt.Errorf("override failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created assignment %s\n", resp.ID)
			if resp.CapacityBypassed {
				fmt.Fprintln(cmd.OutOrStdout(), warnColor.Sprint("Capacity limits were bypassed"))
			}
			return nil
		},
	}
	cmd.Flags().String("work-item", "", "work item id")
	cmd.Flags().String("assignee", "", "staff member to assign")
	cmd.Flags().String("reason", "", "justification, at least 10 characters")
	_ = cmd.MarkFlagRequired("work-item")
	_ = cmd.MarkFlagRequired("assignee")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
