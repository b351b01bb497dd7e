package cli

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"casework/internal/assignment/models"
	"casework/internal/assignment/service/lifecycle"
	"casework/internal/assignment/service/monitor"
	id "casework/pkg/domain"
)

func QueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue work items",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a work item for dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			workItem, _ := cmd.Flags().GetString("work-item")
			itemType, _ := cmd.Flags().GetString("type")
			priority, _ := cmd.Flags().GetString("priority")
			unit, _ := cmd.Flags().GetString("unit")
			skills, _ := cmd.Flags().GetStringSlice("skills")

			workItemID, err := id.ParseWorkItemID(workItem)
			if err != nil {
				return err
			}
			req := lifecycle.EnqueueRequest{
				WorkItemID:     workItemID,
				WorkItemType:   models.WorkItemType(itemType),
				Priority:       models.Priority(priority),
				RequiredSkills: skills,
			}
			if unit != "" {
				unitID, err := id.ParseUnitID(unit)
				if err != nil {
					return err
				}
				req.UnitID = &unitID
			}

			var entry models.QueueEntry
			if err := client.Do(cmd.Context(), http.MethodPost, "/queue", req, &entry); err != nil {
				return fmt.Errorf("failed to queue work item: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s, %s)\n", entry.WorkItemID, entry.WorkItemType, entry.Priority)
			return nil
		},
	}
	addCmd.Flags().String("work-item", "", "work item id")
	addCmd.Flags().String("type", string(models.WorkItemTicket), "dossier, ticket, position or task")
	addCmd.Flags().String("priority", string(models.PriorityNormal), "urgent, high, normal or low")
	addCmd.Flags().String("unit", "", "owning unit id")
	addCmd.Flags().StringSlice("skills", nil, "required skills")
	_ = addCmd.MarkFlagRequired("work-item")

	strandedCmd := &cobra.Command{
		Use:   "stranded",
		Short: "List queued work with no unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			var resp struct {
				Items []models.QueueEntry `json:"items"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/queue/stranded", nil, &resp); err != nil {
				return fmt.Errorf("failed to list stranded work: %w", err)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stranded work items.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WORK ITEM\tTYPE\tPRIORITY\tQUEUED")
			for _, e := range resp.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.WorkItemID, e.WorkItemType, e.Priority, formatTime(&e.CreatedAt))
			}
			return w.Flush()
		},
	}

	queueCmd.AddCommand(addCmd, strandedCmd)
	return queueCmd
}

func DispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch [unit-id]",
		Short: "Run one dispatch cycle for a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			unitID, err := id.ParseUnitID(args[0])
			if err != nil {
				return err
			}
			var resp struct {
				Skipped       bool            `json:"skipped"`
				AssignedCount int             `json:"assigned_count"`
				Unmatchable   []id.WorkItemID `json:"unmatchable"`
				BlockedAt     models.Priority `json:"blocked_at"`
				Truncated     bool            `json:"truncated"`
				Remaining     int             `json:"remaining"`
			}
			if err := client.Do(cmd.Context(), http.MethodPost, "/units/"+unitID.String()+"/dispatch", nil, &resp); err != nil {
				return fmt.Errorf("dispatch failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if resp.Skipped {
				fmt.Fprintln(out, warnColor.Sprint("Skipped: another dispatch run holds this unit."))
				return nil
			}
			fmt.Fprintf(out, "Assigned: %s\n", okColor.Sprint(resp.AssignedCount))
			fmt.Fprintf(out, "Remaining in queue: %d\n", resp.Remaining)
			if resp.BlockedAt != "" {
				fmt.Fprintf(out, "Capacity exhausted at %s priority\n", warnColor.Sprint(resp.BlockedAt))
			}
			if resp.Truncated {
				fmt.Fprintln(out, warnColor.Sprint("Run stopped at the per-run limit"))
			}
			for _, w := range resp.Unmatchable {
				fmt.Fprintf(out, "%s %s: no staff member has the required skills\n", dangerColor.Sprint("unmatchable"), w)
			}
			return nil
		},
	}
}

func SweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one SLA sweep (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromEnv()
			if err != nil {
				return err
			}
			var result monitor.SweepResult
			if err := client.Do(cmd.Context(), http.MethodPost, "/sla/sweep", nil, &result); err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d: %s ok, %s warning, %s breached\n",
				result.Scanned,
				okColor.Sprint(result.OK),
				warnColor.Sprint(result.Warning),
				dangerColor.Sprint(result.Breached),
			)
			fmt.Fprintf(out, "Warnings sent: %d, escalations raised: %d\n", result.WarningsSent, result.Escalated)
			if result.Unrouted > 0 {
				fmt.Fprintf(out, "%s %d breached item(s) have no escalation chain\n", dangerColor.Sprint("unrouted"), result.Unrouted)
			}
			if result.Failed > 0 {
				fmt.Fprintf(out, "%s %d item(s) failed; see server logs\n", dangerColor.Sprint("failed"), result.Failed)
			}
			return nil
		},
	}
}
