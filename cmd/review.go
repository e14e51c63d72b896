package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/output"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through a reviewer's queue",
}

var reviewStatusCmd = &cobra.Command{
	Use:   "status <token>",
	Short: "Show the current item and progress of a reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStatusRun(args[0])
	},
}

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <token> <accept|reject>",
	Short: "Record a decision for the reviewer's current item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecideRun(args[0], args[1])
	},
}

var reviewLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the decision log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewLogRun()
	},
}

func init() {
	reviewCmd.AddCommand(reviewStatusCmd)
	reviewCmd.AddCommand(reviewDecideCmd)
	reviewCmd.AddCommand(reviewLogCmd)
	rootCmd.AddCommand(reviewCmd)
}

func printQueue(q distribute.Queue) {
	fmt.Fprintf(ui.Out, "  Reviewer:  %s\n", output.Cyan(q.Reviewer.Name))
	fmt.Fprintf(ui.Out, "  Status:    %s\n", q.Status())
	fmt.Fprintf(ui.Out, "  Progress:  %s (%d/%d)\n", output.ProgressColor(q.Progress), len(q.Reviewed), len(q.Assigned))
	if !q.Done() {
		fmt.Fprintf(ui.Out, "  Current:   %s\n", q.Current)
	}
	for _, it := range q.Pending {
		ui.VerboseLog("pending %s", it)
	}
}

func reviewStatusRun(token string) error {
	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}
	q, err := d.Queue(ctx, token)
	if err != nil {
		return err
	}
	printQueue(q)
	return nil
}

func reviewDecideRun(token, raw string) error {
	decision := models.Decision(strings.ToLower(strings.TrimSpace(raw)))
	if !decision.Valid() {
		return distribute.ErrInvalidDecision
	}

	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		q, err := d.Queue(ctx, token)
		if err != nil {
			return err
		}
		if q.Done() {
			ui.Info("Nothing left to review")
			return nil
		}
		ui.DryRunMsg("Would record %s for %s", decision, q.Current)
		return nil
	}

	before, err := d.Queue(ctx, token)
	if err != nil {
		return err
	}
	q, recorded, err := d.Record(ctx, token, decision)
	if err != nil {
		return err
	}
	if !recorded {
		ui.Info("Nothing left to review")
		printQueue(q)
		return nil
	}

	getMetrics().RecordDecision(decision)
	ui.Success("Recorded %s for %s", output.DecisionColor(string(decision)), before.Current)
	printQueue(q)
	return nil
}

func reviewLogRun() error {
	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}
	log, err := d.Decisions(ctx)
	if err != nil {
		return err
	}
	if len(log) == 0 {
		ui.Info("No decisions recorded yet")
		return nil
	}

	table := ui.Table([]string{"Time", "Reviewer", "Folder", "Decision"})
	for _, dec := range log {
		table.Append([]string{
			dec.Timestamp.Local().Format("2006-01-02 15:04"),
			dec.Reviewer,
			dec.Item,
			output.DecisionColor(string(dec.Decision)),
		})
	}
	table.Render()
	return nil
}
