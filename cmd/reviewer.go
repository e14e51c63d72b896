package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsdesk/internal/output"
)

var (
	reviewerName  string
	reviewerEmail string
)

var reviewerCmd = &cobra.Command{
	Use:   "reviewer",
	Short: "Manage folder reviewers",
}

var reviewerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a reviewer and print their token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerAddRun()
	},
}

var reviewerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reviewers with their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun()
	},
}

func init() {
	reviewerAddCmd.Flags().StringVar(&reviewerName, "name", "", "Display name (required, unique)")
	reviewerAddCmd.Flags().StringVar(&reviewerEmail, "email", "", "Contact email")
	_ = reviewerAddCmd.MarkFlagRequired("name")

	reviewerCmd.AddCommand(reviewerAddCmd)
	reviewerCmd.AddCommand(reviewerListCmd)
	rootCmd.AddCommand(reviewerCmd)
}

func reviewerAddRun() error {
	if dryRun {
		ui.DryRunMsg("Would register reviewer %q", reviewerName)
		return nil
	}

	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}
	r, err := d.RegisterReviewer(ctx, reviewerName, reviewerEmail)
	if err != nil {
		return err
	}

	ui.Success("Registered reviewer %s", output.Cyan(r.Name))
	fmt.Fprintf(ui.Out, "  Token: %s\n", r.Token)
	return nil
}

func reviewerListRun() error {
	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}

	reviewers, err := d.Reviewers(ctx)
	if err != nil {
		return err
	}
	if len(reviewers) == 0 {
		ui.Info("No reviewers registered. Use 'opsdesk reviewer add --name <name>' to add one.")
		return nil
	}

	table := ui.Table([]string{"Name", "Email", "Token", "Assigned", "Reviewed", "Progress"})
	for _, r := range reviewers {
		q, err := d.Queue(ctx, r.Token)
		if err != nil {
			return err
		}
		table.Append([]string{
			output.Cyan(r.Name),
			r.Email,
			r.Token,
			fmt.Sprintf("%d", len(q.Assigned)),
			fmt.Sprintf("%d", len(q.Reviewed)),
			output.ProgressColor(q.Progress),
		})
	}
	table.Render()
	return nil
}
