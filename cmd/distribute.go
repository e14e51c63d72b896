package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/models"
	"github.com/joescharf/opsdesk/internal/output"
)

var (
	distributeReviewers []string
	distributeItems     []string
	distributeFolder    string
)

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Split work items across reviewers",
	Long: `Split work items across reviewers in order. Each reviewer gets a
contiguous block; earlier reviewers get one extra item when the split is
uneven.

Items come from --items, or from the entries of --folder under blob_dir.
Reviewers are given by token or by name, in distribution order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return distributeRun()
	},
}

func init() {
	distributeCmd.Flags().StringSliceVarP(&distributeReviewers, "reviewer", "r", nil, "Reviewer token or name (repeatable, in order)")
	distributeCmd.Flags().StringSliceVar(&distributeItems, "items", nil, "Item ids to distribute")
	distributeCmd.Flags().StringVar(&distributeFolder, "folder", "", "Distribute the entries of this folder")
	distributeCmd.Flags().Bool("skip-assigned", false, "Leave out items that were already distributed")
	_ = viper.BindPFlag("distribute.skip_assigned", distributeCmd.Flags().Lookup("skip-assigned"))
	_ = distributeCmd.MarkFlagRequired("reviewer")

	rootCmd.AddCommand(distributeCmd)
}

// resolveTokens maps each reviewer argument (token or display name) to a token.
// Names match ignoring case.
func resolveTokens(reviewers []models.Reviewer, args []string) ([]string, []models.Reviewer, error) {
	byToken := make(map[string]models.Reviewer, len(reviewers))
	byName := make(map[string]models.Reviewer, len(reviewers))
	for _, r := range reviewers {
		byToken[r.Token] = r
		byName[strings.ToLower(r.Name)] = r
	}

	tokens := make([]string, 0, len(args))
	selected := make([]models.Reviewer, 0, len(args))
	for _, a := range args {
		r, ok := byToken[a]
		if !ok {
			r, ok = byName[strings.ToLower(strings.TrimSpace(a))]
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", distribute.ErrUnknownReviewer, a)
		}
		tokens = append(tokens, r.Token)
		selected = append(selected, r)
	}
	return tokens, selected, nil
}

func distributeRun() error {
	ctx := context.Background()
	d, err := getDistributor(ctx)
	if err != nil {
		return err
	}

	items := distributeItems
	if len(items) == 0 && distributeFolder != "" {
		if items, err = getBlobs().List(ctx, distributeFolder); err != nil {
			return err
		}
		ui.VerboseLog("Found %d items under %s", len(items), distributeFolder)
	}

	reviewers, err := d.Reviewers(ctx)
	if err != nil {
		return err
	}
	tokens, _, err := resolveTokens(reviewers, distributeReviewers)
	if err != nil {
		return err
	}

	opts := distribute.Options{SkipAssigned: viper.GetBool("distribute.skip_assigned")}

	if dryRun {
		run, err := d.Plan(ctx, items, tokens, opts)
		if err != nil {
			return err
		}
		for _, c := range run.Counts {
			ui.DryRunMsg("Would assign %d item(s) to %s", c.Count, c.Name)
		}
		for _, a := range run.Assignments {
			ui.VerboseLog("%s -> %s", a.Item, a.Token)
		}
		if len(run.Skipped) > 0 {
			ui.DryRunMsg("Would skip %d already-assigned item(s)", len(run.Skipped))
		}
		return nil
	}

	run, err := d.Distribute(ctx, items, tokens, opts)
	getMetrics().RecordDistribution(run, err)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Reviewer", "Items"})
	for _, c := range run.Counts {
		table.Append([]string{output.Cyan(c.Name), fmt.Sprintf("%d", c.Count)})
	}
	table.Render()

	if len(run.Skipped) > 0 {
		ui.Info("Skipped %d already-assigned item(s)", len(run.Skipped))
	}
	ui.Success("Distributed %d item(s) to %d reviewer(s)", len(run.Assignments), len(run.Counts))
	return nil
}
