package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/output"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Inspect delay thresholds",
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task thresholds with config overrides applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return thresholdListRun()
	},
}

func init() {
	thresholdCmd.AddCommand(thresholdListCmd)
	rootCmd.AddCommand(thresholdCmd)
}

func thresholdListRun() error {
	overridden := make(map[string]bool)
	for _, o := range baseThresholdOverrides() {
		if o.Hours > 0 {
			overridden[o.Task] = true
		}
	}

	table := ui.Table([]string{"Task", "Hours", "Source"})
	for _, t := range baseThresholds().Snapshot() {
		source := "default"
		if overridden[t.Task] {
			source = output.Yellow("config")
		}
		table.Append([]string{t.Task, strconv.FormatFloat(t.Hours, 'f', -1, 64), source})
	}
	table.Render()

	fmt.Fprintln(ui.Out)
	ui.Info("Tasks not listed use %v hours", delay.DefaultThresholdHours)
	return nil
}
