package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/opsdesk/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Configure an MCP client with:

  {
    "mcpServers": {
      "opsdesk": { "command": "opsdesk", "args": ["mcp"] }
    }
  }

Available tools: opsdesk_classify_delay, opsdesk_list_thresholds,
opsdesk_list_reviewers, opsdesk_register_reviewer, opsdesk_distribute,
opsdesk_review_queue, opsdesk_record_decision`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	// stdout carries the protocol.
	ui.Out = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	dist, err := getDistributor(ctx)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(baseThresholds(), dist, getBlobs(), getMetrics())
	srv.SkipAssigned = viper.GetBool("distribute.skip_assigned")
	return srv.ServeStdio(ctx)
}
