package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/output"
	"github.com/joescharf/opsdesk/internal/sheet"
)

var (
	delayTasks         []string
	delayNationalities []string
	delayStatuses      []string
	delayTypes         []string
	delayThresholds    []string
	delayExport        string
	delayExportAll     bool
)

var delayCmd = &cobra.Command{
	Use:   "delay",
	Short: "Classify delayed tasks in a tracking sheet",
}

var delayReportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Show delayed rows of a CSV or XLSX tracking sheet",
	Long: `Load a tracking sheet, classify every row against its task threshold and
print the delayed rows with their priority.

Filters narrow the delayed view; each may be repeated. Threshold overrides
(--threshold "Repeat Medical=96") apply on top of the configured table.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return delayReportRun(args[0])
	},
}

func init() {
	f := delayReportCmd.Flags()
	f.StringSliceVar(&delayTasks, "task", nil, "Only show these tasks")
	f.StringSliceVar(&delayNationalities, "nationality", nil, "Only show these nationalities")
	f.StringSliceVar(&delayStatuses, "status", nil, "Only show these statuses")
	f.StringSliceVar(&delayTypes, "type", nil, "Only show these types")
	f.StringArrayVar(&delayThresholds, "threshold", nil, "Override a task threshold as task=hours")
	f.StringVar(&delayExport, "export", "", "Write the view to this .xlsx file")
	f.BoolVar(&delayExportAll, "all", false, "Export every row and column instead of the filtered view")

	delayCmd.AddCommand(delayReportCmd)
	rootCmd.AddCommand(delayCmd)
}

// parseThresholdFlags turns task=hours pairs into threshold changes.
func parseThresholdFlags(vals []string) (map[string]float64, error) {
	changes := make(map[string]float64, len(vals))
	for _, v := range vals {
		i := strings.LastIndex(v, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid threshold %q: want task=hours", v)
		}
		task := strings.TrimSpace(v[:i])
		hours, err := strconv.ParseFloat(strings.TrimSpace(v[i+1:]), 64)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid threshold %q: hours must be a positive number", v)
		}
		changes[task] = hours
	}
	return changes, nil
}

func loadWorkspace(path string) (*delay.Workspace, error) {
	changes, err := parseThresholdFlags(delayThresholds)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	tbl, err := sheet.Read(filepath.Base(path), f)
	if err != nil {
		return nil, err
	}

	th := baseThresholds()
	th.Update(changes)

	ws := delay.NewWorkspace(th)
	if err := ws.Load(tbl); err != nil {
		return nil, err
	}
	ui.VerboseLog("Loaded %d rows from %s", len(tbl.Rows), path)
	return ws, nil
}

func delayReportRun(path string) error {
	ws, err := loadWorkspace(path)
	if err != nil {
		return err
	}

	view := ws.View(delay.Filter{
		Tasks:         delayTasks,
		Nationalities: delayNationalities,
		Statuses:      delayStatuses,
		Types:         delayTypes,
	})

	ui.Info("%d delayed (%s critical, %s unassigned)",
		view.Summary.Total,
		output.Red(strconv.Itoa(view.Summary.Critical)),
		output.Yellow(strconv.Itoa(view.Summary.Unassigned)))

	if view.Summary.Total > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"#", "Task", "Name", "Nationality", "Status", "Delay (h)", "Threshold (h)", "Priority", "Assignee"})
		for _, r := range view.Rows {
			table.Append([]string{
				strconv.Itoa(r.Index),
				output.Cyan(r.Task),
				r.Name,
				r.Nationality,
				r.Status,
				delay.Cell(r, delay.ColDelay),
				delay.Cell(r, delay.ColThreshold),
				output.PriorityColor(string(r.Priority)),
				r.Assignee,
			})
		}
		table.Render()
	}

	if verbose && view.Summary.Total > 0 {
		fmt.Fprintln(ui.Out)
		for _, facet := range []struct {
			name   string
			counts []delay.ValueCount
		}{
			{"Task", view.Facets.Task},
			{"Nationality", view.Facets.Nationality},
			{"Status", view.Facets.Status},
			{"Type", view.Facets.Type},
		} {
			for _, c := range facet.counts {
				ui.VerboseLog("%s %q: %d (%.1f%%)", facet.name, c.Value, c.Count, c.Share)
			}
		}
	}

	if delayExport == "" {
		return nil
	}
	return exportView(ws, view, delayExport)
}

func exportView(ws *delay.Workspace, view delay.View, path string) error {
	var tbl sheet.Table
	sheetName := "Delayed Cases"
	if delayExportAll {
		tbl = delay.ExportTable(ws.Rows(), ws.Columns(), false)
		sheetName = "Tracking"
	} else {
		tbl = delay.ExportTable(view.Rows, ws.Columns(), true)
	}

	if dryRun {
		ui.DryRunMsg("Would write %d rows to %s", len(tbl.Rows), path)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := sheet.WriteXLSX(f, sheetName, tbl); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	ui.Success("Exported %d rows to %s", len(tbl.Rows), path)
	return nil
}
