package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/jointscope/internal/report"
	"github.com/andresmejia3/jointscope/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type reportOptions struct {
	Export     bool
	OutDir     string
	PlotFormat string
	Hide       string
}

var reportOpts reportOptions

var reportCmd = &cobra.Command{
	Use:         "report <session_id>",
	Short:       "Show the angle table and joint summary of a saved session",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			return showError("Invalid session ID", err, nil)
		}
		opts := reportOpts
		if opts.OutDir == "" {
			opts.OutDir = Cfg.OutputDir
		}
		return runReport(cmd.Context(), id, opts)
	},
}

func init() {
	reportCmd.Flags().BoolVarP(&reportOpts.Export, "export", "e", false, "Also write chart, plot, CSV and JSON exports")
	reportCmd.Flags().StringVarP(&reportOpts.OutDir, "out", "o", "", "Export directory (default: OUTPUT_DIR or ./output)")
	reportCmd.Flags().StringVarP(&reportOpts.PlotFormat, "format", "f", "png", "Static plot format: png, svg or pdf")
	reportCmd.Flags().StringVar(&reportOpts.Hide, "hide", "", "Comma-separated joints to leave out of charts")
	rootCmd.AddCommand(reportCmd)
}

func runReport(ctx context.Context, id uuid.UUID, opts reportOptions) error {
	hidden, err := report.ParseHidden(opts.Hide)
	if err != nil {
		return showError("Invalid --hide", err, nil)
	}

	sess, err := DB.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("❌ No session %s in database.\n", id)
		return &shownError{err: err}
	}
	if err != nil {
		return showError("Failed to load session", err, nil)
	}

	snaps, err := DB.GetSnapshots(ctx, id)
	if err != nil {
		return showError("Failed to load snapshots", err, nil)
	}

	name := sess.Label
	if name == "" {
		name = filepath.Base(sess.Path)
	}
	fmt.Printf("📼 %s  (%d snapshots, watched to end: %t, %s)\n\n",
		name, len(snaps), sess.WatchedToEnd, sess.CreatedAt.Local().Format("2006-01-02 15:04"))

	if err := report.WriteMaxTable(os.Stdout, snaps); err != nil {
		return err
	}
	fmt.Println()
	if err := report.WriteSummary(os.Stdout, snaps); err != nil {
		return err
	}

	if !opts.Export {
		return nil
	}
	dir := filepath.Join(opts.OutDir, id.String())
	written, err := writeExports(dir, snaps, report.ChartOptions{Title: name, Hidden: hidden}, opts.PlotFormat)
	if err != nil {
		return showError("Export failed", err, nil)
	}
	for _, p := range written {
		fmt.Fprintf(os.Stderr, "💾 Wrote %s\n", p)
	}
	return nil
}
