package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/jointscope/internal/detector"
	"github.com/andresmejia3/jointscope/internal/metrics"
	"github.com/andresmejia3/jointscope/internal/playback"
	"github.com/andresmejia3/jointscope/internal/report"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"github.com/andresmejia3/jointscope/internal/store"
	"github.com/andresmejia3/jointscope/internal/tracker"
	"github.com/andresmejia3/jointscope/internal/utils"
	"github.com/andresmejia3/jointscope/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// TrackOptions holds the flags of the track command.
type TrackOptions struct {
	InputPath   string
	Autoplay    bool
	Interactive bool
	ForceExport bool
	Hide        string
	Save        bool
	Label       string
	OutDir      string
	PlotFormat  string
	Interval    time.Duration
	Timeout     time.Duration
}

var trackOpts TrackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Play a video and sample joint angles while it plays",
	Long: "Plays the video on a virtual timeline and samples the pose detector at a fixed interval.\n" +
		"Control lines on stdin: " + controlHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		opts := trackOpts
		if !cmd.Flags().Changed("interval") {
			opts.Interval = Cfg.SampleInterval
		}
		if !cmd.Flags().Changed("timeout") {
			opts.Timeout = Cfg.DetectTimeout
		}
		if opts.OutDir == "" {
			opts.OutDir = Cfg.OutputDir
		}
		if err := validateTrackFlags(&opts); err != nil {
			return showError("Invalid flags", err, nil)
		}
		return runTrack(cmd.Context(), opts)
	},
}

func init() {
	trackCmd.Flags().StringVarP(&trackOpts.InputPath, "input", "i", "", "Path to video")
	trackCmd.Flags().BoolVar(&trackOpts.Autoplay, "autoplay", true, "Start playback immediately")
	trackCmd.Flags().BoolVar(&trackOpts.Interactive, "interactive", false, "Keep running after the video ends until 'quit'")
	trackCmd.Flags().BoolVar(&trackOpts.ForceExport, "force-export", false, "Write exports even if the video was not watched to the end")
	trackCmd.Flags().StringVar(&trackOpts.Hide, "hide", "", "Comma-separated joints to leave out of charts (e.g. neck,back)")
	trackCmd.Flags().BoolVar(&trackOpts.Save, "save", false, "Save the session to the database")
	trackCmd.Flags().StringVarP(&trackOpts.Label, "label", "l", "", "Label for the saved session (requires --save)")
	trackCmd.Flags().StringVarP(&trackOpts.OutDir, "out", "o", "", "Export directory (default: OUTPUT_DIR or ./output)")
	trackCmd.Flags().StringVarP(&trackOpts.PlotFormat, "format", "f", "png", "Static plot format: png, svg or pdf")
	trackCmd.Flags().DurationVar(&trackOpts.Interval, "interval", tracker.DefaultInterval, "Sampling interval (default: SAMPLE_INTERVAL)")
	trackCmd.Flags().DurationVarP(&trackOpts.Timeout, "timeout", "t", 5*time.Second, "Detection timeout, 0 disables (default: DETECT_TIMEOUT)")

	trackCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(trackCmd)
}

// validateTrackFlags checks everything that can be checked before the detector starts.
func validateTrackFlags(opts *TrackOptions) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		return fmt.Errorf("input %q: %w", opts.InputPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %q is a directory", opts.InputPath)
	}
	switch opts.PlotFormat {
	case "png", "svg", "pdf":
	default:
		return fmt.Errorf("unknown plot format %q (want png, svg or pdf)", opts.PlotFormat)
	}
	if _, err := report.ParseHidden(opts.Hide); err != nil {
		return err
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", opts.Interval)
	}
	if opts.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", opts.Timeout)
	}
	if opts.Label != "" && !opts.Save {
		return errors.New("--label requires --save")
	}
	return nil
}

// runTrack wires the player, the detector and the engine, drives playback until the
// video ends (or the user quits) and then reports and exports the session.
func runTrack(ctx context.Context, opts TrackOptions) error {
	videoID, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		return showError("Failed to generate video ID", err, nil)
	}

	player, err := playback.Open(ctx, opts.InputPath, playback.Options{
		TimeUpdateInterval: Cfg.TimeUpdateInterval,
		Logger:             Log.Named("player"),
	})
	if err != nil {
		return showError("Failed to open video", err, nil)
	}
	defer player.Close()
	fmt.Fprintf(os.Stderr, "📼 Video %s (%s)\n", videoID[:12], utils.FmtTime(player.Duration()))

	argv, err := Cfg.WorkerCommand()
	if err != nil {
		return err
	}
	w := worker.NewPythonPoseWorker(0, worker.Config{
		Command:     argv,
		InitTimeout: Cfg.WorkerInitTimeout,
		ReadTimeout: 60 * time.Second,
	})
	handle := detector.NewHandle(w)
	defer handle.Close()

	engine := tracker.New(player, handle, tracker.Config{
		Interval:      opts.Interval,
		DetectTimeout: opts.Timeout,
		Logger:        Log.Named("tracker"),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if Cfg.MetricsPort > 0 {
		metrics.StartMetricsServer(runCtx, Cfg.MetricsPort, Log)
	}

	events, unsubscribe := player.Subscribe()
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(runCtx) }()

	fmt.Fprintln(os.Stderr, "🚀 Starting pose detector...")
	select {
	case <-handle.Ready():
	case err := <-runErr:
		return showError("Pose detector unavailable", err, w.Cmd)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := handle.Err(); err != nil {
		<-runErr
		return showError("Pose detector unavailable", err, w.Cmd)
	}

	if opts.Autoplay {
		if err := player.Play(); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(os.Stderr, "⏸️  Paused. Type 'play' to start.")
	}

	bar := progressbar.NewOptions64(int64(math.Ceil(player.Duration()*1000)),
		progressbar.OptionSetDescription("🏃 Tracking"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
	)

	controls := readControls(runCtx, os.Stdin, func(err error) {
		fmt.Fprintf(os.Stderr, "\n⚠️  %v\n", err)
	})

	interrupted := false
loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop

		case err := <-runErr:
			return showError("Tracking stopped", err, w.Cmd)

		case ev := <-events:
			bar.Set64(int64(ev.Time * 1000))
			if ev.Kind == playback.Ended {
				if !opts.Interactive {
					break loop
				}
				fmt.Fprintln(os.Stderr, "\n🎞️  End of video. Type 'quit' to finish or 'restart' to go again.")
			}

		case c, ok := <-controls:
			if !ok {
				controls = nil
				continue
			}
			switch c.kind {
			case ctlQuit:
				break loop
			case ctlStatus:
				printStatus(player, engine)
			default:
				if err := c.apply(player); err != nil {
					fmt.Fprintf(os.Stderr, "\n⚠️  %v\n", err)
				}
			}
		}
	}

	cancel()
	if runErr != nil {
		<-runErr
	}
	bar.Finish()

	return finishTrack(ctx, os.Stdout, engine, videoID, opts, interrupted)
}

// trackResult is the engine's read side once playback is over.
type trackResult interface {
	Watched() []snapshot.Snapshot
	WatchedToEnd() bool
	Stats() tracker.Stats
}

// finishTrack reports, exports and saves what was watched: the snapshots up to the
// playhead. Samples past the playhead after a seek back are left out.
func finishTrack(ctx context.Context, out io.Writer, res trackResult, videoID string, opts TrackOptions, interrupted bool) error {
	stats := res.Stats()
	snaps := res.Watched()
	fmt.Fprintf(os.Stderr, "\n🏁 Tracking complete. %d snapshots from %d ticks (%d skipped, %d failed, %d without a pose).\n",
		len(snaps), stats.Ticks, stats.SkippedTicks, stats.DetectionFailures, stats.NoPose)
	if interrupted {
		fmt.Fprintln(os.Stderr, "🛑 Interrupted.")
	}

	fmt.Fprintln(out)
	if err := report.WriteMaxTable(out, snaps); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := report.WriteSummary(out, snaps); err != nil {
		return err
	}

	// The rest must finish even after Ctrl+C.
	finishCtx := context.WithoutCancel(ctx)

	if res.WatchedToEnd() || opts.ForceExport {
		hidden, _ := report.ParseHidden(opts.Hide)
		dir := filepath.Join(opts.OutDir, videoID[:min(12, len(videoID))])
		o := report.ChartOptions{Title: filepath.Base(opts.InputPath), Hidden: hidden}
		written, err := writeExports(dir, snaps, o, opts.PlotFormat)
		if err != nil {
			return showError("Export failed", err, nil)
		}
		for _, p := range written {
			fmt.Fprintf(os.Stderr, "💾 Wrote %s\n", p)
		}
	} else {
		fmt.Fprintln(os.Stderr, "⏭️  Skipping exports: the video was not watched to the end (use --force-export).")
	}

	if opts.Save {
		if err := connectDB(finishCtx); err != nil {
			return showError("Database unavailable", err, nil)
		}
		id, err := DB.SaveSession(finishCtx, store.Session{
			VideoID:      videoID,
			Path:         opts.InputPath,
			Label:        opts.Label,
			WatchedToEnd: res.WatchedToEnd(),
		}, snaps)
		if err != nil {
			return showError("Failed to save session", err, nil)
		}
		fmt.Fprintf(os.Stderr, "🗄️  Saved session %s\n", id)
	}
	return nil
}

func printStatus(player *playback.Player, engine *tracker.Engine) {
	fmt.Fprintf(os.Stderr, "\nℹ️  %s / %s  state=%s session=%d snapshots=%d watched-to-end=%t\n",
		utils.FmtTime(player.CurrentTime()), utils.FmtTime(player.Duration()),
		engine.State(), engine.Session(), len(engine.Watched()), engine.WatchedToEnd())
}

// writeExports writes the chart, plot, CSV and JSON renditions of snaps into dir
// and returns the paths written.
func writeExports(dir string, snaps []snapshot.Snapshot, o report.ChartOptions, plotFormat string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var written []string
	writeFile := func(name string, render func(f *os.File) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := render(f); err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := writeFile("angles.html", func(f *os.File) error { return report.RenderChartHTML(f, snaps, o) }); err != nil {
		return written, err
	}
	if err := writeFile("angles.csv", func(f *os.File) error { return report.WriteCSV(f, snaps) }); err != nil {
		return written, err
	}
	if err := writeFile("angles.json", func(f *os.File) error { return report.WriteJSON(f, snaps) }); err != nil {
		return written, err
	}
	if err := writeFile("angles."+plotFormat, func(f *os.File) error { return report.WritePlot(f, plotFormat, snaps, o) }); err != nil {
		return written, err
	}
	return written, nil
}
