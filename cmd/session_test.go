package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/detector"
	"github.com/andresmejia3/jointscope/internal/playback"
	"github.com/andresmejia3/jointscope/internal/timeutil"
	"github.com/andresmejia3/jointscope/internal/tracker"
	"github.com/andresmejia3/jointscope/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleEvery = 500 * time.Millisecond
	waitFor     = 2 * time.Second
	poll        = time.Millisecond
)

// instantDetector finds the same pose in every frame without blocking.
type instantDetector struct{}

func (instantDetector) Initialize(ctx context.Context) error { return nil }
func (instantDetector) Close() error                         { return nil }

func (instantDetector) Estimate(ctx context.Context, frame types.Frame) ([]detector.Pose, error) {
	names := angles.KeypointNames()
	kps := make([]angles.Keypoint, len(names))
	for i, n := range names {
		kps[i] = angles.Keypoint{Name: n, X: float64(i), Y: float64(i * i), Score: 0.9}
	}
	return []detector.Pose{{Keypoints: kps, Score: 0.9}}, nil
}

func newClockedPlayer(t *testing.T) (*playback.Player, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := playback.Open(context.Background(), "clip.mp4", playback.Options{
		Duration: 10,
		Width:    640,
		Height:   480,
		// Time updates are not needed; keep them out of the way.
		TimeUpdateInterval: time.Hour,
		Clock:              clock,
		Grab: func(ctx context.Context, path string, at float64) ([]byte, error) {
			return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, clock
}

// startEngine runs an engine on p until the test ends and waits for it to be armed.
func startEngine(t *testing.T, p *playback.Player, clock *timeutil.MockClock) *tracker.Engine {
	t.Helper()
	eng := tracker.New(p, detector.NewHandle(instantDetector{}), tracker.Config{Interval: sampleEvery, Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return eng.State() == tracker.Armed }, waitFor, poll)
	return eng
}

// sampleN advances the clock one interval at a time until n snapshots are recorded.
func sampleN(t *testing.T, eng *tracker.Engine, clock *timeutil.MockClock, n uint64) {
	t.Helper()
	for i := eng.Stats().Snapshots + 1; i <= n; i++ {
		clock.Advance(sampleEvery)
		want := i
		require.Eventually(t, func() bool { return eng.Stats().Snapshots == want }, waitFor, poll, "snapshot %d not recorded", want)
	}
}

func controlEvents(t *testing.T, ch <-chan playback.Event, n int) []playback.Event {
	t.Helper()
	var out []playback.Event
	for len(out) < n {
		select {
		case ev := <-ch:
			if ev.Kind != playback.TimeUpdate {
				out = append(out, ev)
			}
		case <-time.After(waitFor):
			t.Fatalf("got %d control events, want %d: %v", len(out), n, out)
		}
	}
	return out
}

func TestRestartWhilePlayingEmitsPlayAtZero(t *testing.T) {
	p, clock := newClockedPlayer(t)
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	require.NoError(t, p.Play())
	clock.Advance(3 * time.Second)

	require.NoError(t, control{kind: ctlRestart}.apply(p))

	want := []playback.Event{
		{Kind: playback.Play, Time: 0},
		{Kind: playback.Pause, Time: 3},
		{Kind: playback.Seeked, Time: 0},
		{Kind: playback.Play, Time: 0},
	}
	assert.Equal(t, want, controlEvents(t, events, len(want)))
	assert.False(t, p.Paused())
}

func TestRestartControlStartsNewSession(t *testing.T) {
	p, clock := newClockedPlayer(t)
	eng := startEngine(t, p, clock)

	require.NoError(t, p.Play())
	require.Eventually(t, func() bool { return eng.State() == tracker.Sampling }, waitFor, poll)
	sampleN(t, eng, clock, 4)
	require.Len(t, eng.All(), 4)
	resets := eng.Stats().SessionResets

	require.NoError(t, control{kind: ctlRestart}.apply(p))

	require.Eventually(t, func() bool { return eng.Stats().SessionResets == resets+1 }, waitFor, poll,
		"restart while playing must reset the session")
	assert.Empty(t, eng.All())
	assert.False(t, eng.WatchedToEnd())
}

func TestFinishTrackReportsOnlyWatchedSnapshots(t *testing.T) {
	p, clock := newClockedPlayer(t)
	eng := startEngine(t, p, clock)

	require.NoError(t, p.Play())
	require.Eventually(t, func() bool { return eng.State() == tracker.Sampling }, waitFor, poll)
	sampleN(t, eng, clock, 4) // 0.5 .. 2.0

	require.NoError(t, p.Pause())
	require.NoError(t, p.Seek(1))
	require.Len(t, eng.All(), 4, "a paused seek does not supersede anything")

	outDir := t.TempDir()
	opts := TrackOptions{InputPath: "clip.mp4", OutDir: outDir, PlotFormat: "svg", ForceExport: true}
	var out bytes.Buffer
	require.NoError(t, finishTrack(context.Background(), &out, eng, "0123456789abcdef", opts, false))
	assert.NotEmpty(t, out.String())

	f, err := os.Open(filepath.Join(outDir, "0123456789ab", "angles.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	var times []string
	for _, r := range rows[1:] {
		times = append(times, r[0])
	}
	assert.Equal(t, []string{"0.50", "1.00"}, times, "samples past the playhead are not exported")
}

func TestFinishTrackSkipsExportsUnlessWatchedToEnd(t *testing.T) {
	p, clock := newClockedPlayer(t)
	eng := startEngine(t, p, clock)

	require.NoError(t, p.Play())
	require.Eventually(t, func() bool { return eng.State() == tracker.Sampling }, waitFor, poll)
	sampleN(t, eng, clock, 1)

	outDir := t.TempDir()
	opts := TrackOptions{InputPath: "clip.mp4", OutDir: outDir, PlotFormat: "svg"}
	require.NoError(t, finishTrack(context.Background(), &bytes.Buffer{}, eng, "0123456789abcdef", opts, false))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteReleasesResourcesOnFailure(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	missing := filepath.Join(t.TempDir(), "missing.mp4")

	err := execute(context.Background(), []string{"track", "--input", missing})
	require.Error(t, err)

	var shown *shownError
	assert.ErrorAs(t, err, &shown, "the error box was already printed")
	assert.Nil(t, Log, "logger must be released after a failed command")
	assert.Nil(t, DB)
}
