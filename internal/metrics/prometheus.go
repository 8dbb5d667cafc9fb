package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sample outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeNoPose   = "no_pose"
	OutcomeFailed   = "failed"
	OutcomeStale    = "stale"
	OutcomeSkipped  = "skipped"
)

var (
	SamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jointscope_samples_total",
		Help: "Sampling ticks by outcome",
	}, []string{"outcome"})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jointscope_detection_duration_seconds",
		Help:    "Duration of frame grab plus pose estimation",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	SnapshotsSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jointscope_snapshots_superseded_total",
		Help: "Snapshots discarded by a later insert at an earlier or equal time",
	})

	SessionResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jointscope_session_resets_total",
		Help: "Buffer clears caused by playback restarting from zero",
	})

	BufferedSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jointscope_buffered_snapshots",
		Help: "Snapshots currently held by the tracker",
	})
)
