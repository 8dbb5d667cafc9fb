// Package tracker binds a pose detector to a playback surface and records a time-ordered
// series of joint angle snapshots while the video plays.
//
// All engine state is owned by a single goroutine (Run). Playback events, sampling ticks,
// detection results and the detector's initialization outcome arrive as channel messages
// and are processed in arrival order. Readers see copies of the snapshot buffer.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/detector"
	"github.com/andresmejia3/jointscope/internal/metrics"
	"github.com/andresmejia3/jointscope/internal/playback"
	"github.com/andresmejia3/jointscope/internal/snapshot"
	"github.com/andresmejia3/jointscope/internal/timeutil"
	"github.com/andresmejia3/jointscope/internal/types"
	"go.uber.org/zap"
)

// DefaultInterval is the wall-clock sampling period. It does not depend on playback rate.
const DefaultInterval = 500 * time.Millisecond

var ErrAlreadyRunning = errors.New("tracker already running")

// State of the sampling scheduler.
type State int32

const (
	Idle State = iota
	Armed
	Sampling
	AwaitingDetection
	Unavailable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Sampling:
		return "sampling"
	case AwaitingDetection:
		return "awaiting-detection"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Surface is the video the engine samples from.
type Surface interface {
	Subscribe() (<-chan playback.Event, func())
	CurrentTime() float64
	GrabFrame(ctx context.Context) (types.Frame, error)
}

type Config struct {
	// Interval between sampling ticks. Defaults to DefaultInterval.
	Interval time.Duration
	// DetectTimeout abandons a detection whose result has not arrived in time. Zero disables.
	DetectTimeout time.Duration
	Clock         timeutil.Clock
	Logger        *zap.Logger
}

// Stats are cumulative counters for one engine.
type Stats struct {
	Ticks             uint64
	SkippedTicks      uint64
	Detections        uint64
	DetectionFailures uint64
	NoPose            uint64
	StaleDropped      uint64
	Snapshots         uint64
	Superseded        uint64
	SessionResets     uint64
}

type counters struct {
	ticks, skipped, detections, failures, noPose, stale, snapshots, superseded, resets atomic.Uint64
}

type result struct {
	session uint64
	poses   []detector.Pose
	err     error
	elapsed time.Duration
}

// Engine is the sampling scheduler together with the snapshot buffer it owns.
type Engine struct {
	surface Surface
	det     *detector.Handle
	cfg     Config
	log     *zap.Logger

	buf *snapshot.Buffer

	state        atomic.Int32
	session      atomic.Uint64
	watchedToEnd atomic.Bool
	running      atomic.Bool
	stats        counters

	errMu       sync.Mutex
	err         error
	failOnce    sync.Once
	unavailable chan struct{}
}

func New(surface Surface, det *detector.Handle, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		surface:     surface,
		det:         det,
		cfg:         cfg,
		log:         log,
		buf:         snapshot.NewBuffer(),
		unavailable: make(chan struct{}),
	}
}

// runLoop holds the state that only the Run goroutine touches.
type runLoop struct {
	e   *Engine
	ctx context.Context

	ready    bool
	playing  bool
	inFlight bool
	timedOut bool

	ticker  timeutil.Ticker
	tickC   <-chan time.Time
	timeout timeutil.Ticker
	expired <-chan time.Time

	results chan result
}

// Run subscribes to the surface, initializes the detector and samples until ctx is done.
// It returns an error wrapping detector.ErrUnavailable if initialization fails; the
// subscription is released before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	events, unsubscribe := e.surface.Subscribe()
	defer unsubscribe()

	initDone := make(chan error, 1)
	go func() { initDone <- e.det.Init(ctx) }()

	l := &runLoop{e: e, ctx: ctx, results: make(chan result, 1)}
	defer l.stopTicker()
	defer l.stopTimeout()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-initDone:
			initDone = nil
			if err != nil {
				e.fail(err)
				return err
			}
			l.ready = true
			e.log.Debug("pose detector ready")
			if l.playing {
				l.startTicker()
			}
			l.syncState()

		case ev := <-events:
			l.handleEvent(ev)

		case <-l.tickC:
			l.tick()

		case <-l.expired:
			l.expire()

		case r := <-l.results:
			l.resolve(r)
		}
	}
}

func (l *runLoop) handleEvent(ev playback.Event) {
	e := l.e
	switch ev.Kind {
	case playback.Play:
		if snapshot.RoundTime(ev.Time) == 0 {
			e.resetSession()
		}
		e.session.Add(1)
		l.playing = true
		if l.ready {
			l.startTicker()
		}
	case playback.Pause:
		e.session.Add(1)
		l.playing = false
		l.stopTicker()
	case playback.Ended:
		e.session.Add(1)
		l.playing = false
		l.stopTicker()
		e.watchedToEnd.Store(true)
	case playback.Seeked:
		// A result in flight belongs to the old playhead position.
		e.session.Add(1)
	case playback.TimeUpdate:
		return
	}
	e.log.Debug("playback event", zap.Stringer("kind", ev.Kind), zap.Float64("time", ev.Time), zap.Uint64("session", e.session.Load()))
	l.syncState()
}

func (e *Engine) resetSession() {
	e.buf.Clear()
	e.watchedToEnd.Store(false)
	e.stats.resets.Add(1)
	metrics.SessionResetsTotal.Inc()
	metrics.BufferedSnapshots.Set(0)
	e.log.Debug("playback restarted from zero, snapshots cleared")
}

func (l *runLoop) tick() {
	e := l.e
	e.stats.ticks.Add(1)
	if l.inFlight {
		e.stats.skipped.Add(1)
		metrics.SamplesTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		e.log.Debug("tick skipped, detection in flight")
		return
	}

	l.inFlight = true
	l.timedOut = false
	if e.cfg.DetectTimeout > 0 {
		l.timeout = e.cfg.Clock.NewTicker(e.cfg.DetectTimeout)
		l.expired = l.timeout.C()
	}
	l.syncState()

	session := e.session.Load()
	go func() {
		start := e.cfg.Clock.Now()
		r := result{session: session}
		frame, err := e.surface.GrabFrame(l.ctx)
		if err == nil {
			r.poses, err = e.det.Estimate(l.ctx, frame)
		}
		r.err = err
		r.elapsed = e.cfg.Clock.Since(start)
		// Never blocks: results has room for the single detection in flight.
		l.results <- r
	}()
}

// expire marks the detection in flight as failed. The slot stays taken until the call
// returns, so a slow detector still sees at most one request.
func (l *runLoop) expire() {
	l.stopTimeout()
	if !l.inFlight || l.timedOut {
		return
	}
	l.timedOut = true
	e := l.e
	e.stats.failures.Add(1)
	metrics.SamplesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	e.log.Warn("detection timed out", zap.Duration("timeout", e.cfg.DetectTimeout), zap.Uint64("session", e.session.Load()))
}

func (l *runLoop) resolve(r result) {
	e := l.e
	l.inFlight = false
	l.stopTimeout()
	defer l.syncState()

	metrics.DetectionDuration.Observe(r.elapsed.Seconds())

	if l.timedOut {
		e.log.Debug("late detection result dropped", zap.Duration("elapsed", r.elapsed))
		return
	}
	if r.session != e.session.Load() {
		e.stats.stale.Add(1)
		metrics.SamplesTotal.WithLabelValues(metrics.OutcomeStale).Inc()
		e.log.Debug("stale detection result dropped", zap.Uint64("result_session", r.session), zap.Uint64("session", e.session.Load()))
		return
	}
	if r.err != nil {
		e.stats.failures.Add(1)
		metrics.SamplesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		e.log.Warn("detection failed", zap.Error(r.err), zap.Uint64("session", r.session))
		return
	}
	e.stats.detections.Add(1)
	if len(r.poses) == 0 {
		e.stats.noPose.Add(1)
		metrics.SamplesTotal.WithLabelValues(metrics.OutcomeNoPose).Inc()
		return
	}

	a, err := angles.Extract(r.poses[0].Keypoints)
	if err != nil {
		e.stats.failures.Add(1)
		metrics.SamplesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		e.log.Warn("detector returned an unexpected keypoint schema", zap.Error(err))
		return
	}

	// Stamp with the playhead as it is now, not when the tick fired.
	snap := snapshot.New(e.surface.CurrentTime(), a)
	if n := e.buf.Insert(snap); n > 0 {
		e.stats.superseded.Add(uint64(n))
		metrics.SnapshotsSupersededTotal.Add(float64(n))
	}
	e.stats.snapshots.Add(1)
	metrics.SamplesTotal.WithLabelValues(metrics.OutcomeRecorded).Inc()
	metrics.BufferedSnapshots.Set(float64(e.buf.Len()))
}

func (l *runLoop) startTicker() {
	if l.ticker != nil {
		return
	}
	l.ticker = l.e.cfg.Clock.NewTicker(l.e.cfg.Interval)
	l.tickC = l.ticker.C()
}

func (l *runLoop) stopTicker() {
	if l.ticker == nil {
		return
	}
	l.ticker.Stop()
	l.ticker = nil
	l.tickC = nil
}

func (l *runLoop) stopTimeout() {
	if l.timeout == nil {
		return
	}
	l.timeout.Stop()
	l.timeout = nil
	l.expired = nil
}

func (l *runLoop) syncState() {
	var s State
	switch {
	case !l.ready:
		s = Idle
	case l.playing && l.inFlight:
		s = AwaitingDetection
	case l.playing:
		s = Sampling
	default:
		s = Armed
	}
	l.e.state.Store(int32(s))
}

func (e *Engine) fail(err error) {
	e.failOnce.Do(func() {
		e.errMu.Lock()
		e.err = err
		e.errMu.Unlock()
		e.state.Store(int32(Unavailable))
		close(e.unavailable)
		e.log.Error("pose detector failed to initialize, sampling disabled", zap.Error(err))
	})
}

// State returns the scheduler state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Session returns the current sampling session marker.
func (e *Engine) Session() uint64 { return e.session.Load() }

// Snapshots returns the snapshots with time <= upto, in time order.
func (e *Engine) Snapshots(upto float64) []snapshot.Snapshot { return e.buf.UpTo(upto) }

// All returns every buffered snapshot, including ones past the playhead after a seek back.
func (e *Engine) All() []snapshot.Snapshot { return e.buf.All() }

// Watched returns the snapshots up to the current playhead.
func (e *Engine) Watched() []snapshot.Snapshot {
	return e.buf.UpTo(snapshot.RoundTime(e.surface.CurrentTime()))
}

// JointNames returns the tracked joints in canonical order.
func (e *Engine) JointNames() []angles.JointName { return angles.AllJoints() }

// WatchedToEnd reports whether playback reached the end since the last restart from zero.
func (e *Engine) WatchedToEnd() bool { return e.watchedToEnd.Load() }

// Err returns the initialization failure, if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Unavailable is closed when the detector failed to initialize.
func (e *Engine) Unavailable() <-chan struct{} { return e.unavailable }

func (e *Engine) Stats() Stats {
	c := &e.stats
	return Stats{
		Ticks:             c.ticks.Load(),
		SkippedTicks:      c.skipped.Load(),
		Detections:        c.detections.Load(),
		DetectionFailures: c.failures.Load(),
		NoPose:            c.noPose.Load(),
		StaleDropped:      c.stale.Load(),
		Snapshots:         c.snapshots.Load(),
		Superseded:        c.superseded.Load(),
		SessionResets:     c.resets.Load(),
	}
}
