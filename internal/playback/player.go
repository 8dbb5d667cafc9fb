// Package playback provides a virtual video surface: a media clock driven by play, pause,
// seek and rate controls, which emits playback events and grabs the frame under the
// playhead on demand.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/andresmejia3/jointscope/internal/timeutil"
	"github.com/andresmejia3/jointscope/internal/types"
	"github.com/andresmejia3/jointscope/internal/utils"
	"go.uber.org/zap"
)

// ErrClosed is returned by controls on a closed player.
var ErrClosed = errors.New("player closed")

// EventKind identifies a playback signal.
type EventKind int

const (
	Play EventKind = iota + 1
	Pause
	TimeUpdate
	Seeked
	Ended
)

func (k EventKind) String() string {
	switch k {
	case Play:
		return "play"
	case Pause:
		return "pause"
	case TimeUpdate:
		return "timeupdate"
	case Seeked:
		return "seeked"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one playback signal with the media time at which it happened.
type Event struct {
	Kind EventKind
	Time float64
}

// FrameGrabber decodes the frame at `at` seconds of the file at path.
type FrameGrabber func(ctx context.Context, path string, at float64) ([]byte, error)

// Options configures a Player. Zero values fall back to defaults; a zero Duration
// (or Width/Height) is probed with ffprobe.
type Options struct {
	Duration           float64
	Width, Height      int
	TimeUpdateInterval time.Duration
	Clock              timeutil.Clock
	Grab               FrameGrabber
	Logger             *zap.Logger
}

const (
	DefaultTimeUpdateInterval = 250 * time.Millisecond
	subscriberBuffer          = 64
)

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Player is a video surface backed by a file on disk.
type Player struct {
	path string
	opts Options
	log  *zap.Logger

	// emitMu serializes state transitions with their event delivery, so that
	// subscribers observe events in transition order.
	emitMu sync.Mutex

	mu     sync.Mutex
	paused bool
	ended  bool
	rate   float64
	base   float64   // media time at anchor
	anchor time.Time // wall time at which base was taken
	closed bool
	subs   map[int]*subscriber
	nextID int

	done chan struct{}
	wg   sync.WaitGroup
}

// Open prepares a paused player at time 0.
func Open(ctx context.Context, path string, opts Options) (*Player, error) {
	if opts.Duration <= 0 || opts.Width == 0 || opts.Height == 0 {
		info, err := utils.ProbeVideo(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read metadata of %s: %w", path, err)
		}
		if opts.Duration <= 0 {
			opts.Duration = info.Duration
		}
		if opts.Width == 0 {
			opts.Width = info.Width
		}
		if opts.Height == 0 {
			opts.Height = info.Height
		}
	}
	if opts.TimeUpdateInterval <= 0 {
		opts.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Grab == nil {
		opts.Grab = utils.GrabFrame
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Player{
		path:   path,
		opts:   opts,
		log:    log,
		paused: true,
		rate:   1,
		anchor: opts.Clock.Now(),
		subs:   make(map[int]*subscriber),
		done:   make(chan struct{}),
	}

	tk := opts.Clock.NewTicker(opts.TimeUpdateInterval)
	p.wg.Add(1)
	go p.loop(tk)
	return p, nil
}

func (p *Player) loop(tk timeutil.Ticker) {
	defer p.wg.Done()
	defer tk.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-tk.C():
			p.tick()
		}
	}
}

func (p *Player) tick() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.paused || p.closed {
		p.mu.Unlock()
		return
	}
	t := p.currentLocked()
	if t >= p.opts.Duration {
		p.base = p.opts.Duration
		p.paused = true
		p.ended = true
		p.mu.Unlock()
		p.log.Debug("playback reached the end", zap.Float64("duration", p.opts.Duration))
		p.emit(Event{Kind: Pause, Time: p.opts.Duration})
		p.emit(Event{Kind: Ended, Time: p.opts.Duration})
		return
	}
	p.mu.Unlock()
	p.emit(Event{Kind: TimeUpdate, Time: t})
}

func (p *Player) currentLocked() float64 {
	if p.paused {
		return p.base
	}
	t := p.base + p.opts.Clock.Since(p.anchor).Seconds()*p.rate
	return math.Min(t, p.opts.Duration)
}

// emit delivers ev to every subscriber. Control events block until taken; time updates
// are dropped for subscribers that are behind. Callers hold emitMu.
func (p *Player) emit(ev Event) {
	p.mu.Lock()
	subs := make([]*subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		if ev.Kind == TimeUpdate {
			select {
			case s.ch <- ev:
			default:
			}
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-p.done:
		}
	}
}

// Subscribe registers a listener. The returned func unsubscribes; no event is delivered
// after it returns. The channel is never closed.
func (p *Player) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer), done: make(chan struct{})}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = s
	p.mu.Unlock()

	return s.ch, func() {
		s.once.Do(func() {
			close(s.done)
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// Play starts playback. Playing after the end restarts from 0.
func (p *Player) Play() error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	if p.ended {
		p.base = 0
		p.ended = false
	}
	p.paused = false
	p.anchor = p.opts.Clock.Now()
	t := p.base
	p.mu.Unlock()

	p.emit(Event{Kind: Play, Time: t})
	return nil
}

// Pause freezes the playhead.
func (p *Player) Pause() error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.paused {
		p.mu.Unlock()
		return nil
	}
	p.base = p.currentLocked()
	p.paused = true
	t := p.base
	p.mu.Unlock()

	p.emit(Event{Kind: Pause, Time: t})
	return nil
}

// Seek moves the playhead to t, clamped to [0, duration]. Playback state is kept.
func (p *Player) Seek(t float64) error {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	t = math.Min(t, p.opts.Duration)
	p.base = t
	p.anchor = p.opts.Clock.Now()
	p.ended = false
	p.mu.Unlock()

	p.emit(Event{Kind: Seeked, Time: t})
	return nil
}

// SetRate changes the playback speed. The sampling interval is not affected.
func (p *Player) SetRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid playback rate %v", rate)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.base = p.currentLocked()
	p.anchor = p.opts.Clock.Now()
	p.rate = rate
	return nil
}

// CurrentTime returns the playhead position in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

func (p *Player) Duration() float64 { return p.opts.Duration }

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Ended reports whether playback stopped at the end and has not been restarted or seeked.
func (p *Player) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// GrabFrame decodes the frame under the playhead at its native resolution.
func (p *Player) GrabFrame(ctx context.Context) (types.Frame, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.Frame{}, ErrClosed
	}
	t := p.currentLocked()
	p.mu.Unlock()

	data, err := p.opts.Grab(ctx, p.path, t)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Data: data, Width: p.opts.Width, Height: p.opts.Height, Time: t}, nil
}

// Close stops the time update loop and releases blocked deliveries.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	return nil
}
