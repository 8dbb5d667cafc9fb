// Package detector defines the pose detector port and the process-wide handle that owns it.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/types"
)

// ErrUnavailable marks a detector that failed to initialize or was closed.
var ErrUnavailable = errors.New("pose detector unavailable")

// Pose is one detected subject. Keypoints follow angles.KeypointNames order.
type Pose struct {
	Keypoints []angles.Keypoint
	Score     float64
}

// PoseDetector is an opaque, possibly slow keypoint detector.
type PoseDetector interface {
	// Initialize loads the model. It is called once.
	Initialize(ctx context.Context) error
	// Estimate returns the poses found in frame, best first.
	Estimate(ctx context.Context, frame types.Frame) ([]Pose, error)
	// Close releases the backend.
	Close() error
}

// Handle owns a single PoseDetector for the life of the process.
// Initialization runs at most once and its outcome is kept; a failure is never retried.
type Handle struct {
	det PoseDetector

	once  sync.Once
	ready chan struct{}
	err   error

	mu     sync.Mutex
	closed bool
}

// NewHandle wraps det. Nothing is started until Init.
func NewHandle(det PoseDetector) *Handle {
	return &Handle{det: det, ready: make(chan struct{})}
}

// Init initializes the detector on first call and returns the cached result afterwards.
// Concurrent callers block until the first initialization finishes.
func (h *Handle) Init(ctx context.Context) error {
	h.once.Do(func() {
		if err := h.det.Initialize(ctx); err != nil {
			h.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		close(h.ready)
	})
	return h.err
}

// Ready is closed once Init has finished, successfully or not.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// Err returns the initialization error, or nil if Init succeeded or has not finished.
func (h *Handle) Err() error {
	select {
	case <-h.ready:
		return h.err
	default:
		return nil
	}
}

// Estimate forwards to the detector once it is initialized.
func (h *Handle) Estimate(ctx context.Context, frame types.Frame) ([]Pose, error) {
	select {
	case <-h.ready:
	default:
		return nil, fmt.Errorf("%w: not initialized", ErrUnavailable)
	}
	if h.err != nil {
		return nil, h.err
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: closed", ErrUnavailable)
	}
	return h.det.Estimate(ctx, frame)
}

// Close releases the detector. Subsequent calls are no-ops.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.det.Close()
}
