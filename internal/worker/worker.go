// Package worker runs the pose model in a child process and speaks a small binary
// protocol with it.
//
// Both directions are length-prefixed (big endian uint32):
//
//	request:  [len][jpeg bytes]                  len == 0 is a readiness check
//	response: [len][status:u8][body]
//	  status 0: [n:u32] n × 17 × (x:f32 y:f32 score:f32) then n × (pose score:f32)
//	  status 1: [msgLen:u32][msg]
//
// Results are read from a dedicated pipe (FD 3 in the child) so that stray prints on
// the child's stdout cannot corrupt the stream.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/jointscope/internal/angles"
	"github.com/andresmejia3/jointscope/internal/detector"
	"github.com/andresmejia3/jointscope/internal/types"
	"github.com/andresmejia3/jointscope/internal/utils"
)

// ErrWorker wraps errors reported by, or caused by, the detector process.
var ErrWorker = errors.New("python worker error")

// maxPoses bounds a single response; anything larger means the stream is corrupt.
const maxPoses = 64

// maxResponseLen is the largest payload a well-formed stream can carry (maxPoses poses).
// Error frames must fit in the same bound.
const maxResponseLen = 1 + 4 + maxPoses*(angles.NumKeypoints*3*4+4)

// Config controls the detector process.
type Config struct {
	// Command is the argv used to start the detector.
	Command []string
	// InitTimeout bounds model loading (the readiness check). Zero means no bound.
	InitTimeout time.Duration
	// ReadTimeout bounds one response. Zero means no bound. A timed-out stream is unusable.
	ReadTimeout time.Duration
}

// PoseWorker is a detector.PoseDetector backed by a child process.
type PoseWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	cfg    Config
	mu     sync.Mutex
	broken error
}

var _ detector.PoseDetector = (*PoseWorker)(nil)

// NewPythonPoseWorker prepares a worker. The process starts in Initialize.
func NewPythonPoseWorker(id int, cfg Config) *PoseWorker {
	return &PoseWorker{ID: id, cfg: cfg}
}

// Initialize starts the child process and waits until the model reports ready.
func (w *PoseWorker) Initialize(ctx context.Context) error {
	if len(w.cfg.Command) == 0 {
		return errors.New("no detector command configured")
	}
	py := utils.NewSafeCommand(ctx, w.cfg.Command[0], w.cfg.Command[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.Cmd = py
	w.Stdin = stdin
	w.DataPipe = r

	if err := w.awaitReady(); err != nil {
		w.Close()
		if msg := startupError(py); msg != "" {
			return fmt.Errorf("worker %d not ready: %w (%s)", w.ID, err, msg)
		}
		return fmt.Errorf("worker %d not ready: %w", w.ID, err)
	}
	return nil
}

// awaitReady sends the empty readiness frame and expects an empty, successful reply.
func (w *PoseWorker) awaitReady() error {
	resp, err := w.exchange(nil, w.cfg.InitTimeout)
	if err != nil {
		return err
	}
	poses, err := decodePoses(resp)
	if err != nil {
		return err
	}
	if len(poses) != 0 {
		return fmt.Errorf("%w: readiness check returned %d poses", ErrWorker, len(poses))
	}
	return nil
}

// Estimate runs the model on one frame. The call is not interrupted by ctx once the
// frame has been written; the protocol has no way to abandon a request.
func (w *PoseWorker) Estimate(ctx context.Context, frame types.Frame) ([]detector.Pose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame.Data) == 0 {
		return nil, errors.New("empty frame")
	}
	return w.ProcessFrame(frame.Data)
}

// ProcessFrame sends one encoded image and decodes the poses found in it.
func (w *PoseWorker) ProcessFrame(data []byte) ([]detector.Pose, error) {
	resp, err := w.exchange(data, w.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return decodePoses(resp)
}

// exchange serializes one request/response pair. Any I/O failure leaves the stream
// desynchronized, so the worker refuses further requests.
func (w *PoseWorker) exchange(data []byte, timeout time.Duration) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}
	resp, err := w.communicate(data, timeout)
	if err != nil {
		w.broken = fmt.Errorf("%w: stream unusable: %v", ErrWorker, err)
		return nil, err
	}
	return resp, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func (w *PoseWorker) communicate(data []byte, timeout time.Duration) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if _, err := w.Stdin.Write(data); err != nil {
			return nil, err
		}
	}

	if d, ok := w.DataPipe.(deadliner); ok && timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where a crashed interpreter shows up
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseLen {
		return nil, fmt.Errorf("%w: response length %d exceeds %d", ErrWorker, respLen, maxResponseLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func decodePoses(payload []byte) ([]detector.Pose, error) {
	r := bytes.NewReader(payload)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty response", ErrWorker)
	}

	switch status {
	case 0:
	case 1:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: truncated error frame", ErrWorker)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error frame", ErrWorker)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	default:
		return nil, fmt.Errorf("%w: unknown status %d", ErrWorker, status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: missing pose count", ErrWorker)
	}
	if n > maxPoses {
		return nil, fmt.Errorf("%w: implausible pose count %d", ErrWorker, n)
	}

	names := angles.KeypointNames()
	poses := make([]detector.Pose, n)
	for i := range poses {
		var raw [angles.NumKeypoints][3]float32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: truncated pose %d", ErrWorker, i)
		}
		kps := make([]angles.Keypoint, angles.NumKeypoints)
		for k, v := range raw {
			kps[k] = angles.Keypoint{Name: names[k], X: float64(v[0]), Y: float64(v[1]), Score: float64(v[2])}
		}
		poses[i].Keypoints = kps
	}
	for i := range poses {
		var score float32
		if err := binary.Read(r, binary.BigEndian, &score); err != nil {
			return nil, fmt.Errorf("%w: missing score for pose %d", ErrWorker, i)
		}
		poses[i].Score = float64(score)
	}
	return poses, nil
}

// startupError extracts a {"error": "..."} line the detector may print before exiting.
func startupError(s *utils.SafeCommand) string {
	if s == nil || s.Stderr.Len() == 0 {
		return ""
	}
	var last string
	sc := bufio.NewScanner(bytes.NewReader(s.Stderr.Bytes()))
	for sc.Scan() {
		var res types.ErrorResult
		if json.Unmarshal(sc.Bytes(), &res) == nil && res.Error != "" {
			last = res.Error
		}
	}
	return strings.TrimSpace(last)
}

// Close shuts the child down and waits for it to exit.
func (w *PoseWorker) Close() error {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil && w.Cmd.Process != nil {
		// Closing stdin is the shutdown signal; a non-zero exit here is not interesting.
		_ = w.Cmd.Wait()
	}
	return nil
}
