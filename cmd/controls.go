package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type controlKind int

const (
	ctlPlay controlKind = iota + 1
	ctlPause
	ctlSeek
	ctlRate
	ctlRestart
	ctlStatus
	ctlQuit
)

// control is one parsed line of the interactive timeline.
type control struct {
	kind controlKind
	arg  float64
}

// timeline is the part of the player the controls drive.
type timeline interface {
	Play() error
	Pause() error
	Seek(t float64) error
	SetRate(rate float64) error
}

const controlHelp = "commands: play | pause | seek <seconds> | rate <x> | restart | status | quit"

// parseControl reads lines such as "seek 12.5". Blank lines are not controls.
func parseControl(line string) (control, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return control{}, fmt.Errorf("empty command")
	}

	withArg := func(k controlKind) (control, error) {
		if len(fields) != 2 {
			return control{}, fmt.Errorf("%s needs exactly one number", fields[0])
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return control{}, fmt.Errorf("%s: invalid number %q", fields[0], fields[1])
		}
		return control{kind: k, arg: v}, nil
	}
	noArg := func(k controlKind) (control, error) {
		if len(fields) != 1 {
			return control{}, fmt.Errorf("%s takes no arguments", fields[0])
		}
		return control{kind: k}, nil
	}

	switch fields[0] {
	case "play", "p":
		return noArg(ctlPlay)
	case "pause":
		return noArg(ctlPause)
	case "seek", "s":
		return withArg(ctlSeek)
	case "rate", "r":
		return withArg(ctlRate)
	case "restart":
		return noArg(ctlRestart)
	case "status":
		return noArg(ctlStatus)
	case "quit", "q", "exit":
		return noArg(ctlQuit)
	default:
		return control{}, fmt.Errorf("unknown command %q (%s)", fields[0], controlHelp)
	}
}

// apply drives tl. Restart pauses, seeks to 0 and plays, so a play at 0 is emitted even
// when the video was already playing; that starts a new session.
// Status and quit are handled by the caller.
func (c control) apply(tl timeline) error {
	switch c.kind {
	case ctlPlay:
		return tl.Play()
	case ctlPause:
		return tl.Pause()
	case ctlSeek:
		if c.arg < 0 {
			return fmt.Errorf("seek: negative time %.2f", c.arg)
		}
		return tl.Seek(c.arg)
	case ctlRate:
		return tl.SetRate(c.arg)
	case ctlRestart:
		if err := tl.Pause(); err != nil {
			return err
		}
		if err := tl.Seek(0); err != nil {
			return err
		}
		return tl.Play()
	}
	return nil
}

// readControls parses lines from r until EOF or ctx is done. Parse errors are
// reported through onError and skipped. The returned channel is closed at EOF.
func readControls(ctx context.Context, r io.Reader, onError func(error)) <-chan control {
	out := make(chan control)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			c, err := parseControl(line)
			if err != nil {
				onError(err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
