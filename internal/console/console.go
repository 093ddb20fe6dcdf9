// Package console is the operator's keyboard control over calibration:
// ESC cancels the running calibration and SPACE captures the next frame
// regardless of how many markers are visible.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/logger"
)

// Action is a decoded key press
type Action int

const (
	ActionNone Action = iota
	ActionCancel
	ActionForce
	ActionQuit
)

const (
	keyEsc   = 0x1b
	keySpace = ' '
	keyCtrlC = 0x03
)

// Decode maps one read chunk to an action. Escape sequences such as arrow
// keys arrive as ESC followed by more bytes in the same chunk and are
// ignored.
func Decode(chunk []byte) Action {
	if len(chunk) == 0 {
		return ActionNone
	}
	switch chunk[0] {
	case keyEsc:
		if len(chunk) > 1 {
			return ActionNone
		}
		return ActionCancel
	case keySpace:
		return ActionForce
	case keyCtrlC, 'q', 'Q':
		return ActionQuit
	}
	return ActionNone
}

// Controller is the part of the calibration engine the console drives
type Controller interface {
	Current() (*calibration.Run, bool)
	Cancel(sessionID, reason string) error
	Force(sessionID string) error
}

// Console reads operator keys and prints calibration status
type Console struct {
	in   io.Reader
	out  io.Writer
	ctrl Controller

	mu   sync.Mutex
	quit func()
}

// New creates a console. quit is called on Ctrl-C or q; it may be nil.
func New(in io.Reader, out io.Writer, ctrl Controller, quit func()) *Console {
	return &Console{in: in, out: out, ctrl: ctrl, quit: quit}
}

// Run reads keys until ctx is done or input ends. When in is a terminal it
// is switched to raw mode for the duration.
func (c *Console) Run(ctx context.Context) error {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer term.Restore(int(f.Fd()), state)
	}

	chunks := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		for {
			n, err := c.in.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("console read failed: %w", err)
		case chunk := <-chunks:
			c.Handle(Decode(chunk))
		}
	}
}

// Handle applies an action to the running calibration
func (c *Console) Handle(action Action) {
	switch action {
	case ActionCancel:
		run, ok := c.ctrl.Current()
		if !ok {
			c.printf("no calibration running")
			return
		}
		if err := c.ctrl.Cancel(run.SessionID, "operator pressed ESC"); err != nil {
			logger.Warn("console cancel failed: %v", err)
		}
	case ActionForce:
		run, ok := c.ctrl.Current()
		if !ok {
			c.printf("no calibration running")
			return
		}
		if err := c.ctrl.Force(run.SessionID); err != nil {
			logger.Warn("console force failed: %v", err)
			return
		}
		c.printf("capturing next frame for session %s", run.SessionID)
	case ActionQuit:
		if c.quit != nil {
			c.quit()
		}
	}
}

// Progress prints the marker count of a non-matching frame
func (c *Console) Progress(p calibration.Progress) {
	c.printf("Found %d / %d markers", len(p.Detected), len(p.Expected))
}

// Finished prints the outcome of a run
func (c *Console) Finished(sessionID string, result *calibration.Result, err error) {
	if err != nil {
		c.printf("calibration of %s ended: %v", sessionID, err)
		return
	}
	c.printf("calibration of %s done: %d markers, aspect %.3f", sessionID, len(result.Layout), result.AspectRatio)
}

// printf writes one status line. Raw terminals need an explicit carriage
// return.
func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\r"+format+"\r\n", args...)
}
