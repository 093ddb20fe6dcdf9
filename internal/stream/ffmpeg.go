// Package stream launches the ffmpeg process that publishes the wall's
// MPEG-TS multicast stream.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/logger"
)

var (
	// ErrStreamActive is returned when a stream is already running
	ErrStreamActive = errors.New("stream already active")
	// ErrUnknownMode is returned for modes other than video and screen
	ErrUnknownMode = errors.New("unknown stream mode")
)

// Mode selects the stream input
type Mode string

const (
	// ModeVideo plays a file in real time
	ModeVideo Mode = "video"
	// ModeScreen grabs the X11 desktop
	ModeScreen Mode = "screen"
)

const (
	defaultDisplay = ":0.0"
	stopGrace      = consts.Timeout5Seconds
	stderrTail     = 4096
)

// Options configures the encoder
type Options struct {
	FFmpegPath     string
	MulticastGroup string
	MulticastPort  int
	Bitrate        string
	// LocalAddr is the interface address the multicast leaves from. Empty
	// detects the outbound address.
	LocalAddr string
	// Env is appended to the process environment
	Env []string
}

// Request describes one stream. Source is a file path in video mode and
// an X11 display in screen mode.
type Request struct {
	Mode   Mode
	Source string
}

// Endpoint returns the multicast URL clients subscribe to
func (o Options) Endpoint() string {
	return fmt.Sprintf("udp://%s", net.JoinHostPort(o.MulticastGroup, strconv.Itoa(o.MulticastPort)))
}

// BuildArgs returns the ffmpeg arguments for req
func BuildArgs(opts Options, req Request, localAddr string) ([]string, error) {
	var args []string
	switch req.Mode {
	case ModeVideo, "":
		if req.Source == "" {
			return nil, fmt.Errorf("video mode needs a source file")
		}
		args = []string{"-re", "-i", req.Source}
	case ModeScreen:
		display := req.Source
		if display == "" {
			display = defaultDisplay
		}
		args = []string{"-f", "x11grab", "-framerate", "30", "-i", display}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	bitrate := opts.Bitrate
	if bitrate == "" {
		bitrate = "3000k"
	}
	url := fmt.Sprintf("%s?localaddr=%s&pkt_size=1316", opts.Endpoint(), localAddr)

	args = append(args,
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-b:v", bitrate,
		"-g", "30",
		"-bufsize", "4000k",
		"-mpegts_flags", "resend_headers",
		"-pat_period", "0.1",
		"-f", "mpegts",
		url,
	)
	return args, nil
}

// DetectLocalIP returns the address of the interface used for outbound
// traffic. No packet is sent.
func DetectLocalIP() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:1")
	if err != nil {
		return "", fmt.Errorf("failed to detect local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Launcher runs at most one ffmpeg process at a time
type Launcher struct {
	opts Options
	log  *logger.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	stderr  *tailBuffer
	current Request
}

// NewLauncher creates a launcher
func NewLauncher(opts Options, log *logger.Logger) *Launcher {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if log == nil {
		log = logger.Global().WithPrefix("stream")
	}
	return &Launcher{opts: opts, log: log}
}

// Endpoint returns the multicast URL
func (l *Launcher) Endpoint() string {
	return l.opts.Endpoint()
}

// Start launches ffmpeg and returns the multicast endpoint
func (l *Launcher) Start(ctx context.Context, req Request) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return "", fmt.Errorf("%w: %s %s", ErrStreamActive, l.current.Mode, l.current.Source)
	}

	localAddr := l.opts.LocalAddr
	if localAddr == "" {
		ip, err := DetectLocalIP()
		if err != nil {
			return "", err
		}
		localAddr = ip
	}

	args, err := BuildArgs(l.opts, req, localAddr)
	if err != nil {
		return "", err
	}

	cmd := exec.Command(l.opts.FFmpegPath, args...)
	cmd.Env = append(os.Environ(), l.opts.Env...)
	tail := &tailBuffer{limit: stderrTail}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	l.cmd, l.done, l.stderr, l.current = cmd, done, tail, req
	l.log.Info("Streaming %s %q to %s (pid %d)", req.Mode, req.Source, l.Endpoint(), cmd.Process.Pid)

	go l.reap(cmd, done, tail)
	return l.Endpoint(), nil
}

func (l *Launcher) reap(cmd *exec.Cmd, done chan struct{}, tail *tailBuffer) {
	err := cmd.Wait()
	if err != nil {
		l.log.Warn("ffmpeg exited: %v; stderr: %s", err, tail.String())
	} else {
		l.log.Info("ffmpeg exited")
	}

	l.mu.Lock()
	if l.cmd == cmd {
		l.cmd, l.done, l.stderr = nil, nil, nil
		l.current = Request{}
	}
	l.mu.Unlock()
	close(done)
}

// Active reports whether a stream is running
func (l *Launcher) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// Stop interrupts ffmpeg and waits for it to exit. Stopping an idle
// launcher is a no-op.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	cmd, done := l.cmd, l.done
	l.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		l.log.Debug("interrupt failed, killing ffmpeg: %v", err)
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(stopGrace):
		l.log.Warn("ffmpeg ignored interrupt, killing pid %d", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
