// Package coordinator turns client protocol messages into registry,
// session, calibration and streaming operations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/marker"
	"github.com/codefionn/tilewall/internal/protocol"
	"github.com/codefionn/tilewall/internal/registry"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/stream"
)

// Calibrator runs calibrations; *calibration.Engine implements it
type Calibrator interface {
	Start(ctx context.Context, sessionID string, expected []int, obs calibration.Observer) (*calibration.Run, error)
	Cancel(sessionID, reason string) error
	Active(sessionID string) (*calibration.Run, bool)
}

// Streamer publishes the playback stream; *stream.Launcher implements it
type Streamer interface {
	Start(ctx context.Context, req stream.Request) (string, error)
	Stop() error
	Active() bool
}

// MediaResolver maps a catalog name to a file path
type MediaResolver interface {
	Resolve(name string) (string, error)
}

// History records finished calibrations
type History interface {
	Observer(expected []int, startedAt time.Time) calibration.Observer
}

// Config wires a Coordinator. Streamer, Media and History are optional.
type Config struct {
	Registry     *registry.Registry
	Sessions     *session.Store
	Engine       Calibrator
	Codec        marker.Codec
	Streamer     Streamer
	Media        MediaResolver
	History      History
	Observers    []calibration.Observer
	MarkerPixels int
	Logger       *logger.Logger
}

// ConnState is the protocol state of one client
type ConnState int

const (
	StateConnected ConnState = iota
	StateRegistered
	StateInSession
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateInSession:
		return "in_session"
	default:
		return "disconnected"
	}
}

// Coordinator is the per-server protocol state machine. Handle may be
// called concurrently for different clients.
type Coordinator struct {
	ctx       context.Context
	registry  *registry.Registry
	sessions  *session.Store
	engine    Calibrator
	codec     marker.Codec
	streamer  Streamer
	media     MediaResolver
	history   History
	observers []calibration.Observer
	pixels    int
	log       *logger.Logger

	mu      sync.Mutex
	playing string
}

// New creates a coordinator. ctx bounds the calibration runs it starts.
func New(ctx context.Context, cfg Config) *Coordinator {
	if cfg.Codec == nil {
		cfg.Codec = marker.Default()
	}
	if cfg.MarkerPixels <= 0 {
		cfg.MarkerPixels = consts.DefaultMarkerPixels
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().WithPrefix("coordinator")
	}
	return &Coordinator{
		ctx:       ctx,
		registry:  cfg.Registry,
		sessions:  cfg.Sessions,
		engine:    cfg.Engine,
		codec:     cfg.Codec,
		streamer:  cfg.Streamer,
		media:     cfg.Media,
		history:   cfg.History,
		observers: cfg.Observers,
		pixels:    cfg.MarkerPixels,
		log:       cfg.Logger,
	}
}

// State returns the protocol state of a client
func (c *Coordinator) State(clientID string) ConnState {
	if _, err := c.registry.Lookup(clientID); err != nil {
		return StateDisconnected
	}
	if _, ok := c.sessions.SessionOf(clientID); ok {
		return StateInSession
	}
	return StateRegistered
}

// Connect registers a client and sends WELCOME. On error the client was
// told why and the connection should be closed.
func (c *Coordinator) Connect(clientID string, handle registry.Handle) (int, error) {
	markerID, err := c.registry.Register(clientID, handle)
	if err != nil {
		handle.Send(protocol.NewError("", ErrorCode(err), err.Error()))
		return 0, fmt.Errorf("failed to register client %s: %w", clientID, err)
	}

	welcome, err := c.welcome(clientID, markerID)
	if err != nil {
		c.registry.Unregister(clientID)
		handle.Send(protocol.NewError("", ErrorCode(err), err.Error()))
		return 0, err
	}

	c.log.Info("Client %s registered with marker %d", clientID, markerID)
	c.send(clientID, protocol.NewEvent(protocol.TypeWelcome, welcome))
	return markerID, nil
}

func (c *Coordinator) welcome(clientID string, markerID int) (protocol.Welcome, error) {
	bitmap, err := c.codec.Encode(markerID, c.pixels)
	if err != nil {
		return protocol.Welcome{}, fmt.Errorf("failed to render marker %d: %w", markerID, err)
	}
	return protocol.Welcome{
		ClientID:       clientID,
		MarkerID:       markerID,
		FiducialBitmap: bitmap.Rows(),
	}, nil
}

// Handle processes one inbound message. Request errors are answered with
// ERROR and never returned.
func (c *Coordinator) Handle(clientID string, msg *protocol.Message) {
	var err error
	switch msg.Type {
	case protocol.TypeHello:
		err = c.handleHello(clientID, msg)
	case protocol.TypeSessionListReq:
		c.send(clientID, protocol.NewResponse(protocol.TypeSessionListRes, msg.RequestID,
			protocol.SessionList{Sessions: c.Summaries()}))
	case protocol.TypeSessionCreate:
		err = c.handleCreate(clientID, msg)
	case protocol.TypeSessionJoin:
		err = c.handleJoin(clientID, msg)
	case protocol.TypeSessionLeave:
		err = c.handleLeave(clientID, msg)
	case protocol.TypeStartCalibration:
		err = c.handleStartCalibration(clientID, msg)
	case protocol.TypeCancelCalibration:
		err = c.handleCancelCalibration(clientID)
	case protocol.TypeStart:
		err = c.handleStart(clientID, msg)
	case protocol.TypeStop:
		err = c.handleStop(clientID, msg)
	case protocol.TypePing:
		c.send(clientID, protocol.NewResponse(protocol.TypePong, msg.RequestID, nil))
	default:
		c.log.Warn("Ignoring unknown message type %q from %s", msg.Type, clientID)
		return
	}

	if err != nil {
		code := ErrorCode(err)
		if code == protocol.CodeInternalError {
			c.log.Error("%s from %s failed: %v", msg.Type, clientID, err)
		} else {
			c.log.Debug("%s from %s rejected: %v", msg.Type, clientID, err)
		}
		c.send(clientID, protocol.NewError(msg.RequestID, code, err.Error()))
	}
}

func (c *Coordinator) handleHello(clientID string, msg *protocol.Message) error {
	markerID, err := c.registry.MarkerID(clientID)
	if err != nil {
		return err
	}
	welcome, err := c.welcome(clientID, markerID)
	if err != nil {
		return err
	}
	c.send(clientID, protocol.NewResponse(protocol.TypeWelcome, msg.RequestID, welcome))
	return nil
}

func (c *Coordinator) handleCreate(clientID string, msg *protocol.Message) error {
	var req protocol.SessionCreateRequest
	if err := msg.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	previous, wasIn := c.sessions.SessionOf(clientID)
	sess, err := c.sessions.Create(clientID, req.Name, req.SessionID)
	if err != nil {
		return err
	}
	c.log.Info("Client %s created session %s (%q)", clientID, sess.ID, sess.Name)

	c.send(clientID, protocol.NewResponse(protocol.TypeSessionCreated, msg.RequestID,
		protocol.SessionCreated{SessionID: sess.ID}))
	if wasIn {
		c.departed(previous)
	}
	return nil
}

func (c *Coordinator) handleJoin(clientID string, msg *protocol.Message) error {
	var req protocol.SessionJoinRequest
	if err := msg.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}

	previous, wasIn := c.sessions.SessionOf(clientID)
	slot, err := c.sessions.Join(req.SessionID, clientID)
	if err != nil {
		return err
	}
	c.log.Info("Client %s joined session %s in slot %d", clientID, req.SessionID, slot)

	c.send(clientID, protocol.NewResponse(protocol.TypeSessionJoined, msg.RequestID, protocol.SessionJoined{
		SessionID: req.SessionID,
		SlotIndex: slot,
		Sessions:  c.Summaries(),
	}))
	if wasIn && previous != req.SessionID {
		c.departed(previous)
	}
	c.broadcastUpdate(req.SessionID, clientID)
	return nil
}

func (c *Coordinator) handleLeave(clientID string, msg *protocol.Message) error {
	sessionID, ok := c.sessions.Leave(clientID)
	if !ok {
		return ErrNotInSession
	}
	c.log.Info("Client %s left session %s", clientID, sessionID)

	c.send(clientID, protocol.NewResponse(protocol.TypeSessionLeft, msg.RequestID,
		protocol.SessionLeft{SessionID: sessionID}))
	c.departed(sessionID)
	return nil
}

func (c *Coordinator) handleStartCalibration(clientID string, msg *protocol.Message) error {
	sess, err := c.hostedSession(clientID)
	if err != nil {
		return err
	}

	expected := make([]int, 0, len(sess.Members))
	for _, member := range sess.Members {
		markerID, err := c.registry.MarkerID(member)
		if err != nil {
			c.log.Warn("Session %s member %s is not registered, skipping", sess.ID, member)
			continue
		}
		expected = append(expected, markerID)
	}

	started := time.Now()
	observers := calibration.Observers{c.calibrationObserver(clientID, msg.RequestID)}
	if c.history != nil {
		observers = append(observers, c.history.Observer(expected, started))
	}
	observers = append(observers, c.observers...)

	_, err = c.engine.Start(c.ctx, sess.ID, expected, observers)
	return err
}

func (c *Coordinator) handleCancelCalibration(clientID string) error {
	sess, err := c.hostedSession(clientID)
	if err != nil {
		return err
	}
	return c.engine.Cancel(sess.ID, "cancelled by host")
}

func (c *Coordinator) handleStart(clientID string, msg *protocol.Message) error {
	sess, err := c.hostedSession(clientID)
	if err != nil {
		return err
	}
	if sess.Layout == nil {
		return fmt.Errorf("%w: run calibration first", ErrNotCalibrated)
	}
	if c.streamer == nil {
		return ErrStreamingUnavailable
	}

	var req protocol.StartRequest
	if err := msg.Decode(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	streamReq := stream.Request{Mode: stream.Mode(req.Mode), Source: req.Source}
	if streamReq.Mode == "" {
		streamReq.Mode = stream.ModeVideo
	}
	if streamReq.Mode == stream.ModeVideo {
		if req.Source == "" {
			return fmt.Errorf("%w: source is required in video mode", ErrInvalidRequest)
		}
		if c.media != nil {
			path, err := c.media.Resolve(req.Source)
			if err != nil {
				return err
			}
			streamReq.Source = path
		}
	}

	endpoint, err := c.streamer.Start(c.ctx, streamReq)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.playing = sess.ID
	c.mu.Unlock()

	c.announce(sess.ID, clientID, msg.RequestID, protocol.TypePlaybackStarted, protocol.PlaybackStarted{
		SessionID: sess.ID,
		Endpoint:  endpoint,
		Source:    req.Source,
	})
	return nil
}

func (c *Coordinator) handleStop(clientID string, msg *protocol.Message) error {
	sess, err := c.hostedSession(clientID)
	if err != nil {
		return err
	}
	if c.streamer == nil {
		return ErrStreamingUnavailable
	}
	stopped, err := c.stopPlayback(sess.ID)
	if err != nil {
		return err
	}
	if !stopped {
		return fmt.Errorf("%w: session %s is not playing", ErrNotPlaying, sess.ID)
	}
	c.announce(sess.ID, clientID, msg.RequestID, protocol.TypePlaybackStopped,
		protocol.PlaybackStopped{SessionID: sess.ID})
	return nil
}

// stopPlayback stops the stream if sessionID owns it and reports whether
// it did
func (c *Coordinator) stopPlayback(sessionID string) (bool, error) {
	c.mu.Lock()
	owner := c.playing
	if owner == sessionID {
		c.playing = ""
	}
	c.mu.Unlock()

	if owner != sessionID || sessionID == "" || c.streamer == nil {
		return false, nil
	}
	if err := c.streamer.Stop(); err != nil {
		return true, fmt.Errorf("failed to stop stream: %w", err)
	}
	return true, nil
}

// Disconnect removes a client. Every cleanup step runs even when an
// earlier one fails; the failures are joined and returned.
func (c *Coordinator) Disconnect(clientID string) error {
	sessionID, inSession := c.sessions.SessionOf(clientID)
	var errs []error

	errs = append(errs, safely("cancel calibration", func() error {
		if !inSession {
			return nil
		}
		members, err := c.sessions.Members(sessionID)
		if err != nil {
			return err
		}
		if len(members) != 1 || members[0] != clientID {
			return nil
		}
		return c.abandon(sessionID, "last member disconnected")
	}))

	errs = append(errs, safely("leave session", func() error {
		c.sessions.Leave(clientID)
		return nil
	}))

	errs = append(errs, safely("unregister", func() error {
		c.registry.Unregister(clientID)
		return nil
	}))

	if inSession {
		errs = append(errs, safely("notify members", func() error {
			c.broadcastUpdate(sessionID, "")
			return nil
		}))
	}

	c.log.Info("Client %s disconnected", clientID)
	return errors.Join(errs...)
}

// CancelCalibration cancels a session's calibration on behalf of the operator
func (c *Coordinator) CancelCalibration(sessionID, reason string) error {
	if !c.sessions.Exists(sessionID) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}
	return c.engine.Cancel(sessionID, reason)
}

// Summaries lists every session for the wire
func (c *Coordinator) Summaries() []protocol.SessionSummary {
	list := c.sessions.List()
	out := make([]protocol.SessionSummary, 0, len(list))
	for _, s := range list {
		out = append(out, protocol.SessionSummary{
			SessionID:   s.ID,
			Name:        s.Name,
			MemberCount: s.MemberCount,
			MaxSlots:    s.MaxSlots,
		})
	}
	return out
}

// departed tidies up after a member left sessionID: an empty session loses
// its calibration and stream, otherwise the remaining members are told.
func (c *Coordinator) departed(sessionID string) {
	members, err := c.sessions.Members(sessionID)
	if err != nil {
		return
	}
	if len(members) == 0 {
		if err := c.abandon(sessionID, "session is empty"); err != nil {
			c.log.Warn("Failed to clean up empty session %s: %v", sessionID, err)
		}
		return
	}
	c.broadcastUpdate(sessionID, "")
}

func (c *Coordinator) abandon(sessionID, reason string) error {
	var errs []error
	if _, running := c.engine.Active(sessionID); running {
		if err := c.engine.Cancel(sessionID, reason); err != nil && !errors.Is(err, calibration.ErrNoRun) {
			errs = append(errs, err)
		}
	}
	if stopped, err := c.stopPlayback(sessionID); err != nil {
		errs = append(errs, err)
	} else if stopped {
		c.log.Info("Stopped playback of abandoned session %s", sessionID)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) hostedSession(clientID string) (session.Session, error) {
	sessionID, ok := c.sessions.SessionOf(clientID)
	if !ok {
		return session.Session{}, ErrNotInSession
	}
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if sess.Host != clientID {
		return session.Session{}, fmt.Errorf("%w: host of %s is %s", ErrNotHost, sess.ID, sess.Host)
	}
	return sess, nil
}

// calibrationObserver relays a run to the session. SHOW_MARKER goes out
// from Started, before the worker captures anything.
func (c *Coordinator) calibrationObserver(hostID, requestID string) calibration.Observer {
	return calibration.ObserverFuncs{
		OnStarted: func(run *calibration.Run) {
			c.announce(run.SessionID, hostID, requestID, protocol.TypeShowMarker,
				protocol.ShowMarker{SessionID: run.SessionID, Expected: run.Expected})
		},
		OnProgress: func(p calibration.Progress) {
			c.broadcast(p.SessionID, "", protocol.NewEvent(protocol.TypeCalibrationProgress, protocol.CalibrationProgress{
				SessionID: p.SessionID,
				Detected:  p.Detected,
				Expected:  p.Expected,
				Frame:     p.Frame,
			}))
		},
		OnFinished: func(sessionID string, result *calibration.Result, err error) {
			if err != nil {
				c.broadcast(sessionID, "", protocol.NewEvent(protocol.TypeCalibrationFailed, protocol.CalibrationFailed{
					SessionID: sessionID,
					Code:      ErrorCode(err),
					Message:   err.Error(),
				}))
				return
			}
			if setErr := c.sessions.SetLayout(sessionID, result); setErr != nil {
				c.log.Warn("Calibration finished for removed session %s: %v", sessionID, setErr)
				return
			}
			c.broadcast(sessionID, "", protocol.NewEvent(protocol.TypeCalibrationResult, protocol.CalibrationResult{
				SessionID:   sessionID,
				Layout:      result.WireLayout(),
				AspectRatio: result.AspectRatio,
				Frames:      result.Frames,
				Forced:      result.Forced,
			}))
		},
	}
}

func (c *Coordinator) broadcastUpdate(sessionID, except string) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return
	}
	c.broadcast(sessionID, except, protocol.NewEvent(protocol.TypeSessionUpdated, protocol.SessionUpdated{
		SessionID: sess.ID,
		Host:      sess.Host,
		Members:   sess.Members,
	}))
}

// announce answers the requesting host with a response carrying its
// request ID and tells the other members through an event
func (c *Coordinator) announce(sessionID, hostID, requestID, msgType string, payload interface{}) {
	c.send(hostID, protocol.NewResponse(msgType, requestID, payload))
	c.broadcast(sessionID, hostID, protocol.NewEvent(msgType, payload))
}

// broadcast sends msg to every member of sessionID except one client
func (c *Coordinator) broadcast(sessionID, except string, msg *protocol.Message) {
	members, err := c.sessions.Members(sessionID)
	if err != nil {
		return
	}
	for _, member := range members {
		if member != except {
			c.send(member, msg)
		}
	}
}

func (c *Coordinator) send(clientID string, msg *protocol.Message) {
	if !c.registry.Send(clientID, msg) {
		c.log.Warn("Dropping %s for client %s", msg.Type, clientID)
	}
}

func safely(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
