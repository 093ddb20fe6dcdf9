// Package server exposes the coordinator over WebSocket and the operator
// HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/coordinator"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/marker"
	"github.com/codefionn/tilewall/internal/media"
	"github.com/codefionn/tilewall/internal/pprof"
	"github.com/codefionn/tilewall/internal/registry"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/store"
)

// Deps are the components the server exposes. DB, Media, Engine and
// Streaming are optional.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Registry    *registry.Registry
	Sessions    *session.Store
	Engine      *calibration.Engine
	Codec       marker.Codec
	DB          *store.Database
	Media       *media.Catalog
	Streaming   interface{ Active() bool }
}

// Options configures the listener
type Options struct {
	Addr           string
	MaxConnections int
	// Pprof mounts the runtime profiling endpoints under /debug/pprof
	Pprof bool
}

// Server represents the HTTP and WebSocket server
type Server struct {
	opts       Options
	deps       Deps
	hub        *Hub
	router     *httprouter.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates a server
func NewServer(opts Options, deps Deps) *Server {
	if deps.Codec == nil {
		deps.Codec = marker.Default()
	}
	log := logger.Global().WithPrefix("http")

	s := &Server{
		opts:   opts,
		deps:   deps,
		hub:    NewHub(),
		router: httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tiles run as local apps and send no meaningful Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.StdLogger(log, logger.LevelWarn),
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the connection hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/ws/:client_id", s.handleWebSocket)

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/clients", s.handleClients)
	s.router.GET("/api/sessions", s.handleSessions)
	s.router.DELETE("/api/sessions/:id", s.handleSessionDelete)
	s.router.GET("/api/sessions/:id/layout", s.handleLayout)
	s.router.GET("/api/sessions/:id/history", s.handleHistory)
	s.router.POST("/api/sessions/:id/calibration/cancel", s.handleCalibrationCancel)
	s.router.GET("/api/markers/:id", s.handleMarker)
	s.router.GET("/api/media", s.handleMedia)

	if s.opts.Pprof {
		pprof.Mount(s.router)
	}
}

// Serve accepts connections on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening on %s", ln.Addr())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// ListenAndServe binds Options.Addr and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Shutdown stops accepting requests and closes every WebSocket
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping server...")
	err := s.httpServer.Shutdown(ctx)
	s.hub.CloseAll()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	clientID := ps.ByName("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade WebSocket for %s: %v", clientID, err)
		return
	}

	client := NewClient(clientID, s.hub, conn, s.deps.Coordinator)
	go client.WritePump()

	if _, err := s.deps.Coordinator.Connect(clientID, client); err != nil {
		s.log.Warn("Rejecting connection: %v", err)
		client.finish()
		return
	}

	s.hub.Register(client)
	go client.ReadPump()
}
