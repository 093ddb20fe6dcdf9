package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/coordinator"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/protocol"
	"github.com/codefionn/tilewall/internal/registry"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/store"
	"github.com/codefionn/tilewall/internal/vision"
)

type testServer struct {
	srv      *Server
	http     *httptest.Server
	sessions *session.Store
	registry *registry.Registry
	db       *store.Database
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	quiet := logger.NewWithWriter(logger.LevelNone, io.Discard, "")

	n := 0
	reg := registry.New()
	sessions := session.NewStore(session.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("wall-%d", n)
	}))
	engine := calibration.NewEngine(vision.NewReplay(nil), calibration.Options{
		Timeout:       time.Second,
		FrameInterval: time.Millisecond,
	}, quiet)
	t.Cleanup(engine.Close)

	db, err := store.NewDatabase("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	coord := coordinator.New(context.Background(), coordinator.Config{
		Registry: reg,
		Sessions: sessions,
		Engine:   engine,
		History:  db,
		Logger:   quiet,
	})

	srv := NewServer(Options{}, Deps{
		Coordinator: coord,
		Registry:    reg,
		Sessions:    sessions,
		Engine:      engine,
		DB:          db,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().CloseAll()
		ts.Close()
	})

	return &testServer{srv: srv, http: ts, sessions: sessions, registry: reg, db: db}
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) *protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return &msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType, requestID string, data map[string]interface{}) {
	t.Helper()
	msg := protocol.NewMessage(msgType, data)
	msg.RequestID = requestID
	require.NoError(t, conn.WriteJSON(msg))
}

func getJSON(t *testing.T, url string, status int, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, status, resp.StatusCode)
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
}

func TestWebSocketWelcome(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/tile-a")

	var welcome protocol.Welcome
	require.NoError(t, readType(t, conn, protocol.TypeWelcome).Decode(&welcome))
	assert.Equal(t, "tile-a", welcome.ClientID)
	assert.Equal(t, 0, welcome.MarkerID)
	assert.Len(t, welcome.FiducialBitmap, 8)
}

func TestWebSocketGeneratedID(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws")

	var welcome protocol.Welcome
	require.NoError(t, readType(t, conn, protocol.TypeWelcome).Decode(&welcome))
	assert.Len(t, welcome.ClientID, 36)
}

func TestWebSocketDuplicateIsRejected(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t, "/ws/tile-a")
	readType(t, first, protocol.TypeWelcome)

	second := ts.dial(t, "/ws/tile-a")
	msg := readType(t, second, protocol.TypeError)
	require.NotNil(t, msg.Error)
	assert.Equal(t, protocol.CodeDuplicateClient, msg.Error.Code)

	// the original registration survives the rejected duplicate
	send(t, first, protocol.TypePing, "p1", nil)
	assert.Equal(t, "p1", readType(t, first, protocol.TypePong).RequestID)
	assert.Equal(t, 1, ts.registry.Count())
}

func TestWebSocketSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	host := ts.dial(t, "/ws/host")
	guest := ts.dial(t, "/ws/guest")
	readType(t, host, protocol.TypeWelcome)
	readType(t, guest, protocol.TypeWelcome)

	send(t, host, protocol.TypeSessionCreate, "c1", map[string]interface{}{"name": "lobby"})
	var created protocol.SessionCreated
	require.NoError(t, readType(t, host, protocol.TypeSessionCreated).Decode(&created))
	assert.Equal(t, "wall-1", created.SessionID)

	send(t, guest, protocol.TypeSessionJoin, "j1", map[string]interface{}{"session_id": created.SessionID})
	var joined protocol.SessionJoined
	require.NoError(t, readType(t, guest, protocol.TypeSessionJoined).Decode(&joined))
	assert.Equal(t, 1, joined.SlotIndex)

	var list struct {
		Sessions []protocol.SessionSummary `json:"sessions"`
	}
	getJSON(t, ts.http.URL+"/api/sessions", http.StatusOK, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, 2, list.Sessions[0].MemberCount)

	guest.Close()
	var update protocol.SessionUpdated
	for len(update.Members) != 1 {
		require.NoError(t, readType(t, host, protocol.TypeSessionUpdated).Decode(&update))
	}
	assert.Equal(t, []string{"host"}, update.Members)
	assert.Equal(t, "host", update.Host)

	require.Eventually(t, func() bool {
		return ts.registry.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMalformedMessage(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/tile-a")
	readType(t, conn, protocol.TypeWelcome)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readType(t, conn, protocol.TypeError)
	assert.Equal(t, protocol.CodeInvalidRequest, msg.Error.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "/ws/tile-a")
	readType(t, conn, protocol.TypeWelcome)

	var health map[string]interface{}
	getJSON(t, ts.http.URL+"/healthz", http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["clients"])
	assert.Equal(t, false, health["calibrating"])
	assert.Equal(t, false, health["streaming"])
}

func TestClientsListedByMarker(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, "/ws/tile-a")
	readType(t, a, protocol.TypeWelcome)
	b := ts.dial(t, "/ws/tile-b")
	readType(t, b, protocol.TypeWelcome)
	_, err := ts.sessions.Create("tile-b", "lobby", "")
	require.NoError(t, err)

	var body struct {
		Clients []clientResponse `json:"clients"`
	}
	getJSON(t, ts.http.URL+"/api/clients", http.StatusOK, &body)
	require.Len(t, body.Clients, 2)
	assert.Equal(t, "tile-a", body.Clients[0].ClientID)
	assert.Equal(t, 0, body.Clients[0].MarkerID)
	assert.Empty(t, body.Clients[0].SessionID)
	assert.Equal(t, "tile-b", body.Clients[1].ClientID)
	assert.Equal(t, 1, body.Clients[1].MarkerID)
	assert.Equal(t, "wall-1", body.Clients[1].SessionID)
	assert.False(t, body.Clients[1].ConnectedAt.IsZero())
}

func TestWebSocketTimeouts(t *testing.T) {
	assert.Equal(t, 10*time.Second, writeWait)
	assert.Equal(t, time.Minute, pongWait)
	assert.Less(t, pingPeriod, pongWait)
}

func TestMarkerPNG(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/markers/3.png?size=80")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 80, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	getJSON(t, ts.http.URL+"/api/markers/9999", http.StatusNotFound, nil)
	getJSON(t, ts.http.URL+"/api/markers/abc", http.StatusBadRequest, nil)
	getJSON(t, ts.http.URL+"/api/markers/1?size=0", http.StatusBadRequest, nil)
}

func TestLayoutFallsBackToHistory(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	getJSON(t, ts.http.URL+"/api/sessions/lobby/layout", http.StatusNotFound, &body)
	assert.Equal(t, protocol.CodeSessionNotFound, body["code"])

	now := time.Now()
	_, err := ts.db.RecordRun(&store.Run{
		SessionID:   "lobby",
		Outcome:     store.OutcomeSucceeded,
		Expected:    []int{0},
		Frames:      2,
		AspectRatio: 1,
		Layout:      map[int]vision.Quad{0: {{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}},
		StartedAt:   now,
		CompletedAt: now,
	})
	require.NoError(t, err)

	var layout layoutResponse
	getJSON(t, ts.http.URL+"/api/sessions/lobby/layout", http.StatusOK, &layout)
	assert.Equal(t, "lobby", layout.SessionID)
	assert.Equal(t, [2]float64{1, 1}, layout.Layout["0"][2])

	var history struct {
		Runs []historyEntry `json:"runs"`
	}
	getJSON(t, ts.http.URL+"/api/sessions/lobby/history", http.StatusOK, &history)
	require.Len(t, history.Runs, 1)
	assert.Equal(t, store.OutcomeSucceeded, history.Runs[0].Outcome)
}

func TestLayoutOfUncalibratedSession(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.sessions.Create("host", "lobby", "")
	require.NoError(t, err)

	var body map[string]string
	getJSON(t, ts.http.URL+"/api/sessions/wall-1/layout", http.StatusNotFound, &body)
	assert.Equal(t, protocol.CodeNotCalibrated, body["code"])
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.sessions.Create("host", "lobby", "")
	require.NoError(t, err)

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/api/sessions/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusConflict, del("wall-1"))

	ts.sessions.Leave("host")
	assert.Equal(t, http.StatusNoContent, del("wall-1"))
	assert.Equal(t, http.StatusNotFound, del("wall-1"))
}

func TestCancelWithoutRun(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.sessions.Create("host", "lobby", "")
	require.NoError(t, err)

	for _, id := range []string{"wall-1", "missing"} {
		resp, err := http.Post(ts.http.URL+"/api/sessions/"+id+"/calibration/cancel", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, id)
	}
}

func TestMediaWithoutCatalog(t *testing.T) {
	ts := newTestServer(t)
	var body map[string][]interface{}
	getJSON(t, ts.http.URL+"/api/media", http.StatusOK, &body)
	assert.Empty(t, body["media"])
}

func TestServeStopsOnCancel(t *testing.T) {
	ts := newTestServer(t)
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Serve(ctx, ln) }()

	getJSON(t, "http://"+ln.Addr().String()+"/healthz", http.StatusOK, nil)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHubIgnoresStaleUnregister(t *testing.T) {
	hub := NewHub()
	old := &Client{ID: "tile-a"}
	current := &Client{ID: "tile-a"}

	hub.Register(old)
	hub.Register(current)
	hub.Unregister(old)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(current)
	assert.Equal(t, 0, hub.ClientCount())
}
