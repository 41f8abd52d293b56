package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/yomiage/internal/bus"
	"github.com/normanking/yomiage/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNarrator struct {
	mu     sync.Mutex
	starts []string
	stops  int
	edits  []string
}

func (m *mockNarrator) Start(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, prompt)
}

func (m *mockNarrator) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *mockNarrator) TextEdited(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, prompt)
}

func (m *mockNarrator) snapshot() ([]string, int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.starts...), m.stops, append([]string(nil), m.edits...)
}

type fakeProber struct {
	version string
	err     error
}

func (f *fakeProber) Version(context.Context) (string, error) {
	return f.version, f.err
}

type fakeLogs struct{}

func (fakeLogs) History(limit int) []logging.Entry {
	return []logging.Entry{{Timestamp: "2026-01-01 00:00:00.000", Level: "info", Message: "hello"}}
}

func newTestServer(t *testing.T, prober *fakeProber) (*Server, *mockNarrator, *bus.EventBus) {
	t.Helper()
	if prober == nil {
		prober = &fakeProber{version: "0.22.0"}
	}
	narrator := &mockNarrator{}
	events := bus.NewEventBus()
	s := New(&Config{Addr: "127.0.0.1:0"}, narrator, events, prober, fakeLogs{}, zerolog.Nop())
	return s, narrator, events
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestDecodeInbound(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"type":"start","text":"今日の天気"}`))
	require.NoError(t, err)
	assert.Equal(t, msgStart, msg.Type)
	assert.Equal(t, "今日の天気", msg.Text)

	_, err = decodeInbound([]byte(`{"type":"reboot"}`))
	assert.Error(t, err)

	_, err = decodeInbound([]byte(`not json`))
	assert.Error(t, err)
}

func TestServer_CommandsReachNarrator(t *testing.T) {
	s, narrator, _ := newTestServer(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","text":"こんにちは"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"edit","text":"さようなら"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))

	require.Eventually(t, func() bool {
		starts, stops, edits := narrator.snapshot()
		return len(starts) == 1 && stops == 1 && len(edits) == 1
	}, time.Second, 10*time.Millisecond)

	starts, _, edits := narrator.snapshot()
	assert.Equal(t, "こんにちは", starts[0])
	assert.Equal(t, "さようなら", edits[0])
}

func TestServer_InvalidMessageIgnored(t *testing.T) {
	s, narrator, _ := newTestServer(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nonsense"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))

	require.Eventually(t, func() bool {
		_, stops, _ := narrator.snapshot()
		return stops == 1
	}, time.Second, 10*time.Millisecond)

	starts, _, edits := narrator.snapshot()
	assert.Empty(t, starts)
	assert.Empty(t, edits)
}

func TestServer_BroadcastsStateFrames(t *testing.T) {
	s, _, events := newTestServer(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	// Wait for the client to register before publishing.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	events.PublishSync(bus.Event{
		Type: bus.EventTypeStateChanged,
		Data: map[string]any{
			"canStart": false,
			"speaking": true,
			"segments": []string{"こんにちは", "元気ですか"},
		},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame stateMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "state", frame.Type)
	assert.False(t, frame.CanStart)
	assert.True(t, frame.Speaking)
	assert.Equal(t, []string{"こんにちは", "元気ですか"}, frame.Segments)
}

func TestServer_NewClientGetsLastState(t *testing.T) {
	s, _, events := newTestServer(t, nil)

	events.PublishSync(bus.Event{
		Type: bus.EventTypeStateChanged,
		Data: map[string]any{"canStart": true, "speaking": false, "segments": []string{""}},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame stateMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.True(t, frame.CanStart)
	assert.False(t, frame.Speaking)
}

func TestServer_Healthz(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeProber{version: "0.22.0"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "0.22.0", body["engine"])
}

func TestServer_HealthzEngineDown(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeProber{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_Logs(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	rec := httptest.NewRecorder()
	s.handleLogs(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var entries []logging.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
}
