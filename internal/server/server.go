// Package server exposes the narration coordinator over a WebSocket control
// channel plus a couple of HTTP inspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/yomiage/internal/bus"
	"github.com/normanking/yomiage/internal/logging"
	"github.com/rs/zerolog"
)

// Narrator is the inbound coordinator surface the server drives.
type Narrator interface {
	Start(prompt string)
	Stop()
	TextEdited(prompt string)
}

// EngineProber reports whether the synthesis engine is reachable.
type EngineProber interface {
	Version(ctx context.Context) (string, error)
}

// LogSource serves recent log entries.
type LogSource interface {
	History(limit int) []logging.Entry
}

// Config holds server configuration.
type Config struct {
	Addr string
}

// Server accepts UI clients, forwards their commands to the coordinator and
// broadcasts state snapshots published on the event bus.
type Server struct {
	config   *Config
	logger   zerolog.Logger
	narrator Narrator
	engine   EngineProber
	logs     LogSource
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu        sync.Mutex
	clients   map[*client]struct{}
	lastState []byte // latest state frame, replayed to new clients
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Server and subscribes it to the event bus.
func New(cfg *Config, narrator Narrator, events *bus.EventBus, engine EngineProber, logs LogSource, logger zerolog.Logger) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		narrator: narrator,
		engine:   engine,
		logs:     logs,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local control surface; the UI page is served from the same host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	events.Subscribe(bus.EventTypeStateChanged, s.onStateChanged)
	events.Subscribe(bus.EventTypePlaybackErr, s.onPlaybackError)
	return s
}

// ListenAndServe blocks serving clients until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/logs", s.handleLogs)

	s.httpSrv = &http.Server{Addr: s.config.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.config.Addr).Msg("Server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	if s.lastState != nil {
		c.send <- s.lastState
	}
	s.mu.Unlock()

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")
	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer s.dropClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := decodeInbound(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Rejected client message")
			continue
		}

		switch msg.Type {
		case msgStart:
			s.narrator.Start(msg.Text)
		case msgStop:
			s.narrator.Stop()
		case msgEdit:
			s.narrator.TextEdited(msg.Text)
		}
	}
}

func (s *Server) writePump(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn().Msg("Client send buffer full, dropping frame")
		}
	}
}

func (s *Server) onStateChanged(ev bus.Event) {
	frame := stateMessage{Type: "state"}
	if v, ok := ev.Data["canStart"].(bool); ok {
		frame.CanStart = v
	}
	if v, ok := ev.Data["speaking"].(bool); ok {
		frame.Speaking = v
	}
	if v, ok := ev.Data["segments"].([]string); ok {
		frame.Segments = v
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.lastState = data
	s.mu.Unlock()
	s.broadcast(data)
}

func (s *Server) onPlaybackError(ev bus.Event) {
	msg, _ := ev.Data["message"].(string)
	data, err := json.Marshal(errorMessage{Type: "error", Message: msg})
	if err != nil {
		return
	}
	s.broadcast(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	version, err := s.engine.Version(ctx)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "engine": version})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.logs.History(200))
}
