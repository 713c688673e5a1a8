// Package stream serves live avatar snapshots to browser viewers over a
// websocket, next to health, metrics and log endpoints.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/speakavatar/internal/bus"
	"github.com/normanking/speakavatar/internal/logging"
	"github.com/normanking/speakavatar/internal/metrics"
	"github.com/normanking/speakavatar/internal/speak"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 120 * time.Second
	clientBuffer    = 8
	defaultLogTail  = 100
)

// SnapshotSource supplies the current session state.
type SnapshotSource interface {
	Snapshot() speak.Snapshot
}

// LogSource supplies recent log lines.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

// Config configures the stream server
type Config struct {
	Addr           string
	AllowedOrigins []string // "*" allows any origin
	Interval       time.Duration

	// PongWait is how long a viewer may stay silent. Pings go out at 9/10 of
	// it so listening-only viewers keep answering.
	PongWait time.Duration
}

// Message is one websocket frame sent to viewers.
type Message struct {
	Type     string          `json:"type"` // "snapshot" or "event"
	Snapshot *speak.Snapshot `json:"snapshot,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     map[string]any  `json:"data,omitempty"`
}

type client struct {
	send chan Message
}

// Server broadcasts snapshots to every connected viewer.
type Server struct {
	cfg      Config
	source   SnapshotSource
	logs     LogSource
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New creates a stream server. logs, eventBus and m may be nil.
func New(cfg Config, source SnapshotSource, logs LogSource, eventBus *bus.EventBus, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 33 * time.Millisecond
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}

	s := &Server{
		cfg:     cfg,
		source:  source,
		logs:    logs,
		metrics: m,
		logger:  logger.With().Str("component", "stream").Logger(),
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	if eventBus != nil {
		eventBus.SubscribeMultiple([]bus.EventType{
			bus.EventTypeSessionRequesting,
			bus.EventTypeSessionPlaying,
			bus.EventTypeSessionEnded,
			bus.EventTypeSessionFailed,
			bus.EventTypeSessionStopped,
			bus.EventTypeTranscript,
			bus.EventTypeAssetLoaded,
			bus.EventTypeAssetFallback,
		}, func(e bus.Event) {
			s.broadcast(Message{Type: "event", Event: string(e.Type), Data: e.Data})
		})
	}

	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/logs", s.handleLogs)
	r.Get("/ws", s.handleWS)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	return r
}

// Run serves on cfg.Addr and broadcasts a snapshot every interval until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("Frame stream listening")
		errCh <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.closeClients()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			s.Broadcast()
		}
	}
}

// Broadcast sends the current snapshot to every viewer.
func (s *Server) Broadcast() {
	snap := s.source.Snapshot()
	s.broadcast(Message{Type: "snapshot", Snapshot: &snap})
}

// Clients returns the number of connected viewers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// broadcast drops the message for viewers whose queue is full.
func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.StreamClients.Set(float64(n))
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	n := len(s.clients)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.StreamClients.Set(float64(n))
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients omit Origin.
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.Clients(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.source.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		respondJSON(w, http.StatusOK, []logging.LogEntry{})
		return
	}
	limit := defaultLogTail
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, s.logs.GetHistory(limit))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{send: make(chan Message, clientBuffer)}
	s.register(c)
	defer s.unregister(c)
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Viewer connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ping := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ping.Stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			case msg, ok := <-c.send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(writeWait))
					cancel()
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Viewers never send anything meaningful; reading keeps pongs and close
	// frames flowing.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Viewer disconnected")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
