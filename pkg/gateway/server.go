package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/taskchat/internal/metrics"
	"github.com/harun/taskchat/pkg/chat"
	"github.com/harun/taskchat/pkg/thread"
	"github.com/harun/taskchat/pkg/toolconn"
)

// Frame types exchanged over the WebSocket
const (
	FrameThreadCreate  = "thread.create"
	FrameThreadCreated = "thread.created"
	FrameChatSend      = "chat.send"
	FrameSessionEnd    = "session.end"
	FrameSessionEnded  = "session.ended"
	FrameError         = "error"
)

// Frame is one WebSocket message in either direction
type Frame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Prompt   string `json:"prompt,omitempty"`

	// Server to client
	ItemID  string            `json:"item_id,omitempty"`
	Role    string            `json:"role,omitempty"`
	Delta   string            `json:"delta,omitempty"`
	Content string            `json:"content,omitempty"`
	Tool    string            `json:"tool,omitempty"`
	Err     *chat.StreamError `json:"error,omitempty"`
}

// Server exposes the chat service over WebSocket plus health and metrics
// endpoints.
type Server struct {
	host           string
	port           int
	orchestrator   *chat.Orchestrator
	store          thread.Store
	cache          *toolconn.Cache
	verifier       TokenVerifier
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	server         *http.Server
	upgrader       websocket.Upgrader
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	Orchestrator *chat.Orchestrator
	Store        thread.Store
	Cache        *toolconn.Cache
	Verifier     TokenVerifier
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}

	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		cache:        cfg.Cache,
		verifier:     cfg.Verifier,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Handler builds the HTTP handler tree
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return s.withRequestID(mux)
}

// withRequestID tags every request with an ID for log correlation
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
	})
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	// Wait for in-flight streams with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight streams completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// client is one connected WebSocket peer. ctx is cancelled when the
// peer disconnects so in-flight streams stop instead of blocking on a
// dead socket.
type client struct {
	id         string
	userID     string
	credential string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleWebSocket authenticates and upgrades a client connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	userID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", r.RemoteAddr).Msg("Credential rejected")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:         clientID,
		userID:     userID,
		credential: "Bearer " + token,
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.logger.Info().
		Str("client_id", clientID).
		Str("user_id", userID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	s.handleClient(c)
}

// handleClient reads frames from a client until it disconnects
func (s *Server) handleClient(c *client) {
	defer func() {
		c.cancel()
		c.conn.Close()
		s.logger.Info().Str("client_id", c.id).Msg("Client disconnected")
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("client_id", c.id).Msg("WebSocket error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.sendError(c, &chat.StreamError{
				Kind:    chat.KindMalformedInput,
				Message: "frame is not valid JSON",
			})
			continue
		}

		s.handleFrame(c, frame)
	}
}

// handleFrame dispatches one client frame
func (s *Server) handleFrame(c *client, frame Frame) {
	switch frame.Type {
	case FrameThreadCreate:
		s.handleThreadCreate(c, frame)
	case FrameChatSend:
		s.handleChatSend(c, frame)
	case FrameSessionEnd:
		s.handleSessionEnd(c)
	default:
		s.sendError(c, &chat.StreamError{
			Kind:    chat.KindMalformedInput,
			Message: fmt.Sprintf("unknown frame type: %s", frame.Type),
		})
	}
}

func (s *Server) handleThreadCreate(c *client, frame Frame) {
	created, err := s.store.CreateThread(c.ctx, c.userID, frame.Title)
	if err != nil {
		s.sendError(c, chat.Classify(err))
		return
	}

	if err := c.writeJSON(Frame{
		Type:     FrameThreadCreated,
		ThreadID: created.ID,
		Title:    created.Title,
	}); err != nil {
		s.logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to send thread.created")
	}
}

func (s *Server) handleChatSend(c *client, frame Frame) {
	// The stream context is cancelled when the peer disconnects or a
	// write fails, which tears down the orchestrator run.
	streamCtx, cancel := context.WithCancel(c.ctx)

	events, err := s.orchestrator.Respond(streamCtx, chat.RespondParams{
		UserID:     c.userID,
		ThreadID:   frame.ThreadID,
		Credential: c.credential,
		Prompt:     frame.Prompt,
	})
	if err != nil {
		cancel()
		s.sendError(c, chat.Classify(err))
		return
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer cancel()

		for event := range events {
			out := Frame{
				Type:     event.Type,
				ThreadID: event.ThreadID,
				ItemID:   event.ItemID,
				Role:     event.Role,
				Delta:    event.Delta,
				Content:  event.Content,
				Tool:     event.Tool,
				Err:      event.Err,
			}
			if err := c.writeJSON(out); err != nil {
				s.logger.Warn().
					Err(err).
					Str("client_id", c.id).
					Msg("Failed to forward stream event, dropping stream")
				cancel()
				// Drain so the run goroutine can finish and close the channel
				for range events {
				}
				return
			}
		}
	}()
}

// handleSessionEnd invalidates the user's cached tool connection, used
// when the client knows its credential is being rotated or retired.
func (s *Server) handleSessionEnd(c *client) {
	if s.cache != nil {
		s.cache.Invalidate(context.Background(), c.userID)
	}
	if err := c.writeJSON(Frame{Type: FrameSessionEnded}); err != nil {
		s.logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to send session.ended")
	}
}

// sendError sends an error frame to a client
func (s *Server) sendError(c *client, streamErr *chat.StreamError) {
	if err := c.writeJSON(Frame{Type: FrameError, Err: streamErr}); err != nil {
		s.logger.Error().Err(err).Str("client_id", c.id).Msg("Failed to send error frame")
	}
}
