// ABOUTME: HTTP server assembling the relay's websocket and API surface
// ABOUTME: Wires registry, router, rate limiter, tag client, and agent gateway

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agora-relay/internal/agentgw"
	"github.com/2389/agora-relay/internal/config"
	"github.com/2389/agora-relay/internal/event"
	"github.com/2389/agora-relay/internal/metrics"
	"github.com/2389/agora-relay/internal/ratelimit"
	"github.com/2389/agora-relay/internal/registry"
	"github.com/2389/agora-relay/internal/tagsvc"
)

// Server is the relay process: one websocket endpoint for clients, a small
// HTTP API for the external agent service, and the orchestration between
// them. It holds no state that survives a restart.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	router   *Router
	tags     *tagsvc.Client
	agent    *agentgw.Gateway
	limiter  *ratelimit.Limiter
	http     *http.Server

	mu    sync.RWMutex
	conns map[uuid.UUID]*registry.Conn

	ctx context.Context
	wg  sync.WaitGroup
}

// NewServer wires the relay from configuration. The returned server does
// not listen until Run is called.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(logger),
		tags:     tagsvc.New(cfg.Agent.TagURL, cfg.Agent.Secret, cfg.Agent.HTTPTimeout, logger),
		agent:    agentgw.New(cfg.Agent.WebhookURL, cfg.Agent.Secret, cfg.Agent.HTTPTimeout, logger),
		limiter:  ratelimit.New(cfg.Agent.RateLimitWindow),
		conns:    make(map[uuid.UUID]*registry.Conn),
		ctx:      ctx,
	}
	s.router = NewRouter(s.registry, s.tags, s.agent, s.limiter, s, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/generate-tags", s.handleGenerateTags)
	mux.HandleFunc("/api/agent-response", s.handleAgentResponse)
	mux.HandleFunc("/", s.handleRoot)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	s.http = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	return s
}

// Run serves until the server's context is cancelled, then shuts down
// gracefully.
func (s *Server) Run() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-s.ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting requests, closes every client connection, and
// waits for the connection pumps to finish.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown", "error", err)
	}

	s.registry.CloseAll(errors.New("server shutting down"))
	s.wg.Wait()
	s.limiter.Close()

	s.logger.Info("shut down cleanly")
	return nil
}

// handleWS upgrades the request and runs the connection until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	conn := registry.NewConn(s.ctx, ws, registry.ConnConfig{}, s.router.HandleMessage, s.onConnClose, s.logger)

	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
	s.registry.Register(conn)
	metrics.Connections.Inc()
	s.logger.Info("client connected", "conn_id", conn.ID(), "remote_addr", r.RemoteAddr)

	s.wg.Add(1)
	conn.Run()
	<-conn.Done()
	s.wg.Done()
}

// onConnClose deregisters a connection once its pumps have stopped.
func (s *Server) onConnClose(id uuid.UUID, err error) {
	s.registry.Unregister(id)
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	metrics.Connections.Dec()
	s.logger.Info("client disconnected", "conn_id", id, "reason", err)
}

// RecordUser implements UserDirectory for the router.
func (s *Server) RecordUser(connID uuid.UUID, userID string) {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()
	if ok {
		conn.SetUserID(userID)
	}
}

// UserID implements UserDirectory for the router.
func (s *Server) UserID(connID uuid.UUID) string {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return ""
	}
	return conn.UserID()
}

// generateTagsRequest is the JSON request body for POST /api/generate-tags.
type generateTagsRequest struct {
	Content  string `json:"content"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// agentResponseRequest is the JSON request body for POST /api/agent-response.
type agentResponseRequest struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	AgentID   string `json:"agent_id"`
}

// handleGenerateTags handles POST /api/generate-tags: a direct HTTP path to
// the tag service for clients that tag content outside the realtime flow.
func (s *Server) handleGenerateTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req generateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	tags, err := s.tags.Generate(r.Context(), req.Content, req.UserID, req.UserName)
	if err != nil {
		s.logger.Error("tag generation failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "tag generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"tags": tags})
}

// handleAgentResponse handles POST /api/agent-response: the callback path
// the agent service uses to deliver an answer. Any authenticated callback
// is broadcast to every connection; thread and message ids are logged but
// not correlated against a pending-request table.
func (s *Server) handleAgentResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !s.agent.Authorize(r.Header.Get("Authorization")) {
		metrics.AgentCallbacks.WithLabelValues("unauthorized").Inc()
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req agentResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = event.DefaultAgentID
	}

	msg := event.ChatMessage{
		Message:   req.Text,
		Author:    event.AgentAuthor,
		AuthorID:  agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := event.Marshal(event.TypeReceiveMessage, msg)
	if err != nil {
		s.logger.Error("encoding agent response", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	delivered := s.registry.Broadcast(data, uuid.Nil)
	metrics.Broadcasts.Inc()
	metrics.AgentCallbacks.WithLabelValues("success").Inc()
	s.logger.Info("agent response broadcast",
		"thread_id", req.ThreadID,
		"message_id", req.MessageID,
		"agent_id", agentID,
		"delivered", delivered)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// handleRoot answers the liveness probe.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, "Welcome to the Discussion Platform!!")
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
