// Package server exposes the engine over HTTP: a streaming chat endpoint
// plus bot administration.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	parley "github.com/novandi/parley"
	"github.com/novandi/parley/observer"
)

// Server routes HTTP requests to the engine and the bot store.
type Server struct {
	router *chi.Mux
	engine *parley.Engine
	store  parley.Store
	logger *slog.Logger
	inst   *observer.Instruments

	chatTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger for request handling.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithInstruments enables per-turn OTEL spans and metrics around chat
// requests.
func WithInstruments(inst *observer.Instruments) Option {
	return func(s *Server) { s.inst = inst }
}

// WithChatTimeout bounds a whole chat turn including handler execution.
func WithChatTimeout(d time.Duration) Option {
	return func(s *Server) { s.chatTimeout = d }
}

// NewServer creates a Server around an engine and its store.
//
// CORS is wide open at the transport layer; the engine enforces each bot's
// allowed-origin set per request.
func NewServer(engine *parley.Engine, store parley.Store, opts ...Option) *Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	s := &Server{
		router:      r,
		engine:      engine,
		store:       store,
		logger:      slog.Default(),
		chatTimeout: 120 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Post("/api/bots/{botID}/chat", s.handleChat)

	s.router.Post("/api/bots", s.handleCreateBot)
	s.router.Get("/api/bots", s.handleListBots)
	s.router.Get("/api/bots/{botID}", s.handleGetBot)
	s.router.Put("/api/bots/{botID}", s.handleUpdateBot)
	s.router.Delete("/api/bots/{botID}", s.handleDeleteBot)

	s.router.Put("/api/bots/{botID}/intents", s.handleUpsertIntent)
	s.router.Delete("/api/bots/{botID}/intents/{name}", s.handleDeleteIntent)
}

// Router returns the root handler for http.Server.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the streaming endpoint's JSON body.
type chatRequest struct {
	Messages []parley.ChatMessage `json:"messages"`
}

// handleChat streams framed engine output. The response is written
// incrementally; error status codes are only possible while nothing has been
// written yet.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reqCtx := parley.RequestContext{
		Origin:  r.Header.Get("Origin"),
		Host:    r.Host,
		Headers: flattenHeaders(r.Header),
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.chatTimeout)
	defer cancel()

	endTurn := func(error) {}
	if s.inst != nil {
		ctx, endTurn = s.inst.StartTurn(ctx, botID)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	tracked := &trackedWriter{inner: w}
	err := s.engine.Process(ctx, botID, req.Messages, reqCtx, tracked)
	endTurn(err)
	if err == nil {
		return
	}

	s.logger.Warn("chat turn ended with error", "bot_id", botID, "error", err)

	// Status codes only apply when the body is still empty.
	if tracked.wrote {
		return
	}

	var origin *parley.ErrOriginForbidden
	var proto *parley.ErrProtocolViolation
	switch {
	case errors.As(err, &origin):
		s.writeError(w, http.StatusForbidden, "origin not allowed for this bot")
	case errors.As(err, &proto):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "chat processing failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// flattenHeaders keeps the first value of each header for the handler's
// request context.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// trackedWriter records whether any body bytes were written and forwards
// Flush so the engine streams chunks immediately.
type trackedWriter struct {
	inner http.ResponseWriter
	wrote bool
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.inner.Write(p)
}

func (t *trackedWriter) Flush() {
	if f, ok := t.inner.(http.Flusher); ok {
		f.Flush()
	}
}
