// Package api hosts the JSON/HTTP surface over the session bridge.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castellanosj/warelay/pkg/bridge"
	"github.com/castellanosj/warelay/pkg/logging"
	"github.com/castellanosj/warelay/pkg/storage"
)

// Config controls the API server behavior.
type Config struct {
	BindAddress    string
	AllowedOrigins []string
}

// Server maps the bridge contract onto three HTTP verbs plus a
// websocket state stream.
type Server struct {
	cfg        Config
	bridge     *bridge.Bridge
	hub        *Hub
	log        *logging.Logger
	httpServer *http.Server
}

// NewServer constructs a server over the given bridge. The watcher
// feeds the websocket stream; pass nil to disable it.
func NewServer(cfg Config, b *bridge.Bridge, watcher storage.Watcher, log *logging.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:8380"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	if log == nil {
		log = logging.Discard()
	}

	s := &Server{
		cfg:    cfg,
		bridge: b,
		hub:    NewHub(log),
		log:    log,
	}
	if watcher != nil {
		watcher.AddObserver(storage.ObserverFunc(s.hub.OnStorageEvent))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)
	router.Use(s.loggingMiddleware)

	router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleOpenSession)
		r.Get("/{sessionID}", s.handlePollSession)
		r.Delete("/{sessionID}", s.handleCloseSession)
		r.Get("/{sessionID}/ws", s.handleSessionStream)
	})
	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown drains in-flight requests and closes stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

type openSessionRequest struct {
	OwnerID string `json:"ownerId"`
}

// sessionView is the caller-facing session shape. The artifact rides
// as base64 in JSON.
type sessionView struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	State     string    `json:"state"`
	Artifact  []byte    `json:"artifact,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewOf(sess *bridge.Session) sessionView {
	return sessionView{
		ID:        sess.ID,
		OwnerID:   sess.OwnerID,
		State:     string(sess.State),
		Artifact:  sess.Artifact,
		LastError: sess.LastError,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		respondError(w, http.StatusBadRequest, errors.New("ownerId is required"))
		return
	}

	sess, err := s.bridge.Open(r.Context(), req.OwnerID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handlePollSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.bridge.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.bridge.Close(r.Context(), id); err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, chi.URLParam(r, "sessionID"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
