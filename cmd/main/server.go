package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Babble/pkg/markov"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// Server wires the API handlers to one database and one model cache.
type Server struct {
	config    *ConfigManager
	db        *sql.DB
	logger    *slog.Logger
	store     *markov.Store
	models    *modelCache
	authAPI   *AuthAPI
	corpusAPI *CorpusAPI
	serverAPI *ServerAPI
	handler   http.Handler
}

func NewServer(config *ConfigManager, logger *slog.Logger, db *sql.DB, store *markov.Store, actionChan chan string) (*Server, error) {
	cfg := config.Get()

	models, err := newModelCache(store, cfg.Server.ModelCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating model cache: %w", err)
	}

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		store:     store,
		models:    models,
		authAPI:   NewAuthAPI(db, logger),
		corpusAPI: NewCorpusAPI(store, models, config, logger),
		serverAPI: NewServerAPI(config, store, models, actionChan, logger),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.corpusAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Everything except the health check passes through authentication first.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("/api/health", server.handleHealth)
	rootMux.Handle("/api/", server.authAPI.Authenticate(apiMux))

	server.handler = server.logRequests(rootMux)
	return server, nil
}

// Handler returns the root handler of the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// logRequests tags every request with an id, echoed in the response headers,
// and logs it once the handler returns.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.InfoContext(r.Context(), "Request handled",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
