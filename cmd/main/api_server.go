package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Babble/pkg/markov"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	config     *ConfigManager
	store      *markov.Store
	models     *modelCache
	actionChan chan string
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// ServerStats reports the stored corpora and the model cache.
type ServerStats struct {
	Store        *markov.DBStats `json:"store"`
	CachedModels int             `json:"cached_models"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(config *ConfigManager, store *markov.Store, models *modelCache, actionChan chan string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		config:     config,
		store:      store,
		models:     models,
		actionChan: actionChan,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/stats", a.handleStats)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		respondWithJSON(w, http.StatusOK, a.config.Get())
	case http.MethodPut:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		newConfig := a.config.Get()
		if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		if err := a.config.Update(newConfig); err != nil {
			code := statusForError(err)
			if code == http.StatusInternalServerError {
				a.logger.ErrorContext(r.Context(), "Failed to save configuration", "error", err)
			}
			respondWithError(w, code, fmt.Sprintf("Configuration rejected: %v", err))
			return
		}

		a.logger.InfoContext(r.Context(), "Configuration updated and saved via API. Address, log level and database changes apply after a restart.")
		respondWithJSON(w, http.StatusOK, a.config.Get())
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeServerRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

// handleStats reports corpus sizes and the number of cached models.
func (a *ServerAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeServerRead) {
		return
	}
	stats, err := a.store.GetStats(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to get store stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	respondWithJSON(w, http.StatusOK, ServerStats{Store: stats, CachedModels: a.models.Len()})
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, actionShutdown, "Server is shutting down...")
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, actionRestart, "Server is restarting...")
}

func (a *ServerAPI) control(w http.ResponseWriter, r *http.Request, action, message string) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.WarnContext(r.Context(), "Server "+action+" initiated via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})

	go func() {
		a.actionChan <- action
	}()
}
