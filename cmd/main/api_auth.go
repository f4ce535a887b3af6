package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS babble_api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`

// authHeader carries the raw API key.
const authHeader = "babble-auth"

// primaryKeyID is the first key ever created. It holds the master scope and
// cannot be deleted.
const primaryKeyID = 1

var errKeyNotFound = errors.New("api key not found")

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

// APIKeyInfo describes a stored key. The raw key is never stored.
type APIKeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyRequest is the body of POST /api/auth/keys.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the only place a raw key is ever returned.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// keyStore keeps hashed API keys in the babble_api_keys table.
type keyStore struct {
	db *sql.DB
}

func (k *keyStore) count(ctx context.Context) (int, error) {
	var n int
	err := k.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM babble_api_keys").Scan(&n)
	return n, err
}

// lookup returns the scopes of rawKey, or errKeyNotFound.
func (k *keyStore) lookup(ctx context.Context, rawKey string) (scopeSet, error) {
	var stored string
	err := k.db.QueryRowContext(ctx, "SELECT scopes FROM babble_api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseScopes(stored), nil
}

func (k *keyStore) list(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := k.db.QueryContext(ctx, "SELECT id, description, scopes FROM babble_api_keys ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := make([]APIKeyInfo, 0)
	for rows.Next() {
		var info APIKeyInfo
		var stored string
		if err = rows.Scan(&info.ID, &info.Description, &stored); err != nil {
			return nil, err
		}
		info.Scopes = parseScopes(stored).list()
		keys = append(keys, info)
	}
	return keys, rows.Err()
}

// create stores a new random key. While the table is empty the key gets the
// master scope whatever was asked for, so the API can't lock itself out.
func (k *keyStore) create(ctx context.Context, scopes scopeSet, description string) (CreateKeyResponse, error) {
	n, err := k.count(ctx)
	if err != nil {
		return CreateKeyResponse{}, err
	}
	if n == 0 {
		scopes = newScopeSet(scopeMaster)
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return CreateKeyResponse{}, err
	}

	resp := CreateKeyResponse{RawKey: rawKey, Scopes: scopes.list()}
	err = k.db.QueryRowContext(ctx,
		"INSERT INTO babble_api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id",
		hashAPIKey(rawKey), description, scopes.String()).Scan(&resp.ID)
	return resp, err
}

func (k *keyStore) remove(ctx context.Context, id int) error {
	res, err := k.db.ExecContext(ctx, "DELETE FROM babble_api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errKeyNotFound
	}
	return nil
}

// AuthAPI serves /api/auth and authenticates every other API request.
type AuthAPI struct {
	keys   *keyStore
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		keys:   &keyStore{db: db},
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// Authenticate resolves the babble-auth header to a scope set and stores it
// in the request context. While no key exists the API is open and every
// request is granted the master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scopes, err := a.resolve(r)
		switch {
		case errors.Is(err, errKeyNotFound):
			respondWithError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		case err != nil:
			a.logger.ErrorContext(r.Context(), "Authentication failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, r.WithContext(withScopes(r.Context(), scopes)))
	})
}

func (a *AuthAPI) resolve(r *http.Request) (scopeSet, error) {
	n, err := a.keys.count(r.Context())
	if err != nil {
		return nil, fmt.Errorf("counting keys: %w", err)
	}
	if n == 0 {
		return newScopeSet(scopeMaster), nil
	}
	rawKey := r.Header.Get(authHeader)
	if rawKey == "" {
		return nil, errKeyNotFound
	}
	return a.keys.lookup(r.Context(), rawKey)
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	scopes, ok := scopesFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"scopes": scopes.list()})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) || !requireScope(w, r, scopeAuthManage) {
		return
	}
	if r.Method == http.MethodGet {
		keys, err := a.keys.list(r.Context())
		if err != nil {
			a.logger.ErrorContext(r.Context(), "Failed to list API keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Database query failed")
			return
		}
		respondWithJSON(w, http.StatusOK, keys)
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	for _, s := range req.Scopes {
		if !knownScope(s) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope '%s'", s))
			return
		}
	}

	created, err := a.keys.create(r.Context(), newScopeSet(req.Scopes...), req.Description)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to create API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}
	a.logger.InfoContext(r.Context(), "API key created", "id", created.ID, "scopes", strings.Join(created.Scopes, " "))
	respondWithJSON(w, http.StatusCreated, created)
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) || !requireScope(w, r, scopeAuthManage) {
		return
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if id == primaryKeyID {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	switch err = a.keys.remove(r.Context(), id); {
	case errors.Is(err, errKeyNotFound):
		respondWithError(w, http.StatusNotFound, "Key not found")
	case err != nil:
		a.logger.ErrorContext(r.Context(), "Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
	default:
		a.logger.InfoContext(r.Context(), "API key deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func knownScope(s string) bool {
	switch s {
	case scopeMaster, scopeCorpusRead, scopeCorpusWrite, scopeAuthManage,
		scopeServerRead, scopeServerConfig, scopeServerControl:
		return true
	}
	return false
}

// generateAPIKey returns "babl_" followed by 32 random bytes in hex.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "babl_" + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
