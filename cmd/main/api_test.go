package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CTAG07/Babble/pkg/markov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catCorpus = "The cat sat. The cat ran."

type testServer struct {
	handler    http.Handler
	config     *ConfigManager
	actionChan chan string
}

// newTestServer starts a server on a fresh database with a config file in
// a temporary directory.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	db, store, err := openStore(filepath.Join(dir, "data", "babble.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		_ = db.Close()
	})

	actionChan := make(chan string, 1)
	server, err := NewServer(cm, logger, db, store, actionChan)
	require.NoError(t, err)

	return &testServer{handler: server.Handler(), config: cm, actionChan: actionChan}
}

func (s *testServer) do(t *testing.T, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set(authHeader, key)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addCats(t *testing.T, name string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/corpora", `{"name":"`+name+`","order":1,"text":"`+catCorpus+`"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodPost, "/api/health", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCorpusLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.addCats(t, "cats")

	t.Run("List", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/corpora", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		corpora := decode[[]markov.CorpusInfo](t, rec)
		require.Len(t, corpora, 1)
		assert.Equal(t, "cats", corpora[0].Name)
		assert.Equal(t, 1, corpora[0].Order)
		assert.Equal(t, markov.DefaultCapitalizationThreshold, corpora[0].CapitalizationThreshold)
		assert.Equal(t, len(catCorpus), corpora[0].Size)
	})

	t.Run("Generate", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/cats/generate", `{"prompt":"The","min_words":4,"temperature":0,"count":2}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[GenerateResponse](t, rec)
		assert.Equal(t, "cats", resp.Corpus)
		assert.Equal(t, []string{"The cat sat.", "The cat sat."}, resp.Sentences)
	})

	t.Run("GenerateSeeded", func(t *testing.T) {
		body := `{"min_words":4,"seed":42,"count":3}`
		first := decode[GenerateResponse](t, s.do(t, http.MethodPost, "/api/corpora/cats/generate", body, ""))
		second := decode[GenerateResponse](t, s.do(t, http.MethodPost, "/api/corpora/cats/generate", body, ""))
		assert.Len(t, first.Sentences, 3)
		assert.Equal(t, first.Sentences, second.Sentences)
	})

	t.Run("GenerateEmptyBody", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/cats/generate", "", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[GenerateResponse](t, rec)
		require.Len(t, resp.Sentences, 1)
		assert.True(t, strings.HasSuffix(resp.Sentences[0], "."))
	})

	t.Run("Stream", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/cats/generate?stream=true", `{"prompt":"The","min_words":4,"temperature":0}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "The cat sat.\n", rec.Body.String())
	})

	t.Run("Stats", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/corpora/cats/stats", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[CorpusStatsResponse](t, rec)
		assert.Equal(t, "cats", stats.Corpus.Name)
		assert.Equal(t, 8, stats.Model.Tokens)
		assert.Equal(t, 1, stats.Model.Order)

		rec = s.do(t, http.MethodGet, "/api/server/stats", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		server := decode[ServerStats](t, rec)
		assert.Equal(t, 1, server.Store.Corpora)
		assert.Equal(t, 1, server.CachedModels)
	})

	t.Run("ExportImport", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/corpora/cats/export", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="cats.json"`)
		exported := rec.Body.String()

		rec = s.do(t, http.MethodPost, "/api/corpora/import/copy", exported, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		info := decode[markov.CorpusInfo](t, rec)
		assert.Equal(t, "copy", info.Name)
		assert.Equal(t, 1, info.Order)

		rec = s.do(t, http.MethodPost, "/api/corpora/copy/generate", `{"prompt":"The","min_words":4,"temperature":0}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []string{"The cat sat."}, decode[GenerateResponse](t, rec).Sentences)

		rec = s.do(t, http.MethodPost, "/api/corpora/import/copy", exported, "")
		assert.Equal(t, http.StatusConflict, rec.Code, "imports never merge into an existing corpus")

		rec = s.do(t, http.MethodPost, "/api/corpora/import/other", "not json", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, "/api/corpora/cats", "", "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, http.MethodPost, "/api/corpora/cats/generate", `{}`, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = s.do(t, http.MethodDelete, "/api/corpora/cats", "", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCorpusAPIErrors(t *testing.T) {
	s := newTestServer(t)
	s.addCats(t, "cats")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"Duplicate name", http.MethodPost, "/api/corpora", `{"name":"cats","order":1,"text":"` + catCorpus + `"}`, http.StatusConflict},
		{"Invalid name", http.MethodPost, "/api/corpora", `{"name":"no spaces","text":"` + catCorpus + `"}`, http.StatusBadRequest},
		{"Reserved name", http.MethodPost, "/api/corpora", `{"name":"import","text":"` + catCorpus + `"}`, http.StatusBadRequest},
		{"Malformed body", http.MethodPost, "/api/corpora", `{"name":`, http.StatusBadRequest},
		{"Corpus too small", http.MethodPost, "/api/corpora", `{"name":"tiny","order":1,"text":"hello"}`, http.StatusUnprocessableEntity},
		{"Invalid order", http.MethodPost, "/api/corpora", `{"name":"neg","order":-1,"text":"` + catCorpus + `"}`, http.StatusBadRequest},
		{"Count too large", http.MethodPost, "/api/corpora/cats/generate", `{"count":101}`, http.StatusBadRequest},
		{"Negative min words", http.MethodPost, "/api/corpora/cats/generate", `{"min_words":-1}`, http.StatusBadRequest},
		{"Unknown corpus", http.MethodGet, "/api/corpora/dogs/stats", "", http.StatusNotFound},
		{"Unknown action", http.MethodGet, "/api/corpora/cats/unknown", "", http.StatusNotFound},
		{"Wrong method", http.MethodGet, "/api/corpora/cats/generate", "", http.StatusMethodNotAllowed},
		{"Wrong collection method", http.MethodPut, "/api/corpora", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestGenerationLimit(t *testing.T) {
	s := newTestServer(t)
	// Greedy sampling from "a" cycles through "a b" and never reaches the end-mark.
	rec := s.do(t, http.MethodPost, "/api/corpora", `{"name":"loop","order":1,"text":"a b a b a b a b. c d"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cfg := s.config.Get()
	cfg.Generator.MinWordCount = 2
	cfg.Server.MaxTokens = 2
	require.NoError(t, s.config.Update(cfg))

	rec = s.do(t, http.MethodPost, "/api/corpora/loop/generate", `{"prompt":"a","min_words":2,"temperature":0}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestStreamErrors(t *testing.T) {
	s := newTestServer(t)
	// No end-mark, so an unseen phrase has nowhere to restart from.
	rec := s.do(t, http.MethodPost, "/api/corpora", `{"name":"mat","order":1,"text":"the cat sat on the mat"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("Before any output", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/mat/generate?stream=true", `{"min_words":1}`, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		rec = s.do(t, http.MethodPost, "/api/corpora/mat/generate", `{"min_words":1}`, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "streamed and plain generation agree")
	})

	t.Run("After the prompt", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/mat/generate?stream=true", `{"prompt":"mat","min_words":1}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Mat", rec.Body.String())

		res := rec.Result()
		_, _ = io.ReadAll(res.Body)
		assert.Contains(t, res.Trailer.Get(generationErrorTrailer), markov.ErrInsufficientCorpus.Error())
	})

	t.Run("Token limit", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/corpora/mat/generate?stream=true", `{"prompt":"the","min_words":20,"temperature":0}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "The cat sat on the cat"), rec.Body.String())

		res := rec.Result()
		_, _ = io.ReadAll(res.Body)
		assert.Contains(t, res.Trailer.Get(generationErrorTrailer), markov.ErrGenerationLimit.Error())
	})
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	// With no keys the API is open.
	rec := s.do(t, http.MethodGet, "/api/auth/me", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scopes":["*"]}`, rec.Body.String())

	// The first key always receives the master scope.
	rec = s.do(t, http.MethodPost, "/api/auth/keys", `{"scopes":["corpus:read"],"description":"admin"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	master := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{scopeMaster}, master.Scopes)
	assert.True(t, strings.HasPrefix(master.RawKey, "babl_"))

	rec = s.do(t, http.MethodGet, "/api/corpora", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/corpora", "", "babl_wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/keys", `{"scopes":["corpus:read"],"description":"reader"}`, master.RawKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reader := decode[CreateKeyResponse](t, rec)
	assert.Equal(t, []string{scopeCorpusRead}, reader.Scopes)

	rec = s.do(t, http.MethodPost, "/api/auth/keys", `{"scopes":["corpus:everything"]}`, master.RawKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/auth/keys", "", master.RawKey)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, rec.Header().Values("Allow"))

	rec = s.do(t, http.MethodGet, "/api/auth/me", "", reader.RawKey)
	assert.JSONEq(t, `{"scopes":["corpus:read"]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/corpora", "", reader.RawKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/corpora", `{"name":"cats","text":"`+catCorpus+`"}`, reader.RawKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/auth/keys", "", reader.RawKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/auth/keys", "", master.RawKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]APIKeyInfo](t, rec), 2)

	// The health check never requires a key.
	rec = s.do(t, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/auth/keys/1", "", master.RawKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/auth/keys/99", "", master.RawKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/auth/keys/2", "", master.RawKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/corpora", "", reader.RawKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerConfigAPI(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/server/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[Config](t, rec)
	assert.Equal(t, DefaultGeneratorConfig(), cfg.Generator)

	rec = s.do(t, http.MethodPut, "/api/server/config", `{"generator_config":{"temperature":0.5}}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.5, s.config.Get().Generator.Temperature)
	assert.Equal(t, markov.DefaultOrder, s.config.Get().Generator.Order, "fields absent from the body are kept")

	rec = s.do(t, http.MethodPut, "/api/server/config", `{"generator_config":{"order":0}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, markov.DefaultOrder, s.config.Get().Generator.Order)

	rec = s.do(t, http.MethodGet, "/api/server/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, decode[VersionInfo](t, rec).Version)
}

func TestServerControl(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/server/restart", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/server/restart", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case action := <-s.actionChan:
		assert.Equal(t, actionRestart, action)
	case <-time.After(time.Second):
		t.Fatal("restart action was not sent")
	}
}
