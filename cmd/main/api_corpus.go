package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/CTAG07/Babble/pkg/markov"
)

// maxSentencesPerRequest bounds the count field of a generate request.
const maxSentencesPerRequest = 100

var corpusNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// validateCorpusName rejects names that can't be used as a single URL path
// segment. "import" is reserved by the import route.
func validateCorpusName(name string) error {
	if !corpusNamePattern.MatchString(name) || name == "import" {
		return fmt.Errorf("%w: invalid corpus name %q", markov.ErrInvalidConfiguration, name)
	}
	return nil
}

// CorpusAPI holds the dependencies for the corpus API handlers.
type CorpusAPI struct {
	store  *markov.Store
	models *modelCache
	config *ConfigManager
	logger *slog.Logger
}

// NewCorpusAPI creates a new instance of the CorpusAPI.
func NewCorpusAPI(store *markov.Store, models *modelCache, config *ConfigManager, logger *slog.Logger) *CorpusAPI {
	return &CorpusAPI{
		store:  store,
		models: models,
		config: config,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/corpora endpoints.
func (a *CorpusAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/corpora", a.handleListAndCreate)
	mux.HandleFunc("/api/corpora/", a.handleCorpusByName)
	mux.HandleFunc("/api/corpora/import/", a.handleImport)
}

// CreateCorpusRequest is the expected JSON body for adding a corpus. Zero
// settings fall back to the generator configuration.
type CreateCorpusRequest struct {
	Name                    string  `json:"name"`
	Order                   int     `json:"order"`
	CapitalizationThreshold float64 `json:"capitalization_threshold"`
	MinFrequency            int     `json:"min_frequency"`
	Text                    string  `json:"text"`
}

// GenerateRequest is the JSON body of a generate request. Every field is
// optional.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	MinWords    int      `json:"min_words"`
	Count       int      `json:"count"`
	Seed        *uint64  `json:"seed"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
}

// GenerateResponse carries the generated sentences.
type GenerateResponse struct {
	Corpus    string   `json:"corpus"`
	Sentences []string `json:"sentences"`
}

// CorpusStatsResponse combines the stored metadata with the model statistics.
type CorpusStatsResponse struct {
	Corpus markov.CorpusInfo `json:"corpus"`
	Model  markov.ModelStats `json:"model"`
}

// respondWithStoreError maps err to a status code and logs unexpected failures.
func (a *CorpusAPI) respondWithStoreError(w http.ResponseWriter, r *http.Request, err error, action string) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), action+" failed", "path", r.URL.Path, "error", err)
	}
	respondWithError(w, code, fmt.Sprintf("%s failed: %v", action, err))
}

// ensureCorpusAbsent returns errCorpusExists when name is taken.
func ensureCorpusAbsent(ctx context.Context, store *markov.Store, name string) error {
	_, err := store.GetCorpusInfo(ctx, name)
	if err == nil {
		return fmt.Errorf("%w: '%s'", errCorpusExists, name)
	}
	if errors.Is(err, markov.ErrCorpusNotFound) {
		return nil
	}
	return err
}

// handleListAndCreate handles GET for listing and POST for adding corpora.
func (a *CorpusAPI) handleListAndCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeCorpusRead) {
			return
		}
		corpora, err := a.store.GetCorpusInfos(r.Context())
		if err != nil {
			a.respondWithStoreError(w, r, err, "Listing corpora")
			return
		}
		respondWithJSON(w, http.StatusOK, corpora)

	case http.MethodPost:
		if !requireScope(w, r, scopeCorpusWrite) {
			return
		}
		cfg := a.config.Get()
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadBytes)

		var req CreateCorpusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if err := validateCorpusName(req.Name); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := ensureCorpusAbsent(r.Context(), a.store, req.Name); err != nil {
			a.respondWithStoreError(w, r, err, "Adding corpus")
			return
		}

		info := markov.CorpusInfo{
			Name:                    req.Name,
			Order:                   orDefault(req.Order, cfg.Generator.Order),
			CapitalizationThreshold: orDefault(req.CapitalizationThreshold, cfg.Generator.CapitalizationThreshold),
			MinFrequency:            orDefault(req.MinFrequency, cfg.Generator.MinFrequency),
		}
		info, err := a.store.InsertCorpus(r.Context(), info, strings.NewReader(req.Text))
		if err != nil {
			a.respondWithStoreError(w, r, err, "Adding corpus")
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCorpusByName routes actions for a specific corpus: generate, export, stats and delete.
func (a *CorpusAPI) handleCorpusByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/corpora/"), "/")
	parts := strings.Split(path, "/")
	name := parts[0]

	if name == "" || len(parts) > 2 {
		respondWithError(w, http.StatusNotFound, "Corpus not specified")
		return
	}

	if len(parts) == 1 { // Path is just /api/corpora/{name}
		if !allowMethod(w, r, http.MethodDelete) || !requireScope(w, r, scopeCorpusWrite) {
			return
		}
		a.deleteCorpus(w, r, name)
		return
	}

	switch parts[1] {
	case "generate":
		if allowMethod(w, r, http.MethodPost) && requireScope(w, r, scopeCorpusRead) {
			a.generate(w, r, name)
		}
	case "export":
		if allowMethod(w, r, http.MethodGet) && requireScope(w, r, scopeCorpusRead) {
			a.export(w, r, name)
		}
	case "stats":
		if allowMethod(w, r, http.MethodGet) && requireScope(w, r, scopeCorpusRead) {
			a.stats(w, r, name)
		}
	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

func (a *CorpusAPI) deleteCorpus(w http.ResponseWriter, r *http.Request, name string) {
	info, err := a.store.GetCorpusInfo(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, r, err, "Removing corpus")
		return
	}
	if err = a.store.RemoveCorpus(r.Context(), info); err != nil {
		a.respondWithStoreError(w, r, err, "Removing corpus")
		return
	}
	a.models.Remove(name)
	w.WriteHeader(http.StatusNoContent)
}

func (a *CorpusAPI) generate(w http.ResponseWriter, r *http.Request, name string) {
	cfg := a.config.Get()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	minWords := orDefault(req.MinWords, cfg.Generator.MinWordCount)
	count := orDefault(req.Count, 1)
	if count < 1 || count > maxSentencesPerRequest {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", maxSentencesPerRequest))
		return
	}

	ctx := r.Context()
	if cfg.Server.RequestTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Server.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	m, err := a.models.Get(ctx, name)
	if err != nil {
		a.respondWithStoreError(w, r, err, "Loading model")
		return
	}

	sampling := samplingConfig{
		Temperature: cfg.Generator.Temperature,
		TopK:        cfg.Generator.TopK,
		MaxTokens:   cfg.Server.MaxTokens,
		Seed:        req.Seed,
	}
	if req.Temperature != nil {
		sampling.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		sampling.TopK = *req.TopK
	}

	if r.URL.Query().Get("stream") == "true" {
		a.streamSentence(ctx, w, m, req.Prompt, minWords, sampling.options(0))
		return
	}

	sentences := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sentence, err := m.Generate(ctx, req.Prompt, minWords, sampling.options(i)...)
		if err != nil {
			a.respondWithStoreError(w, r, err, "Generation")
			return
		}
		sentences = append(sentences, sentence)
	}
	respondWithJSON(w, http.StatusOK, GenerateResponse{Corpus: name, Sentences: sentences})
}

// generationErrorTrailer carries the error of a stream that failed after
// its 200 header was sent.
const generationErrorTrailer = "X-Generation-Error"

// streamSentence writes rendered tokens as plain text while they are sampled.
// The status is sent with the first token, so a stream that fails before
// producing anything gets a regular error response.
func (a *CorpusAPI) streamSentence(ctx context.Context, w http.ResponseWriter, m *markov.Model, prompt string, minWords int, opts []markov.GenerateOption) {
	tokens, err := m.GenerateStream(ctx, prompt, minWords, opts...)
	if err != nil {
		respondWithError(w, statusForError(err), err.Error())
		return
	}

	first, ok := <-tokens
	switch {
	case !ok:
		err = context.Cause(ctx)
		if err == nil {
			err = errors.New("stream closed without output")
		}
		respondWithError(w, statusForError(err), fmt.Sprintf("Generation failed: %v", err))
		return
	case first.Err != nil:
		respondWithError(w, statusForError(first.Err), fmt.Sprintf("Generation failed: %v", first.Err))
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Trailer", generationErrorTrailer)
	w.WriteHeader(http.StatusOK)

	write := func(text string) bool {
		if _, err := io.WriteString(w, text); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}
	if !write(first.Text) {
		return
	}
	for tok := range tokens {
		if tok.Err != nil {
			a.logger.WarnContext(ctx, "Generation stream failed", "error", tok.Err)
			w.Header().Set(generationErrorTrailer, tok.Err.Error())
			return
		}
		if !write(tok.Text) {
			return
		}
	}
	if err = ctx.Err(); err != nil {
		w.Header().Set(generationErrorTrailer, err.Error())
		return
	}
	_, _ = io.WriteString(w, "\n")
}

func (a *CorpusAPI) export(w http.ResponseWriter, r *http.Request, name string) {
	m, err := a.models.Get(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, r, err, "Loading model")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", name))
	if err = m.Export(w); err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to export model", "corpus", name, "error", err)
	}
}

func (a *CorpusAPI) stats(w http.ResponseWriter, r *http.Request, name string) {
	info, err := a.store.GetCorpusInfo(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, r, err, "Loading corpus")
		return
	}
	m, err := a.models.Get(r.Context(), name)
	if err != nil {
		a.respondWithStoreError(w, r, err, "Loading model")
		return
	}
	respondWithJSON(w, http.StatusOK, CorpusStatsResponse{Corpus: info, Model: m.Stats()})
}

// handleImport stores an exported model as a new corpus.
func (a *CorpusAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeCorpusWrite) {
		return
	}

	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/corpora/import/"), "/")
	if err := validateCorpusName(name); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ensureCorpusAbsent(r.Context(), a.store, name); err != nil {
		a.respondWithStoreError(w, r, err, "Import")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.Get().Server.MaxUploadBytes)
	info, err := a.store.ImportModel(r.Context(), name, r.Body)
	if err != nil {
		code := statusForError(err)
		if code == http.StatusInternalServerError {
			// Anything the store did not classify is malformed input.
			code = http.StatusBadRequest
		}
		respondWithError(w, code, fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusCreated, info)
}

func orDefault[T int | float64](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}
