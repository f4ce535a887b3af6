package markov

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SetupSchema initializes the corpus table in the provided database. This
// function should be called once on a new database before a Store is
// created. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {

	const schemaCorpora = `
CREATE TABLE IF NOT EXISTS babble_corpora (
    corpus_id INTEGER PRIMARY KEY,
    corpus_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL,
    cap_threshold REAL NOT NULL,
    min_frequency INTEGER NOT NULL DEFAULT 1,
    corpus_text TEXT NOT NULL,
    model_json TEXT
);
`

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaCorpora); err != nil {
		return fmt.Errorf("could not create corpora schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// CorpusInfo holds the metadata for a stored corpus: its unique ID, name,
// the settings its model is built with, and the size of its text in bytes.
type CorpusInfo struct {
	Id                      int     `json:"id"`
	Name                    string  `json:"name"`
	Order                   int     `json:"order"`
	CapitalizationThreshold float64 `json:"capitalization_threshold"`
	MinFrequency            int     `json:"min_frequency"`
	Size                    int     `json:"size"`
}

// modelOptions returns the construction options stored with the corpus.
func (c CorpusInfo) modelOptions() []ModelOption {
	return []ModelOption{
		WithOrder(c.Order),
		WithCapitalizationThreshold(c.CapitalizationThreshold),
		WithMinFrequency(c.MinFrequency),
	}
}

// Store is a SQLite-backed registry of named corpora. Corpora added as text
// store the text and build settings; models are rebuilt from the text on
// load. Imported corpora also keep the exported model, which is what they
// are rebuilt from. Either way a stored corpus always yields the same model.
type Store struct {
	db                *sql.DB
	tokenizer         Tokenizer
	stmtGetCorpusInfo *sql.Stmt
	stmtGetCorpora    *sql.Stmt
	stmtAddCorpus     *sql.Stmt
	stmtGetCorpusText *sql.Stmt
	stmtRemoveCorpus  *sql.Stmt
	logger            *slog.Logger
}

// NewStore creates and returns a new Store. It takes a database connection
// and the Tokenizer every loaded model is built with (nil selects the
// default tokenizer). It pre-compiles all necessary SQL statements,
// returning an error if any preparation fails.
func NewStore(db *sql.DB, tokenizer Tokenizer) (*Store, error) {
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}

	stmtGetCorpusInfo, err := db.Prepare(`SELECT corpus_id, model_order, cap_threshold, min_frequency, LENGTH(CAST(corpus_text AS BLOB)) FROM babble_corpora WHERE corpus_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetCorpora, err := db.Prepare(`SELECT corpus_id, corpus_name, model_order, cap_threshold, min_frequency, LENGTH(CAST(corpus_text AS BLOB)) FROM babble_corpora ORDER BY corpus_name;`)
	if err != nil {
		return nil, err
	}

	stmtAddCorpus, err := db.Prepare(`INSERT INTO babble_corpora (corpus_name, model_order, cap_threshold, min_frequency, corpus_text, model_json) VALUES (?, ?, ?, ?, ?, ?) RETURNING corpus_id;`)
	if err != nil {
		return nil, err
	}

	stmtGetCorpusText, err := db.Prepare(`SELECT corpus_text, model_json FROM babble_corpora WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtRemoveCorpus, err := db.Prepare(`DELETE FROM babble_corpora WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:                db,
		tokenizer:         tokenizer,
		stmtGetCorpusInfo: stmtGetCorpusInfo,
		stmtGetCorpora:    stmtGetCorpora,
		stmtAddCorpus:     stmtAddCorpus,
		stmtGetCorpusText: stmtGetCorpusText,
		stmtRemoveCorpus:  stmtRemoveCorpus,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. It should be
// called when the Store is no longer needed to free up database resources.
func (s *Store) Close() {
	_ = s.stmtGetCorpusInfo.Close()
	_ = s.stmtGetCorpora.Close()
	_ = s.stmtAddCorpus.Close()
	_ = s.stmtGetCorpusText.Close()
	_ = s.stmtRemoveCorpus.Close()
}

// SetLogger sets the logger for the Store and the models it loads. By
// default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// InsertCorpus reads the corpus text from r and stores it under info.Name
// with info's build settings. The model is built before anything is written,
// so invalid settings or a too-small corpus are reported without touching the
// database. Zero-valued settings fall back to the package defaults. The
// stored CorpusInfo, including its new ID, is returned.
func (s *Store) InsertCorpus(ctx context.Context, info CorpusInfo, r io.Reader) (CorpusInfo, error) {
	if info.Name == "" {
		return CorpusInfo{}, fmt.Errorf("%w: corpus name is required", ErrInvalidConfiguration)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}
	if info.CapitalizationThreshold == 0 {
		info.CapitalizationThreshold = DefaultCapitalizationThreshold
	}
	if info.MinFrequency == 0 {
		info.MinFrequency = 1
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return CorpusInfo{}, fmt.Errorf("could not read corpus '%s': %w", info.Name, err)
	}
	text := string(data)

	if _, err = s.buildModel(ctx, info, text); err != nil {
		return CorpusInfo{}, fmt.Errorf("corpus '%s' rejected: %w", info.Name, err)
	}

	return s.insert(ctx, info, text, sql.NullString{})
}

// ImportModel stores an exported model (see (*Model).Export) as a new corpus
// named name. The data is validated by ImportModel first and stored as
// exported, so LoadModel returns a model with the same phrase table and
// capitalization set. The model is never merged into an existing corpus: a
// duplicate name is an error.
func (s *Store) ImportModel(ctx context.Context, name string, r io.Reader) (CorpusInfo, error) {
	if name == "" {
		return CorpusInfo{}, fmt.Errorf("%w: corpus name is required", ErrInvalidConfiguration)
	}
	m, err := ImportModel(ctx, r, WithTokenizer(s.tokenizer), WithLogger(s.logger))
	if err != nil {
		return CorpusInfo{}, err
	}

	// Re-exporting drops unknown fields and normalizes the layout.
	var exported bytes.Buffer
	if err = m.Export(&exported); err != nil {
		return CorpusInfo{}, fmt.Errorf("could not encode imported model '%s': %w", name, err)
	}

	info := CorpusInfo{
		Name:                    name,
		Order:                   m.order,
		CapitalizationThreshold: m.threshold,
		MinFrequency:            m.minFrequency,
	}
	text := strings.Join(m.corpus, " ")
	return s.insert(ctx, info, text, sql.NullString{String: exported.String(), Valid: true})
}

func (s *Store) insert(ctx context.Context, info CorpusInfo, text string, model sql.NullString) (CorpusInfo, error) {
	var id int
	err := s.stmtAddCorpus.QueryRowContext(ctx, info.Name, info.Order, info.CapitalizationThreshold, info.MinFrequency, text, model).Scan(&id)
	if err != nil {
		return CorpusInfo{}, fmt.Errorf("failed to insert corpus '%s': %w", info.Name, err)
	}
	info.Id = id
	info.Size = len(text)

	s.logger.InfoContext(ctx, "Corpus stored",
		slog.String("corpus_name", info.Name),
		slog.Int("corpus_id", info.Id),
		slog.Int("order", info.Order),
		slog.Int("bytes", info.Size),
		slog.Bool("imported", model.Valid),
	)
	return info, nil
}

// GetCorpusInfo retrieves the metadata for a single corpus specified by name.
// It returns an error wrapping ErrCorpusNotFound if there is no such corpus.
// If multiple corpora are needed, GetCorpusInfos is more efficient.
func (s *Store) GetCorpusInfo(ctx context.Context, name string) (CorpusInfo, error) {
	info := CorpusInfo{Name: name}
	err := s.stmtGetCorpusInfo.QueryRowContext(ctx, name).Scan(&info.Id, &info.Order, &info.CapitalizationThreshold, &info.MinFrequency, &info.Size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CorpusInfo{}, fmt.Errorf("%w: '%s'", ErrCorpusNotFound, name)
		}
		return CorpusInfo{}, err
	}
	return info, nil
}

// GetCorpusInfos retrieves metadata for all stored corpora, ordered by name.
func (s *Store) GetCorpusInfos(ctx context.Context) ([]CorpusInfo, error) {
	rows, err := s.stmtGetCorpora.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	corpora := make([]CorpusInfo, 0)
	for rows.Next() {
		var info CorpusInfo
		if err = rows.Scan(&info.Id, &info.Name, &info.Order, &info.CapitalizationThreshold, &info.MinFrequency, &info.Size); err != nil {
			return nil, err
		}
		corpora = append(corpora, info)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return corpora, nil
}

// RemoveCorpus deletes a corpus. Removing a corpus that does not exist is not an error.
func (s *Store) RemoveCorpus(ctx context.Context, info CorpusInfo) error {
	res, err := s.stmtRemoveCorpus.ExecContext(ctx, info.Id)
	if err != nil {
		return fmt.Errorf("failed to remove corpus %d: %w", info.Id, err)
	}
	removed, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Corpus removed",
		slog.String("corpus_name", info.Name),
		slog.Int("corpus_id", info.Id),
		slog.Int64("rows_removed", removed),
	)
	return nil
}

// CorpusText returns the stored text of a corpus. For an imported corpus
// this is its token sequence joined by spaces.
func (s *Store) CorpusText(ctx context.Context, info CorpusInfo) (string, error) {
	text, _, err := s.corpusData(ctx, info)
	return text, err
}

func (s *Store) corpusData(ctx context.Context, info CorpusInfo) (string, sql.NullString, error) {
	var text string
	var model sql.NullString
	err := s.stmtGetCorpusText.QueryRowContext(ctx, info.Id).Scan(&text, &model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", model, fmt.Errorf("%w: '%s'", ErrCorpusNotFound, info.Name)
		}
		return "", model, err
	}
	return text, model, nil
}

// LoadModel builds the model of the named corpus with its stored settings.
// Extra options are applied after the stored ones. Imported corpora are
// rebuilt from their exported model, whose order, threshold and minimum
// frequency always win.
func (s *Store) LoadModel(ctx context.Context, name string, opts ...ModelOption) (*Model, error) {
	info, err := s.GetCorpusInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	text, model, err := s.corpusData(ctx, info)
	if err != nil {
		return nil, err
	}
	if model.Valid {
		options := append([]ModelOption{WithTokenizer(s.tokenizer), WithLogger(s.logger)}, opts...)
		return ImportModel(ctx, strings.NewReader(model.String), options...)
	}
	return s.buildModel(ctx, info, text, opts...)
}

func (s *Store) buildModel(ctx context.Context, info CorpusInfo, text string, opts ...ModelOption) (*Model, error) {
	options := append(info.modelOptions(), WithTokenizer(s.tokenizer), WithLogger(s.logger))
	options = append(options, opts...)
	return NewModelFromReader(ctx, strings.NewReader(text), options...)
}

// DBStats holds aggregated statistics for every corpus in the store.
type DBStats struct {
	Corpora    int            `json:"corpora"`
	TotalBytes int64          `json:"total_bytes"`
	Sizes      map[string]int `json:"sizes"` // corpus name -> text size in bytes
}

// GetStats retrieves statistics for the entire store without building any model.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	infos, err := s.GetCorpusInfos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpora: %w", err)
	}

	stats := &DBStats{
		Corpora: len(infos),
		Sizes:   make(map[string]int, len(infos)),
	}
	for _, info := range infos {
		stats.TotalBytes += int64(info.Size)
		stats.Sizes[info.Name] = info.Size
	}
	return stats, nil
}
