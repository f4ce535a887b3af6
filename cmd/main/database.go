package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CTAG07/Babble/pkg/markov"
)

// openStore opens the corpus database, creates missing tables and returns
// the database handle together with a corpus store on top of it. The caller
// closes both, store first.
func openStore(path string, logger *slog.Logger) (*sql.DB, *markov.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, dataSourceName(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup corpus schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup auth schema: %w", err)
	}

	store, err := markov.NewStore(db, markov.NewDefaultTokenizer())
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("error creating corpus store: %w", err)
	}
	store.SetLogger(logger)

	return db, store, nil
}
