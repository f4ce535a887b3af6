package markov

import (
	"context"
	"database/sql"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const catCorpus = "The cat sat. The cat ran."

// fixedRand always returns the same draw, which makes every sampling step
// predictable: 0 picks the first candidate, values close to 1 the last.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }
func (f fixedRand) IntN(int) int     { return 0 }

// mustModel builds a model or fails the test.
func mustModel(t testing.TB, text string, opts ...ModelOption) *Model {
	t.Helper()
	m, err := NewModel(text, opts...)
	if err != nil {
		t.Fatalf("NewModel() error = %v", err)
	}
	return m
}

// setupTestStore creates a new SQLite database file and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestStore(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db, NewDefaultTokenizer())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// setupTestStoreWithCorpus is a convenience helper that also stores the cat corpus.
func setupTestStoreWithCorpus(t *testing.T) (context.Context, *Store, CorpusInfo) {
	_, s := setupTestStore(t)
	ctx := context.Background()

	info, err := s.InsertCorpus(ctx, CorpusInfo{Name: "cats", Order: 1}, strings.NewReader(catCorpus))
	if err != nil {
		t.Fatalf("setup: InsertCorpus() failed: %v", err)
	}
	return ctx, s, info
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = strings.Repeat("this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. ", 50)
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
