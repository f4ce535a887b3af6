//go:build cgo_sqlite

package main

import (
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// dataSourceName enables WAL and a busy timeout using the mattn DSN syntax.
func dataSourceName(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}
