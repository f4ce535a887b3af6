//go:build !cgo_sqlite

package main

import (
	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// dataSourceName enables WAL and a busy timeout using the modernc DSN syntax.
func dataSourceName(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
