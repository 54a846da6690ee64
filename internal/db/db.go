// Package db opens the workspace SQLite store backing the registry,
// the settlement ledger, traces, and API keys.
package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".hireline"
	dbFile       = "hireline.db"
)

type Config struct {
	Workspace string
}

// openPragmas are applied through the DSN. WAL lets SSE subscribers
// and the webhook dispatcher tail the ledger while a task is settling;
// the busy timeout covers the short overlap windows that remain.
var openPragmas = []string{
	"foreign_keys(1)",
	"journal_mode(wal)",
	"busy_timeout(5000)",
}

// EnsureWorkspace creates the .hireline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, dbFile)
}

// Open opens the workspace database. Writes are already serialized by
// the ledger and registry mutexes, so a single pooled connection is
// enough and keeps SQLITE_BUSY off the write path.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn(Path(cfg.Workspace)))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?cache=shared")
	for _, p := range openPragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}
