package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_document (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	body       TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS job_document_preserved (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	body       TEXT    NOT NULL,
	created_at TEXT    NOT NULL
);`

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer is all SQLite wants.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return &sqliteStore{db: db, log: log, path: path}, nil
}

func (s *sqliteStore) Describe() string { return "sqlite:" + s.path }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ReadDocument(ctx context.Context) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM job_document WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "select document")
	}
	return []byte(body), nil
}

func (s *sqliteStore) WriteDocument(ctx context.Context, doc []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_document(id, body, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(err, "upsert document")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (s *sqliteStore) PreserveDocument(ctx context.Context, doc []byte) (string, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_document_preserved(body, created_at) VALUES(?, ?)`,
		string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", errors.Wrap(err, "insert preserved document")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", errors.Wrap(err, "preserved document id")
	}
	return fmt.Sprintf("%s#job_document_preserved/%d", s.path, id), nil
}
