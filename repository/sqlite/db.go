package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"classlens/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    video_id TEXT NOT NULL,
    language TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    segments TEXT NOT NULL DEFAULT '[]',
    method TEXT NOT NULL,
    auto_generated INTEGER NOT NULL DEFAULT 0,
    char_count INTEGER NOT NULL DEFAULT 0,
    word_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    UNIQUE(video_id, language)
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL DEFAULT '{}',
    result_id TEXT NOT NULL DEFAULT '',
    error_code TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    retries INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    heartbeat_at DATETIME,
    expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS workflows (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    video_id TEXT NOT NULL,
    language TEXT NOT NULL,
    framework_ids TEXT NOT NULL DEFAULT '[]',
    stage TEXT NOT NULL,
    status TEXT NOT NULL,
    transcription_job_id TEXT NOT NULL DEFAULT '',
    analysis_job_id TEXT NOT NULL DEFAULT '',
    transcript_id TEXT NOT NULL DEFAULT '',
    report_id TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    error_code TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    completed_steps TEXT NOT NULL DEFAULT '[]',
    current_step TEXT NOT NULL DEFAULT '',
    last_observed_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    expires_at DATETIME
);

CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    transcript_id TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_key ON transcripts(video_id, language);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_expires ON jobs(expires_at);
CREATE INDEX IF NOT EXISTS idx_workflows_expires ON workflows(expires_at);
`

type Config struct {
	Path               string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

func DefaultConfig(path string) Config {
	return Config{
		Path:               path,
		MaxConnections:     10,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    time.Hour,
	}
}

// InitDB opens the database, applies pragmas and the schema.
func InitDB(cfg Config) (*sql.DB, error) {
	const op = "sqlite.InitDB"

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Internal(op, err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Internal(op, err, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Internal(op, err, "failed to apply schema")
	}

	return db, nil
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "busy")
}

// execWithRetry retries writes that lost the sqlite write lock.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var err error
	for i := 0; i < 3; i++ {
		res, err = db.ExecContext(ctx, query, args...)
		if err == nil || !isLockError(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return res, fmt.Errorf("exec after retries: %w", err)
}
