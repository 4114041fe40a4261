package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/models"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		ordinal INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		text TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		source TEXT,
		fingerprint TEXT
	);

	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		metric TEXT NOT NULL,
		model_id TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		count INTEGER NOT NULL,
		corpus_digest TEXT,
		generation TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_builds_metric_created ON builds(metric, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceDocuments deletes every document and inserts docs.
func (s *SQLiteCatalog) ReplaceDocuments(ctx context.Context, docs []models.Document) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (id, ordinal, title, text, tags, source, fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range docs {
		d := &docs[i]
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err = stmt.ExecContext(ctx, d.ID, d.Ordinal, d.Title, d.Text, string(tagsJSON), d.Source, d.Fingerprint); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

const documentColumns = `id, ordinal, title, text, tags, source, fingerprint`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc      models.Document
		tagsJSON string
		source   sql.NullString
		finger   sql.NullString
	)
	if err := row.Scan(&doc.ID, &doc.Ordinal, &doc.Title, &doc.Text, &tagsJSON, &source, &finger); err != nil {
		return nil, err
	}
	doc.Source, doc.Fingerprint = source.String, finger.String
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	return &doc, nil
}

// GetDocument returns a document by ID.
func (s *SQLiteCatalog) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, apperr.StageCatalog, "document "+id)
	}
	return doc, err
}

// ListDocuments returns documents in ordinal order.
func (s *SQLiteCatalog) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY ordinal LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of catalogued documents.
func (s *SQLiteCatalog) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// RecordBuild inserts b, assigning an ID and timestamp when missing.
func (s *SQLiteCatalog) RecordBuild(ctx context.Context, b *Build) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (id, metric, model_id, dimension, count, corpus_digest, generation, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Metric, b.ModelID, b.Dimension, b.Count, b.CorpusDigest, b.Generation,
		b.Duration.Milliseconds(), b.CreatedAt,
	)
	return err
}

const buildColumns = `id, metric, model_id, dimension, count, corpus_digest, generation, duration_ms, created_at`

func scanBuild(row rowScanner) (*Build, error) {
	var (
		b      Build
		digest sql.NullString
		ms     int64
	)
	if err := row.Scan(&b.ID, &b.Metric, &b.ModelID, &b.Dimension, &b.Count, &digest, &b.Generation, &ms, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.CorpusDigest = digest.String
	b.Duration = time.Duration(ms) * time.Millisecond
	return &b, nil
}

// LatestBuild returns the most recent build recorded for metric.
func (s *SQLiteCatalog) LatestBuild(ctx context.Context, metric string) (*Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE metric = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		metric,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, apperr.StageCatalog, "build for "+metric)
	}
	return b, err
}

// ListBuilds returns up to limit builds, newest first.
func (s *SQLiteCatalog) ListBuilds(ctx context.Context, limit int) ([]*Build, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+buildColumns+` FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// DeleteBuilds removes every build recorded for metric.
func (s *SQLiteCatalog) DeleteBuilds(ctx context.Context, metric string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE metric = ?`, metric)
	return err
}

// Close closes the database.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
