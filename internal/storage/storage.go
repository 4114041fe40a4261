// Package storage persists the document catalog and the build history that
// sit beside the index artifacts.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/shirabe/internal/models"
)

// Build is one completed index build.
type Build struct {
	ID           string        `json:"id"`
	Metric       string        `json:"metric"`
	ModelID      string        `json:"model_id"`
	Dimension    int           `json:"dimension"`
	Count        int           `json:"count"`
	CorpusDigest string        `json:"corpus_digest"`
	Generation   string        `json:"generation"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Catalog stores the documents of the current record store and the builds
// made from them.
type Catalog interface {
	// ReplaceDocuments swaps the whole document set in one transaction.
	ReplaceDocuments(ctx context.Context, docs []models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)

	RecordBuild(ctx context.Context, b *Build) error
	// LatestBuild returns the newest build for metric, or ErrNotFound.
	LatestBuild(ctx context.Context, metric string) (*Build, error)
	ListBuilds(ctx context.Context, limit int) ([]*Build, error)
	// DeleteBuilds forgets the history of metric.
	DeleteBuilds(ctx context.Context, metric string) error

	Close() error
}
