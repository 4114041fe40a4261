// Package indexer runs the admin pipeline: raw units to record store, record
// store to a published index artifact, and artifact to a loadable snapshot.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/artifact"
	"github.com/hyperjump/shirabe/internal/corpus"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/fileid"
	"github.com/hyperjump/shirabe/internal/metadata"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/search"
	"github.com/hyperjump/shirabe/internal/storage"
	"github.com/hyperjump/shirabe/internal/vector"
)

// BuildRecorder receives build outcomes. The metrics package implements it.
type BuildRecorder interface {
	BuildCompleted(status string, elapsed time.Duration, docs int)
}

// BuildReport summarizes a published index build.
type BuildReport struct {
	Generation   string        `json:"generation"`
	Metric       string        `json:"metric"`
	ModelID      string        `json:"model_id"`
	Dimension    int           `json:"dimension"`
	Count        int           `json:"count"`
	CorpusDigest string        `json:"corpus_digest"`
	Duration     time.Duration `json:"duration"`
	// Skipped is set when the record store was unchanged and no new
	// generation was written.
	Skipped bool `json:"skipped,omitempty"`
}

// Indexer owns the record store path and the artifact directories.
type Indexer struct {
	builder    *corpus.Builder
	embedder   embedding.Embedder
	corpusPath string
	indexDir   string
	backend    string
	batchOpts  []embedding.BatchOption
	catalog    storage.Catalog
	recorder   BuildRecorder
	logger     *zap.Logger
	group      singleflight.Group

	storesMu sync.Mutex
	stores   map[vector.Metric]*artifact.Store
}

// sourceManifest is the provenance of one record store, written beside it
// by BuildCorpus and read back when an index built from it is published.
type sourceManifest struct {
	Digest  string          `json:"digest"`
	Sources []corpus.Source `json:"sources"`
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(x *Indexer) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithCatalog records documents and builds in c.
func WithCatalog(c storage.Catalog) IndexerOption {
	return func(x *Indexer) { x.catalog = c }
}

// WithBackend selects the vector backend for LoadIndex.
func WithBackend(backend string) IndexerOption {
	return func(x *Indexer) { x.backend = backend }
}

// WithBatchOptions configures the batch encoder used by BuildIndex.
func WithBatchOptions(opts ...embedding.BatchOption) IndexerOption {
	return func(x *Indexer) { x.batchOpts = append(x.batchOpts, opts...) }
}

// WithRecorder attaches a build recorder.
func WithRecorder(r BuildRecorder) IndexerOption {
	return func(x *Indexer) { x.recorder = r }
}

// NewIndexer creates an indexer writing the record store to corpusPath and
// artifacts under indexDir/<metric>.
func NewIndexer(builder *corpus.Builder, embedder embedding.Embedder, corpusPath, indexDir string, opts ...IndexerOption) *Indexer {
	x := &Indexer{
		builder:    builder,
		embedder:   embedder,
		corpusPath: corpusPath,
		indexDir:   indexDir,
		logger:     zap.NewNop(),
		stores:     make(map[vector.Metric]*artifact.Store),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// CorpusPath returns the record store location.
func (x *Indexer) CorpusPath() string { return x.corpusPath }

// Store returns the artifact store of metric. Every caller shares the same
// store, so writes, resets and pruning of one metric are serialized.
func (x *Indexer) Store(metric vector.Metric) *artifact.Store {
	x.storesMu.Lock()
	defer x.storesMu.Unlock()
	s, ok := x.stores[metric]
	if !ok {
		s = artifact.NewStore(filepath.Join(x.indexDir, metric.String()), artifact.WithLogger(x.logger))
		x.stores[metric] = s
	}
	return s
}

// BuildCorpus rebuilds the record store from rawDir. The catalog is left
// alone until an index built from the new store is published.
func (x *Indexer) BuildCorpus(ctx context.Context, rawDir string) (*corpus.Result, error) {
	res, err := x.builder.BuildTo(ctx, rawDir, x.corpusPath)
	if err != nil {
		return nil, err
	}
	digest, err := fileid.FileFingerprint(x.corpusPath)
	if err != nil {
		return nil, fmt.Errorf("fingerprint record store: %w", err)
	}
	if err := x.writeManifest(sourceManifest{Digest: digest, Sources: res.Sources}); err != nil {
		return nil, err
	}
	x.logger.Info("record store written",
		zap.String("path", x.corpusPath),
		zap.Int("records", len(res.Records)),
		zap.Strings("skipped", res.Skipped),
	)
	return res, nil
}

// BuildIndex embeds every record in the record store and publishes a new
// artifact generation for metric. Any failure leaves the previous
// generation in place.
func (x *Indexer) BuildIndex(ctx context.Context, metric vector.Metric) (report *BuildReport, err error) {
	start := time.Now()
	count := 0
	defer func() {
		if x.recorder == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		x.recorder.BuildCompleted(status, time.Since(start), count)
	}()

	records, digest, err := x.readRecordStore()
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}

	encoder := embedding.NewBatchEncoder(x.embedder, append([]embedding.BatchOption{embedding.WithBatchLogger(x.logger)}, x.batchOpts...)...)
	vectors, err := encoder.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	idx, err := vector.New(x.backend, vectors, metric)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	if idx.Dimensions() != x.embedder.Dimensions() {
		return nil, apperr.Newf(apperr.ErrDimensionMismatch, apperr.StageIndex,
			"vectors have %d dimensions, provider declares %d", idx.Dimensions(), x.embedder.Dimensions())
	}
	meta := metadata.Build(records, metadata.Header{
		ModelID:      x.embedder.ModelID(),
		Dimension:    idx.Dimensions(),
		Metric:       metric,
		CorpusDigest: digest,
		BuiltAt:      time.Now().UTC(),
	})
	if idx.Size() != meta.Len() || idx.Size() != len(records) {
		return nil, apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageIndex,
			"index %d, metadata %d, records %d", idx.Size(), meta.Len(), len(records))
	}

	gen, err := x.Store(metric).Write(func(dir string) error {
		if err := idx.WriteFile(filepath.Join(dir, artifact.IndexFile)); err != nil {
			return err
		}
		return meta.WriteFile(filepath.Join(dir, artifact.MetadataFile))
	})
	if err != nil {
		return nil, err
	}
	count = idx.Size()

	report = &BuildReport{
		Generation:   gen.Name,
		Metric:       metric.String(),
		ModelID:      x.embedder.ModelID(),
		Dimension:    idx.Dimensions(),
		Count:        count,
		CorpusDigest: digest,
		Duration:     time.Since(start),
	}
	if x.catalog != nil {
		if err := x.catalog.ReplaceDocuments(ctx, x.documents(records, digest)); err != nil {
			return nil, fmt.Errorf("catalog replace documents for %s: %w", gen.Name, err)
		}
		b := &storage.Build{
			Metric:       report.Metric,
			ModelID:      report.ModelID,
			Dimension:    report.Dimension,
			Count:        report.Count,
			CorpusDigest: digest,
			Generation:   gen.Name,
			Duration:     report.Duration,
		}
		if err := x.catalog.RecordBuild(ctx, b); err != nil {
			x.logger.Warn("failed to record build", zap.String("generation", gen.Name), zap.Error(err))
		}
	}
	x.logger.Info("index built",
		zap.String("generation", gen.Name),
		zap.String("metric", report.Metric),
		zap.String("model_id", report.ModelID),
		zap.Int("count", report.Count),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (x *Indexer) manifestPath() string { return x.corpusPath + ".sources.json" }

func (x *Indexer) writeManifest(m sourceManifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode source manifest: %w", err)
	}
	tmp := x.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write source manifest: %w", err)
	}
	if err := os.Rename(tmp, x.manifestPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write source manifest: %w", err)
	}
	return nil
}

// documents pairs records with the provenance BuildCorpus recorded for the
// same record store. Records from a store written elsewhere carry no source.
func (x *Indexer) documents(records []models.Record, digest string) []models.Document {
	var m sourceManifest
	if data, err := os.ReadFile(x.manifestPath()); err == nil {
		if err := json.Unmarshal(data, &m); err != nil {
			x.logger.Warn("ignoring unreadable source manifest", zap.String("path", x.manifestPath()), zap.Error(err))
		}
	}
	sources := m.Sources
	if m.Digest != digest || len(sources) != len(records) {
		sources = nil
	}
	docs := make([]models.Document, len(records))
	for i, r := range records {
		docs[i] = models.Document{Record: r, Ordinal: i}
		if sources != nil {
			docs[i].Source = sources[i].Name
			docs[i].Fingerprint = sources[i].Fingerprint
		}
	}
	return docs
}

// readRecordStore returns the records and the fingerprint of the store file.
func (x *Indexer) readRecordStore() ([]models.Record, string, error) {
	data, err := os.ReadFile(x.corpusPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", apperr.Wrap(apperr.ErrEmptyCorpus, apperr.StageCorpus, x.corpusPath, err)
		}
		return nil, "", fmt.Errorf("read record store: %w", err)
	}
	records, err := corpus.DecodeRecords(bytes.NewReader(data), x.corpusPath)
	if err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, "", apperr.New(apperr.ErrEmptyCorpus, apperr.StageCorpus, x.corpusPath)
	}
	return records, fileid.Fingerprint(data), nil
}

// Rebuild runs BuildCorpus then BuildIndex. Concurrent calls for the same
// metric share one run.
func (x *Indexer) Rebuild(ctx context.Context, rawDir string, metric vector.Metric) (*BuildReport, error) {
	return x.rebuild(ctx, rawDir, metric, true)
}

// RebuildIfChanged is Rebuild that skips the index build when the new record
// store matches the one the current artifact was built from.
func (x *Indexer) RebuildIfChanged(ctx context.Context, rawDir string, metric vector.Metric) (*BuildReport, error) {
	return x.rebuild(ctx, rawDir, metric, false)
}

func (x *Indexer) rebuild(ctx context.Context, rawDir string, metric vector.Metric, force bool) (*BuildReport, error) {
	v, err, shared := x.group.Do(flightKey(metric, force), func() (any, error) {
		if _, err := x.BuildCorpus(ctx, rawDir); err != nil {
			return nil, err
		}
		if !force {
			if report, ok := x.unchanged(metric); ok {
				x.logger.Info("record store unchanged; skipping index build",
					zap.String("metric", metric.String()), zap.String("generation", report.Generation))
				return report, nil
			}
		}
		return x.BuildIndex(ctx, metric)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		x.logger.Debug("rebuild shared with a concurrent caller", zap.String("metric", metric.String()))
	}
	return v.(*BuildReport), nil
}

// flightKey keeps forced and conditional rebuilds of a metric in separate
// flights; a forced caller must never receive a skipped report.
func flightKey(metric vector.Metric, force bool) string {
	if force {
		return metric.String() + "/force"
	}
	return metric.String()
}

// unchanged reports whether the current artifact of metric was built from
// the record store as it is now, by the same model.
func (x *Indexer) unchanged(metric vector.Metric) (*BuildReport, bool) {
	gen, err := x.Store(metric).Current()
	if err != nil {
		return nil, false
	}
	meta, err := metadata.ReadFile(gen.MetadataPath())
	if err != nil {
		return nil, false
	}
	digest, err := fileid.FileFingerprint(x.corpusPath)
	if err != nil {
		return nil, false
	}
	h := meta.Header()
	if h.CorpusDigest != digest || h.ModelID != x.embedder.ModelID() || h.Dimension != x.embedder.Dimensions() {
		return nil, false
	}
	return &BuildReport{
		Generation:   gen.Name,
		Metric:       metric.String(),
		ModelID:      h.ModelID,
		Dimension:    h.Dimension,
		Count:        meta.Len(),
		CorpusDigest: digest,
		Skipped:      true,
	}, true
}

// LoadIndex opens the current artifact of metric as a snapshot.
func (x *Indexer) LoadIndex(ctx context.Context, metric vector.Metric) (*search.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gen, err := x.Store(metric).Current()
	if err != nil {
		return nil, err
	}
	return search.OpenSnapshot(gen, x.backend)
}

// Reset removes the artifacts of metric and forgets its build history.
func (x *Indexer) Reset(ctx context.Context, metric vector.Metric) error {
	if err := x.Store(metric).Reset(); err != nil {
		return err
	}
	if x.catalog != nil {
		if err := x.catalog.DeleteBuilds(ctx, metric.String()); err != nil {
			return fmt.Errorf("catalog delete builds: %w", err)
		}
	}
	return nil
}

// Publish loads the current artifact of metric and swaps it into engine.
func (x *Indexer) Publish(ctx context.Context, engine *search.Engine, metric vector.Metric) error {
	snap, err := x.LoadIndex(ctx, metric)
	if err != nil {
		return err
	}
	if err := engine.Swap(snap); err != nil {
		_ = snap.Index.Close()
		return err
	}
	return nil
}
