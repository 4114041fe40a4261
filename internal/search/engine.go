// Package search answers nearest-neighbour queries against a loaded index
// snapshot.
package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/artifact"
	"github.com/hyperjump/shirabe/internal/corpus"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/vector"
)

// Recorder receives query and load events. The metrics package implements it.
type Recorder interface {
	QueryCompleted(outcome string, elapsed time.Duration, results int)
	SnapshotLoaded(metric string, size int)
}

type nopRecorder struct{}

func (nopRecorder) QueryCompleted(string, time.Duration, int) {}
func (nopRecorder) SnapshotLoaded(string, int)                {}

// Engine embeds queries and searches the current snapshot. Searches run
// concurrently with Load and Swap; each search sees exactly one snapshot.
type Engine struct {
	embedder embedding.Embedder
	backend  string
	logger   *zap.Logger
	recorder Recorder

	snap atomic.Pointer[Snapshot]

	mu       sync.Mutex
	poisoned error
	// leases counts in-flight searches per index; retired holds replaced
	// indexes waiting for their last search to finish before Close.
	leases  map[vector.Index]int
	retired map[vector.Index]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBackend selects the vector backend used by Load ("flat" or "faiss").
func WithBackend(backend string) Option {
	return func(e *Engine) { e.backend = backend }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine creates an engine with no snapshot loaded.
func NewEngine(embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder: embedder,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		leases:   make(map[vector.Index]int),
		retired:  make(map[vector.Index]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns up to topK results for query, nearest first. Scores are
// squared L2 distances or cosine similarities depending on the index metric.
func (e *Engine) Search(ctx context.Context, query string, topK int) (results []models.SearchResult, err error) {
	start := time.Now()
	defer func() {
		e.recorder.QueryCompleted(outcome(err), time.Since(start), len(results))
	}()

	text := corpus.Normalize(query)
	if text == "" {
		return nil, apperr.New(apperr.ErrInvalidQuery, apperr.StageQuery, "query must not be empty")
	}
	if topK < 1 {
		return nil, apperr.Newf(apperr.ErrInvalidQuery, apperr.StageQuery, "top_k must be >= 1, got %d", topK)
	}

	snap, cause := e.acquire()
	if snap == nil {
		return nil, apperr.New(apperr.ErrIndexNotLoaded, apperr.StageQuery, "no index loaded")
	}
	defer e.release(snap.Index)
	if cause != nil {
		return nil, apperr.Wrap(apperr.ErrEngineFailed, apperr.StageQuery, snap.Generation, cause)
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := snap.Index.Search(ctx, vec, topK)
	if err != nil {
		if apperr.IsFatal(err) {
			e.setPoison(snap, err)
		}
		return nil, err
	}

	results = make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		entry, err := snap.Metadata.Lookup(h.Ordinal)
		if err != nil {
			if apperr.IsFatal(err) {
				e.setPoison(snap, err)
			}
			return nil, err
		}
		results = append(results, models.SearchResult{DocID: entry.DocID, Title: entry.Title, Score: h.Score})
	}

	e.logger.Debug("search completed",
		zap.String("query", text),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, apperr.ErrIndexNotLoaded):
		return "not_loaded"
	default:
		return "error"
	}
}

// Load opens the current generation of store and swaps it in. On failure
// the previous snapshot stays active.
func (e *Engine) Load(ctx context.Context, store *artifact.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := store.Current()
	if err != nil {
		return err
	}
	snap, err := OpenSnapshot(gen, e.backend)
	if err != nil {
		return err
	}
	if err := e.Swap(snap); err != nil {
		_ = snap.Index.Close()
		return err
	}
	return nil
}

// Swap atomically replaces the active snapshot and clears any failure
// state. Snapshots built by a different model or dimension than the
// engine's embedder are rejected. On success the engine owns snap.Index and
// closes it once it has been replaced and no search still uses it.
func (e *Engine) Swap(snap *Snapshot) error {
	h := snap.Metadata.Header()
	if h.ModelID != e.embedder.ModelID() {
		return apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageArtifact,
			"artifact built with model %q, provider is %q", h.ModelID, e.embedder.ModelID())
	}
	if h.Dimension != e.embedder.Dimensions() {
		return apperr.Newf(apperr.ErrArtifactMismatch, apperr.StageArtifact,
			"artifact has %d dimensions, provider produces %d", h.Dimension, e.embedder.Dimensions())
	}

	e.mu.Lock()
	old := e.snap.Swap(snap)
	e.poisoned = nil
	delete(e.retired, snap.Index)
	if old != nil {
		e.retireLocked(old.Index)
	}
	e.mu.Unlock()

	e.recorder.SnapshotLoaded(h.Metric.String(), snap.Index.Size())
	e.logger.Info("index snapshot loaded",
		zap.String("generation", snap.Generation),
		zap.String("metric", h.Metric.String()),
		zap.String("model_id", h.ModelID),
		zap.Int("size", snap.Index.Size()),
	)
	return nil
}

// Unload drops the active snapshot; later searches fail with
// ErrIndexNotLoaded.
func (e *Engine) Unload() {
	e.mu.Lock()
	if old := e.snap.Swap(nil); old != nil {
		e.retireLocked(old.Index)
	}
	e.poisoned = nil
	e.mu.Unlock()
	e.recorder.SnapshotLoaded("", 0)
}

func (e *Engine) poison() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poisoned
}

// acquire pins the active snapshot's index for one search and returns the
// snapshot with the engine's failure, if any.
func (e *Engine) acquire() (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.snap.Load()
	if snap == nil {
		return nil, nil
	}
	e.leases[snap.Index]++
	return snap, e.poisoned
}

func (e *Engine) release(idx vector.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leases[idx]--; e.leases[idx] > 0 {
		return
	}
	delete(e.leases, idx)
	if e.retired[idx] {
		delete(e.retired, idx)
		e.closeIndex(idx)
	}
}

// retireLocked closes idx now if it is idle and no longer active, or marks
// it for release to close. e.mu must be held.
func (e *Engine) retireLocked(idx vector.Index) {
	if cur := e.snap.Load(); cur != nil && cur.Index == idx {
		return
	}
	if e.leases[idx] > 0 {
		e.retired[idx] = true
		return
	}
	e.closeIndex(idx)
}

func (e *Engine) closeIndex(idx vector.Index) {
	if err := idx.Close(); err != nil {
		e.logger.Warn("failed to close retired index", zap.Error(err))
	}
}

// setPoison marks the engine failed if snap is still the active snapshot.
func (e *Engine) setPoison(snap *Snapshot, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.Load() != snap || e.poisoned != nil {
		return
	}
	e.poisoned = cause
	e.logger.Error("index and metadata disagree; refusing queries until reload",
		zap.String("generation", snap.Generation), zap.Error(cause))
}

// Status describes the active snapshot.
type Status struct {
	Loaded       bool       `json:"loaded"`
	Generation   string     `json:"generation,omitempty"`
	Metric       string     `json:"metric,omitempty"`
	ModelID      string     `json:"model_id"`
	Dimension    int        `json:"dimension"`
	Size         int        `json:"size"`
	CorpusDigest string     `json:"corpus_digest,omitempty"`
	BuiltAt      *time.Time `json:"built_at,omitempty"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Poisoned     bool       `json:"poisoned"`
	Failure      string     `json:"failure,omitempty"`
}

// Status reports the engine state.
func (e *Engine) Status() Status {
	st := Status{ModelID: e.embedder.ModelID(), Dimension: e.embedder.Dimensions()}
	snap := e.snap.Load()
	if snap == nil {
		return st
	}
	h := snap.Metadata.Header()
	built, loaded := h.BuiltAt, snap.LoadedAt
	st.Loaded = true
	st.Generation = snap.Generation
	st.Metric = h.Metric.String()
	st.Size = snap.Index.Size()
	st.CorpusDigest = h.CorpusDigest
	st.BuiltAt = &built
	st.LoadedAt = &loaded
	if cause := e.poison(); cause != nil {
		st.Poisoned = true
		st.Failure = cause.Error()
	}
	return st
}
