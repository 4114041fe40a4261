package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/artifact"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/metadata"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/vector"
)

var topicRecords = []models.Record{
	{ID: "doc_1", Title: "optics", Text: "Lens aberrations and diffraction limits shape the resolution of optical microscopes and telescopes."},
	{ID: "doc_2", Title: "wireless", Text: "Massive MIMO antenna arrays use beamforming to steer 5G signals; beamforming optimization improves spectral efficiency."},
	{ID: "doc_3", Title: "materials", Text: "Grain boundaries and dislocations govern the yield strength of polycrystalline metals under load."},
	{ID: "doc_4", Title: "software", Text: "Garbage collectors trade pause times against throughput when reclaiming heap memory in managed runtimes."},
	{ID: "doc_5", Title: "mechanics", Text: "Torque, angular momentum and moments of inertia describe rigid body rotation about a fixed axis."},
}

type recorded struct {
	mu       sync.Mutex
	outcomes []string
	loads    int
}

func (r *recorded) QueryCompleted(outcome string, _ time.Duration, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorded) SnapshotLoaded(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
}

func buildSnapshot(t *testing.T, emb embedding.Embedder, metric vector.Metric, records []models.Record) *Snapshot {
	t.Helper()
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	idx, err := vector.Build(vecs, metric)
	require.NoError(t, err)
	meta := metadata.Build(records, metadata.Header{
		ModelID:   emb.ModelID(),
		Dimension: emb.Dimensions(),
		Metric:    metric,
		BuiltAt:   time.Now(),
	})
	snap, err := NewSnapshot(idx, meta, "gen-test")
	require.NoError(t, err)
	return snap
}

func TestEngine_NotLoaded(t *testing.T) {
	e := NewEngine(embedding.NewHashingEmbedder(384, 256))
	_, err := e.Search(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, apperr.ErrIndexNotLoaded)
	assert.False(t, e.Status().Loaded)
}

func TestEngine_BeamformingScenario(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	ctx := context.Background()

	t.Run("l2", func(t *testing.T) {
		e := NewEngine(emb)
		require.NoError(t, e.Swap(buildSnapshot(t, emb, vector.MetricL2, topicRecords)))

		results, err := e.Search(ctx, "beamforming optimization in 5G antenna arrays", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "doc_2", results[0].DocID)
		assert.Equal(t, "wireless", results[0].Title)
		assert.Less(t, results[0].Score, results[1].Score)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("cosine", func(t *testing.T) {
		e := NewEngine(emb)
		require.NoError(t, e.Swap(buildSnapshot(t, emb, vector.MetricCosine, topicRecords)))

		results, err := e.Search(ctx, "beamforming optimization in 5G antenna arrays", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "doc_2", results[0].DocID)
		assert.Greater(t, results[0].Score, results[1].Score)
		assert.LessOrEqual(t, results[0].Score, 1.0)
	})
}

func TestEngine_TopKBounds(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	require.NoError(t, e.Swap(buildSnapshot(t, emb, vector.MetricL2, topicRecords)))
	ctx := context.Background()

	results, err := e.Search(ctx, "rotation torque", 10)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, "doc_5", results[0].DocID)

	_, err = e.Search(ctx, "rotation", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidQuery)
}

func TestEngine_InvalidQuery(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	rec := &recorded{}
	e := NewEngine(emb, WithRecorder(rec))
	require.NoError(t, e.Swap(buildSnapshot(t, emb, vector.MetricL2, topicRecords)))

	for _, q := range []string{"", "   ", "\t\n", "\u200b"} {
		_, err := e.Search(context.Background(), q, 5)
		assert.ErrorIs(t, err, apperr.ErrInvalidQuery, "query %q", q)
	}
	assert.Equal(t, []string{"invalid", "invalid", "invalid", "invalid"}, rec.outcomes)
	assert.Equal(t, 1, rec.loads)
}

func TestEngine_Deterministic(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	require.NoError(t, e.Swap(buildSnapshot(t, emb, vector.MetricCosine, topicRecords)))
	ctx := context.Background()

	first, err := e.Search(ctx, "heap memory pause", 5)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Search(ctx, "heap   memory\npause", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEngine_SwapRejectsOtherModel(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	other := embedding.NewHashingEmbedder(32, 256)
	e := NewEngine(emb)

	err := e.Swap(buildSnapshot(t, other, vector.MetricL2, topicRecords))
	assert.ErrorIs(t, err, apperr.ErrArtifactMismatch)
	assert.False(t, e.Status().Loaded)
}

func TestNewSnapshot_SizeMismatch(t *testing.T) {
	idx, err := vector.Build([][]float32{{1, 0}, {0, 1}}, vector.MetricL2)
	require.NoError(t, err)
	meta := metadata.Build(topicRecords[:1], metadata.Header{Dimension: 2, Metric: vector.MetricL2})
	_, err = NewSnapshot(idx, meta, "gen-x")
	assert.ErrorIs(t, err, apperr.ErrArtifactMismatch)

	meta = metadata.Build(topicRecords[:2], metadata.Header{Dimension: 2, Metric: vector.MetricCosine})
	_, err = NewSnapshot(idx, meta, "gen-x")
	assert.ErrorIs(t, err, apperr.ErrArtifactMismatch)
}

func TestEngine_PoisonedUntilSwap(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	good := buildSnapshot(t, emb, vector.MetricL2, topicRecords)

	// An index with more rows than metadata entries.
	broken := &Snapshot{
		Index:      good.Index,
		Metadata:   metadata.Build(topicRecords[:2], good.Metadata.Header()),
		Generation: "gen-broken",
	}
	require.NoError(t, e.Swap(broken))
	ctx := context.Background()

	_, err := e.Search(ctx, "torque rotation", 5)
	assert.ErrorIs(t, err, apperr.ErrOrdinalNotFound)

	_, err = e.Search(ctx, "torque rotation", 1)
	assert.ErrorIs(t, err, apperr.ErrEngineFailed)
	assert.True(t, apperr.IsFatal(err))
	st := e.Status()
	assert.True(t, st.Poisoned)
	assert.NotEmpty(t, st.Failure)

	require.NoError(t, e.Swap(good))
	results, err := e.Search(ctx, "torque rotation", 1)
	require.NoError(t, err)
	assert.Equal(t, "doc_5", results[0].DocID)
	assert.False(t, e.Status().Poisoned)
}

func TestEngine_LoadFromArtifactStore(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	snap := buildSnapshot(t, emb, vector.MetricCosine, topicRecords)
	store := artifact.NewStore(t.TempDir())
	e := NewEngine(emb, WithBackend("flat"))
	ctx := context.Background()

	err := e.Load(ctx, store)
	assert.ErrorIs(t, err, apperr.ErrNoArtifact)

	gen, err := store.Write(func(dir string) error {
		g := artifact.Generation{Path: dir}
		if err := snap.Index.WriteFile(g.IndexPath()); err != nil {
			return err
		}
		return snap.Metadata.WriteFile(g.MetadataPath())
	})
	require.NoError(t, err)

	require.NoError(t, e.Load(ctx, store))
	st := e.Status()
	assert.True(t, st.Loaded)
	assert.Equal(t, gen.Name, st.Generation)
	assert.Equal(t, "cosine", st.Metric)
	assert.Equal(t, 5, st.Size)

	results, err := e.Search(ctx, "grain boundaries metals", 1)
	require.NoError(t, err)
	assert.Equal(t, "doc_3", results[0].DocID)

	e.Unload()
	_, err = e.Search(ctx, "grain", 1)
	assert.ErrorIs(t, err, apperr.ErrIndexNotLoaded)
}

func TestEngine_ConcurrentSearchAndSwap(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	a := buildSnapshot(t, emb, vector.MetricL2, topicRecords)
	b := buildSnapshot(t, emb, vector.MetricCosine, topicRecords)
	require.NoError(t, e.Swap(a))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				results, err := e.Search(context.Background(), "garbage collectors heap", 2)
				if assert.NoError(t, err) {
					assert.Equal(t, "doc_4", results[0].DocID)
				}
			}
		}()
	}
	for j := 0; j < 20; j++ {
		if j%2 == 0 {
			require.NoError(t, e.Swap(b))
		} else {
			require.NoError(t, e.Swap(a))
		}
	}
	wg.Wait()
}

type closeCounter struct {
	vector.Index
	closes atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closes.Add(1)
	return c.Index.Close()
}

func countedSnapshot(t *testing.T, emb embedding.Embedder, generation string) (*Snapshot, *closeCounter) {
	t.Helper()
	base := buildSnapshot(t, emb, vector.MetricL2, topicRecords)
	idx := &closeCounter{Index: base.Index}
	return &Snapshot{Index: idx, Metadata: base.Metadata, Generation: generation}, idx
}

func TestEngine_SwapClosesReplacedIndex(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	a, aIdx := countedSnapshot(t, emb, "gen-a")
	b, bIdx := countedSnapshot(t, emb, "gen-b")

	require.NoError(t, e.Swap(a))
	require.NoError(t, e.Swap(b))
	assert.Equal(t, int32(1), aIdx.closes.Load())
	assert.Equal(t, int32(0), bIdx.closes.Load())

	// Swapping in a snapshot that shares the active index keeps it open.
	require.NoError(t, e.Swap(&Snapshot{Index: bIdx, Metadata: b.Metadata, Generation: "gen-b2"}))
	assert.Equal(t, int32(0), bIdx.closes.Load())

	e.Unload()
	assert.Equal(t, int32(1), bIdx.closes.Load())
}

func TestEngine_SwapWaitsForInFlightSearch(t *testing.T) {
	emb := embedding.NewHashingEmbedder(384, 256)
	e := NewEngine(emb)
	a, aIdx := countedSnapshot(t, emb, "gen-a")
	b, _ := countedSnapshot(t, emb, "gen-b")
	require.NoError(t, e.Swap(a))

	pinned, cause := e.acquire()
	require.NoError(t, cause)
	require.Same(t, a, pinned)

	require.NoError(t, e.Swap(b))
	assert.Equal(t, int32(0), aIdx.closes.Load(), "index closed under an in-flight search")

	e.release(pinned.Index)
	assert.Equal(t, int32(1), aIdx.closes.Load())
}
