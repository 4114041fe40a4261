package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shirabe/internal/apperr"
	"github.com/hyperjump/shirabe/internal/corpus"
	"github.com/hyperjump/shirabe/internal/embedding"
	"github.com/hyperjump/shirabe/internal/extract"
	"github.com/hyperjump/shirabe/internal/indexer"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/search"
	"github.com/hyperjump/shirabe/internal/storage"
	"github.com/hyperjump/shirabe/internal/vector"
)

const (
	e2eTopK       = 5
	e2eDimensions = 384
)

type stack struct {
	raw     string
	catalog *storage.SQLiteCatalog
	indexer *indexer.Indexer
	engine  *search.Engine
}

func newStack(t *testing.T, extensions ...string) *stack {
	t.Helper()
	root := t.TempDir()
	raw := filepath.Join(root, "raw")
	if err := os.MkdirAll(raw, 0755); err != nil {
		t.Fatal(err)
	}
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(root, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })

	emb := embedding.NewHashingEmbedder(e2eDimensions, 256)
	var builderOpts []corpus.Option
	if len(extensions) > 0 {
		builderOpts = append(builderOpts, corpus.WithExtensions(extensions...))
	}
	idx := indexer.NewIndexer(
		corpus.NewBuilder(extract.NewExtractor(), builderOpts...),
		emb,
		filepath.Join(root, "processed", "documents.jsonl"),
		filepath.Join(root, "index"),
		indexer.WithCatalog(catalog),
		indexer.WithBatchOptions(embedding.WithBatchSize(8), embedding.WithWorkers(2)),
	)
	engine := search.NewEngine(embedding.NewCachedEmbedder(emb, 64))
	return &stack{raw: raw, catalog: catalog, indexer: idx, engine: engine}
}

func (s *stack) write(t *testing.T, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.raw, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func (s *stack) rebuild(t *testing.T, metric vector.Metric) *indexer.BuildReport {
	t.Helper()
	ctx := context.Background()
	report, err := s.indexer.Rebuild(ctx, s.raw, metric)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := s.indexer.Publish(ctx, s.engine, metric); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return report
}

func ids(results []models.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func containsAny(got []string, expected []string) bool {
	set := make(map[string]bool, len(got))
	for _, id := range got {
		set[id] = true
	}
	for _, id := range expected {
		if set[id] {
			return true
		}
	}
	return false
}

// Five single-topic units; the beamforming query must find the wireless one
// under either metric.
func TestE2E_TopicScenario(t *testing.T) {
	for _, metric := range []vector.Metric{vector.MetricL2, vector.MetricCosine} {
		t.Run(metric.String(), func(t *testing.T) {
			s := newStack(t)
			s.write(t, "optics.txt", "Lens aberrations and diffraction limits shape the resolution of optical microscopes and telescopes.")
			s.write(t, "wireless.txt", "Massive MIMO antenna arrays use beamforming to steer 5G signals; beamforming optimization improves spectral efficiency.")
			s.write(t, "materials.txt", "Grain boundaries and dislocations govern the yield strength of polycrystalline metals under load.")
			s.write(t, "software.txt", "Garbage collectors trade pause times against throughput when reclaiming heap memory in managed runtimes.")
			s.write(t, "mechanics.txt", "Torque, angular momentum and moments of inertia describe rigid body rotation about a fixed axis.")

			report := s.rebuild(t, metric)
			if report.Count != 5 || report.Dimension != e2eDimensions {
				t.Fatalf("report = %+v", report)
			}
			ctx := context.Background()

			results, err := s.engine.Search(ctx, "beamforming optimization in 5G antenna arrays", 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 3 {
				t.Fatalf("got %d results, want 3", len(results))
			}
			// Files are ordered by name: materials, mechanics, optics, software, wireless.
			if results[0].DocID != "doc_5" || results[0].Title != "wireless" {
				t.Errorf("top result = %+v, want doc_5 wireless", results[0])
			}

			all, err := s.engine.Search(ctx, "beamforming optimization in 5G antenna arrays", 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 5 {
				t.Errorf("top_k above corpus size returned %d results, want 5", len(all))
			}

			if _, err := s.engine.Search(ctx, "   ", 3); !errors.Is(err, apperr.ErrInvalidQuery) {
				t.Errorf("blank query err = %v, want ErrInvalidQuery", err)
			}

			doc, err := s.catalog.GetDocument(ctx, "doc_5")
			if err != nil {
				t.Fatal(err)
			}
			if doc.Title != "wireless" || doc.Ordinal != 4 || doc.Source != "wireless.txt" {
				t.Errorf("catalog doc = %+v", doc)
			}
		})
	}
}

func TestE2E_SearchReturnsCorrectResults(t *testing.T) {
	s := newStack(t)
	c := BuildCorpus()
	if err := c.WriteRaw(s.raw, func(int) string { return ".txt" }); err != nil {
		t.Fatal(err)
	}
	report := s.rebuild(t, vector.MetricL2)
	if report.Count != c.TotalDocs {
		t.Fatalf("indexed %d records, want %d", report.Count, c.TotalDocs)
	}
	t.Logf("indexed %d documents; running %d query test cases", c.TotalDocs, c.TotalQueries)

	ctx := context.Background()
	for _, tc := range c.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			results, err := s.engine.Search(ctx, tc.Query, e2eTopK)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if got := ids(results); !containsAny(got, tc.ExpectedDocIDs) {
				t.Errorf("query %q: expected one of %v in top %d, got %v", tc.Query, tc.ExpectedDocIDs, e2eTopK, got)
			}
		})
	}
}

// TestE2E_FileIndexingSearch writes the corpus in every generated format and
// runs the same query cases.
func TestE2E_FileIndexingSearch(t *testing.T) {
	s := newStack(t, SupportedFileExtensions...)
	c := BuildCorpus()
	exts := SupportedFileExtensions
	if err := c.WriteRaw(s.raw, func(i int) string { return exts[i%len(exts)] }); err != nil {
		t.Fatal(err)
	}
	report := s.rebuild(t, vector.MetricCosine)
	if report.Count != c.TotalDocs {
		t.Fatalf("indexed %d records, want %d", report.Count, c.TotalDocs)
	}

	ctx := context.Background()
	for _, tc := range c.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			results, err := s.engine.Search(ctx, tc.Query, e2eTopK)
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if got := ids(results); !containsAny(got, tc.ExpectedDocIDs) {
				t.Errorf("query %q: expected one of %v in top %d, got %v", tc.Query, tc.ExpectedDocIDs, e2eTopK, got)
			}
		})
	}
}

func TestE2E_RebuildPicksUpChanges(t *testing.T) {
	s := newStack(t)
	c := BuildCorpus()
	if err := c.WriteRaw(s.raw, func(int) string { return ".txt" }); err != nil {
		t.Fatal(err)
	}
	first := s.rebuild(t, vector.MetricL2)
	ctx := context.Background()

	unchanged, err := s.indexer.RebuildIfChanged(ctx, s.raw, vector.MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if !unchanged.Skipped || unchanged.Generation != first.Generation {
		t.Errorf("unchanged rebuild = %+v, want skipped %s", unchanged, first.Generation)
	}

	s.write(t, "999-quantum.txt", "Surface code quantum error correction protects logical qubits. Surface code stabilizers detect bit flips.")
	second, err := s.indexer.RebuildIfChanged(ctx, s.raw, vector.MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped || second.Generation == first.Generation || second.Count != first.Count+1 {
		t.Fatalf("changed rebuild = %+v", second)
	}
	if err := s.indexer.Publish(ctx, s.engine, vector.MetricL2); err != nil {
		t.Fatal(err)
	}
	if st := s.engine.Status(); st.Generation != second.Generation || st.Size != second.Count {
		t.Errorf("engine status = %+v, want generation %s", st, second.Generation)
	}

	results, err := s.engine.Search(ctx, "surface code quantum error correction", 1)
	if err != nil {
		t.Fatal(err)
	}
	want := corpus.RecordID(second.Count)
	if len(results) != 1 || results[0].DocID != want {
		t.Errorf("results = %v, want %s first", ids(results), want)
	}

	// The previous generation is pruned after publish.
	entries, err := os.ReadDir(s.indexer.Store(vector.MetricL2).Root())
	if err != nil {
		t.Fatal(err)
	}
	gens := 0
	for _, e := range entries {
		if e.IsDir() {
			gens++
		}
	}
	if gens != 1 {
		t.Errorf("found %d generation directories, want 1", gens)
	}
}

func TestE2E_ResetUnpublishes(t *testing.T) {
	s := newStack(t)
	s.write(t, "a.txt", "Rolling element bearings reduce friction in rotating shafts.")
	s.rebuild(t, vector.MetricL2)
	ctx := context.Background()

	if err := s.indexer.Reset(ctx, vector.MetricL2); err != nil {
		t.Fatal(err)
	}
	s.engine.Unload()
	if _, err := s.engine.Search(ctx, "bearings", 1); !errors.Is(err, apperr.ErrIndexNotLoaded) {
		t.Errorf("search after reset err = %v, want ErrIndexNotLoaded", err)
	}
	if err := s.indexer.Publish(ctx, s.engine, vector.MetricL2); !errors.Is(err, apperr.ErrNoArtifact) {
		t.Errorf("publish after reset err = %v, want ErrNoArtifact", err)
	}
}
