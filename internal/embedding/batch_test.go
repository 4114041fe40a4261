package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBatchEncoder_OrderIndependentOfBatching(t *testing.T) {
	e := NewHashingEmbedder(48, 64)
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("document %d about topic %d", i, i%5)
	}
	ctx := context.Background()
	ref, err := NewBatchEncoder(e).Encode(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	for _, cfg := range []struct{ batch, workers int }{{1, 1}, {4, 3}, {7, 8}, {100, 2}} {
		got, err := NewBatchEncoder(e, WithBatchSize(cfg.batch), WithWorkers(cfg.workers)).Encode(ctx, texts)
		if err != nil {
			t.Fatal(err)
		}
		for i := range ref {
			for j := range ref[i] {
				if ref[i][j] != got[i][j] {
					t.Fatalf("batch=%d workers=%d: vector %d differs", cfg.batch, cfg.workers, i)
				}
			}
		}
	}
}

func TestBatchEncoder_Empty(t *testing.T) {
	out, err := NewBatchEncoder(NewHashingEmbedder(8, 8)).Encode(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("got %v, %v", out, err)
	}
}

type failingEmbedder struct {
	*HashingEmbedder
	failOn string
}

var errBoom = errors.New("boom")

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == f.failOn {
			return nil, errBoom
		}
	}
	return f.HashingEmbedder.EmbedBatch(ctx, texts)
}

type shortEmbedder struct{ *HashingEmbedder }

func (s shortEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestBatchEncoder_PropagatesErrors(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	fe := &failingEmbedder{HashingEmbedder: NewHashingEmbedder(8, 8), failOn: "d"}
	_, err := NewBatchEncoder(fe, WithBatchSize(2), WithWorkers(2)).Encode(context.Background(), texts)
	if !errors.Is(err, errBoom) {
		t.Fatalf("got %v", err)
	}

	_, err = NewBatchEncoder(shortEmbedder{NewHashingEmbedder(8, 8)}).Encode(context.Background(), texts)
	if err == nil {
		t.Fatal("expected dimension error")
	}
}
