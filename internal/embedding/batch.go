package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// BatchEncoder embeds a corpus in fixed-size batches on a worker pool.
// Results land at their input index, so output order never depends on
// batch size, worker count or scheduling.
type BatchEncoder struct {
	embedder  Embedder
	batchSize int
	workers   int
	logger    *zap.Logger
}

// BatchOption configures a BatchEncoder.
type BatchOption func(*BatchEncoder)

// WithBatchSize sets the number of texts per provider call.
func WithBatchSize(n int) BatchOption {
	return func(b *BatchEncoder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithWorkers sets the pool size. Providers that serialize internally gain
// nothing from more than one worker.
func WithWorkers(n int) BatchOption {
	return func(b *BatchEncoder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBatchLogger sets the progress logger.
func WithBatchLogger(l *zap.Logger) BatchOption {
	return func(b *BatchEncoder) { b.logger = l }
}

// NewBatchEncoder returns an encoder over embedder.
func NewBatchEncoder(embedder Embedder, opts ...BatchOption) *BatchEncoder {
	b := &BatchEncoder{embedder: embedder, batchSize: 32, workers: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Encode embeds every text. The first failing batch cancels the rest and its
// error is returned.
func (b *BatchEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		done     int
		mu       sync.Mutex
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := b.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				fail(fmt.Errorf("batch %d-%d: %w", start, end-1, err))
				return
			}
			for i, v := range vecs {
				if err := checkVector(v, b.embedder.Dimensions(), fmt.Sprintf("text %d", start+i)); err != nil {
					fail(err)
					return
				}
			}
			copy(out[start:end], vecs)

			mu.Lock()
			done += end - start
			progress := done
			mu.Unlock()
			b.logger.Debug("embedded batch", zap.Int("done", progress), zap.Int("total", len(texts)))
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submit batch: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
