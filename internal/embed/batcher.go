package embed

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultWorkers    = 5
	defaultBatchDelay = 3 * time.Second
)

// Embedder generates vector embeddings for text. *openai.Client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float64, error)
}

// EmbeddingError marks an upstream embedding provider failure after
// retries were exhausted. Callers degrade rather than abort: chunks are
// persisted without a vector and search falls back to text matching.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Result is the outcome for a single batch item. Err is set instead of
// aborting the whole batch when one item fails.
type Result struct {
	Index     int
	Embedding []float64
	Err       error
}

// Batcher embeds many texts with bounded concurrency and a fixed pause
// between waves to respect upstream rate limits.
type Batcher struct {
	client     Embedder
	model      string
	workers    int
	batchDelay time.Duration
}

// NewBatcher creates a batcher. workers<=0 and delay<0 fall back to
// defaults.
func NewBatcher(client Embedder, model string, workers int, batchDelay time.Duration) *Batcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if batchDelay < 0 {
		batchDelay = defaultBatchDelay
	}
	return &Batcher{
		client:     client,
		model:      model,
		workers:    workers,
		batchDelay: batchDelay,
	}
}

// Embed embeds a single text, wrapping provider failures in
// EmbeddingError.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float64, error) {
	vector, err := b.client.Embed(ctx, b.model, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	return vector, nil
}

// EmbedBatch embeds texts in waves of up to `workers` concurrent calls.
// One item's failure never cancels its siblings; the result slice is
// index-aligned with the input and carries per-item errors.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	for i := range results {
		results[i].Index = i
	}

	for start := 0; start < len(texts); start += b.workers {
		end := start + b.workers
		if end > len(texts) {
			end = len(texts)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				vector, err := b.client.Embed(ctx, b.model, texts[i])
				if err != nil {
					results[i].Err = &EmbeddingError{Err: err}
					return
				}
				results[i].Embedding = vector
			}(i)
		}
		wg.Wait()

		if end < len(texts) && b.batchDelay > 0 {
			select {
			case <-time.After(b.batchDelay):
			case <-ctx.Done():
				for i := end; i < len(texts); i++ {
					results[i].Err = ctx.Err()
				}
				return results
			}
		}
	}

	return results
}
