package search

import (
	"context"
	"fmt"
	"time"

	"github.com/bloxbuddy/wizard/internal/store"
)

// Method records which retrieval path produced a response.
type Method string

const (
	// MethodVector means similarity search alone produced the results.
	MethodVector Method = "vector"
	// MethodHybrid means sparse vector results were topped up with text
	// matches.
	MethodHybrid Method = "hybrid"
	// MethodText means text search ran as the sole source after the
	// vector path returned nothing usable.
	MethodText Method = "text"
	// MethodTextFallback means embedding generation itself failed and
	// the service degraded to text search.
	MethodTextFallback Method = "text-fallback"
)

// Config controls one search call.
type Config struct {
	MaxResults          int
	SimilarityThreshold float64
	MinVectorResults    int
	MultiVideoBoost     bool
	ConfidenceWeighting bool
}

// DefaultConfig returns the standard retrieval configuration.
func DefaultConfig() Config {
	return Config{
		MaxResults:          20,
		SimilarityThreshold: 0.7,
		MinVectorResults:    3,
		MultiVideoBoost:     true,
		ConfidenceWeighting: true,
	}
}

// Result is a read-only projection built per query, never persisted.
type Result struct {
	ChunkID        string  `json:"chunk_id"`
	TranscriptID   string  `json:"transcript_id"`
	VideoID        string  `json:"video_id"`
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	Creator        string  `json:"creator,omitempty"`
	Text           string  `json:"text"`
	StartTimestamp string  `json:"start_timestamp"`
	EndTimestamp   string  `json:"end_timestamp"`
	StartSeconds   int     `json:"start_seconds"`
	EndSeconds     int     `json:"end_seconds"`
	RelevanceScore float64 `json:"relevance_score"`
	Confidence     float64 `json:"confidence"`
	VideoURL       string  `json:"video_url"`
	TimestampURL   string  `json:"timestamp_url"`
}

// Response groups results with retrieval diagnostics.
type Response struct {
	Results    []Result      `json:"results"`
	TotalFound int           `json:"total_found"`
	SearchTime time.Duration `json:"search_time"`
	Query      string        `json:"query"`
	Method     Method        `json:"method"`
}

// BackendError marks a vector/text store failure. The service retries
// once and then returns an empty result set instead of propagating.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("search backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Embedder generates a query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Gateway is the store capability the service consumes.
type Gateway interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float64, threshold float64, maxResults int) ([]store.RawSearchResult, error)
	DiverseSearch(ctx context.Context, queryEmbedding []float64, threshold float64, maxResults, maxPerVideo int) ([]store.RawSearchResult, error)
	TextSearch(ctx context.Context, query string, maxResults int) ([]store.RawSearchResult, error)
}
