package search

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/bloxbuddy/wizard/internal/store"
	"github.com/bloxbuddy/wizard/internal/transcript"
)

// textMatchConfidence is assigned to text-matched results, which carry
// no similarity score.
const textMatchConfidence = 0.8

// Service orchestrates retrieval: embed the query, run vector search,
// top up with text search when results are sparse, and degrade to
// text-only when embedding fails.
type Service struct {
	gateway  Gateway
	embedder Embedder
	defaults Config
}

// NewService creates a search service. A nil embedder forces the
// text-fallback path on every query.
func NewService(gateway Gateway, embedder Embedder, defaults Config) *Service {
	if defaults.MaxResults <= 0 {
		defaults = DefaultConfig()
	}
	return &Service{gateway: gateway, embedder: embedder, defaults: defaults}
}

// Search runs the full retrieval pipeline for a query. Backend
// failures degrade to an empty result set; the only returned error is
// an empty query.
func (s *Service) Search(ctx context.Context, query string, override *Config) (Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, errors.New("search: query is required")
	}

	cfg := s.defaults
	if override != nil {
		cfg = *override
	}

	method := MethodVector
	var raw []store.RawSearchResult
	var textRaw []store.RawSearchResult

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		log.Printf("search: query embedding failed, degrading to text: %v", err)
		method = MethodTextFallback
		textRaw = s.textSearch(ctx, query, cfg.MaxResults)
	} else {
		raw = s.vectorSearch(ctx, queryEmbedding, cfg)
		if len(raw) < cfg.MinVectorResults {
			textRaw = s.textSearch(ctx, query, cfg.MaxResults)
			if len(textRaw) > 0 {
				if len(raw) == 0 {
					method = MethodText
				} else {
					method = MethodHybrid
				}
			}
		}
	}

	results := transformResults(raw)
	results = appendTextResults(results, textRaw)
	totalFound := len(results)

	results = postProcess(results, cfg)

	return Response{
		Results:    results,
		TotalFound: totalFound,
		SearchTime: time.Since(start),
		Query:      query,
		Method:     method,
	}, nil
}

// SearchDiverseSources runs the per-video-capped similarity query for
// callers that want guaranteed multi-video spread. The store already
// enforces the spread, so no diversity re-ranking runs on top.
func (s *Service) SearchDiverseSources(ctx context.Context, query string, maxPerVideo int, override *Config) (Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, errors.New("search: query is required")
	}

	cfg := s.defaults
	if override != nil {
		cfg = *override
	}

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		log.Printf("search: query embedding failed, degrading to text: %v", err)
		textRaw := s.textSearch(ctx, query, cfg.MaxResults)
		results := appendTextResults(nil, textRaw)
		return Response{
			Results:    results,
			TotalFound: len(results),
			SearchTime: time.Since(start),
			Query:      query,
			Method:     MethodTextFallback,
		}, nil
	}

	raw, backendErr := s.gateway.DiverseSearch(ctx, queryEmbedding, cfg.SimilarityThreshold, cfg.MaxResults, maxPerVideo)
	if backendErr != nil {
		raw, backendErr = s.gateway.DiverseSearch(ctx, queryEmbedding, cfg.SimilarityThreshold, cfg.MaxResults, maxPerVideo)
	}
	if backendErr != nil {
		log.Printf("search: %v", &BackendError{Op: "diverse", Err: backendErr})
		raw = nil
	}

	results := transformResults(raw)
	if len(results) > cfg.MaxResults {
		results = results[:cfg.MaxResults]
	}

	return Response{
		Results:    results,
		TotalFound: len(raw),
		SearchTime: time.Since(start),
		Query:      query,
		Method:     MethodVector,
	}, nil
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float64, error) {
	if s.embedder == nil {
		return nil, errors.New("embedder not configured")
	}
	return s.embedder.Embed(ctx, query)
}

// vectorSearch retries the store once, then gives up with an empty set.
func (s *Service) vectorSearch(ctx context.Context, queryEmbedding []float64, cfg Config) []store.RawSearchResult {
	raw, err := s.gateway.SimilaritySearch(ctx, queryEmbedding, cfg.SimilarityThreshold, cfg.MaxResults)
	if err != nil {
		raw, err = s.gateway.SimilaritySearch(ctx, queryEmbedding, cfg.SimilarityThreshold, cfg.MaxResults)
	}
	if err != nil {
		log.Printf("search: %v", &BackendError{Op: "similarity", Err: err})
		return nil
	}
	return raw
}

func (s *Service) textSearch(ctx context.Context, query string, maxResults int) []store.RawSearchResult {
	raw, err := s.gateway.TextSearch(ctx, query, maxResults)
	if err != nil {
		raw, err = s.gateway.TextSearch(ctx, query, maxResults)
	}
	if err != nil {
		log.Printf("search: %v", &BackendError{Op: "text", Err: err})
		return nil
	}
	return raw
}

// transformResults normalizes similarity rows into the read-only
// projection, deriving confidence from the similarity score.
func transformResults(raw []store.RawSearchResult) []Result {
	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		results = append(results, Result{
			ChunkID:        r.ChunkID,
			TranscriptID:   r.TranscriptID,
			VideoID:        r.VideoID,
			SourceID:       r.SourceID,
			Title:          r.Title,
			Creator:        r.Creator,
			Text:           r.ChunkText,
			StartTimestamp: r.StartTimestamp,
			EndTimestamp:   r.EndTimestamp,
			StartSeconds:   r.StartSeconds,
			EndSeconds:     r.EndSeconds,
			RelevanceScore: r.SimilarityScore,
			Confidence:     confidenceFromSimilarity(r.SimilarityScore),
			VideoURL:       transcript.VideoURL(r.SourceID),
			TimestampURL:   transcript.TimestampURL(r.SourceID, r.StartSeconds),
		})
	}
	return results
}

// appendTextResults normalizes text-matched rows behind the vector
// results, skipping chunks already present. Text matches have no
// similarity score, so both score and confidence use the fixed text
// default.
func appendTextResults(results []Result, textRaw []store.RawSearchResult) []Result {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.ChunkID] = true
	}
	for _, r := range textRaw {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		results = append(results, Result{
			ChunkID:        r.ChunkID,
			TranscriptID:   r.TranscriptID,
			VideoID:        r.VideoID,
			SourceID:       r.SourceID,
			Title:          r.Title,
			Creator:        r.Creator,
			Text:           r.ChunkText,
			StartTimestamp: r.StartTimestamp,
			EndTimestamp:   r.EndTimestamp,
			StartSeconds:   r.StartSeconds,
			EndSeconds:     r.EndSeconds,
			RelevanceScore: textMatchConfidence,
			Confidence:     textMatchConfidence,
			VideoURL:       transcript.VideoURL(r.SourceID),
			TimestampURL:   transcript.TimestampURL(r.SourceID, r.StartSeconds),
		})
	}
	return results
}
