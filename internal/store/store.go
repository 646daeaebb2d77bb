package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bloxbuddy/wizard/internal/transcript"
)

// RawSearchResult is one matching chunk row. Every query path returns
// the same shape with enough video metadata that callers never need a
// second join.
type RawSearchResult struct {
	ChunkID         string
	TranscriptID    string
	VideoID         string
	SourceID        string
	Title           string
	Creator         string
	ChunkText       string
	StartTimestamp  string
	EndTimestamp    string
	StartSeconds    int
	EndSeconds      int
	SimilarityScore float64
}

// IndexStats summarizes the transcript index.
type IndexStats struct {
	TotalVideos       int `json:"total_videos"`
	TotalChunks       int `json:"total_chunks"`
	EmbeddedChunks    int `json:"embedded_chunks"`
	AvgChunksPerVideo int `json:"avg_chunks_per_video"`
	RecentlyProcessed int `json:"recently_processed"`
}

// Store is the gateway over the persisted transcript index.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle. The handle's
// connection pool is assumed safe for concurrent use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// TranscriptExists reports whether a source video was already indexed.
func (s *Store) TranscriptExists(ctx context.Context, sourceID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM video_transcripts WHERE source_id = ?`, sourceID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transcript: %w", err)
	}
	return true, nil
}

// InsertTranscript stores the transcript record and returns its id.
func (s *Store) InsertTranscript(ctx context.Context, t *transcript.VideoTranscript) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().Unix()

	var creator any
	if t.Creator != "" {
		creator = t.Creator
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_transcripts (
			id, video_id, source_id, title, creator, language,
			full_transcript, duration_seconds, word_count, extracted_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, t.VideoID, t.SourceID, t.Title, creator, t.Language,
		t.FullText(), t.TotalDuration(), t.WordCount(), t.ExtractedAt.Unix(), now)
	if err != nil {
		return "", fmt.Errorf("failed to insert transcript: %w", err)
	}

	return id, nil
}

// UpsertChunk stores one chunk row. A nil embedding persists as NULL so
// the chunk stays reachable through text search and can be backfilled
// later.
func (s *Store) UpsertChunk(ctx context.Context, chunk transcript.Chunk) error {
	id := chunk.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().Unix()

	var blob any
	dimension := 0
	if len(chunk.Embedding) > 0 {
		blob = float64SliceToBlob(chunk.Embedding)
		dimension = len(chunk.Embedding)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_chunks (
			id, transcript_id, chunk_index, chunk_text,
			start_timestamp, end_timestamp, start_seconds, end_seconds,
			embedding, dimension, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transcript_id, chunk_index) DO UPDATE SET
			chunk_text = excluded.chunk_text,
			start_timestamp = excluded.start_timestamp,
			end_timestamp = excluded.end_timestamp,
			start_seconds = excluded.start_seconds,
			end_seconds = excluded.end_seconds,
			embedding = excluded.embedding,
			dimension = excluded.dimension
	`, id, chunk.TranscriptID, chunk.ChunkIndex, chunk.Text,
		chunk.StartTimestamp, chunk.EndTimestamp, chunk.StartSeconds, chunk.EndSeconds,
		blob, dimension, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %d: %w", chunk.ChunkIndex, err)
	}

	return nil
}

// SimilaritySearch scans embedded chunks and returns those whose cosine
// similarity against the query meets the threshold, best first.
func (s *Store) SimilaritySearch(ctx context.Context, queryEmbedding []float64, threshold float64, maxResults int) ([]RawSearchResult, error) {
	return s.vectorScan(ctx, queryEmbedding, threshold, maxResults, 0)
}

// DiverseSearch is SimilaritySearch with a per-video result cap, for
// callers that want guaranteed multi-video spread.
func (s *Store) DiverseSearch(ctx context.Context, queryEmbedding []float64, threshold float64, maxResults, maxPerVideo int) ([]RawSearchResult, error) {
	if maxPerVideo <= 0 {
		maxPerVideo = 3
	}
	return s.vectorScan(ctx, queryEmbedding, threshold, maxResults, maxPerVideo)
}

func (s *Store) vectorScan(ctx context.Context, queryEmbedding []float64, threshold float64, maxResults, maxPerVideo int) ([]RawSearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	if maxResults <= 0 {
		maxResults = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.transcript_id, v.video_id, v.source_id, v.title, v.creator,
		       c.chunk_text, c.start_timestamp, c.end_timestamp, c.start_seconds, c.end_seconds,
		       c.embedding, c.dimension
		FROM transcript_chunks c
		JOIN video_transcripts v ON v.id = c.transcript_id
		WHERE c.embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []RawSearchResult
	for rows.Next() {
		var (
			r         RawSearchResult
			creator   sql.NullString
			blob      []byte
			dimension int
		)
		if err := rows.Scan(&r.ChunkID, &r.TranscriptID, &r.VideoID, &r.SourceID, &r.Title, &creator,
			&r.ChunkText, &r.StartTimestamp, &r.EndTimestamp, &r.StartSeconds, &r.EndSeconds,
			&blob, &dimension); err != nil {
			continue
		}
		if dimension != len(queryEmbedding) {
			continue
		}
		embedding := blobToFloat64Slice(blob)
		if len(embedding) != len(queryEmbedding) {
			continue
		}

		score := cosineSimilarity(queryEmbedding, embedding)
		if score < threshold {
			continue
		}
		r.Creator = creator.String
		r.SimilarityScore = score
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})

	if maxPerVideo > 0 {
		perVideo := make(map[string]int)
		capped := results[:0]
		for _, r := range results {
			if perVideo[r.VideoID] >= maxPerVideo {
				continue
			}
			perVideo[r.VideoID]++
			capped = append(capped, r)
		}
		results = capped
	}

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// TextSearch matches chunks by full-text search, falling back to plain
// substring matching when the FTS query itself errors.
func (s *Store) TextSearch(ctx context.Context, query string, maxResults int) ([]RawSearchResult, error) {
	if maxResults <= 0 {
		maxResults = 20
	}

	results, err := s.textSearchFTS(ctx, query, maxResults)
	if err == nil {
		return results, nil
	}

	return s.textSearchLike(ctx, query, maxResults)
}

func (s *Store) textSearchFTS(ctx context.Context, query string, maxResults int) ([]RawSearchResult, error) {
	safeQuery := escapeFTSQuery(query)
	if safeQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.transcript_id, v.video_id, v.source_id, v.title, v.creator,
		       c.chunk_text, c.start_timestamp, c.end_timestamp, c.start_seconds, c.end_seconds
		FROM transcript_chunks_fts fts
		JOIN transcript_chunks c ON c.id = fts.chunk_id
		JOIN video_transcripts v ON v.id = c.transcript_id
		WHERE transcript_chunks_fts MATCH ?
		ORDER BY bm25(transcript_chunks_fts)
		LIMIT ?
	`, safeQuery, maxResults)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	defer rows.Close()

	return scanTextRows(rows)
}

func (s *Store) textSearchLike(ctx context.Context, query string, maxResults int) ([]RawSearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.transcript_id, v.video_id, v.source_id, v.title, v.creator,
		       c.chunk_text, c.start_timestamp, c.end_timestamp, c.start_seconds, c.end_seconds
		FROM transcript_chunks c
		JOIN video_transcripts v ON v.id = c.transcript_id
		WHERE c.chunk_text LIKE '%' || ? || '%'
		ORDER BY c.transcript_id, c.chunk_index
		LIMIT ?
	`, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("substring query failed: %w", err)
	}
	defer rows.Close()

	return scanTextRows(rows)
}

func scanTextRows(rows *sql.Rows) ([]RawSearchResult, error) {
	var results []RawSearchResult
	for rows.Next() {
		var (
			r       RawSearchResult
			creator sql.NullString
		)
		if err := rows.Scan(&r.ChunkID, &r.TranscriptID, &r.VideoID, &r.SourceID, &r.Title, &creator,
			&r.ChunkText, &r.StartTimestamp, &r.EndTimestamp, &r.StartSeconds, &r.EndSeconds); err != nil {
			continue
		}
		r.Creator = creator.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// Stats summarizes the index for observability and CLI output.
func (s *Store) Stats(ctx context.Context) (IndexStats, error) {
	var stats IndexStats

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM video_transcripts`).Scan(&stats.TotalVideos)
	if err != nil {
		return stats, fmt.Errorf("failed to count videos: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_chunks`).Scan(&stats.TotalChunks)
	if err != nil {
		return stats, fmt.Errorf("failed to count chunks: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_chunks WHERE embedding IS NOT NULL`).Scan(&stats.EmbeddedChunks)
	if err != nil {
		return stats, fmt.Errorf("failed to count embedded chunks: %w", err)
	}

	yesterday := time.Now().Add(-24 * time.Hour).Unix()
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM video_transcripts WHERE processed_at > ?`, yesterday).Scan(&stats.RecentlyProcessed)
	if err != nil {
		return stats, fmt.Errorf("failed to count recent videos: %w", err)
	}

	if stats.TotalVideos > 0 {
		stats.AvgChunksPerVideo = int(math.Round(float64(stats.TotalChunks) / float64(stats.TotalVideos)))
	}
	return stats, nil
}

func escapeFTSQuery(query string) string {
	terms := strings.Fields(strings.ToLower(query))
	escaped := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.Trim(term, ".,:;!?")
		if term == "" {
			continue
		}
		escaped = append(escaped, "\""+strings.ReplaceAll(term, "\"", "\"\"")+"\"")
	}
	if len(escaped) == 0 {
		return ""
	}
	// OR for broader matching; bm25 orders the good hits first anyway.
	return strings.Join(escaped, " OR ")
}

// cosineSimilarity returns the cosine of two vectors clamped to [0,1],
// matching a 1-distance score from a cosine-distance index.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func float64SliceToBlob(values []float64) []byte {
	blob := make([]byte, len(values)*8)
	for i, v := range values {
		bits := math.Float64bits(v)
		for j := 0; j < 8; j++ {
			blob[i*8+j] = byte(bits >> (j * 8))
		}
	}
	return blob
}

func blobToFloat64Slice(blob []byte) []float64 {
	if len(blob)%8 != 0 {
		return nil
	}
	values := make([]float64, len(blob)/8)
	for i := 0; i < len(values); i++ {
		bits := uint64(0)
		for j := 0; j < 8; j++ {
			bits |= uint64(blob[i*8+j]) << (j * 8)
		}
		values[i] = math.Float64frombits(bits)
	}
	return values
}
