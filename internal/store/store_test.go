package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bloxbuddy/wizard/internal/testutil"
	"github.com/bloxbuddy/wizard/internal/transcript"
)

func seedTranscript(t *testing.T, s *Store, sourceID, title string) string {
	t.Helper()
	vt := transcript.NewVideoTranscript("vid-"+sourceID, sourceID, title, "BloxBuddy", "en", []transcript.Segment{
		{Text: "Welcome to the tutorial.", StartSeconds: 0, DurationSeconds: 10},
	})
	id, err := s.InsertTranscript(context.Background(), vt)
	if err != nil {
		t.Fatalf("InsertTranscript: %v", err)
	}
	return id
}

func seedChunk(t *testing.T, s *Store, transcriptID string, index int, text string, startSeconds int, embedding []float64) {
	t.Helper()
	err := s.UpsertChunk(context.Background(), transcript.Chunk{
		TranscriptID:   transcriptID,
		ChunkIndex:     index,
		Text:           text,
		StartTimestamp: transcript.FormatTimestamp(float64(startSeconds)),
		EndTimestamp:   transcript.FormatTimestamp(float64(startSeconds + 30)),
		StartSeconds:   startSeconds,
		EndSeconds:     startSeconds + 30,
		Embedding:      embedding,
	})
	if err != nil {
		t.Fatalf("UpsertChunk: %v", err)
	}
}

func TestTranscriptExists(t *testing.T) {
	s := New(testutil.OpenTestDB(t))

	exists, err := s.TranscriptExists(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("TranscriptExists: %v", err)
	}
	if exists {
		t.Error("transcript should not exist yet")
	}

	seedTranscript(t, s, "abc123", "Test Video")

	exists, err = s.TranscriptExists(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("TranscriptExists: %v", err)
	}
	if !exists {
		t.Error("transcript should exist after insert")
	}
}

func TestSimilaritySearchOrdersAndFilters(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id := seedTranscript(t, s, "abc123", "Leaderboard Tutorial")

	seedChunk(t, s, id, 0, "Intro chatter.", 0, []float64{1, 0, 0})
	seedChunk(t, s, id, 1, "Now we build the leaderboard.", 135, []float64{0.9, 0.1, 0})
	seedChunk(t, s, id, 2, "Unrelated content.", 300, []float64{0, 1, 0})

	query := []float64{1, 0, 0}
	results, err := s.SimilaritySearch(context.Background(), query, 0.7, 20)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above threshold, got %d", len(results))
	}
	if results[0].SimilarityScore < results[1].SimilarityScore {
		t.Error("results not ordered best first")
	}
	for _, r := range results {
		if r.SimilarityScore < 0 || r.SimilarityScore > 1 {
			t.Errorf("score %v outside [0,1]", r.SimilarityScore)
		}
		if r.Title != "Leaderboard Tutorial" {
			t.Errorf("result missing video metadata: %+v", r)
		}
	}
}

func TestSimilaritySearchLeaderboardTimestamp(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id := seedTranscript(t, s, "abc123", "Leaderboard Tutorial")
	seedChunk(t, s, id, 0, "Now we build the leaderboard with a DataStore.", 135, []float64{1, 0, 0})

	results, err := s.SimilaritySearch(context.Background(), []float64{1, 0, 0}, 0.7, 20)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].StartSeconds != 135 {
		t.Errorf("start seconds = %d, want 135", results[0].StartSeconds)
	}
	if results[0].StartTimestamp != "2:15" {
		t.Errorf("start timestamp = %q, want 2:15", results[0].StartTimestamp)
	}
}

func TestSimilaritySearchSkipsNullEmbeddings(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id := seedTranscript(t, s, "abc123", "Test Video")

	seedChunk(t, s, id, 0, "Embedded chunk.", 0, []float64{1, 0, 0})
	seedChunk(t, s, id, 1, "Chunk whose embedding failed.", 30, nil)

	results, err := s.SimilaritySearch(context.Background(), []float64{1, 0, 0}, 0.1, 20)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the embedded chunk, got %d results", len(results))
	}

	// The un-embedded chunk must still be reachable by text.
	textResults, err := s.TextSearch(context.Background(), "failed", 20)
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(textResults) != 1 {
		t.Fatalf("expected text search to find the chunk, got %d", len(textResults))
	}
}

func TestDiverseSearchCapsPerVideo(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id1 := seedTranscript(t, s, "a", "Video A")
	id2 := seedTranscript(t, s, "b", "Video B")

	for i := 0; i < 5; i++ {
		seedChunk(t, s, id1, i, "Video A chunk.", i*30, []float64{1, 0, 0})
	}
	seedChunk(t, s, id2, 0, "Video B chunk.", 0, []float64{0.95, 0.05, 0})

	results, err := s.DiverseSearch(context.Background(), []float64{1, 0, 0}, 0.5, 20, 2)
	if err != nil {
		t.Fatalf("DiverseSearch: %v", err)
	}

	perVideo := map[string]int{}
	for _, r := range results {
		perVideo[r.VideoID]++
	}
	if perVideo["vid-a"] > 2 {
		t.Errorf("video A appears %d times, cap is 2", perVideo["vid-a"])
	}
	if perVideo["vid-b"] == 0 {
		t.Error("second video missing from diverse results")
	}
}

func TestUpsertChunkReplacesOnConflict(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id := seedTranscript(t, s, "abc123", "Test Video")

	seedChunk(t, s, id, 0, "First version.", 0, nil)
	seedChunk(t, s, id, 0, "Second version.", 0, []float64{1, 0, 0})

	results, err := s.TextSearch(context.Background(), "version", 20)
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 chunk after upsert, got %d", len(results))
	}
	if results[0].ChunkText != "Second version." {
		t.Errorf("chunk text = %q", results[0].ChunkText)
	}
}

func TestTextSearchFTS(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id := seedTranscript(t, s, "abc123", "Scripting Basics")

	seedChunk(t, s, id, 0, "Leaderboards track player scores using DataStores.", 135, nil)
	seedChunk(t, s, id, 1, "Teleporting players between places.", 200, nil)

	results, err := s.TextSearch(context.Background(), "leaderboard scores", 20)
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a text match")
	}
	if results[0].StartSeconds != 135 {
		t.Errorf("start seconds = %d, want 135", results[0].StartSeconds)
	}
}

func TestStats(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	id1 := seedTranscript(t, s, "vid-a", "Video A")
	id2 := seedTranscript(t, s, "vid-b", "Video B")

	seedChunk(t, s, id1, 0, "A0.", 0, []float64{1, 0})
	seedChunk(t, s, id1, 1, "A1.", 30, nil)
	seedChunk(t, s, id2, 0, "B0.", 0, []float64{0, 1})
	seedChunk(t, s, id2, 1, "B1.", 30, []float64{1, 1})

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalVideos != 2 {
		t.Errorf("TotalVideos = %d", stats.TotalVideos)
	}
	if stats.TotalChunks != 4 {
		t.Errorf("TotalChunks = %d", stats.TotalChunks)
	}
	if stats.EmbeddedChunks != 3 {
		t.Errorf("EmbeddedChunks = %d", stats.EmbeddedChunks)
	}
	if stats.AvgChunksPerVideo != 2 {
		t.Errorf("AvgChunksPerVideo = %d", stats.AvgChunksPerVideo)
	}
	if stats.RecentlyProcessed != 2 {
		t.Errorf("RecentlyProcessed = %d", stats.RecentlyProcessed)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	// Opposed vectors clamp to 0 rather than going negative.
	if got := cosineSimilarity([]float64{1, 0}, []float64{-1, 0}); got != 0 {
		t.Errorf("opposed vectors = %v, want 0", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	original := []float64{0.1, -2.5, 1e-9, 0, 42}
	got := blobToFloat64Slice(float64SliceToBlob(original))
	if len(got) != len(original) {
		t.Fatalf("length %d, want %d", len(got), len(original))
	}
	for i := range original {
		if got[i] != original[i] {
			t.Errorf("value %d: %v != %v", i, got[i], original[i])
		}
	}
}

func TestRecentlyProcessedWindow(t *testing.T) {
	s := New(testutil.OpenTestDB(t))
	seedTranscript(t, s, "vid-a", "Video A")

	// Backdate processing past the 24h window.
	old := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := s.db.Exec(`UPDATE video_transcripts SET processed_at = ?`, old); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RecentlyProcessed != 0 {
		t.Errorf("RecentlyProcessed = %d, want 0", stats.RecentlyProcessed)
	}
}
