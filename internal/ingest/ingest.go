// Package ingest turns transcript JSON files into indexed, embedded
// chunks. Failures are contained per video and per chunk: one bad file
// never aborts a batch, and a failed embedding persists the chunk
// without a vector so text search still reaches it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bloxbuddy/wizard/internal/embed"
	"github.com/bloxbuddy/wizard/internal/store"
	"github.com/bloxbuddy/wizard/internal/transcript"
)

// TranscriptFile is the on-disk JSON shape dropped by the extraction
// tooling.
type TranscriptFile struct {
	VideoID  string `json:"video_id"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Creator  string `json:"creator,omitempty"`
	Language string `json:"language,omitempty"`
	Segments []struct {
		Text            string  `json:"text"`
		StartSeconds    float64 `json:"start_seconds"`
		DurationSeconds float64 `json:"duration_seconds"`
	} `json:"segments"`
}

// Summary reports a batch run.
type Summary struct {
	Processed     int `json:"processed"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	ChunksCreated int `json:"chunks_created"`
}

// Pipeline wires parsing, chunking, embedding and storage.
type Pipeline struct {
	store   *store.Store
	batcher *embed.Batcher
	chunker *transcript.Chunker
}

func NewPipeline(st *store.Store, batcher *embed.Batcher, chunker *transcript.Chunker) *Pipeline {
	return &Pipeline{store: st, batcher: batcher, chunker: chunker}
}

// IngestDir ingests every *.json file in dir, in name order so runs are
// reproducible. Per-file failures are logged and counted, not fatal.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) (Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read transcript dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	var summary Summary
	for _, path := range paths {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		chunks, err := p.IngestFile(ctx, path)
		switch {
		case errors.Is(err, ErrAlreadyIndexed):
			summary.Skipped++
		case err != nil:
			log.Printf("ingest: %s: %v", filepath.Base(path), err)
			summary.Failed++
		default:
			summary.Processed++
			summary.ChunksCreated += chunks
		}
	}
	return summary, nil
}

// ErrAlreadyIndexed marks a transcript whose source id is already in
// the index.
var ErrAlreadyIndexed = errors.New("transcript already indexed")

// IngestFile ingests one transcript file and returns the number of
// chunks created.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var tf TranscriptFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return 0, fmt.Errorf("failed to parse transcript json: %w", err)
	}
	if tf.SourceID == "" {
		return 0, fmt.Errorf("transcript file has no source_id")
	}
	if tf.Title == "" {
		tf.Title = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if tf.Language == "" {
		tf.Language = "en"
	}

	exists, err := p.store.TranscriptExists(ctx, tf.SourceID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrAlreadyIndexed
	}

	segments := make([]transcript.Segment, len(tf.Segments))
	for i, s := range tf.Segments {
		segments[i] = transcript.Segment{
			Text:            s.Text,
			StartSeconds:    s.StartSeconds,
			DurationSeconds: s.DurationSeconds,
		}
	}
	vt := transcript.NewVideoTranscript(tf.VideoID, tf.SourceID, tf.Title, tf.Creator, tf.Language, segments)

	chunks, err := p.chunker.ChunkTranscript(vt)
	if err != nil {
		return 0, err
	}

	transcriptID, err := p.store.InsertTranscript(ctx, vt)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	results := p.batcher.EmbedBatch(ctx, texts)

	stored := 0
	embedFailures := 0
	for i := range chunks {
		chunks[i].TranscriptID = transcriptID
		if results[i].Err != nil {
			embedFailures++
			log.Printf("ingest: %s chunk %d embedding failed: %v", tf.SourceID, i, results[i].Err)
		} else {
			chunks[i].Embedding = results[i].Embedding
		}
		if err := p.store.UpsertChunk(ctx, chunks[i]); err != nil {
			return stored, err
		}
		stored++
	}

	if embedFailures > 0 {
		log.Printf("ingest: %s indexed with %d/%d chunks missing embeddings", tf.SourceID, embedFailures, len(chunks))
	}
	return stored, nil
}
