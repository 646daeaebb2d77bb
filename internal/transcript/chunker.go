package transcript

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	defaultTargetChars  = 2000
	defaultOverlapChars = 400
)

// ChunkingError rejects a single malformed transcript. Batch ingest
// logs it and moves on to the next video.
type ChunkingError struct {
	SourceID string
	Reason   string
}

func (e *ChunkingError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("chunking failed: %s", e.Reason)
	}
	return fmt.Sprintf("chunking failed for %s: %s", e.SourceID, e.Reason)
}

// Chunker splits transcripts into overlapping, sentence-bounded chunks.
// Boundaries are deterministic: the same input and config always yield
// identical chunks, so re-indexing is idempotent.
type Chunker struct {
	targetChars  int
	overlapChars int
}

// NewChunker creates a chunker. Non-positive values fall back to the
// defaults (~500 tokens per chunk, ~100 tokens of overlap).
func NewChunker(targetChars, overlapChars int) *Chunker {
	if targetChars <= 0 {
		targetChars = defaultTargetChars
	}
	if overlapChars < 0 {
		overlapChars = defaultOverlapChars
	}
	return &Chunker{targetChars: targetChars, overlapChars: overlapChars}
}

// ChunkTranscript chunks a full transcript, deriving chunk timestamps
// from the segments each chunk spans.
func (c *Chunker) ChunkTranscript(t *VideoTranscript) ([]Chunk, error) {
	if t == nil || strings.TrimSpace(t.FullText()) == "" {
		return nil, &ChunkingError{SourceID: sourceIDOf(t), Reason: "empty transcript"}
	}
	for _, seg := range t.Segments() {
		if seg.StartSeconds < 0 || seg.DurationSeconds < 0 {
			return nil, &ChunkingError{SourceID: t.SourceID, Reason: "segment with negative timing"}
		}
	}

	timeAt := segmentTimeFunc(t.Segments())
	chunks := c.chunk(t.FullText(), timeAt)
	for i := range chunks {
		chunks[i].TranscriptID = t.ID
	}
	return chunks, nil
}

// ChunkText chunks plain text without segment timing. Chunk times are
// estimated proportionally across totalDuration (zero leaves all
// timestamps at 0:00).
func (c *Chunker) ChunkText(text string, totalDuration float64) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ChunkingError{Reason: "empty transcript"}
	}
	timeAt := func(offset int) float64 {
		if totalDuration <= 0 || len(text) == 0 {
			return 0
		}
		return totalDuration * float64(offset) / float64(len(text))
	}
	return c.chunk(text, timeAt), nil
}

// chunk accumulates whole sentences until the next one would push the
// chunk past targetChars, then closes the chunk and seeds the next one
// with the sentence-aligned tail of the previous text.
func (c *Chunker) chunk(text string, timeAt func(int) float64) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	overlap := "" // tail of the previous chunk, whole sentences only
	freshStart := 0

	flush := func(first, last int) {
		fresh := text[sentences[first].start:sentences[last].end]
		startSec := timeAt(sentences[first].start)
		endSec := timeAt(sentences[last].end)
		chunks = append(chunks, Chunk{
			ChunkIndex:     len(chunks),
			Text:           overlap + fresh,
			Overlap:        len(overlap),
			StartTimestamp: FormatTimestamp(startSec),
			EndTimestamp:   FormatTimestamp(endSec),
			StartSeconds:   int(math.Round(startSec)),
			EndSeconds:     int(math.Round(endSec)),
		})
		overlap = c.tailSentences(text, sentences, first, last)
	}

	freshLen := 0
	for i, s := range sentences {
		sentLen := s.end - s.start
		if freshLen > 0 && len(overlap)+freshLen+sentLen > c.targetChars {
			flush(freshStart, i-1)
			freshStart = i
			freshLen = 0
		}
		freshLen += sentLen
	}
	flush(freshStart, len(sentences)-1)

	return chunks
}

// tailSentences walks back from sentence last, taking whole sentences
// until at least overlapChars are covered. The overlap may exceed the
// configured size by at most one sentence.
func (c *Chunker) tailSentences(text string, sentences []span, first, last int) string {
	if c.overlapChars == 0 {
		return ""
	}
	start := last
	size := sentences[last].end - sentences[last].start
	for start > first && size < c.overlapChars {
		start--
		size += sentences[start].end - sentences[start].start
	}
	return text[sentences[start].start:sentences[last].end]
}

type span struct {
	start, end int
}

// splitSentences cuts text into byte spans at sentence terminators,
// attaching trailing whitespace to the preceding sentence so that
// concatenating all spans reproduces the input exactly.
func splitSentences(text string) []span {
	var spans []span
	start := 0
	i := 0
	for i < len(text) {
		ch := text[i]
		if ch == '.' || ch == '!' || ch == '?' {
			j := i + 1
			for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if j >= len(text) || text[j] == ' ' || text[j] == '\n' || text[j] == '\t' {
				for j < len(text) && (text[j] == ' ' || text[j] == '\n' || text[j] == '\t') {
					j++
				}
				spans = append(spans, span{start: start, end: j})
				start = j
			}
			i = j
			continue
		}
		i++
	}
	if start < len(text) {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}

// segmentTimeFunc maps a byte offset in the joined transcript text back
// to wall-clock seconds, interpolating proportionally inside the
// segment that covers the offset.
func segmentTimeFunc(segments []Segment) func(int) float64 {
	if len(segments) == 0 {
		return func(int) float64 { return 0 }
	}

	type segSpan struct {
		start, end int
		seg        Segment
	}
	spans := make([]segSpan, len(segments))
	offset := 0
	for i, seg := range segments {
		if i > 0 {
			offset++ // joining space
		}
		spans[i] = segSpan{start: offset, end: offset + len(seg.Text), seg: seg}
		offset += len(seg.Text)
	}

	return func(pos int) float64 {
		idx := sort.Search(len(spans), func(i int) bool { return spans[i].end >= pos })
		if idx >= len(spans) {
			return spans[len(spans)-1].seg.EndSeconds()
		}
		sp := spans[idx]
		if pos <= sp.start || sp.end == sp.start {
			return sp.seg.StartSeconds
		}
		frac := float64(pos-sp.start) / float64(sp.end-sp.start)
		return sp.seg.StartSeconds + frac*sp.seg.DurationSeconds
	}
}

func sourceIDOf(t *VideoTranscript) string {
	if t == nil {
		return ""
	}
	return t.SourceID
}
