package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a single timed span of transcript text, immutable once
// extracted.
type Segment struct {
	Text            string  `json:"text"`
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// EndSeconds returns the wall-clock end of the segment.
func (s Segment) EndSeconds() float64 {
	return s.StartSeconds + s.DurationSeconds
}

// VideoTranscript owns the ordered segments extracted from one video.
// TotalDuration and WordCount are derived and recomputed whenever the
// segments change.
type VideoTranscript struct {
	ID          string
	VideoID     string
	SourceID    string
	Title       string
	Creator     string
	Language    string
	ExtractedAt time.Time

	segments      []Segment
	fullText      string
	totalDuration float64
	wordCount     int
}

// NewVideoTranscript builds a transcript record from extracted segments.
func NewVideoTranscript(videoID, sourceID, title, creator, language string, segments []Segment) *VideoTranscript {
	t := &VideoTranscript{
		VideoID:     videoID,
		SourceID:    sourceID,
		Title:       title,
		Creator:     creator,
		Language:    language,
		ExtractedAt: time.Now(),
	}
	t.SetSegments(segments)
	return t
}

// SetSegments replaces the segment sequence and recomputes the derived
// fields.
func (t *VideoTranscript) SetSegments(segments []Segment) {
	t.segments = segments

	var sb strings.Builder
	end := 0.0
	words := 0
	for i, seg := range segments {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg.Text)
		if seg.EndSeconds() > end {
			end = seg.EndSeconds()
		}
		words += len(strings.Fields(seg.Text))
	}
	t.fullText = sb.String()
	t.totalDuration = end
	t.wordCount = words
}

// Segments returns the ordered segment sequence.
func (t *VideoTranscript) Segments() []Segment { return t.segments }

// FullText returns the whole transcript as one string, segments joined
// by single spaces.
func (t *VideoTranscript) FullText() string { return t.fullText }

// TotalDuration returns the derived duration in seconds.
func (t *VideoTranscript) TotalDuration() float64 { return t.totalDuration }

// WordCount returns the derived word count.
func (t *VideoTranscript) WordCount() int { return t.wordCount }

// Chunk is a bounded span of transcript text with timestamps and an
// optional embedding. Embedding stays nil when generation failed; such
// chunks are excluded from vector search but kept for text fallback.
type Chunk struct {
	ID             string
	TranscriptID   string
	ChunkIndex     int
	Text           string
	StartTimestamp string
	EndTimestamp   string
	StartSeconds   int
	EndSeconds     int
	Embedding      []float64

	// Overlap is the number of leading bytes repeated from the previous
	// chunk. Stripping it from every chunk and concatenating the rest
	// reproduces the source transcript.
	Overlap int
}

// FormatTimestamp renders seconds as M:SS, or H:MM:SS past an hour.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// VideoURL returns the watch link for a source video id.
func VideoURL(sourceID string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", sourceID)
}

// TimestampURL returns the watch link seeked to startSeconds.
func TimestampURL(sourceID string, startSeconds int) string {
	if startSeconds <= 0 {
		return VideoURL(sourceID)
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", sourceID, startSeconds)
}
