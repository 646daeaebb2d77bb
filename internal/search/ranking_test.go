package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceFromSimilarity(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{0.95, 1.0},
		{0.9, 1.0},
		{0.85, 0.9},
		{0.8, 0.9},
		{0.75, 0.8},
		{0.7, 0.8},
		{0.65, 0.7},
		{0.6, 0.7},
		{0.55, 0.55},
		{0.3, 0.5},
		{0.0, 0.5},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, confidenceFromSimilarity(tc.score), 1e-9, "score %v", tc.score)
	}
}

func TestConfidenceMonotone(t *testing.T) {
	prev := 0.0
	for s := 0.0; s <= 1.0; s += 0.01 {
		c := confidenceFromSimilarity(s)
		assert.GreaterOrEqual(t, c, prev, "confidence dropped at score %v", s)
		prev = c
	}
}

func result(video string, score float64) Result {
	return Result{
		ChunkID:        video + "-chunk",
		VideoID:        video,
		RelevanceScore: score,
		Confidence:     confidenceFromSimilarity(score),
	}
}

func TestPostProcessOrderingAndBounds(t *testing.T) {
	results := []Result{
		result("a", 0.72),
		result("b", 0.95),
		result("c", 0.81),
		result("d", 0.64),
	}

	out := postProcess(results, Config{MaxResults: 20, MultiVideoBoost: true, ConfidenceWeighting: true})

	for i, r := range out {
		assert.GreaterOrEqual(t, r.RelevanceScore, 0.0)
		assert.LessOrEqual(t, r.RelevanceScore, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, out[i-1].RelevanceScore, r.RelevanceScore, "scores not non-increasing at %d", i)
		}
	}
}

func TestPostProcessTruncates(t *testing.T) {
	var results []Result
	for i := 0; i < 30; i++ {
		results = append(results, result("v", 0.9))
	}
	out := postProcess(results, Config{MaxResults: 20})
	assert.Len(t, out, 20)
}

func TestPostProcessDoesNotMutateInput(t *testing.T) {
	results := []Result{result("a", 0.9), result("a", 0.85)}
	postProcess(results, Config{MaxResults: 20, MultiVideoBoost: true, ConfidenceWeighting: true})
	assert.InDelta(t, 0.9, results[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 0.85, results[1].RelevanceScore, 1e-9)
}

func TestMultiVideoBoostDiscountsRepeats(t *testing.T) {
	results := []Result{
		result("a", 0.90),
		result("a", 0.88),
		result("b", 0.85),
	}
	out := postProcess(results, Config{MaxResults: 20, MultiVideoBoost: true})

	// The second hit from video a is discounted by 10% and drops below
	// video b's untouched score.
	assert.Equal(t, "a", out[0].VideoID)
	assert.Equal(t, "b", out[1].VideoID)
	assert.InDelta(t, 0.88*0.9, out[2].RelevanceScore, 1e-9)
}

func TestMultiVideoBoostNeverPromotesRepeat(t *testing.T) {
	// A repeated video's chunk may not overtake an unseen video's chunk
	// that already scored higher.
	results := []Result{
		result("a", 0.92),
		result("b", 0.91),
		result("a", 0.90),
		result("c", 0.89),
	}
	out := postProcess(results, Config{MaxResults: 20, MultiVideoBoost: true})

	posC := -1
	posRepeatA := -1
	for i, r := range out {
		if r.VideoID == "c" {
			posC = i
		}
		if r.VideoID == "a" && r.RelevanceScore < 0.92 {
			posRepeatA = i
		}
	}
	assert.Less(t, posC, posRepeatA, "repeated video promoted above higher-scored unseen video")
}

func TestMultiVideoBoostFloor(t *testing.T) {
	var results []Result
	for i := 0; i < 10; i++ {
		results = append(results, result("a", 0.9))
	}
	out := postProcess(results, Config{MaxResults: 20, MultiVideoBoost: true})

	// Discount bottoms out at half weight no matter how many repeats.
	last := out[len(out)-1]
	assert.InDelta(t, 0.9*0.5, last.RelevanceScore, 1e-9)
}

func TestConfidenceWeightingMultiplies(t *testing.T) {
	results := []Result{result("a", 0.75)}
	out := postProcess(results, Config{MaxResults: 20, ConfidenceWeighting: true})
	assert.InDelta(t, 0.75*0.8, out[0].RelevanceScore, 1e-9)
}
