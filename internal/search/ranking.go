package search

import "sort"

// postProcess applies confidence weighting and multi-video diversity
// boosting, then orders by final score and truncates. The sort is
// stable so equal scores keep retrieval order and repeated runs stay
// deterministic.
func postProcess(results []Result, cfg Config) []Result {
	processed := make([]Result, len(results))
	copy(processed, results)

	if cfg.ConfidenceWeighting {
		applyConfidenceWeighting(processed)
	}
	if cfg.MultiVideoBoost {
		applyMultiVideoBoost(processed)
	}

	sort.SliceStable(processed, func(i, j int) bool {
		return processed[i].RelevanceScore > processed[j].RelevanceScore
	})

	if cfg.MaxResults > 0 && len(processed) > cfg.MaxResults {
		processed = processed[:cfg.MaxResults]
	}
	return processed
}

func applyConfidenceWeighting(results []Result) {
	for i := range results {
		results[i].RelevanceScore *= results[i].Confidence
	}
}

// applyMultiVideoBoost discounts repeated hits from the same video as
// results are scanned in score order. The first hit keeps full weight;
// each repeat loses 10%, floored at half weight. The boost only ever
// discounts, so it cannot promote a repeat above a fresh video's
// higher-scored result.
func applyMultiVideoBoost(results []Result) {
	videoCount := make(map[string]int)
	for i := range results {
		count := videoCount[results[i].VideoID]
		videoCount[results[i].VideoID] = count + 1

		if count == 0 {
			continue
		}
		discount := 1.0 - float64(count)*0.1
		if discount < 0.5 {
			discount = 0.5
		}
		results[i].RelevanceScore *= discount
	}
}

// confidenceFromSimilarity maps a similarity score to confidence via a
// monotone step function.
func confidenceFromSimilarity(score float64) float64 {
	switch {
	case score >= 0.9:
		return 1.0
	case score >= 0.8:
		return 0.9
	case score >= 0.7:
		return 0.8
	case score >= 0.6:
		return 0.7
	case score >= 0.5:
		return score
	default:
		return 0.5
	}
}
