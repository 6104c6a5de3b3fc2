// Package quality summarizes a retrieval result set so callers can decide
// whether to suggest reformulating the query.
package quality

import "github.com/dshills/devctx/pkg/types"

// Confidence thresholds on average score and on result count relative to k
const (
	HighScore      = 0.75
	HighCoverage   = 0.6
	MediumScore    = 0.5
	MediumCoverage = 0.3
)

// Score computes the average score, the fraction of distinct source files
// over k, and a confidence bucket. An empty set scores zero with low
// confidence.
func Score(results []types.RetrievalResult, k int) types.QualityMetrics {
	if len(results) == 0 || k <= 0 {
		return types.QualityMetrics{ConfidenceLevel: types.ConfidenceLow}
	}

	var total float64
	files := make(map[string]struct{}, len(results))
	for _, r := range results {
		total += r.Score
		files[r.SourceFile] = struct{}{}
	}

	avg := total / float64(len(results))
	return types.QualityMetrics{
		AverageScore:    avg,
		DiversityScore:  min(1, float64(len(files))/float64(k)),
		ConfidenceLevel: Confidence(avg, len(results), k),
	}
}

// Confidence buckets an average score and result count
func Confidence(avg float64, count, k int) types.ConfidenceLevel {
	if k <= 0 {
		return types.ConfidenceLow
	}
	coverage := float64(count) / float64(k)
	switch {
	case avg >= HighScore && coverage >= HighCoverage:
		return types.ConfidenceHigh
	case avg >= MediumScore && coverage >= MediumCoverage:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}
