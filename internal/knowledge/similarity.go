package knowledge

import (
	"context"
	"fmt"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	// clamp float error
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// BestMatch returns the index and score of the candidate most similar to query.
// Ties keep the earliest index. Returns -1 when there are no candidates.
func BestMatch(query []float32, candidates [][]float32) (int, float64) {
	best, bestScore := -1, math.Inf(-1)
	for i, c := range candidates {
		score := CosineSimilarity(query, c)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestScore
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, em Embedder, text string) ([]float32, error) {
	vecs, err := em.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected 1", len(vecs))
	}
	return vecs[0], nil
}
