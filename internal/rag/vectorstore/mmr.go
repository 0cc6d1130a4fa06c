package vectorstore

import (
	"math"

	chromem "github.com/philippgille/chromem-go"
)

// defaultMMRLambda balances query relevance against diversity among the
// selected results; 0.5 weighs them equally.
const defaultMMRLambda = 0.5

// rerankMMR greedily selects k candidates by maximal marginal relevance:
// each step picks the candidate with the highest combination of similarity
// to the query and dissimilarity to the already-selected results.
func rerankMMR(queryVec []float32, candidates []chromem.Result, k int, lambda float32) []chromem.Result {
	if k >= len(candidates) {
		return candidates
	}

	selected := make([]chromem.Result, 0, k)
	remaining := make([]chromem.Result, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := float32(math.Inf(-1))

		for i, cand := range remaining {
			relevance := cosineSimilarity(queryVec, cand.Embedding)

			var redundancy float32
			for _, sel := range selected {
				if sim := cosineSimilarity(cand.Embedding, sel.Embedding); sim > redundancy {
					redundancy = sim
				}
			}

			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
