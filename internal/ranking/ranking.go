// Package ranking 把向量索引的原始结果转换为有序的检索结果。
package ranking

import (
	"math"

	"ai-ats-go/internal/types"
)

// ToSimilarity 余弦距离转为相似度，限定在 [0,1] 并保留四位小数。
// Qdrant 的余弦分数可以为负，距离因此可能超过 1
func ToSimilarity(distance float64) float64 {
	sim := math.Round((1-distance)*1e4) / 1e4
	return math.Max(0, math.Min(1, sim))
}

// DistanceFromScore 索引返回余弦相似度时换算为余弦距离
func DistanceFromScore(score float64) float64 {
	return 1 - score
}

// Rank 保持索引返回的顺序，只做分数转换
func Rank(hits []types.IndexHit) []types.Match {
	matches := make([]types.Match, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, types.Match{
			ID:         hit.ID,
			Similarity: ToSimilarity(DistanceFromScore(hit.Score)),
			Metadata:   hit.Metadata(),
		})
	}
	return matches
}
