// Package ranking orders candidate posts by a weighted blend of an LLM viral
// score, historical pattern performance and semantic novelty. It is a pure
// function over its inputs: all collaborator calls (scoring, embedding)
// happen before Rank is invoked.
package ranking

import (
	"sort"

	"github.com/mohammad-safakhou/growloop/models"
	"github.com/mohammad-safakhou/growloop/tools/embedding"
)

// ExplorationBonus is the neutral history score for patterns without enough
// samples. The midpoint lets new patterns surface without auto-winning.
const ExplorationBonus = 5.0

// DefaultHistoryCeiling is the reference engagement rate that maps to a
// history score of 10. The rescale is monotonic and bounded; the ceiling is
// configuration, not a constant.
const DefaultHistoryCeiling = 0.15

// Input carries everything Rank needs. AIScores and VariantEmbeddings are
// index-aligned with Variants.
type Input struct {
	Variants          []models.PostVariant
	AIScores          []float64
	Performance       map[string]models.PatternPerformance
	VariantEmbeddings [][]float32
	RecentEmbeddings  [][]float32
	Weights           models.RankingWeights
	HistoryCeiling    float64
}

// Rank scores every variant and returns them ordered best-first. Output
// length always equals input length. Ties on composite prefer higher novelty,
// then the stable original generation order.
func Rank(in Input) []models.RankedPost {
	weights := in.Weights
	if weights.Sum() == 0 {
		weights = models.DefaultRankingWeights()
	}
	ceiling := in.HistoryCeiling
	if ceiling <= 0 {
		ceiling = DefaultHistoryCeiling
	}

	ranked := make([]models.RankedPost, len(in.Variants))
	order := make([]int, len(in.Variants))
	for i, v := range in.Variants {
		aiScore := ExplorationBonus
		if i < len(in.AIScores) {
			aiScore = clamp(in.AIScores[i], 0, 10)
		}
		history := HistoryScore(in.Performance[v.PatternUsed], ceiling)
		var variantEmb []float32
		if i < len(in.VariantEmbeddings) {
			variantEmb = in.VariantEmbeddings[i]
		}
		novelty := NoveltyScore(variantEmb, in.RecentEmbeddings)

		ranked[i] = models.RankedPost{
			PostVariant:         v,
			AIScore:             aiScore,
			PatternHistoryScore: history,
			NoveltyScore:        novelty,
			CompositeScore:      Composite(aiScore, history, novelty, weights),
		}
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := ranked[order[a]], ranked[order[b]]
		if ra.CompositeScore != rb.CompositeScore {
			return ra.CompositeScore > rb.CompositeScore
		}
		return ra.NoveltyScore > rb.NoveltyScore
	})

	out := make([]models.RankedPost, len(ranked))
	for pos, idx := range order {
		out[pos] = ranked[idx]
		out[pos].Rank = pos + 1
	}
	return out
}

// Composite blends the three component scores with the strategy weights.
func Composite(ai, history, novelty float64, w models.RankingWeights) float64 {
	return w.AI*ai + w.History*history + w.Novelty*novelty
}

// HistoryScore rescales a pattern's mean engagement rate to 0-10 against the
// reference ceiling. Patterns without history, or still marked exploring,
// receive the neutral exploration bonus.
func HistoryScore(perf models.PatternPerformance, ceiling float64) float64 {
	if perf.SampleCount == 0 || perf.Exploring {
		return ExplorationBonus
	}
	return clamp(perf.MeanEngagementRate/ceiling, 0, 1) * 10
}

// NoveltyScore converts the maximum cosine similarity against recent posts
// into a 0-10 distance score. With no prior posts a variant is maximally
// novel by definition.
func NoveltyScore(variant []float32, recent [][]float32) float64 {
	if len(recent) == 0 {
		return 10.0
	}
	maxSim := -1.0
	for _, emb := range recent {
		if sim := embedding.Cosine(variant, emb); sim > maxSim {
			maxSim = sim
		}
	}
	return clamp((1-maxSim)*10, 0, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
