package pipeline

import (
	"time"

	"github.com/mohammad-safakhou/growloop/models"
)

// ExplorationThreshold is the sample count at which a pattern stops
// receiving the exploration bonus and is ranked on history alone.
const ExplorationThreshold = 5

// Batch summarizes one day's measured posts for a single pattern.
type Batch struct {
	Count              int
	MeanEngagementRate float64
	Views              int
	Likes              int
	Replies            int
	Reposts            int
	MeanFollowerDelta  float64
	BestPostID         string
	BestRate           float64
	WorstPostID        string
	WorstRate          float64
}

// BatchFromMetrics folds a day's measurements for one pattern into a Batch.
func BatchFromMetrics(ms []models.PostMetrics) Batch {
	var b Batch
	for _, m := range ms {
		rate := m.EngagementRate
		if rate == 0 {
			rate = m.ComputeEngagementRate()
		}
		if b.Count == 0 || rate > b.BestRate {
			b.BestPostID, b.BestRate = m.PlatformID, rate
		}
		if b.Count == 0 || rate < b.WorstRate {
			b.WorstPostID, b.WorstRate = m.PlatformID, rate
		}
		b.MeanEngagementRate = (b.MeanEngagementRate*float64(b.Count) + rate) / float64(b.Count+1)
		b.MeanFollowerDelta = (b.MeanFollowerDelta*float64(b.Count) + float64(m.FollowerDelta)) / float64(b.Count+1)
		b.Count++
		b.Views += m.Views
		b.Likes += m.Likes
		b.Replies += m.Replies
		b.Reposts += m.Reposts
	}
	return b
}

// FoldBatch merges a day's batch into the cumulative pattern record using a
// count-weighted incremental mean. Folding two daily batches in sequence
// gives the same result as folding their union once.
func FoldBatch(perf models.PatternPerformance, day Batch, now time.Time) models.PatternPerformance {
	if day.Count == 0 {
		return perf
	}
	oldCount := perf.SampleCount
	newCount := oldCount + day.Count
	perf.MeanEngagementRate = (perf.MeanEngagementRate*float64(oldCount) + day.MeanEngagementRate*float64(day.Count)) / float64(newCount)
	perf.AvgFollowerDelta = (perf.AvgFollowerDelta*float64(oldCount) + day.MeanFollowerDelta*float64(day.Count)) / float64(newCount)
	perf.SampleCount = newCount
	perf.TotalViews += day.Views
	perf.TotalLikes += day.Likes
	perf.TotalReplies += day.Replies
	perf.TotalReposts += day.Reposts
	if oldCount == 0 || day.BestRate > perf.BestRate {
		perf.BestPostID, perf.BestRate = day.BestPostID, day.BestRate
	}
	if oldCount == 0 || day.WorstRate < perf.WorstRate {
		perf.WorstPostID, perf.WorstRate = day.WorstPostID, day.WorstRate
	}
	perf.Exploring = newCount < ExplorationThreshold
	t := now.UTC()
	perf.LastUsedAt = &t
	return perf
}
