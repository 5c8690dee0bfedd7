package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/models"
)

func newLearningFixture(t *testing.T) (*Learning, *knowledge.Base, *fakeLLM, *fakeMetricsSource) {
	t.Helper()
	mem := store.NewMemory()
	kb := knowledge.NewBase(mem, "acct")
	if err := kb.SaveNicheConfig(context.Background(), models.AccountNiche{Niche: "indie hacking"}); err != nil {
		t.Fatalf("seed niche: %v", err)
	}
	llm := &fakeLLM{proposal: models.ContentStrategy{RankingWeights: models.DefaultRankingWeights()}}
	src := &fakeMetricsSource{data: map[string]models.PostMetrics{}, failFor: map[string]bool{}}
	l := NewLearning(kb, llm, src, LearningConfig{RetryAttempts: 2, RetryBase: time.Millisecond})
	return l, kb, llm, src
}

func queueEntry(t *testing.T, kb *knowledge.Base, postID, platformID, pattern string, checkAt time.Time) {
	t.Helper()
	err := kb.RecordPublish(context.Background(),
		models.PublishedPost{ID: postID, PlatformID: platformID, PatternUsed: pattern, PublishedAt: checkAt.Add(-24 * time.Hour)},
		models.PendingMetricsEntry{PostID: postID, PlatformID: platformID, PatternUsed: pattern, PublishedAt: checkAt.Add(-24 * time.Hour), CheckAt: checkAt},
	)
	if err != nil {
		t.Fatalf("queue entry: %v", err)
	}
}

func TestCollectMetricsSkipsFutureEntries(t *testing.T) {
	l, kb, _, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "due", "th_due", "contrarian_hot_take", now.Add(-time.Minute))
	queueEntry(t, kb, "future", "th_future", "contrarian_hot_take", now.Add(3*time.Hour))
	src.data["th_due"] = models.PostMetrics{Views: 1000, Likes: 40, Replies: 5, Reposts: 5}
	src.data["th_future"] = models.PostMetrics{Views: 1}

	report, err := l.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Collected != 1 {
		t.Fatalf("only the due entry must be collected, got %d", report.Collected)
	}

	pending, _ := kb.PendingMetrics(ctx)
	if len(pending) != 1 || pending[0].PostID != "future" {
		t.Fatalf("future entry must be left untouched: %+v", pending)
	}

	// First run at/after the scheduled time collects and removes it.
	report, err = l.Run(ctx, now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.Collected != 1 {
		t.Fatalf("entry due by now must be collected, got %d", report.Collected)
	}
	pending, _ = kb.PendingMetrics(ctx)
	if len(pending) != 0 {
		t.Fatalf("collected entry must be removed: %+v", pending)
	}
}

func TestCollectMetricsFetchFailureLeavesEntryPending(t *testing.T) {
	l, kb, _, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "p1", "th_1", "contrarian_hot_take", now.Add(-time.Minute))
	src.failFor["th_1"] = true

	report, err := l.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Collected != 0 || report.StillPending != 1 {
		t.Fatalf("failed fetch must leave the entry for retry: %+v", report)
	}
	pending, _ := kb.PendingMetrics(ctx)
	if len(pending) != 1 {
		t.Fatalf("entry must survive the failed fetch")
	}
}

func TestCollectedMetricsDeriveEngagementRate(t *testing.T) {
	l, kb, _, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "p1", "th_1", "contrarian_hot_take", now.Add(-time.Minute))
	src.data["th_1"] = models.PostMetrics{Views: 2000, Likes: 80, Replies: 10, Reposts: 6, Quotes: 4}

	if _, err := l.Run(ctx, now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	hist, _ := kb.MetricsHistory(ctx, 0)
	if len(hist) != 1 {
		t.Fatalf("expected one measurement")
	}
	if got, want := hist[0].EngagementRate, 0.05; math.Abs(got-want) > 1e-9 {
		t.Fatalf("engagement rate: want %v, got %v", want, got)
	}
	if hist[0].PatternUsed != "contrarian_hot_take" {
		t.Fatalf("measurement must carry the pattern from the queue entry")
	}
}

func TestLearningFoldsPatternScores(t *testing.T) {
	l, kb, _, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "p1", "th_1", "contrarian_hot_take", now.Add(-time.Minute))
	src.data["th_1"] = models.PostMetrics{Views: 1000, Likes: 100}

	report, err := l.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.PatternsUpdated != 1 {
		t.Fatalf("expected one pattern update, got %d", report.PatternsUpdated)
	}
	perf, err := kb.PatternPerformance(ctx, "contrarian_hot_take")
	if err != nil {
		t.Fatalf("PatternPerformance: %v", err)
	}
	if perf.SampleCount != 1 || math.Abs(perf.MeanEngagementRate-0.1) > 1e-9 {
		t.Fatalf("unexpected fold result: %+v", perf)
	}
	if !perf.Exploring {
		t.Fatalf("one sample must still be exploring")
	}
}

func TestInvalidStrategyProposalDiscarded(t *testing.T) {
	l, kb, llm, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "p1", "th_1", "contrarian_hot_take", now.Add(-time.Minute))
	src.data["th_1"] = models.PostMetrics{Views: 1000, Likes: 100}
	llm.proposal = models.ContentStrategy{RankingWeights: models.RankingWeights{AI: 0.5, History: 0.5, Novelty: 0.5}}

	before, _ := kb.Strategy(ctx)
	report, err := l.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.StrategyUpdated {
		t.Fatalf("weights summing to 1.5 must be rejected")
	}
	after, _ := kb.Strategy(ctx)
	if after.RankingWeights != before.RankingWeights || after.Iteration != before.Iteration {
		t.Fatalf("rejected proposal must leave the strategy unchanged: %+v", after)
	}
}

func TestValidProposalAdvancesIteration(t *testing.T) {
	l, kb, llm, src := newLearningFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	queueEntry(t, kb, "p1", "th_1", "contrarian_hot_take", now.Add(-time.Minute))
	src.data["th_1"] = models.PostMetrics{Views: 1000, Likes: 100}
	llm.proposal = models.ContentStrategy{
		RankingWeights: models.RankingWeights{AI: 0.5, History: 0.2, Novelty: 0.3},
		ToneNotes:      []string{"lean into build logs"},
	}

	report, err := l.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.StrategyUpdated {
		t.Fatalf("valid proposal must be applied")
	}
	s, _ := kb.Strategy(ctx)
	if s.Iteration != 1 {
		t.Fatalf("iteration must advance, got %d", s.Iteration)
	}
	if s.RankingWeights.AI != 0.5 {
		t.Fatalf("new weights must be stored: %+v", s.RankingWeights)
	}
}

func TestValidateStrategyBounds(t *testing.T) {
	if err := ValidateStrategy(models.ContentStrategy{RankingWeights: models.DefaultRankingWeights()}); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	bad := models.ContentStrategy{RankingWeights: models.RankingWeights{AI: 1.2, History: -0.1, Novelty: -0.1}}
	if err := ValidateStrategy(bad); err == nil {
		t.Fatalf("weights outside [0,1] must be rejected")
	}
	pillars := models.ContentStrategy{
		RankingWeights: models.DefaultRankingWeights(),
		PillarWeights:  map[string]float64{"builds": 0.8, "lessons": 0.8},
	}
	if err := ValidateStrategy(pillars); err == nil {
		t.Fatalf("pillar weights summing to 1.6 must be rejected")
	}
}

func TestBaseline(t *testing.T) {
	if got := Baseline(nil); got != 0 {
		t.Fatalf("empty history must yield zero baseline, got %v", got)
	}
	hist := []models.PostMetrics{{EngagementRate: 0.02}, {EngagementRate: 0.04}}
	if got := Baseline(hist); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("baseline: want 0.03, got %v", got)
	}
}
