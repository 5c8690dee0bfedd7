package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/models"
	"github.com/mohammad-safakhou/growloop/provider"
)

// WeightSumTolerance is how far a proposed weight group may drift from 1.0
// before the proposal is discarded.
const WeightSumTolerance = 0.01

// LearningConfig tunes the learning pipeline.
type LearningConfig struct {
	BaselineWindow int           // default 20
	RetryAttempts  int           // default 3
	RetryBase      time.Duration // default 2s
}

func (c LearningConfig) withDefaults() LearningConfig {
	if c.BaselineWindow <= 0 {
		c.BaselineWindow = 20
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	return c
}

// Learning runs the daily learning cycle: collect due metrics, analyze
// performance, fold pattern scores, adjust strategy.
type Learning struct {
	kb      *knowledge.Base
	llm     provider.Provider
	metrics MetricsSource
	cfg     LearningConfig
	logger  *log.Logger
}

// NewLearning wires a learning pipeline.
func NewLearning(kb *knowledge.Base, llm provider.Provider, metrics MetricsSource, cfg LearningConfig) *Learning {
	pipelineMetrics()
	return &Learning{
		kb:      kb,
		llm:     llm,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		logger:  log.New(os.Stdout, "[LEARN] ", log.LstdFlags),
	}
}

// LearningReport summarizes one learning run.
type LearningReport struct {
	Collected       int
	StillPending    int
	PatternsUpdated int
	StrategyUpdated bool
	Analysis        models.PerformanceAnalysis
}

// Run executes one learning cycle as of now. With nothing due it is a
// no-op, not an error.
func (l *Learning) Run(ctx context.Context, now time.Time) (LearningReport, error) {
	collected, remaining, err := l.collectMetrics(ctx, now)
	if err != nil {
		return LearningReport{}, err
	}
	report := LearningReport{Collected: len(collected), StillPending: remaining}
	if len(collected) == 0 {
		l.logger.Printf("no measurements due, skipping analysis")
		return report, nil
	}

	updated, err := l.updatePatternScores(ctx, collected, now)
	if err != nil {
		return report, err
	}
	report.PatternsUpdated = updated

	analysis, ok := l.analyzePerformance(ctx, collected)
	if !ok {
		// Analysis is advisory; pattern scores above are already folded.
		return report, nil
	}
	report.Analysis = analysis

	changed, err := l.adjustStrategy(ctx, analysis)
	if err != nil {
		return report, err
	}
	report.StrategyUpdated = changed
	return report, nil
}

// collectMetrics fetches a snapshot for every due pending entry. A fetch
// failure leaves its entry pending for the next run; entries not yet due
// are untouched.
func (l *Learning) collectMetrics(ctx context.Context, now time.Time) ([]models.PostMetrics, int, error) {
	pending, err := l.kb.PendingMetrics(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load pending metrics: %w", err)
	}

	var collected []models.PostMetrics
	remaining := 0
	for _, entry := range pending {
		if entry.CheckAt.After(now) {
			remaining++
			continue
		}
		m, err := l.metrics.FetchMetrics(ctx, entry.PlatformID)
		if err != nil {
			l.logger.Printf("metrics fetch for %s failed, left pending: %v", entry.PlatformID, err)
			remaining++
			continue
		}
		m.PlatformID = entry.PlatformID
		m.Content = entry.Content
		m.PatternUsed = entry.PatternUsed
		m.Pillar = entry.Pillar
		m.EngagementRate = m.ComputeEngagementRate()
		m.CollectedAt = now.UTC()
		m.HoursSincePublish = now.Sub(entry.PublishedAt).Hours()

		// Persist the measurement before consuming the queue entry. A crash
		// in between re-measures and overwrites, never loses data.
		if err := l.kb.SaveMetrics(ctx, m); err != nil {
			return nil, 0, fmt.Errorf("save metrics for %s: %w", entry.PlatformID, err)
		}
		if err := l.kb.RemovePendingMetrics(ctx, entry.PostID); err != nil {
			return nil, 0, fmt.Errorf("remove pending entry %s: %w", entry.PostID, err)
		}
		collected = append(collected, m)
		addCounter(ctx, metricsCollected, 1)
	}
	l.logger.Printf("collected %d measurements, %d still pending", len(collected), remaining)
	return collected, remaining, nil
}

// updatePatternScores folds the day's measurements into the cumulative
// per-pattern records.
func (l *Learning) updatePatternScores(ctx context.Context, collected []models.PostMetrics, now time.Time) (int, error) {
	byPattern := map[string][]models.PostMetrics{}
	for _, m := range collected {
		if m.PatternUsed == "" {
			continue
		}
		byPattern[m.PatternUsed] = append(byPattern[m.PatternUsed], m)
	}

	updated := 0
	for name, ms := range byPattern {
		perf, err := l.kb.PatternPerformance(ctx, name)
		if err != nil {
			return updated, err
		}
		perf.PatternName = name
		perf = FoldBatch(perf, BatchFromMetrics(ms), now)
		if err := l.kb.SavePatternPerformance(ctx, perf); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// analyzePerformance asks the LLM to explain the day's results against the
// rolling baseline. Failures degrade: the run continues without analysis.
func (l *Learning) analyzePerformance(ctx context.Context, collected []models.PostMetrics) (models.PerformanceAnalysis, bool) {
	niche, _, err := l.kb.NicheConfig(ctx)
	if err != nil {
		l.logger.Printf("analysis skipped, niche unavailable: %v", err)
		return models.PerformanceAnalysis{}, false
	}
	strategy, err := l.kb.Strategy(ctx)
	if err != nil {
		l.logger.Printf("analysis skipped, strategy unavailable: %v", err)
		return models.PerformanceAnalysis{}, false
	}
	history, err := l.kb.MetricsHistory(ctx, l.cfg.BaselineWindow)
	if err != nil {
		l.logger.Printf("analysis skipped, history unavailable: %v", err)
		return models.PerformanceAnalysis{}, false
	}
	perf, err := l.kb.AllPatternPerformance(ctx)
	if err != nil {
		l.logger.Printf("analysis skipped, pattern records unavailable: %v", err)
		return models.PerformanceAnalysis{}, false
	}

	var analysis models.PerformanceAnalysis
	err = retry(ctx, l.cfg.RetryAttempts, l.cfg.RetryBase, func() error {
		var aerr error
		analysis, aerr = l.llm.AnalyzePerformance(ctx, models.AnalysisRequest{
			Metrics:     collected,
			Performance: perf,
			Strategy:    strategy,
			Niche:       niche,
		})
		return aerr
	})
	if err != nil {
		l.logger.Printf("analysis degraded, keeping previous strategy: %v", err)
		return models.PerformanceAnalysis{}, false
	}
	analysis.BaselineRate = Baseline(history)
	return analysis, true
}

// adjustStrategy asks for a revised strategy and applies it only if it
// validates; an invalid proposal keeps the previous strategy.
func (l *Learning) adjustStrategy(ctx context.Context, analysis models.PerformanceAnalysis) (bool, error) {
	current, err := l.kb.Strategy(ctx)
	if err != nil {
		return false, err
	}
	niche, _, err := l.kb.NicheConfig(ctx)
	if err != nil {
		return false, err
	}

	var proposal models.ContentStrategy
	err = retry(ctx, l.cfg.RetryAttempts, l.cfg.RetryBase, func() error {
		var perr error
		proposal, perr = l.llm.ProposeStrategy(ctx, models.StrategyRequest{
			Current:  current,
			Analysis: analysis,
			Niche:    niche,
		})
		return perr
	})
	if err != nil {
		l.logger.Printf("strategy proposal unavailable, keeping current: %v", err)
		return false, nil
	}

	if err := ValidateStrategy(proposal); err != nil {
		l.logger.Printf("strategy proposal rejected: %v", err)
		addCounter(ctx, strategyRejections, 1)
		return false, nil
	}

	proposal.Iteration = current.Iteration + 1
	if err := l.kb.SaveStrategy(ctx, proposal); err != nil {
		return false, err
	}
	l.logger.Printf("strategy advanced to iteration %d", proposal.Iteration)
	return true, nil
}

// ValidateStrategy enforces the weight bounds: each ranking weight in [0,1]
// and each weight group summing to 1.0 within tolerance.
func ValidateStrategy(s models.ContentStrategy) error {
	w := s.RankingWeights
	for _, v := range []float64{w.AI, w.History, w.Novelty} {
		if v < 0 || v > 1 {
			return fmt.Errorf("ranking weight %v outside [0,1]", v)
		}
	}
	if math.Abs(w.Sum()-1.0) > WeightSumTolerance {
		return fmt.Errorf("ranking weights sum to %v, want 1.0", w.Sum())
	}
	if len(s.PillarWeights) > 0 {
		sum := 0.0
		for name, v := range s.PillarWeights {
			if v < 0 || v > 1 {
				return fmt.Errorf("pillar weight %q = %v outside [0,1]", name, v)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > WeightSumTolerance {
			return fmt.Errorf("pillar weights sum to %v, want 1.0", sum)
		}
	}
	return nil
}

// Baseline is the mean engagement rate of the measured posts in the window,
// zero when nothing has been measured yet.
func Baseline(history []models.PostMetrics) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range history {
		sum += m.EngagementRate
	}
	return sum / float64(len(history))
}
