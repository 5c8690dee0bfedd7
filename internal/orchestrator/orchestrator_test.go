package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/internal/telemetry"
	"github.com/mohammad-safakhou/growloop/models"
)

type stubLLM struct{}

func (stubLLM) ExtractPatterns(ctx context.Context, posts []models.ViralPost, niche models.AccountNiche) ([]models.ContentPattern, error) {
	return []models.ContentPattern{{Name: "contrarian_hot_take"}}, nil
}
func (stubLLM) GenerateVariants(ctx context.Context, req models.GenerationRequest) ([]models.PostVariant, error) {
	out := make([]models.PostVariant, req.Count)
	for i := range out {
		out[i] = models.PostVariant{Content: "draft", PatternUsed: "contrarian_hot_take"}
	}
	return out, nil
}
func (stubLLM) ScoreVariants(ctx context.Context, variants []models.PostVariant, niche models.AccountNiche) ([]float64, error) {
	out := make([]float64, len(variants))
	for i := range out {
		out[i] = 6
	}
	return out, nil
}
func (stubLLM) AnalyzePerformance(ctx context.Context, in models.AnalysisRequest) (models.PerformanceAnalysis, error) {
	return models.PerformanceAnalysis{}, nil
}
func (stubLLM) ProposeStrategy(ctx context.Context, in models.StrategyRequest) (models.ContentStrategy, error) {
	return models.ContentStrategy{RankingWeights: models.DefaultRankingWeights()}, nil
}
func (stubLLM) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubResearch struct{}

func (stubResearch) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	return []models.ViralPost{{Platform: "threads", Content: "viral", Likes: 500}}, nil
}

type stubPublisher struct{ calls int }

func (p *stubPublisher) Publish(ctx context.Context, content string) (string, error) {
	p.calls++
	return "th_1", nil
}

type stubFollowers struct{}

func (stubFollowers) FollowerCount(ctx context.Context) (int, error) { return 10, nil }

type stubApprovals struct{}

func (stubApprovals) Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error {
	return nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubMetrics struct{}

func (stubMetrics) FetchMetrics(ctx context.Context, platformID string) (models.PostMetrics, error) {
	return models.PostMetrics{Views: 100, Likes: 3}, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubPublisher, *telemetry.Telemetry) {
	t.Helper()
	mem := store.NewMemory()
	kb := knowledge.NewBase(mem, "acct")
	if err := kb.SaveNicheConfig(context.Background(), models.AccountNiche{Niche: "indie hacking"}); err != nil {
		t.Fatalf("seed niche: %v", err)
	}
	pub := &stubPublisher{}
	tele := telemetry.NewTelemetry(config.TelemetryConfig{Enabled: true})
	creation := pipeline.NewCreation(kb, stubLLM{}, stubResearch{}, pub, stubFollowers{}, stubApprovals{},
		stubEmbedder{}, mem, pipeline.CreationConfig{FollowerTarget: 100, RetryAttempts: 1, RetryBase: time.Millisecond})
	learning := pipeline.NewLearning(kb, stubLLM{}, stubMetrics{}, pipeline.LearningConfig{RetryAttempts: 1, RetryBase: time.Millisecond})
	return New(creation, learning, mem, mem, "acct", tele), pub, tele
}

func TestRedeliveredCreationTriggerDropped(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	out, id, err := o.RunCreationCycle(ctx, "trigger-1")
	if err != nil {
		t.Fatalf("RunCreationCycle: %v", err)
	}
	if out != pipeline.OutcomeSuspended {
		t.Fatalf("expected suspension, got %s", out)
	}
	if id != "trigger-1" {
		t.Fatalf("cycle id must be preserved, got %s", id)
	}

	_, _, err = o.RunCreationCycle(ctx, "trigger-1")
	if !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("redelivered trigger must be dropped, got %v", err)
	}
}

func TestRedeliveredLearningTriggerDropped(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := o.RunLearningCycle(ctx, "daily-1"); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if _, err := o.RunLearningCycle(ctx, "daily-1"); !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("redelivered trigger must be dropped, got %v", err)
	}
}

func TestDecisionFlowThroughOrchestrator(t *testing.T) {
	o, pub, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, _, err := o.RunCreationCycle(ctx, "c1"); err != nil {
		t.Fatalf("RunCreationCycle: %v", err)
	}
	pending, err := o.PendingApprovals(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PendingApprovals: %v (%d)", err, len(pending))
	}
	if pending[0].SuspensionID != "c1" || len(pending[0].Candidates) == 0 {
		t.Fatalf("unexpected pending approval: %+v", pending[0])
	}

	res, err := o.HandleDecision(ctx, "c1", pipeline.Decision{Action: pipeline.ActionApprove})
	if err != nil {
		t.Fatalf("HandleDecision: %v", err)
	}
	if res.Outcome != pipeline.OutcomePublished || pub.calls != 1 {
		t.Fatalf("approval must publish once: outcome=%s calls=%d", res.Outcome, pub.calls)
	}

	pending, _ = o.PendingApprovals(ctx)
	if len(pending) != 0 {
		t.Fatalf("resolved suspension must leave the pending list")
	}
}

func TestCycleRunsFeedTelemetry(t *testing.T) {
	o, _, tele := newTestOrchestrator(t)
	ctx := context.Background()

	if _, _, err := o.RunCreationCycle(ctx, "c1"); err != nil {
		t.Fatalf("RunCreationCycle: %v", err)
	}
	if _, err := o.RunLearningCycle(ctx, "l1"); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if _, err := o.HandleDecision(ctx, "c1", pipeline.Decision{Action: pipeline.ActionApprove}); err != nil {
		t.Fatalf("HandleDecision: %v", err)
	}

	m := tele.GetMetrics()
	if m.CreationCycles != 1 || m.LearningCycles != 1 {
		t.Fatalf("cycle counts not recorded: creation=%d learning=%d", m.CreationCycles, m.LearningCycles)
	}
	if m.PostsPublished != 1 {
		t.Fatalf("approved publish must be recorded, got %d", m.PostsPublished)
	}
	if m.FailedCycles != 0 {
		t.Fatalf("no cycle failed, got %d", m.FailedCycles)
	}

	// Redelivered triggers never ran a cycle and must not count.
	if _, _, err := o.RunCreationCycle(ctx, "c1"); !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("expected duplicate trigger, got %v", err)
	}
	if m := tele.GetMetrics(); m.CreationCycles != 1 {
		t.Fatalf("dropped trigger counted as a cycle: %d", m.CreationCycles)
	}
}
