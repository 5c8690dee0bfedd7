package pipeline

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/growloop/models"
)

// fakeLLM satisfies provider.Provider with canned answers.
type fakeLLM struct {
	patterns    []models.ContentPattern
	patternsErr error
	variantsFn  func(req models.GenerationRequest) ([]models.PostVariant, error)
	scores      []float64
	scoresErr   error
	analysis    models.PerformanceAnalysis
	analysisErr error
	proposal    models.ContentStrategy
	proposalErr error

	generateCalls []models.GenerationRequest
}

func (f *fakeLLM) ExtractPatterns(ctx context.Context, posts []models.ViralPost, niche models.AccountNiche) ([]models.ContentPattern, error) {
	if f.patternsErr != nil {
		return nil, f.patternsErr
	}
	if f.patterns != nil {
		return f.patterns, nil
	}
	return []models.ContentPattern{{Name: "contrarian_hot_take"}}, nil
}

func (f *fakeLLM) GenerateVariants(ctx context.Context, req models.GenerationRequest) ([]models.PostVariant, error) {
	f.generateCalls = append(f.generateCalls, req)
	if f.variantsFn != nil {
		return f.variantsFn(req)
	}
	out := make([]models.PostVariant, req.Count)
	for i := range out {
		out[i] = models.PostVariant{
			Content:     fmt.Sprintf("draft %d", i),
			PatternUsed: "contrarian_hot_take",
			Pillar:      "builds",
		}
	}
	return out, nil
}

func (f *fakeLLM) ScoreVariants(ctx context.Context, variants []models.PostVariant, niche models.AccountNiche) ([]float64, error) {
	if f.scoresErr != nil {
		return nil, f.scoresErr
	}
	if f.scores != nil {
		return f.scores, nil
	}
	out := make([]float64, len(variants))
	for i := range out {
		out[i] = 7
	}
	return out, nil
}

func (f *fakeLLM) AnalyzePerformance(ctx context.Context, in models.AnalysisRequest) (models.PerformanceAnalysis, error) {
	return f.analysis, f.analysisErr
}

func (f *fakeLLM) ProposeStrategy(ctx context.Context, in models.StrategyRequest) (models.ContentStrategy, error) {
	return f.proposal, f.proposalErr
}

func (f *fakeLLM) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeResearch struct {
	posts []models.ViralPost
	err   error
	calls int
}

func (f *fakeResearch) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	f.calls++
	return f.posts, f.err
}

type fakePublisher struct {
	calls int
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, content string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("th_%d", f.calls), nil
}

type fakeFollowers struct {
	count int
	err   error
	calls int
}

func (f *fakeFollowers) FollowerCount(ctx context.Context) (int, error) {
	f.calls++
	return f.count, f.err
}

type fakeApprovals struct {
	presented  []string
	candidates [][]models.RankedPost
}

func (f *fakeApprovals) Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error {
	f.presented = append(f.presented, cycleID)
	f.candidates = append(f.candidates, candidates)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeMetricsSource struct {
	data    map[string]models.PostMetrics
	failFor map[string]bool
}

func (f *fakeMetricsSource) FetchMetrics(ctx context.Context, platformID string) (models.PostMetrics, error) {
	if f.failFor[platformID] {
		return models.PostMetrics{}, fmt.Errorf("platform unavailable")
	}
	m, ok := f.data[platformID]
	if !ok {
		return models.PostMetrics{}, models.ErrPostNotFound
	}
	return m, nil
}
