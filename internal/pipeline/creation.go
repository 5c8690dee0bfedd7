package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/internal/ranking"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/models"
	"github.com/mohammad-safakhou/growloop/provider"
)

// CreationConfig tunes the creation pipeline. Zero values fall back to the
// documented defaults.
type CreationConfig struct {
	FollowerTarget int
	VariantCount   int           // default 5
	HistoryCeiling float64       // default ranking.DefaultHistoryCeiling
	MetricsDelay   time.Duration // default 24h
	RecentWindow   int           // default 20
	RetryAttempts  int           // default 3
	RetryBase      time.Duration // default 2s
}

func (c CreationConfig) withDefaults() CreationConfig {
	if c.VariantCount <= 0 {
		c.VariantCount = 5
	}
	if c.HistoryCeiling <= 0 {
		c.HistoryCeiling = ranking.DefaultHistoryCeiling
	}
	if c.MetricsDelay <= 0 {
		c.MetricsDelay = 24 * time.Hour
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 20
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	return c
}

// Creation runs the content creation cycle: goal check, research, pattern
// extraction, generation, ranking, then suspension at the approval gate.
type Creation struct {
	kb        *knowledge.Base
	llm       provider.Provider
	research  Researcher
	publisher Publisher
	followers FollowerSource
	approvals ApprovalChannel
	embedder  Embedder
	susp      store.SuspensionStore
	cfg       CreationConfig
	logger    *log.Logger
}

// NewCreation wires a creation pipeline.
func NewCreation(kb *knowledge.Base, llm provider.Provider, research Researcher, publisher Publisher,
	followers FollowerSource, approvals ApprovalChannel, embedder Embedder, susp store.SuspensionStore,
	cfg CreationConfig) *Creation {
	pipelineMetrics()
	return &Creation{
		kb:        kb,
		llm:       llm,
		research:  research,
		publisher: publisher,
		followers: followers,
		approvals: approvals,
		embedder:  embedder,
		susp:      susp,
		cfg:       cfg.withDefaults(),
		logger:    log.New(os.Stdout, "[CREATE] ", log.LstdFlags),
	}
}

// ResumeResult reports how a decision was applied. PublishAt and Candidate
// are set only for the scheduled outcome; SuspensionID is set when a
// rejection re-suspended the cycle.
type ResumeResult struct {
	Outcome      Outcome
	Candidate    models.RankedPost
	Payload      SuspensionPayload
	PublishAt    time.Time
	SuspensionID string
}

// Run executes one creation cycle up to the approval gate. The cycle id
// must be unique per scheduled trigger; redelivery is the caller's problem
// to deduplicate.
func (c *Creation) Run(ctx context.Context, cycleID string) (Outcome, error) {
	addCounter(ctx, cyclesStarted, 1)

	niche, ok, err := c.kb.NicheConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load niche config: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("account %s not initialised, run init-account first", c.kb.Account())
	}
	strategy, err := c.kb.Strategy(ctx)
	if err != nil {
		return "", fmt.Errorf("load strategy: %w", err)
	}

	// GoalCheck. A read failure degrades to "goal unknown" and the cycle
	// proceeds rather than aborting on a flaky platform call.
	if c.cfg.FollowerTarget > 0 {
		count, err := c.followers.FollowerCount(ctx)
		if err != nil {
			c.logger.Printf("cycle %s: follower count unavailable: %v", cycleID, err)
		} else if count >= c.cfg.FollowerTarget {
			c.logger.Printf("cycle %s: follower target reached (%d >= %d)", cycleID, count, c.cfg.FollowerTarget)
			return OutcomeGoalReached, nil
		}
	}

	// Research.
	var posts []models.ViralPost
	err = retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func() error {
		var ferr error
		posts, ferr = c.research.Fetch(ctx, niche)
		return ferr
	})
	if err != nil {
		c.logger.Printf("cycle %s: research failed after retries: %v", cycleID, err)
		posts = nil
	}
	if len(posts) == 0 {
		c.logger.Printf("cycle %s: no research signal, ending cycle", cycleID)
		return OutcomeNoSignal, nil
	}

	// ExtractPatterns, falling back to pillar-derived patterns so the cycle
	// never aborts here.
	var patterns []models.ContentPattern
	err = retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func() error {
		var perr error
		patterns, perr = c.llm.ExtractPatterns(ctx, posts, niche)
		return perr
	})
	if err != nil || len(patterns) == 0 {
		c.logger.Printf("cycle %s: pattern extraction degraded to pillar fallback (err=%v)", cycleID, err)
		patterns = fallbackPatterns(niche)
	}
	if err := c.kb.SaveCyclePatterns(ctx, cycleID, patterns); err != nil {
		return "", fmt.Errorf("save cycle patterns: %w", err)
	}

	variants, err := c.generate(ctx, niche, strategy, patterns, "")
	if err != nil {
		return "", err
	}

	perf, err := c.performanceSnapshot(ctx)
	if err != nil {
		return "", err
	}
	ranked, err := c.rank(ctx, variants, strategy, perf)
	if err != nil {
		return "", err
	}

	payload := SuspensionPayload{
		CycleID:          cycleID,
		Attempt:          1,
		Timestamp:        time.Now().UTC(),
		RankedCandidates: topCandidates(ranked),
		StrategySnapshot: strategy,
		PatternSnapshot:  patterns,
		Performance:      perfList(perf),
	}
	if err := c.suspend(ctx, payload); err != nil {
		return "", err
	}
	return OutcomeSuspended, nil
}

// Resume applies an operator decision to a suspended cycle. Unknown ids
// surface store.ErrSuspensionNotFound; already-resolved ones surface
// store.ErrSuspensionResolved so a duplicate approval never double-publishes.
func (c *Creation) Resume(ctx context.Context, suspensionID string, d Decision) (ResumeResult, error) {
	s, ok, err := c.susp.GetSuspension(ctx, suspensionID)
	if err != nil {
		return ResumeResult{}, err
	}
	if !ok {
		return ResumeResult{}, store.ErrSuspensionNotFound
	}
	if s.Status == store.SuspensionStatusResolved {
		return ResumeResult{}, store.ErrSuspensionResolved
	}
	payload, err := decodePayload(s)
	if err != nil {
		return ResumeResult{}, err
	}

	// Resolving first acts as the compare-and-swap: a concurrent duplicate
	// decision loses here and never reaches the publish call.
	if err := c.susp.ResolveSuspension(ctx, suspensionID); err != nil {
		return ResumeResult{}, err
	}
	addCounter(ctx, decisionsHandled, 1)

	switch d.Action {
	case ActionReject:
		newID, err := c.regenerate(ctx, payload, d.Feedback)
		if err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{Outcome: OutcomeSuspended, Payload: payload, SuspensionID: newID}, nil
	case ActionPublishLater:
		candidate, err := candidateFor(payload, d)
		if err != nil {
			return ResumeResult{}, err
		}
		if d.PublishAt.After(time.Now()) {
			return ResumeResult{Outcome: OutcomeScheduled, Payload: payload, Candidate: candidate, PublishAt: d.PublishAt}, nil
		}
		if err := c.PublishApproved(ctx, candidate, time.Now().UTC()); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{Outcome: OutcomePublished, Payload: payload, Candidate: candidate}, nil
	default:
		candidate, err := candidateFor(payload, d)
		if err != nil {
			return ResumeResult{}, err
		}
		if err := c.PublishApproved(ctx, candidate, time.Now().UTC()); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{Outcome: OutcomePublished, Payload: payload, Candidate: candidate}, nil
	}
}

// PublishApproved sends the candidate to the platform and records the
// published post together with its pending metrics entry. The two store
// writes are a single atomic pair; a publish failure after retries leaves
// the store untouched.
func (c *Creation) PublishApproved(ctx context.Context, candidate models.RankedPost, at time.Time) error {
	var platformID string
	err := retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func() error {
		var perr error
		platformID, perr = c.publisher.Publish(ctx, candidate.Content)
		return perr
	})
	if err != nil {
		return fmt.Errorf("publish failed after %d attempts: %w", c.cfg.RetryAttempts, err)
	}

	followerCount := 0
	if n, err := c.followers.FollowerCount(ctx); err == nil {
		followerCount = n
	}
	var emb []float32
	if vecs, err := c.embedder.EmbedMany(ctx, []string{candidate.Content}); err == nil && len(vecs) == 1 {
		emb = vecs[0]
	} else if err != nil {
		c.logger.Printf("publish %s: embedding unavailable: %v", platformID, err)
	}

	post := models.PublishedPost{
		ID:                     uuid.NewString(),
		PlatformID:             platformID,
		Content:                candidate.Content,
		PatternUsed:            candidate.PatternUsed,
		Pillar:                 candidate.Pillar,
		PublishedAt:            at,
		FollowerCountAtPublish: followerCount,
		AIScore:                candidate.AIScore,
		CompositeScore:         candidate.CompositeScore,
		Embedding:              emb,
	}
	entry := models.PendingMetricsEntry{
		PostID:      post.ID,
		PlatformID:  platformID,
		Content:     post.Content,
		PatternUsed: post.PatternUsed,
		Pillar:      post.Pillar,
		PublishedAt: at,
		CheckAt:     at.Add(c.cfg.MetricsDelay),
	}
	if err := c.kb.RecordPublish(ctx, post, entry); err != nil {
		return fmt.Errorf("record publish: %w", err)
	}
	addCounter(ctx, postsPublished, 1)
	c.logger.Printf("published %s (pattern=%s, composite=%.1f)", platformID, post.PatternUsed, post.CompositeScore)
	return nil
}

// regenerate re-runs Generate with the operator's feedback and re-suspends
// under the next attempt id, reusing the snapshots taken when the cycle
// first suspended.
func (c *Creation) regenerate(ctx context.Context, payload SuspensionPayload, feedback string) (string, error) {
	niche, ok, err := c.kb.NicheConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load niche config: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("account %s not initialised, run init-account first", c.kb.Account())
	}
	variants, err := c.generate(ctx, niche, payload.StrategySnapshot, payload.PatternSnapshot, feedback)
	if err != nil {
		return "", err
	}
	perf := make(map[string]models.PatternPerformance, len(payload.Performance))
	for _, p := range payload.Performance {
		perf[p.PatternName] = p
	}
	ranked, err := c.rank(ctx, variants, payload.StrategySnapshot, perf)
	if err != nil {
		return "", err
	}
	next := SuspensionPayload{
		CycleID:          payload.CycleID,
		Attempt:          payload.Attempt + 1,
		Timestamp:        time.Now().UTC(),
		RankedCandidates: topCandidates(ranked),
		StrategySnapshot: payload.StrategySnapshot,
		PatternSnapshot:  payload.PatternSnapshot,
		Performance:      payload.Performance,
	}
	if err := c.suspend(ctx, next); err != nil {
		return "", err
	}
	return suspensionID(next.CycleID, next.Attempt), nil
}

// generate produces variants, filters avoid-topic violations, and retries
// generation once if the whole batch was filtered out.
func (c *Creation) generate(ctx context.Context, niche models.AccountNiche, strategy models.ContentStrategy,
	patterns []models.ContentPattern, feedback string) ([]models.PostVariant, error) {
	req := models.GenerationRequest{
		Niche:    niche,
		Strategy: strategy,
		Patterns: patterns,
		Count:    c.cfg.VariantCount,
		Feedback: feedback,
	}
	variants, err := c.generateOnce(ctx, req)
	if err != nil {
		return nil, err
	}
	kept := filterAvoidTopics(variants, niche.AvoidTopics)
	if len(kept) > 0 {
		return kept, nil
	}

	c.logger.Printf("all %d variants hit avoid-topics, regenerating once", len(variants))
	req.Feedback = strings.TrimSpace(feedback + "\nEvery previous variant touched a forbidden topic. Strictly avoid: " + strings.Join(niche.AvoidTopics, ", "))
	variants, err = c.generateOnce(ctx, req)
	if err != nil {
		return nil, err
	}
	kept = filterAvoidTopics(variants, niche.AvoidTopics)
	if len(kept) == 0 {
		return nil, fmt.Errorf("no variants survived avoid-topic filtering after regeneration")
	}
	return kept, nil
}

func (c *Creation) generateOnce(ctx context.Context, req models.GenerationRequest) ([]models.PostVariant, error) {
	var variants []models.PostVariant
	err := retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func() error {
		var gerr error
		variants, gerr = c.llm.GenerateVariants(ctx, req)
		return gerr
	})
	if err != nil {
		return nil, fmt.Errorf("generate variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("generator returned zero variants")
	}
	return variants, nil
}

// rank scores the surviving variants and orders them. Scoring failures
// degrade to a neutral 5.0 per variant; embedding failures degrade to
// maximal novelty. Both are logged, neither aborts the cycle.
func (c *Creation) rank(ctx context.Context, variants []models.PostVariant, strategy models.ContentStrategy,
	perf map[string]models.PatternPerformance) ([]models.RankedPost, error) {
	niche, _, err := c.kb.NicheConfig(ctx)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(variants))
	err = retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryBase, func() error {
		var serr error
		scores, serr = c.llm.ScoreVariants(ctx, variants, niche)
		return serr
	})
	if err != nil {
		c.logger.Printf("variant scoring degraded to neutral scores: %v", err)
		scores = make([]float64, len(variants))
		for i := range scores {
			scores[i] = ranking.ExplorationBonus
		}
	}

	texts := make([]string, len(variants))
	for i, v := range variants {
		texts[i] = v.Content
	}
	embeddings, err := c.embedder.EmbedMany(ctx, texts)
	if err != nil {
		c.logger.Printf("variant embedding unavailable, novelty defaults apply: %v", err)
		embeddings = nil
	}
	recent, err := c.kb.RecentPostEmbeddings(ctx, c.cfg.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent embeddings: %w", err)
	}

	return ranking.Rank(ranking.Input{
		Variants:          variants,
		AIScores:          scores,
		Performance:       perf,
		VariantEmbeddings: embeddings,
		RecentEmbeddings:  recent,
		Weights:           strategy.RankingWeights,
		HistoryCeiling:    c.cfg.HistoryCeiling,
	}), nil
}

func (c *Creation) performanceSnapshot(ctx context.Context) (map[string]models.PatternPerformance, error) {
	all, err := c.kb.AllPatternPerformance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pattern performance: %w", err)
	}
	out := make(map[string]models.PatternPerformance, len(all))
	for _, p := range all {
		out[p.PatternName] = p
	}
	return out, nil
}

func (c *Creation) suspend(ctx context.Context, payload SuspensionPayload) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	id := suspensionID(payload.CycleID, payload.Attempt)
	if err := c.susp.SaveSuspension(ctx, store.Suspension{
		CycleID:   id,
		AccountID: c.kb.Account(),
		Status:    store.SuspensionStatusPending,
		Payload:   raw,
		CreatedAt: payload.Timestamp,
	}); err != nil {
		return fmt.Errorf("save suspension: %w", err)
	}
	// Notification failure is not fatal: the suspension is durable and
	// visible through the API, the operator can still decide there.
	if err := c.approvals.Present(ctx, id, payload.RankedCandidates); err != nil {
		c.logger.Printf("suspension %s: approval notification failed: %v", id, err)
	}
	addCounter(ctx, cyclesSuspended, 1)
	c.logger.Printf("cycle %s suspended for approval with %d candidates", id, len(payload.RankedCandidates))
	return nil
}

// topCandidates keeps the primary plus up to two alternates.
func topCandidates(ranked []models.RankedPost) []models.RankedPost {
	if len(ranked) > maxAlternates+1 {
		ranked = ranked[:maxAlternates+1]
	}
	return ranked
}

func perfList(m map[string]models.PatternPerformance) []models.PatternPerformance {
	out := make([]models.PatternPerformance, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

// fallbackPatterns derives one bland but safe pattern per content pillar
// when extraction fails or finds nothing.
func fallbackPatterns(niche models.AccountNiche) []models.ContentPattern {
	out := make([]models.ContentPattern, 0, len(niche.ContentPillars))
	for _, pillar := range niche.ContentPillars {
		out = append(out, models.ContentPattern{
			Name:           "pillar_" + strings.ReplaceAll(strings.ToLower(pillar.Name), " ", "_"),
			Description:    "Direct take on the " + pillar.Name + " pillar: " + pillar.Description,
			Structure:      "Hook -> Insight -> Question",
			HookType:       "question",
			BestForPillars: []string{pillar.Name},
		})
	}
	if len(out) == 0 {
		out = append(out, models.ContentPattern{
			Name:        "niche_observation",
			Description: "A concrete observation about " + niche.Niche,
			Structure:   "Hook -> Insight -> Question",
			HookType:    "question",
		})
	}
	return out
}

func filterAvoidTopics(variants []models.PostVariant, avoid []string) []models.PostVariant {
	if len(avoid) == 0 {
		return variants
	}
	kept := variants[:0:0]
	for _, v := range variants {
		lower := strings.ToLower(v.Content)
		hit := false
		for _, topic := range avoid {
			if topic != "" && strings.Contains(lower, strings.ToLower(topic)) {
				hit = true
				break
			}
		}
		if !hit {
			kept = append(kept, v)
		}
	}
	return kept
}
