package models

import (
	"errors"
	"time"
)

// ErrPostNotFound is returned when a published post is not found.
var ErrPostNotFound = errors.New("published post not found")

// ViralPost is a piece of external content observed as trending in the niche.
// Produced by research backends, consumed by pattern extraction; it is never
// persisted beyond the cycle that discovered it.
type ViralPost struct {
	Platform       string    `json:"platform"` // threads, reddit, hackernews
	Author         string    `json:"author"`
	Content        string    `json:"content"`
	URL            string    `json:"url"`
	Likes          int       `json:"likes"`
	Replies        int       `json:"replies"`
	Reposts        int       `json:"reposts"`
	Views          int       `json:"views"`
	EngagementRate float64   `json:"engagement_rate"`
	DiscoveredAt   time.Time `json:"discovered_at"`
	TopicTags      []string  `json:"topic_tags"`
	PatternTag     string    `json:"pattern_tag,omitempty"`
}

// TotalEngagement sums the engagement counters of a viral post.
func (v ViralPost) TotalEngagement() int {
	return v.Likes + v.Replies + v.Reposts
}

// ContentPattern is a named reusable structural device extracted from viral
// posts, e.g. "contrarian_hot_take".
type ContentPattern struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Structure        string   `json:"structure"` // e.g. "Hook -> Evidence -> CTA"
	HookType         string   `json:"hook_type"` // question, bold_claim, story, stat
	ExampleHooks     []string `json:"example_hooks"`
	BestForPillars   []string `json:"best_for_pillars"`
	SourcePostsCount int      `json:"source_posts_count"`
}

// PostVariant is one candidate post generated within a cycle.
type PostVariant struct {
	Content     string `json:"content"`
	PatternUsed string `json:"pattern_used"`
	Pillar      string `json:"pillar"`
	HookType    string `json:"hook_type"`
	Reasoning   string `json:"reasoning"`
}

// RankedPost is a PostVariant plus its component and composite scores.
// All scores live on a 0-10 scale.
type RankedPost struct {
	PostVariant
	AIScore             float64 `json:"ai_score"`
	PatternHistoryScore float64 `json:"pattern_history_score"`
	NoveltyScore        float64 `json:"novelty_score"`
	CompositeScore      float64 `json:"composite_score"`
	Rank                int     `json:"rank"` // 1 = best, 0 = unranked
}

// PublishedPost is the approved variant actually sent to the platform.
// Immutable once written; PlatformID keys later metrics correlation.
type PublishedPost struct {
	ID                     string    `json:"id"`
	PlatformID             string    `json:"platform_id"`
	Content                string    `json:"content"`
	PatternUsed            string    `json:"pattern_used"`
	Pillar                 string    `json:"pillar"`
	PublishedAt            time.Time `json:"published_at"`
	FollowerCountAtPublish int       `json:"follower_count_at_publish"`
	AIScore                float64   `json:"ai_score"`
	CompositeScore         float64   `json:"composite_score"`
	Embedding              []float32 `json:"embedding,omitempty"`
}

// PostMetrics is one engagement snapshot for a published post. Exactly one
// canonical measurement exists per post per measurement cycle; re-measurement
// overwrites, keyed by platform post id.
type PostMetrics struct {
	PlatformID        string    `json:"platform_id"`
	Content           string    `json:"content"`
	PatternUsed       string    `json:"pattern_used"`
	Pillar            string    `json:"pillar"`
	Views             int       `json:"views"`
	Likes             int       `json:"likes"`
	Replies           int       `json:"replies"`
	Reposts           int       `json:"reposts"`
	Quotes            int       `json:"quotes"`
	EngagementRate    float64   `json:"engagement_rate"`
	FollowerDelta     int       `json:"follower_delta"`
	CollectedAt       time.Time `json:"collected_at"`
	HoursSincePublish float64   `json:"hours_since_publish"`
}

// TotalEngagement sums all engagement counters.
func (m PostMetrics) TotalEngagement() int {
	return m.Likes + m.Replies + m.Reposts + m.Quotes
}

// ComputeEngagementRate derives the engagement rate from raw counters.
func (m PostMetrics) ComputeEngagementRate() float64 {
	if m.Views == 0 {
		return 0.0
	}
	return float64(m.TotalEngagement()) / float64(m.Views)
}

// PendingMetricsEntry queues a future measurement obligation for a published
// post. Inserted on publish, deleted once a measurement succeeds; a failed
// measurement leaves the entry intact for retry.
type PendingMetricsEntry struct {
	PostID      string    `json:"post_id"`
	PlatformID  string    `json:"platform_id"`
	Content     string    `json:"content"`
	PatternUsed string    `json:"pattern_used"`
	Pillar      string    `json:"pillar"`
	PublishedAt time.Time `json:"published_at"`
	CheckAt     time.Time `json:"check_at"`
}

// PatternPerformance is the cumulative per-pattern record maintained by the
// learning pipeline. SampleCount and MeanEngagementRate carry the incremental
// mean; the extended counters keep the raw totals for analysis prompts.
type PatternPerformance struct {
	PatternName        string     `json:"pattern_name"`
	SampleCount        int        `json:"sample_count"`
	MeanEngagementRate float64    `json:"mean_engagement_rate"`
	Exploring          bool       `json:"exploring"`
	TotalViews         int        `json:"total_views"`
	TotalLikes         int        `json:"total_likes"`
	TotalReplies       int        `json:"total_replies"`
	TotalReposts       int        `json:"total_reposts"`
	AvgFollowerDelta   float64    `json:"avg_follower_delta"`
	BestPostID         string     `json:"best_post_id,omitempty"`
	BestRate           float64    `json:"best_rate,omitempty"`
	WorstPostID        string     `json:"worst_post_id,omitempty"`
	WorstRate          float64    `json:"worst_rate,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

// RankingWeights holds the three composite-score weights. They are
// configuration, not constants: AdjustStrategy may replace them.
type RankingWeights struct {
	AI      float64 `json:"ai"`
	History float64 `json:"history"`
	Novelty float64 `json:"novelty"`
}

// DefaultRankingWeights returns the 0.4/0.3/0.3 defaults.
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{AI: 0.4, History: 0.3, Novelty: 0.3}
}

// Sum returns the total of the three weights.
func (w RankingWeights) Sum() float64 { return w.AI + w.History + w.Novelty }

// ContentStrategy is the single-row-per-account strategy record, replaced
// atomically by the learning pipeline's adapt step.
type ContentStrategy struct {
	PreferredPatterns   []string           `json:"preferred_patterns"`
	AvoidPatterns       []string           `json:"avoid_patterns"`
	OptimalPostingTimes []string           `json:"optimal_posting_times"`
	PillarWeights       map[string]float64 `json:"pillar_weights"`
	ToneNotes           []string           `json:"tone_notes"`
	KeyLearnings        []string           `json:"key_learnings"`
	RankingWeights      RankingWeights     `json:"ranking_weights"`
	Iteration           int                `json:"iteration"`
	LastUpdated         *time.Time         `json:"last_updated,omitempty"`
}

// DefaultStrategy returns the strategy used before any learning has run.
func DefaultStrategy() ContentStrategy {
	return ContentStrategy{
		OptimalPostingTimes: []string{"08:00", "12:30", "18:00"},
		PillarWeights:       map[string]float64{},
		RankingWeights:      DefaultRankingWeights(),
	}
}

// VoiceConfig describes the account's writing voice.
type VoiceConfig struct {
	Tone       string   `json:"tone" yaml:"tone"`
	Persona    string   `json:"persona" yaml:"persona"`
	Language   string   `json:"language" yaml:"language"`
	StyleNotes []string `json:"style_notes" yaml:"style_notes"`
}

// AudienceConfig describes who the account writes for.
type AudienceConfig struct {
	Primary    string   `json:"primary" yaml:"primary"`
	Secondary  string   `json:"secondary" yaml:"secondary"`
	PainPoints []string `json:"pain_points" yaml:"pain_points"`
}

// ContentPillar is one operator-defined content theme with a weight.
type ContentPillar struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Weight      float64 `json:"weight" yaml:"weight"`
}

// AccountNiche is the operator-authored identity config. Read-only to both
// pipelines; supplied externally via init-account, which reads it from YAML.
type AccountNiche struct {
	Niche                 string          `json:"niche" yaml:"niche"`
	SubNiche              string          `json:"sub_niche" yaml:"sub_niche"`
	Description           string          `json:"description" yaml:"description"`
	Voice                 VoiceConfig     `json:"voice" yaml:"voice"`
	Audience              AudienceConfig  `json:"audience" yaml:"audience"`
	ContentPillars        []ContentPillar `json:"content_pillars" yaml:"content_pillars"`
	AvoidTopics           []string        `json:"avoid_topics" yaml:"avoid_topics"`
	HashtagsPrimary       []string        `json:"hashtags_primary" yaml:"hashtags_primary"`
	HashtagsSecondary     []string        `json:"hashtags_secondary" yaml:"hashtags_secondary"`
	MaxHashtagsPerPost    int             `json:"max_hashtags_per_post" yaml:"max_hashtags_per_post"`
	PostingTimezone       string          `json:"posting_timezone" yaml:"posting_timezone"`
	PreferredPostingTimes []string        `json:"preferred_posting_times" yaml:"preferred_posting_times"`
	MaxPostsPerDay        int             `json:"max_posts_per_day" yaml:"max_posts_per_day"`
}

// GenerationRequest carries everything the generation prompt needs.
type GenerationRequest struct {
	Niche    AccountNiche
	Strategy ContentStrategy
	Patterns []ContentPattern
	Count    int
	// Feedback is the operator's rejection note from the approval gate.
	// Empty on the first attempt.
	Feedback string
}

// AnalysisRequest is the evidence handed to the performance analysis prompt.
type AnalysisRequest struct {
	Metrics     []PostMetrics
	Performance []PatternPerformance
	Strategy    ContentStrategy
	Niche       AccountNiche
}

// StrategyRequest asks for a revised strategy given the latest analysis.
type StrategyRequest struct {
	Current  ContentStrategy
	Analysis PerformanceAnalysis
	Niche    AccountNiche
}

// PerformanceAnalysis is the structured output of the learning pipeline's
// analyze step.
type PerformanceAnalysis struct {
	TopPerformers   []string `json:"top_performers"`
	Underperformers []string `json:"underperformers"`
	PatternInsights []string `json:"pattern_insights"`
	TimingInsights  []string `json:"timing_insights"`
	PillarAnalysis  []string `json:"pillar_analysis"`
	AudienceSignals []string `json:"audience_signals"`
	Recommendations []string `json:"recommendations"`
	BaselineRate    float64  `json:"baseline_rate"`
}
