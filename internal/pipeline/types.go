// Package pipeline implements the two cycle state machines: the creation
// pipeline (research, generate, rank, approve, publish) and the learning
// pipeline (collect metrics, analyze, update pattern scores, adjust
// strategy). External effects happen only through the collaborator
// interfaces declared here.
package pipeline

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/growloop/models"
)

// Researcher fetches recent high-engagement posts in the account's niche.
type Researcher interface {
	Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error)
}

// Publisher sends a post to the platform and returns its platform id.
type Publisher interface {
	Publish(ctx context.Context, content string) (string, error)
}

// MetricsSource fetches the engagement snapshot for a published post.
type MetricsSource interface {
	FetchMetrics(ctx context.Context, platformID string) (models.PostMetrics, error)
}

// FollowerSource reads the account's current follower count.
type FollowerSource interface {
	FollowerCount(ctx context.Context) (int, error)
}

// Embedder turns texts into vectors for novelty scoring.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// ApprovalChannel notifies the operator that a cycle is waiting for a
// decision. Decisions arrive asynchronously through the orchestrator.
type ApprovalChannel interface {
	Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error
}

// DecisionAction is the closed set of operator responses to an approval
// request.
type DecisionAction string

const (
	ActionApprove      DecisionAction = "approve"
	ActionEdit         DecisionAction = "edit"
	ActionReject       DecisionAction = "reject"
	ActionPublishLater DecisionAction = "publish_later"
	ActionUseAlternate DecisionAction = "use_alternate"
)

// Decision is one operator response addressed to a suspended cycle.
type Decision struct {
	Action         DecisionAction `json:"action"`
	EditedText     string         `json:"edited_text,omitempty"`
	Feedback       string         `json:"feedback,omitempty"`
	PublishAt      time.Time      `json:"publish_at,omitempty"`
	AlternateIndex int            `json:"alternate_index,omitempty"`
}

// Outcome describes how a creation cycle run or resume ended.
type Outcome string

const (
	OutcomeGoalReached Outcome = "goal_reached"
	OutcomeNoSignal    Outcome = "no_signal"
	OutcomeSuspended   Outcome = "suspended"
	OutcomePublished   Outcome = "published"
	OutcomeScheduled   Outcome = "scheduled"
)
