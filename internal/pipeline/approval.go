package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/models"
)

// maxAlternates bounds how many runner-up candidates travel with an
// approval request.
const maxAlternates = 2

// SuspensionPayload is the full continuation state serialized when a cycle
// suspends for approval. Resumption works from this record alone, never
// from mutable store state that may have changed while waiting.
type SuspensionPayload struct {
	CycleID          string                      `json:"cycle_id"`
	Attempt          int                         `json:"attempt"`
	Timestamp        time.Time                   `json:"timestamp"`
	RankedCandidates []models.RankedPost         `json:"ranked_candidates"`
	StrategySnapshot models.ContentStrategy      `json:"strategy_snapshot"`
	PatternSnapshot  []models.ContentPattern     `json:"pattern_snapshot"`
	Performance      []models.PatternPerformance `json:"pattern_performance_snapshot"`
}

// suspensionID returns the store key for one approval attempt of a cycle.
// A rejected batch re-suspends under the next attempt number, so resolved
// attempts stay resolved and stale decisions are still detectable.
func suspensionID(cycleID string, attempt int) string {
	if attempt <= 1 {
		return cycleID
	}
	return fmt.Sprintf("%s.%d", cycleID, attempt)
}

func encodePayload(p SuspensionPayload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode suspension payload: %w", err)
	}
	return raw, nil
}

func decodePayload(s store.Suspension) (SuspensionPayload, error) {
	var p SuspensionPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return SuspensionPayload{}, fmt.Errorf("decode suspension payload: %w", err)
	}
	return p, nil
}

// candidateFor picks the post a decision refers to. Rejections carry no
// candidate; every other action resolves to exactly one ranked post.
func candidateFor(p SuspensionPayload, d Decision) (models.RankedPost, error) {
	if len(p.RankedCandidates) == 0 {
		return models.RankedPost{}, fmt.Errorf("suspension %s has no candidates", p.CycleID)
	}
	switch d.Action {
	case ActionApprove, ActionPublishLater:
		return p.RankedCandidates[0], nil
	case ActionEdit:
		if d.EditedText == "" {
			return models.RankedPost{}, fmt.Errorf("edit decision carries no text")
		}
		c := p.RankedCandidates[0]
		c.Content = d.EditedText
		return c, nil
	case ActionUseAlternate:
		idx := d.AlternateIndex
		if idx < 1 || idx > maxAlternates || idx >= len(p.RankedCandidates) {
			return models.RankedPost{}, fmt.Errorf("alternate index %d out of range", idx)
		}
		return p.RankedCandidates[idx], nil
	default:
		return models.RankedPost{}, fmt.Errorf("unknown decision action %q", d.Action)
	}
}
