// Package orchestrator is the entry point the scheduler and the API call
// into: run one creation cycle, run one learning cycle, apply one approval
// decision. It owns trigger deduplication and deferred publishes; all
// domain logic lives in the pipelines.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/internal/telemetry"
	"github.com/mohammad-safakhou/growloop/models"
)

// ErrDuplicateTrigger indicates a redelivered trigger for a cycle id that
// was already processed.
var ErrDuplicateTrigger = errors.New("duplicate cycle trigger")

// IdempotencyClaimer registers processed trigger ids; a second claim for
// the same key reports false.
type IdempotencyClaimer interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
}

// PendingApproval is one cycle waiting for an operator decision.
type PendingApproval struct {
	SuspensionID string              `json:"suspension_id"`
	CreatedAt    time.Time           `json:"created_at"`
	Candidates   []models.RankedPost `json:"candidates"`
}

// Orchestrator coordinates the two pipelines for one account.
type Orchestrator struct {
	creation *pipeline.Creation
	learning *pipeline.Learning
	susp     store.SuspensionStore
	idem     IdempotencyClaimer
	account  string
	tele     *telemetry.Telemetry
	logger   *log.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New wires an orchestrator for one account. tele may be nil when the
// process does not track telemetry.
func New(creation *pipeline.Creation, learning *pipeline.Learning, susp store.SuspensionStore,
	idem IdempotencyClaimer, account string, tele *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		creation: creation,
		learning: learning,
		susp:     susp,
		idem:     idem,
		account:  account,
		tele:     tele,
		logger:   log.New(os.Stdout, "[ORCH] ", log.LstdFlags),
		timers:   map[string]*time.Timer{},
	}
}

// RunCreationCycle runs one creation cycle. An empty cycle id gets a fresh
// one; a redelivered id is dropped with ErrDuplicateTrigger because process
// restarts can replay scheduled triggers.
func (o *Orchestrator) RunCreationCycle(ctx context.Context, cycleID string) (pipeline.Outcome, string, error) {
	if cycleID == "" {
		cycleID = uuid.NewString()
	}
	claimed, err := o.idem.ClaimIdempotency(ctx, "creation_cycle", cycleID)
	if err != nil {
		return "", cycleID, err
	}
	if !claimed {
		o.logger.Printf("creation cycle %s already processed, dropping trigger", cycleID)
		return "", cycleID, ErrDuplicateTrigger
	}
	o.logger.Printf("creation cycle %s starting", cycleID)
	start := time.Now()
	out, err := o.creation.Run(ctx, cycleID)
	o.recordCycle(telemetry.CycleEvent{
		Kind:      "creation",
		StartTime: start,
		EndTime:   time.Now(),
		Duration:  time.Since(start),
		Success:   err == nil,
		Error:     errString(err),
	})
	if err != nil {
		o.logger.Printf("creation cycle %s failed: %v", cycleID, err)
		return "", cycleID, err
	}
	o.logger.Printf("creation cycle %s: %s", cycleID, out)
	return out, cycleID, nil
}

// RunLearningCycle runs one learning cycle. The trigger id deduplicates
// scheduler redelivery the same way creation cycles do.
func (o *Orchestrator) RunLearningCycle(ctx context.Context, triggerID string) (pipeline.LearningReport, error) {
	if triggerID == "" {
		triggerID = uuid.NewString()
	}
	claimed, err := o.idem.ClaimIdempotency(ctx, "learning_cycle", triggerID)
	if err != nil {
		return pipeline.LearningReport{}, err
	}
	if !claimed {
		o.logger.Printf("learning cycle %s already processed, dropping trigger", triggerID)
		return pipeline.LearningReport{}, ErrDuplicateTrigger
	}
	o.logger.Printf("learning cycle %s starting", triggerID)
	start := time.Now()
	report, err := o.learning.Run(ctx, time.Now().UTC())
	o.recordCycle(telemetry.CycleEvent{
		Kind:      "learning",
		StartTime: start,
		EndTime:   time.Now(),
		Duration:  time.Since(start),
		Success:   err == nil,
		Error:     errString(err),
		Collected: report.Collected,
	})
	if err != nil {
		o.logger.Printf("learning cycle %s failed: %v", triggerID, err)
		return report, err
	}
	o.logger.Printf("learning cycle %s: collected=%d patterns=%d strategy_updated=%v",
		triggerID, report.Collected, report.PatternsUpdated, report.StrategyUpdated)
	return report, nil
}

// HandleDecision applies an operator decision to a suspended cycle. A
// publish_later decision arms an in-process timer for the deferred publish;
// the timer does not survive a restart, in which case the operator re-sends
// the decision against the still-listed suspension.
func (o *Orchestrator) HandleDecision(ctx context.Context, suspensionID string, d pipeline.Decision) (pipeline.ResumeResult, error) {
	res, err := o.creation.Resume(ctx, suspensionID, d)
	if err != nil {
		return res, err
	}
	switch res.Outcome {
	case pipeline.OutcomeScheduled:
		o.schedulePublish(suspensionID, res.Candidate, res.PublishAt)
	case pipeline.OutcomePublished:
		o.recordCycle(telemetry.CycleEvent{Kind: "decision", Success: true, Published: 1})
	}
	return res, nil
}

// PendingApprovals lists every cycle currently waiting for a decision.
func (o *Orchestrator) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	suspensions, err := o.susp.ListPendingSuspensions(ctx, o.account)
	if err != nil {
		return nil, err
	}
	out := make([]PendingApproval, 0, len(suspensions))
	for _, s := range suspensions {
		var payload pipeline.SuspensionPayload
		if err := json.Unmarshal(s.Payload, &payload); err != nil {
			o.logger.Printf("skipping undecodable suspension %s: %v", s.CycleID, err)
			continue
		}
		out = append(out, PendingApproval{
			SuspensionID: s.CycleID,
			CreatedAt:    s.CreatedAt,
			Candidates:   payload.RankedCandidates,
		})
	}
	return out, nil
}

// Close stops any armed deferred-publish timers.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) schedulePublish(suspensionID string, candidate models.RankedPost, at time.Time) {
	delay := time.Until(at)
	o.logger.Printf("suspension %s: publish deferred %s", suspensionID, delay.Round(time.Second))
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timers[suspensionID] = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := o.creation.PublishApproved(ctx, candidate, at.UTC()); err != nil {
			o.logger.Printf("deferred publish for %s failed: %v", suspensionID, err)
		} else {
			o.recordCycle(telemetry.CycleEvent{Kind: "decision", Success: true, Published: 1})
		}
		o.mu.Lock()
		delete(o.timers, suspensionID)
		o.mu.Unlock()
	})
}

func (o *Orchestrator) recordCycle(event telemetry.CycleEvent) {
	if o.tele != nil {
		o.tele.RecordCycleEvent(event)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
