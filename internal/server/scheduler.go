package server

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/orchestrator"
	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/internal/store"
)

// Scheduler fires the recurring creation and learning cycles. Cycle runs
// are recorded in cycle_runs; a redis lock keeps replicas from triggering
// the same cycle twice, and the orchestrator's idempotency claim backs
// that up if the lock ever fails.
type Scheduler struct {
	Store *store.Store
	Orch  *orchestrator.Orchestrator
	Rdb   *redis.Client
	Cfg   config.SchedulerConfig
	Stop  chan struct{}

	logger      *log.Logger
	goalReached atomic.Bool
}

func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	interval := s.Cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if !s.goalReached.Load() {
		s.maybeRun(ctx, "creation", s.Cfg.CreationCron)
	}
	s.maybeRun(ctx, "learning", s.Cfg.LearningCron)
}

func (s *Scheduler) maybeRun(ctx context.Context, kind, cronSpec string) {
	last, err := s.Store.LatestCycleRunTime(ctx, kind)
	if err != nil {
		s.logger.Printf("%s: reading last run failed: %v", kind, err)
		return
	}
	if !isDue(cronSpec, last) {
		return
	}

	// distributed lock to avoid duplicate runs across replicas
	if s.Rdb != nil {
		lockKey := "growloop:sched:lock:" + kind
		ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, lockKey)
	}

	runID, err := s.Store.CreateCycleRun(ctx, kind, "running")
	if err != nil {
		s.logger.Printf("%s: creating run row failed: %v", kind, err)
		return
	}

	go func() {
		// jitter to avoid stampedes
		time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
		switch kind {
		case "creation":
			s.runCreation(runID)
		case "learning":
			s.runLearning(runID)
		}
	}()
}

func (s *Scheduler) runCreation(runID string) {
	ctx := context.Background()
	out, cycleID, err := s.Orch.RunCreationCycle(ctx, runID)
	switch {
	case errors.Is(err, orchestrator.ErrDuplicateTrigger):
		_ = s.Store.FinishCycleRun(ctx, runID, "skipped", nil)
	case err != nil:
		msg := err.Error()
		_ = s.Store.FinishCycleRun(ctx, runID, "failed", &msg)
	case out == pipeline.OutcomeSuspended:
		// The run stays open until the operator decides.
		_ = s.Store.SetCycleRunStatus(ctx, runID, "suspended")
		s.logger.Printf("creation cycle %s waiting for approval", cycleID)
	case out == pipeline.OutcomeGoalReached:
		_ = s.Store.FinishCycleRun(ctx, runID, "succeeded", nil)
		s.goalReached.Store(true)
		s.logger.Printf("follower goal reached, pausing creation cycles")
	default:
		_ = s.Store.FinishCycleRun(ctx, runID, "succeeded", nil)
	}
}

func (s *Scheduler) runLearning(runID string) {
	ctx := context.Background()
	_, err := s.Orch.RunLearningCycle(ctx, runID)
	switch {
	case errors.Is(err, orchestrator.ErrDuplicateTrigger):
		_ = s.Store.FinishCycleRun(ctx, runID, "skipped", nil)
	case err != nil:
		msg := err.Error()
		_ = s.Store.FinishCycleRun(ctx, runID, "failed", &msg)
	default:
		_ = s.Store.FinishCycleRun(ctx, runID, "succeeded", nil)
	}
}

// isDue determines if a cycle with cronSpec should run now based on the
// last run time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			// If never run, due now
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
