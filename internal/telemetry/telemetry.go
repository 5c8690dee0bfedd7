// Package telemetry tracks cycle outcomes and LLM spend for the growth
// loop. It complements the otel counters exposed on /metrics with a
// process-local view that can be logged and returned over the API.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
)

// Telemetry provides monitoring and cost tracking
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Cycle metrics
	CreationCycles   int64
	LearningCycles   int64
	FailedCycles     int64
	AverageCycleTime time.Duration

	// LLM metrics
	LLMRequests       map[string]int64
	LLMTokensUsed     map[string]int64
	LLMAverageLatency map[string]time.Duration

	// Publishing metrics
	PostsPublished   int64
	MetricsCollected int64
}

// CostTracker tracks costs across LLM models and operations
type CostTracker struct {
	// Operation costs
	OperationCosts map[string]float64 // operation -> cost

	// Model costs
	ModelCosts map[string]float64 // model -> cost

	// Total costs
	TotalCost   float64
	TotalTokens int64
}

// CycleEvent represents one pipeline cycle run, or a decision resume that
// published a post
type CycleEvent struct {
	Kind      string // creation, learning or decision
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Published int
	Collected int
}

// LLMEvent represents a single LLM call
type LLMEvent struct {
	Model            string
	Operation        string // extract, generate, score, analyze, strategy, embed
	Duration         time.Duration
	PromptTokens     int64
	CompletionTokens int64
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(config config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: config,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			LLMRequests:       make(map[string]int64),
			LLMTokensUsed:     make(map[string]int64),
			LLMAverageLatency: make(map[string]time.Duration),
		},
		costTracker: &CostTracker{
			OperationCosts: make(map[string]float64),
			ModelCosts:     make(map[string]float64),
		},
	}
	return t
}

// RecordCycleEvent records one completed cycle run
func (t *Telemetry) RecordCycleEvent(event CycleEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	counted := false
	switch event.Kind {
	case "creation":
		t.metrics.CreationCycles++
		counted = true
	case "learning":
		t.metrics.LearningCycles++
		counted = true
	}
	if !event.Success {
		t.metrics.FailedCycles++
	}
	t.metrics.PostsPublished += int64(event.Published)
	t.metrics.MetricsCollected += int64(event.Collected)

	// Decision events carry no meaningful duration, only cycle runs fold
	// into the average.
	if counted {
		total := t.metrics.CreationCycles + t.metrics.LearningCycles
		if total == 1 {
			t.metrics.AverageCycleTime = event.Duration
		} else {
			sum := t.metrics.AverageCycleTime * time.Duration(total-1)
			t.metrics.AverageCycleTime = (sum + event.Duration) / time.Duration(total)
		}
	}
}

// RecordLLMEvent records a single LLM call and its cost
func (t *Telemetry) RecordLLMEvent(event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := event.PromptTokens + event.CompletionTokens
	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += tokens

	// Incremental average latency per model
	count := t.metrics.LLMRequests[event.Model]
	if count == 1 {
		t.metrics.LLMAverageLatency[event.Model] = event.Duration
	} else {
		sum := t.metrics.LLMAverageLatency[event.Model] * time.Duration(count-1)
		t.metrics.LLMAverageLatency[event.Model] = (sum + event.Duration) / time.Duration(count)
	}

	if t.config.CostTracking {
		cost := CalculateCost(event.Model, event.PromptTokens, event.CompletionTokens)
		t.costTracker.ModelCosts[event.Model] += cost
		if event.Operation != "" {
			t.costTracker.OperationCosts[event.Operation] += cost
		}
		t.costTracker.TotalCost += cost
		t.costTracker.TotalTokens += tokens
	}
}

// GetMetrics returns a snapshot of the current metrics
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := Metrics{
		CreationCycles:    t.metrics.CreationCycles,
		LearningCycles:    t.metrics.LearningCycles,
		FailedCycles:      t.metrics.FailedCycles,
		AverageCycleTime:  t.metrics.AverageCycleTime,
		PostsPublished:    t.metrics.PostsPublished,
		MetricsCollected:  t.metrics.MetricsCollected,
		LLMRequests:       make(map[string]int64),
		LLMTokensUsed:     make(map[string]int64),
		LLMAverageLatency: make(map[string]time.Duration),
	}
	for k, v := range t.metrics.LLMRequests {
		snapshot.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		snapshot.LLMTokensUsed[k] = v
	}
	for k, v := range t.metrics.LLMAverageLatency {
		snapshot.LLMAverageLatency[k] = v
	}
	return snapshot
}

// GetCostSummary returns a snapshot of accumulated costs
func (t *Telemetry) GetCostSummary() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := CostTracker{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		OperationCosts: make(map[string]float64),
		ModelCosts:     make(map[string]float64),
	}
	for k, v := range t.costTracker.OperationCosts {
		snapshot.OperationCosts[k] = v
	}
	for k, v := range t.costTracker.ModelCosts {
		snapshot.ModelCosts[k] = v
	}
	return snapshot
}

// Shutdown logs a final report
func (t *Telemetry) Shutdown() {
	if !t.config.Enabled {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	t.logger.Printf("=== Final Telemetry Report ===")
	t.logger.Printf("Creation cycles: %d, Learning cycles: %d, Failed: %d",
		t.metrics.CreationCycles, t.metrics.LearningCycles, t.metrics.FailedCycles)
	t.logger.Printf("Posts published: %d, Measurements collected: %d",
		t.metrics.PostsPublished, t.metrics.MetricsCollected)
	t.logger.Printf("Average cycle time: %v", t.metrics.AverageCycleTime)
	for model, count := range t.metrics.LLMRequests {
		t.logger.Printf("LLM %s: %d requests, %d tokens, avg latency %v",
			model, count, t.metrics.LLMTokensUsed[model], t.metrics.LLMAverageLatency[model])
	}
	if t.config.CostTracking {
		t.logger.Printf("Total cost: %s (%d tokens)", formatCost(t.costTracker.TotalCost), t.costTracker.TotalTokens)
		for op, cost := range t.costTracker.OperationCosts {
			t.logger.Printf("  %s: %s", op, formatCost(cost))
		}
	}
	t.logger.Printf("==============================")
}

// CalculateCost estimates the cost of an LLM call from published per-1K
// token pricing. Unknown models fall back to a conservative default.
func CalculateCost(model string, promptTokens, completionTokens int64) float64 {
	type pricing struct {
		prompt     float64 // per 1K prompt tokens
		completion float64 // per 1K completion tokens
	}
	prices := map[string]pricing{
		"gpt-5":                  {prompt: 0.00125, completion: 0.01},
		"gpt-5-mini":             {prompt: 0.00025, completion: 0.002},
		"gpt-4o":                 {prompt: 0.0025, completion: 0.01},
		"gpt-4o-mini":            {prompt: 0.00015, completion: 0.0006},
		"text-embedding-3-large": {prompt: 0.00013},
		"text-embedding-3-small": {prompt: 0.00002},
	}
	p, ok := prices[model]
	if !ok {
		p = pricing{prompt: 0.0025, completion: 0.01}
	}
	return float64(promptTokens)/1000*p.prompt + float64(completionTokens)/1000*p.completion
}

func formatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}
