package pipeline

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	pipelineMetricsOnce sync.Once
	cyclesStarted       otelmetric.Int64Counter
	cyclesSuspended     otelmetric.Int64Counter
	postsPublished      otelmetric.Int64Counter
	decisionsHandled    otelmetric.Int64Counter
	metricsCollected    otelmetric.Int64Counter
	strategyRejections  otelmetric.Int64Counter
)

func initPipelineMetrics() {
	meter := otel.Meter("growloop/pipeline")
	var err error
	cyclesStarted, err = meter.Int64Counter(
		"creation_cycles_started_total",
		otelmetric.WithDescription("Creation cycle runs started"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: cycles counter: %v", err)
	}
	cyclesSuspended, err = meter.Int64Counter(
		"creation_cycles_suspended_total",
		otelmetric.WithDescription("Creation cycles suspended for approval"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: suspended counter: %v", err)
	}
	postsPublished, err = meter.Int64Counter(
		"posts_published_total",
		otelmetric.WithDescription("Posts successfully published"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: published counter: %v", err)
	}
	decisionsHandled, err = meter.Int64Counter(
		"approval_decisions_total",
		otelmetric.WithDescription("Approval decisions applied to suspended cycles"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: decisions counter: %v", err)
	}
	metricsCollected, err = meter.Int64Counter(
		"post_metrics_collected_total",
		otelmetric.WithDescription("Post metrics measurements persisted"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: collected counter: %v", err)
	}
	strategyRejections, err = meter.Int64Counter(
		"strategy_proposals_rejected_total",
		otelmetric.WithDescription("Strategy proposals discarded by validation"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: rejections counter: %v", err)
	}
}

func pipelineMetrics() {
	pipelineMetricsOnce.Do(initPipelineMetrics)
}

func addCounter(ctx context.Context, c otelmetric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}
