package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Namespaces of the knowledge store. Both pipelines communicate exclusively
// through these; there are no direct pipeline-to-pipeline calls.
const (
	NSConfig             = "config"             // AccountNiche, read-only to the core
	NSStrategy           = "strategy"           // ContentStrategy, written by learning only
	NSPatterns           = "patterns"           // per-cycle extracted ContentPatterns
	NSPatternPerformance = "pattern_performance" // keyed by pattern name
	NSPublishedPosts     = "published_posts"    // append-only by creation
	NSPendingMetrics     = "pending_metrics"    // insert by creation, delete by learning
	NSMetricsHistory     = "metrics_history"    // append-only by learning
)

// ErrSuspensionResolved indicates a decision arrived for a cycle whose
// suspension was already resolved.
var ErrSuspensionResolved = errors.New("suspension already resolved")

// ErrSuspensionNotFound indicates a decision arrived for an unknown cycle id.
var ErrSuspensionNotFound = errors.New("suspension not found")

// Record is a single namespaced entry.
type Record struct {
	Namespace string
	Key       string
	Value     json.RawMessage
	UpdatedAt time.Time
}

// KV is the narrow persistence contract the core depends on. The core must
// not assume any specific backing engine; Postgres and an in-memory map both
// satisfy it.
type KV interface {
	Get(ctx context.Context, account, namespace, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, account, namespace, key string, value json.RawMessage) error
	Delete(ctx context.Context, account, namespace, key string) error
	// List returns up to limit records of a namespace, newest first.
	// limit <= 0 means no limit.
	List(ctx context.Context, account, namespace string, limit int) ([]Record, error)
	// PutPair writes two records atomically. Used for the publish step, which
	// must never leave a PublishedPost without its PendingMetricsEntry.
	PutPair(ctx context.Context, account string, a, b Record) error
}

// Suspension is the persisted continuation record for a cycle paused at the
// approval gate. Payload carries everything needed to resume without
// re-reading mutable store state.
type Suspension struct {
	CycleID    string
	AccountID  string
	Status     string // pending | resolved
	Payload    json.RawMessage
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Suspension statuses.
const (
	SuspensionStatusPending  = "pending"
	SuspensionStatusResolved = "resolved"
)

// SuspensionStore persists approval-gate continuations across restarts.
type SuspensionStore interface {
	SaveSuspension(ctx context.Context, s Suspension) error
	GetSuspension(ctx context.Context, cycleID string) (Suspension, bool, error)
	ListPendingSuspensions(ctx context.Context, account string) ([]Suspension, error)
	// ResolveSuspension marks a pending suspension resolved. It returns
	// ErrSuspensionNotFound for unknown cycle ids and ErrSuspensionResolved
	// when the cycle was already decided, so a stale approval never
	// double-publishes.
	ResolveSuspension(ctx context.Context, cycleID string) error
}
