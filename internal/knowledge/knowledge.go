// Package knowledge wraps the namespaced KV store with typed read/write
// operations. It is the only way pipelines touch persisted state.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/models"
)

// Base is a per-account view over the knowledge store.
type Base struct {
	kv      store.KV
	account string
}

// NewBase constructs a knowledge base scoped to one account.
func NewBase(kv store.KV, account string) *Base {
	return &Base{kv: kv, account: account}
}

// Account returns the account id this base is scoped to.
func (b *Base) Account() string { return b.account }

// NicheConfig loads the operator-authored account config. The bool reports
// whether the account has been initialised.
func (b *Base) NicheConfig(ctx context.Context) (models.AccountNiche, bool, error) {
	raw, ok, err := b.kv.Get(ctx, b.account, store.NSConfig, "niche")
	if err != nil || !ok {
		return models.AccountNiche{}, false, err
	}
	var niche models.AccountNiche
	if err := json.Unmarshal(raw, &niche); err != nil {
		return models.AccountNiche{}, false, fmt.Errorf("decode niche config: %w", err)
	}
	return niche, true, nil
}

// SaveNicheConfig persists the account config (used by init-account only).
func (b *Base) SaveNicheConfig(ctx context.Context, niche models.AccountNiche) error {
	raw, err := json.Marshal(niche)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.account, store.NSConfig, "niche", raw)
}

// Strategy returns the current content strategy, falling back to defaults
// before the first learning cycle has run.
func (b *Base) Strategy(ctx context.Context) (models.ContentStrategy, error) {
	raw, ok, err := b.kv.Get(ctx, b.account, store.NSStrategy, "current")
	if err != nil {
		return models.ContentStrategy{}, err
	}
	if !ok {
		return models.DefaultStrategy(), nil
	}
	var s models.ContentStrategy
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.ContentStrategy{}, fmt.Errorf("decode strategy: %w", err)
	}
	return s, nil
}

// SaveStrategy replaces the single strategy row atomically, stamping
// LastUpdated.
func (b *Base) SaveStrategy(ctx context.Context, s models.ContentStrategy) error {
	now := time.Now().UTC()
	s.LastUpdated = &now
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.account, store.NSStrategy, "current", raw)
}

// PatternPerformance returns the cumulative record for a pattern. Unseen
// patterns get a zero record with the exploration flag set.
func (b *Base) PatternPerformance(ctx context.Context, name string) (models.PatternPerformance, error) {
	raw, ok, err := b.kv.Get(ctx, b.account, store.NSPatternPerformance, name)
	if err != nil {
		return models.PatternPerformance{}, err
	}
	if !ok {
		return models.PatternPerformance{PatternName: name, Exploring: true}, nil
	}
	var perf models.PatternPerformance
	if err := json.Unmarshal(raw, &perf); err != nil {
		return models.PatternPerformance{}, fmt.Errorf("decode pattern performance %q: %w", name, err)
	}
	return perf, nil
}

// AllPatternPerformance lists every recorded pattern performance.
func (b *Base) AllPatternPerformance(ctx context.Context) ([]models.PatternPerformance, error) {
	recs, err := b.kv.List(ctx, b.account, store.NSPatternPerformance, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.PatternPerformance, 0, len(recs))
	for _, rec := range recs {
		var perf models.PatternPerformance
		if err := json.Unmarshal(rec.Value, &perf); err != nil {
			return nil, fmt.Errorf("decode pattern performance %q: %w", rec.Key, err)
		}
		out = append(out, perf)
	}
	return out, nil
}

// SavePatternPerformance upserts one pattern record, keyed by pattern name.
func (b *Base) SavePatternPerformance(ctx context.Context, perf models.PatternPerformance) error {
	if perf.PatternName == "" {
		return fmt.Errorf("pattern name required")
	}
	raw, err := json.Marshal(perf)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.account, store.NSPatternPerformance, perf.PatternName, raw)
}

// RecentPosts returns up to limit published posts, newest first.
func (b *Base) RecentPosts(ctx context.Context, limit int) ([]models.PublishedPost, error) {
	recs, err := b.kv.List(ctx, b.account, store.NSPublishedPosts, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PublishedPost, 0, len(recs))
	for _, rec := range recs {
		var p models.PublishedPost
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return nil, fmt.Errorf("decode published post %q: %w", rec.Key, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// RecordPublish writes the published post and its pending-metrics entry as an
// atomic pair, so a crash between the two cannot orphan the post.
func (b *Base) RecordPublish(ctx context.Context, post models.PublishedPost, entry models.PendingMetricsEntry) error {
	postRaw, err := json.Marshal(post)
	if err != nil {
		return err
	}
	entryRaw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.kv.PutPair(ctx, b.account,
		store.Record{Namespace: store.NSPublishedPosts, Key: post.ID, Value: postRaw},
		store.Record{Namespace: store.NSPendingMetrics, Key: post.ID, Value: entryRaw},
	)
}

// PendingMetrics lists every queued measurement obligation.
func (b *Base) PendingMetrics(ctx context.Context) ([]models.PendingMetricsEntry, error) {
	recs, err := b.kv.List(ctx, b.account, store.NSPendingMetrics, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingMetricsEntry, 0, len(recs))
	for _, rec := range recs {
		var e models.PendingMetricsEntry
		if err := json.Unmarshal(rec.Value, &e); err != nil {
			return nil, fmt.Errorf("decode pending metrics %q: %w", rec.Key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// RemovePendingMetrics deletes a consumed entry. Called only after the
// measurement was persisted, so a failed fetch leaves the entry for retry.
func (b *Base) RemovePendingMetrics(ctx context.Context, postID string) error {
	return b.kv.Delete(ctx, b.account, store.NSPendingMetrics, postID)
}

// SaveMetrics stores the canonical measurement for a post. Keyed by platform
// id: re-measurement overwrites rather than duplicating.
func (b *Base) SaveMetrics(ctx context.Context, m models.PostMetrics) error {
	if m.PlatformID == "" {
		return fmt.Errorf("platform id required")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.account, store.NSMetricsHistory, m.PlatformID, raw)
}

// MetricsHistory returns up to limit measurements, newest first.
func (b *Base) MetricsHistory(ctx context.Context, limit int) ([]models.PostMetrics, error) {
	recs, err := b.kv.List(ctx, b.account, store.NSMetricsHistory, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PostMetrics, 0, len(recs))
	for _, rec := range recs {
		var m models.PostMetrics
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return nil, fmt.Errorf("decode metrics %q: %w", rec.Key, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SaveCyclePatterns records the patterns extracted in a cycle, keyed by cycle
// id, so ranked posts always reference a pattern visible in the store.
func (b *Base) SaveCyclePatterns(ctx context.Context, cycleID string, patterns []models.ContentPattern) error {
	raw, err := json.Marshal(patterns)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.account, store.NSPatterns, cycleID, raw)
}

// RecentPostEmbeddings returns the stored embeddings of the last limit
// published posts, skipping posts published before embedding was enabled.
func (b *Base) RecentPostEmbeddings(ctx context.Context, limit int) ([][]float32, error) {
	posts, err := b.RecentPosts(ctx, limit)
	if err != nil {
		return nil, err
	}
	var out [][]float32
	for _, p := range posts {
		if len(p.Embedding) > 0 {
			out = append(out, p.Embedding)
		}
	}
	return out, nil
}
