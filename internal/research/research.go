// Package research discovers trending content in the account's niche. It
// fans in from several backends (Hacker News, Reddit, a headless Threads
// scraper), deduplicates against previously seen posts, and returns the
// highest-engagement finds for pattern extraction.
package research

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/models"
)

// Source is one research backend.
type Source interface {
	Name() string
	Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error)
}

// Aggregator queries every enabled source concurrently and merges the
// results. A failing source is logged and skipped; the aggregate only
// errors when no source produced anything.
type Aggregator struct {
	sources  []Source
	index    *Index
	enricher *articleEnricher
	maxPosts int
	logger   *log.Logger
}

// NewAggregator builds the research layer from config. The dedup index is
// persisted at cfg.IndexPath, or held in memory when the path is empty.
func NewAggregator(cfg config.ResearchConfig) (*Aggregator, error) {
	idx, err := OpenIndex(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("research index: %w", err)
	}
	a := &Aggregator{
		index:    idx,
		maxPosts: cfg.MaxPosts,
		logger:   log.New(os.Stdout, "[RESEARCH] ", log.LstdFlags),
	}
	if cfg.HackerNews.Enabled {
		a.sources = append(a.sources, NewHackerNews(cfg.HackerNews))
	}
	if cfg.Reddit.Enabled {
		a.sources = append(a.sources, NewReddit(cfg.Reddit))
	}
	if cfg.ThreadsWeb.Enabled {
		a.sources = append(a.sources, NewThreadsWeb(cfg.ThreadsWeb))
	}
	if cfg.FetchArticles {
		a.enricher = newArticleEnricher()
	}
	return a, nil
}

// AddSource registers an extra backend. Used by tests and custom builds.
func (a *Aggregator) AddSource(s Source) { a.sources = append(a.sources, s) }

// Fetch gathers viral posts from all sources for one creation cycle.
func (a *Aggregator) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("no research sources enabled")
	}

	var (
		mu     sync.Mutex
		posts  []models.ViralPost
		wg     sync.WaitGroup
		errs   int
		active = len(a.sources)
	)
	for _, src := range a.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			found, err := src.Fetch(ctx, niche)
			if err != nil {
				a.logger.Printf("source %s failed: %v", src.Name(), err)
				mu.Lock()
				errs++
				mu.Unlock()
				return
			}
			a.logger.Printf("source %s: %d posts", src.Name(), len(found))
			mu.Lock()
			posts = append(posts, found...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	if errs == active {
		return nil, fmt.Errorf("all %d research sources failed", active)
	}

	posts = a.dedup(ctx, posts)
	if a.enricher != nil {
		a.enricher.enrich(ctx, posts)
	}
	for i := range posts {
		if posts[i].EngagementRate == 0 && posts[i].Views > 0 {
			posts[i].EngagementRate = float64(posts[i].TotalEngagement()) / float64(posts[i].Views)
		}
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].TotalEngagement() > posts[j].TotalEngagement()
	})
	if a.maxPosts > 0 && len(posts) > a.maxPosts {
		posts = posts[:a.maxPosts]
	}
	return posts, nil
}

// dedup drops posts already seen in previous cycles and remembers the rest.
func (a *Aggregator) dedup(ctx context.Context, posts []models.ViralPost) []models.ViralPost {
	out := posts[:0]
	for _, p := range posts {
		seen, err := a.index.Seen(p)
		if err != nil {
			a.logger.Printf("dedup check failed for %s: %v", p.URL, err)
			out = append(out, p)
			continue
		}
		if seen {
			continue
		}
		if err := a.index.Remember(p); err != nil {
			a.logger.Printf("dedup remember failed for %s: %v", p.URL, err)
		}
		out = append(out, p)
	}
	return out
}

// Close releases the dedup index.
func (a *Aggregator) Close() error { return a.index.Close() }
