package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/models"
)

// ThreadsWeb scrapes Threads tag pages with a headless browser. Threads has
// no public read API for tag feeds, so this is the only way to see what is
// trending on the platform itself.
type ThreadsWeb struct {
	cfg config.ThreadsWebConfig
}

// postSelectorJS pulls the visible text of each post container on a tag
// page. The selector tracks Threads' current markup and will need care
// when they change it.
const postSelectorJS = `Array.from(document.querySelectorAll('div[data-pressable-container="true"]'))
	.map(el => el.innerText)
	.filter(t => t && t.length > 40)`

func NewThreadsWeb(cfg config.ThreadsWebConfig) *ThreadsWeb {
	return &ThreadsWeb{cfg: cfg}
}

func (t *ThreadsWeb) Name() string { return "threads_web" }

func (t *ThreadsWeb) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	tags := t.cfg.Tags
	if len(tags) == 0 {
		tags = niche.HashtagsPrimary
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("no tags configured and niche has no primary hashtags")
	}

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	maxResults := t.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	var posts []models.ViralPost
	for _, tag := range tags {
		if len(posts) >= maxResults {
			break
		}
		texts, err := t.scrapeTag(bctx, tag)
		if err != nil {
			// Later tags may still work; a browser-level failure will
			// repeat and surface through the empty result below.
			continue
		}
		for _, text := range texts {
			if len(posts) >= maxResults {
				break
			}
			posts = append(posts, models.ViralPost{
				Platform:     "threads",
				Content:      strings.TrimSpace(text),
				DiscoveredAt: time.Now().UTC(),
				TopicTags:    []string{tag},
			})
		}
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("no posts scraped from %d tags", len(tags))
	}
	return posts, nil
}

func (t *ThreadsWeb) scrapeTag(ctx context.Context, tag string) ([]string, error) {
	url := "https://www.threads.net/search?q=" + tag + "&serp_type=tags"
	var texts []string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second), // feed hydrates after load
		chromedp.Evaluate(postSelectorJS, &texts),
	)
	return texts, err
}
