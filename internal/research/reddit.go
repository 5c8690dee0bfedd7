package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/models"
)

const redditBaseURL = "https://www.reddit.com"

// Reddit pulls the daily top posts from the configured subreddits using
// the public JSON listing endpoints.
type Reddit struct {
	cfg     config.RedditConfig
	baseURL string
	client  *http.Client
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				Author      string  `json:"author"`
				Permalink   string  `json:"permalink"`
				Ups         int     `json:"ups"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
				Stickied    bool    `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func NewReddit(cfg config.RedditConfig) *Reddit {
	return &Reddit{
		cfg:     cfg,
		baseURL: redditBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	if len(r.cfg.Subreddits) == 0 {
		return nil, fmt.Errorf("no subreddits configured")
	}
	maxResults := r.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 15
	}
	perSub := maxResults / len(r.cfg.Subreddits)
	if perSub < 1 {
		perSub = 1
	}

	var posts []models.ViralPost
	var lastErr error
	for _, sub := range r.cfg.Subreddits {
		found, err := r.fetchSubreddit(ctx, sub, perSub)
		if err != nil {
			lastErr = fmt.Errorf("r/%s: %w", sub, err)
			continue
		}
		posts = append(posts, found...)
	}
	if len(posts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return posts, nil
}

func (r *Reddit) fetchSubreddit(ctx context.Context, sub string, limit int) ([]models.ViralPost, error) {
	url := fmt.Sprintf("%s/r/%s/top.json?t=day&limit=%d", r.baseURL, sub, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Reddit throttles the default Go user agent hard.
	ua := r.cfg.UserAgent
	if ua == "" {
		ua = "growloop/1.0 (content research)"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, err
	}

	posts := make([]models.ViralPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		d := child.Data
		if d.Stickied {
			continue
		}
		content := d.Title
		if d.Selftext != "" {
			content += "\n\n" + d.Selftext
		}
		posts = append(posts, models.ViralPost{
			Platform:     "reddit",
			Author:       d.Author,
			Content:      content,
			URL:          redditBaseURL + d.Permalink,
			Likes:        d.Ups,
			Replies:      d.NumComments,
			DiscoveredAt: time.Now().UTC(),
			TopicTags:    []string{sub},
		})
	}
	return posts, nil
}
