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

const hackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews pulls current top stories from the Firebase API and keeps the
// ones above the configured score floor.
type HackerNews struct {
	cfg     config.HackerNewsConfig
	baseURL string
	client  *http.Client
}

type hnItem struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Time        int64  `json:"time"`
}

func NewHackerNews(cfg config.HackerNewsConfig) *HackerNews {
	return &HackerNews{
		cfg:     cfg,
		baseURL: hackerNewsBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HackerNews) Name() string { return "hackernews" }

func (h *HackerNews) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	var ids []int
	if err := h.getJSON(ctx, h.baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}

	maxResults := h.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 15
	}

	posts := make([]models.ViralPost, 0, maxResults)
	for _, id := range ids {
		if len(posts) >= maxResults {
			break
		}
		var item hnItem
		if err := h.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), &item); err != nil {
			// A single dead item should not sink the whole fetch.
			continue
		}
		if item.Type != "story" || item.Score < h.cfg.MinScore {
			continue
		}
		content := item.Title
		if item.Text != "" {
			content += "\n\n" + item.Text
		}
		posts = append(posts, models.ViralPost{
			Platform:     "hackernews",
			Author:       item.By,
			Content:      content,
			URL:          item.URL,
			Likes:        item.Score,
			Replies:      item.Descendants,
			DiscoveredAt: time.Now().UTC(),
		})
	}
	return posts, nil
}

func (h *HackerNews) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
