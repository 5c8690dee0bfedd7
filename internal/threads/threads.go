// Package threads is the platform client: publishing, post insights, and
// the account follower count via the Threads Graph API.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/models"
)

// Client talks to the Threads Graph API for one account.
type Client struct {
	baseURL     string
	accessToken string
	userID      string
	http        *http.Client
	logger      *log.Logger
}

// NewClient builds a Graph API client from config.
func NewClient(cfg config.ThreadsConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://graph.threads.net/v1.0"
	}
	return &Client{
		baseURL:     base,
		accessToken: cfg.AccessToken,
		userID:      cfg.UserID,
		http:        &http.Client{Timeout: timeout},
		logger:      log.New(os.Stdout, "[THREADS] ", log.LstdFlags),
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish posts text to the account. The Graph API is two-step: create a
// media container, then publish it.
func (c *Client) Publish(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("refusing to publish empty content")
	}

	container, err := c.post(ctx, fmt.Sprintf("/%s/threads", c.userID), url.Values{
		"media_type": {"TEXT"},
		"text":       {content},
	})
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	published, err := c.post(ctx, fmt.Sprintf("/%s/threads_publish", c.userID), url.Values{
		"creation_id": {container},
	})
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", container, err)
	}
	c.logger.Printf("published post %s", published)
	return published, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// FetchMetrics reads the engagement insights for one published post.
func (c *Client) FetchMetrics(ctx context.Context, platformID string) (models.PostMetrics, error) {
	var out insightsResponse
	err := c.get(ctx, fmt.Sprintf("/%s/insights", platformID), url.Values{
		"metric": {"views,likes,replies,reposts,quotes"},
	}, &out)
	if err != nil {
		return models.PostMetrics{}, fmt.Errorf("insights for %s: %w", platformID, err)
	}

	m := models.PostMetrics{PlatformID: platformID}
	for _, d := range out.Data {
		var v int
		if len(d.Values) > 0 {
			v = d.Values[0].Value
		}
		switch d.Name {
		case "views":
			m.Views = v
		case "likes":
			m.Likes = v
		case "replies":
			m.Replies = v
		case "reposts":
			m.Reposts = v
		case "quotes":
			m.Quotes = v
		}
	}
	return m, nil
}

// FollowerCount reads the account's current follower total.
func (c *Client) FollowerCount(ctx context.Context) (int, error) {
	var out insightsResponse
	err := c.get(ctx, fmt.Sprintf("/%s/threads_insights", c.userID), url.Values{
		"metric": {"followers_count"},
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("followers_count: %w", err)
	}
	for _, d := range out.Data {
		if d.Name == "followers_count" && len(d.Values) > 0 {
			return d.Values[0].Value, nil
		}
	}
	return 0, fmt.Errorf("followers_count missing from insights response")
}

func (c *Client) post(ctx context.Context, path string, params url.Values) (string, error) {
	params.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	var out idResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("response carried no id")
	}
	return out.ID, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	params.Set("access_token", c.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var ae apiError
	if err := json.NewDecoder(resp.Body).Decode(&ae); err == nil && ae.Error.Message != "" {
		return fmt.Errorf("threads api %d: %s (code %d)", resp.StatusCode, ae.Error.Message, ae.Error.Code)
	}
	return fmt.Errorf("threads api status %d", resp.StatusCode)
}
