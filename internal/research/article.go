package research

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/growloop/models"
)

const articleMaxChars = 4000

// articleEnricher pulls the readable body of linked articles so pattern
// extraction sees more than a headline. Hacker News posts are usually just
// a title plus a link.
type articleEnricher struct {
	client *http.Client
}

func newArticleEnricher() *articleEnricher {
	return &articleEnricher{client: &http.Client{Timeout: 20 * time.Second}}
}

// enrich mutates posts in place, appending extracted article text where a
// post links out and its own content is thin. Failures leave the post as-is.
func (e *articleEnricher) enrich(ctx context.Context, posts []models.ViralPost) {
	for i := range posts {
		p := &posts[i]
		if p.URL == "" || len(p.Content) > 500 {
			continue
		}
		text, err := e.extract(ctx, p.URL)
		if err != nil || text == "" {
			continue
		}
		p.Content = p.Content + "\n\n" + text
	}
}

func (e *articleEnricher) extract(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > articleMaxChars {
		text = text[:articleMaxChars]
	}
	return text, nil
}
