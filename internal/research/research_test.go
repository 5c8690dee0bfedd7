package research

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/models"
)

type staticSource struct {
	name  string
	posts []models.ViralPost
	err   error
}

func (s staticSource) Name() string { return s.name }
func (s staticSource) Fetch(ctx context.Context, niche models.AccountNiche) ([]models.ViralPost, error) {
	return s.posts, s.err
}

func newTestAggregator(t *testing.T, sources ...Source) *Aggregator {
	t.Helper()
	a, err := NewAggregator(config.ResearchConfig{MaxPosts: 10})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	for _, s := range sources {
		a.AddSource(s)
	}
	return a
}

func TestAggregatorMergesAndSortsByEngagement(t *testing.T) {
	a := newTestAggregator(t,
		staticSource{name: "one", posts: []models.ViralPost{
			{Platform: "reddit", URL: "u1", Content: "low", Likes: 10},
			{Platform: "reddit", URL: "u2", Content: "high", Likes: 900, Replies: 50},
		}},
		staticSource{name: "two", posts: []models.ViralPost{
			{Platform: "hackernews", URL: "u3", Content: "mid", Likes: 120},
		}},
	)

	posts, err := a.Fetch(context.Background(), models.AccountNiche{Niche: "indie hacking"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	if posts[0].Content != "high" || posts[2].Content != "low" {
		t.Fatalf("posts must be sorted by engagement: %+v", posts)
	}
}

func TestAggregatorToleratesOneFailedSource(t *testing.T) {
	a := newTestAggregator(t,
		staticSource{name: "broken", err: fmt.Errorf("boom")},
		staticSource{name: "ok", posts: []models.ViralPost{{URL: "u1", Content: "x", Likes: 5}}},
	)
	posts, err := a.Fetch(context.Background(), models.AccountNiche{})
	if err != nil || len(posts) != 1 {
		t.Fatalf("one healthy source must carry the fetch: %v (%d)", err, len(posts))
	}
}

func TestAggregatorFailsWhenAllSourcesFail(t *testing.T) {
	a := newTestAggregator(t, staticSource{name: "broken", err: fmt.Errorf("boom")})
	if _, err := a.Fetch(context.Background(), models.AccountNiche{}); err == nil {
		t.Fatalf("all sources failing must error")
	}
}

func TestAggregatorDropsPostsSeenInEarlierCycles(t *testing.T) {
	src := staticSource{name: "ok", posts: []models.ViralPost{{URL: "u1", Content: "x", Likes: 5}}}
	a := newTestAggregator(t, src)

	first, err := a.Fetch(context.Background(), models.AccountNiche{})
	if err != nil || len(first) != 1 {
		t.Fatalf("first fetch: %v (%d)", err, len(first))
	}
	second, err := a.Fetch(context.Background(), models.AccountNiche{})
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("repeat post must be deduplicated, got %d", len(second))
	}
}

func TestIndexKeysByURLOrContent(t *testing.T) {
	idx, err := OpenIndex("")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	withURL := models.ViralPost{Platform: "reddit", URL: "https://example.com/a", Content: "a"}
	noURL := models.ViralPost{Platform: "threads", Content: "scraped text"}

	for _, p := range []models.ViralPost{withURL, noURL} {
		seen, err := idx.Seen(p)
		if err != nil || seen {
			t.Fatalf("fresh post must be unseen: %v %v", seen, err)
		}
		if err := idx.Remember(p); err != nil {
			t.Fatalf("Remember: %v", err)
		}
		seen, err = idx.Seen(p)
		if err != nil || !seen {
			t.Fatalf("remembered post must be seen: %v %v", seen, err)
		}
	}
	if n, _ := idx.Count(); n != 2 {
		t.Fatalf("expected 2 indexed posts, got %d", n)
	}
}

func TestHackerNewsFetchFiltersByScore(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/topstories.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[1,2,3]`)
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/item/1.json":
			fmt.Fprint(w, `{"id":1,"type":"story","by":"pg","title":"Big launch","url":"https://example.com","score":250,"descendants":80}`)
		case "/item/2.json":
			fmt.Fprint(w, `{"id":2,"type":"story","by":"tlb","title":"Small post","score":12}`)
		default:
			fmt.Fprint(w, `{"id":3,"type":"comment","by":"x","score":999}`)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	hn := NewHackerNews(config.HackerNewsConfig{Enabled: true, MinScore: 50, MaxResults: 10})
	hn.baseURL = srv.URL

	posts, err := hn.Fetch(context.Background(), models.AccountNiche{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("score and type filters must leave one story, got %d", len(posts))
	}
	if posts[0].Likes != 250 || posts[0].Replies != 80 || posts[0].Platform != "hackernews" {
		t.Fatalf("unexpected mapping: %+v", posts[0])
	}
}

func TestRedditFetchMapsListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Errorf("request must carry a user agent")
		}
		fmt.Fprint(w, `{"data":{"children":[
			{"data":{"title":"Shipped my SaaS","selftext":"story here","author":"dev1","permalink":"/r/indiehackers/1","ups":420,"num_comments":37}},
			{"data":{"title":"Pinned rules","author":"mod","permalink":"/r/indiehackers/0","ups":1,"stickied":true}}
		]}}`)
	}))
	defer srv.Close()

	rd := NewReddit(config.RedditConfig{Enabled: true, Subreddits: []string{"indiehackers"}, MaxResults: 5})
	rd.baseURL = srv.URL

	posts, err := rd.Fetch(context.Background(), models.AccountNiche{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("stickied posts must be skipped, got %d", len(posts))
	}
	p := posts[0]
	if p.Likes != 420 || p.Replies != 37 || p.Author != "dev1" {
		t.Fatalf("unexpected mapping: %+v", p)
	}
	if p.Content != "Shipped my SaaS\n\nstory here" {
		t.Fatalf("selftext must be appended: %q", p.Content)
	}
	if len(p.TopicTags) != 1 || p.TopicTags[0] != "indiehackers" {
		t.Fatalf("subreddit must be tagged: %+v", p.TopicTags)
	}
}

func TestRedditFetchSurfacesErrorWhenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rd := NewReddit(config.RedditConfig{Enabled: true, Subreddits: []string{"indiehackers"}})
	rd.baseURL = srv.URL
	rd.client = &http.Client{Timeout: time.Second}

	if _, err := rd.Fetch(context.Background(), models.AccountNiche{}); err == nil {
		t.Fatalf("throttled listing must surface an error")
	}
}
