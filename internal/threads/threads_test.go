package threads

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/growloop/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ThreadsConfig{
		AccessToken: "tok",
		UserID:      "42",
		BaseURL:     srv.URL,
	})
}

func TestPublishRunsContainerThenPublish(t *testing.T) {
	var steps []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("access_token") != "tok" {
			t.Errorf("missing access token")
		}
		switch r.URL.Path {
		case "/42/threads":
			if r.Form.Get("media_type") != "TEXT" || r.Form.Get("text") == "" {
				t.Errorf("container request malformed: %v", r.Form)
			}
			steps = append(steps, "container")
			fmt.Fprint(w, `{"id":"ctr_1"}`)
		case "/42/threads_publish":
			if r.Form.Get("creation_id") != "ctr_1" {
				t.Errorf("publish must reference the container id, got %q", r.Form.Get("creation_id"))
			}
			steps = append(steps, "publish")
			fmt.Fprint(w, `{"id":"th_99"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	id, err := c.Publish(context.Background(), "hello threads")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "th_99" {
		t.Fatalf("want th_99, got %s", id)
	}
	if len(steps) != 2 || steps[0] != "container" || steps[1] != "publish" {
		t.Fatalf("publish must be two-step: %v", steps)
	}
}

func TestPublishRejectsEmptyContent(t *testing.T) {
	c := NewClient(config.ThreadsConfig{AccessToken: "tok", UserID: "42"})
	if _, err := c.Publish(context.Background(), "   "); err == nil {
		t.Fatalf("empty content must be rejected before any request")
	}
}

func TestPublishSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"token expired","type":"OAuthException","code":190}}`)
	}))
	_, err := c.Publish(context.Background(), "hi")
	if err == nil {
		t.Fatalf("API error must surface")
	}
	if got := err.Error(); !strings.Contains(got, "token expired") {
		t.Fatalf("error must carry the API message: %v", err)
	}
}

func TestFetchMetricsMapsInsights(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/th_7/insights" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[
			{"name":"views","values":[{"value":1500}]},
			{"name":"likes","values":[{"value":60}]},
			{"name":"replies","values":[{"value":9}]},
			{"name":"reposts","values":[{"value":4}]},
			{"name":"quotes","values":[{"value":2}]}
		]}`)
	}))

	m, err := c.FetchMetrics(context.Background(), "th_7")
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if m.Views != 1500 || m.Likes != 60 || m.Replies != 9 || m.Reposts != 4 || m.Quotes != 2 {
		t.Fatalf("unexpected mapping: %+v", m)
	}
	if got, want := m.ComputeEngagementRate(), 0.05; got != want {
		t.Fatalf("engagement rate: want %v, got %v", want, got)
	}
}

func TestFollowerCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/42/threads_insights" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[{"name":"followers_count","values":[{"value":431}]}]}`)
	}))
	n, err := c.FollowerCount(context.Background())
	if err != nil || n != 431 {
		t.Fatalf("FollowerCount: %v (%d)", err, n)
	}
}

func TestDryRunRoundTrip(t *testing.T) {
	d := NewDryRun(40)
	id, err := d.Publish(context.Background(), "draft")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	m, err := d.FetchMetrics(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchMetrics: %v", err)
	}
	if m.Views == 0 {
		t.Fatalf("dry-run metrics must fabricate views")
	}
	if _, err := d.FetchMetrics(context.Background(), "missing"); err == nil {
		t.Fatalf("unknown post must error")
	}
	if n, err := d.FollowerCount(context.Background()); err != nil || n < 40 {
		t.Fatalf("FollowerCount: %v (%d)", err, n)
	}
}
