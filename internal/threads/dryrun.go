package threads

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"github.com/mohammad-safakhou/growloop/models"
)

// DryRun is an in-process stand-in for the real client. It publishes
// nothing and fabricates plausible metrics, so the whole loop can run
// before the account has Graph API access.
type DryRun struct {
	mu        sync.Mutex
	seq       int
	published map[string]string // platform id -> content
	followers int
	logger    *log.Logger
}

func NewDryRun(startFollowers int) *DryRun {
	return &DryRun{
		published: map[string]string{},
		followers: startFollowers,
		logger:    log.New(os.Stdout, "[THREADS] ", log.LstdFlags),
	}
}

func (d *DryRun) Publish(ctx context.Context, content string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := fmt.Sprintf("dry_%d", d.seq)
	d.published[id] = content
	d.logger.Printf("dry-run publish %s: %.60q", id, content)
	return id, nil
}

func (d *DryRun) FetchMetrics(ctx context.Context, platformID string) (models.PostMetrics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.published[platformID]; !ok {
		return models.PostMetrics{}, fmt.Errorf("unknown dry-run post %s", platformID)
	}
	views := 500 + rand.Intn(2000)
	likes := views / (15 + rand.Intn(20))
	return models.PostMetrics{
		PlatformID: platformID,
		Views:      views,
		Likes:      likes,
		Replies:    likes / 4,
		Reposts:    likes / 6,
	}, nil
}

func (d *DryRun) FollowerCount(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Drift upward slowly so goal checks eventually flip in long dry runs.
	d.followers += rand.Intn(3)
	return d.followers, nil
}
