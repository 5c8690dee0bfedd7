package research

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/growloop/models"
)

// Index remembers which posts research has already surfaced so repeated
// cycles do not feed the same viral content back into pattern extraction.
type Index struct {
	bleve bleve.Index
}

type indexedPost struct {
	Platform  string    `json:"platform"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	FirstSeen time.Time `json:"first_seen"`
}

// OpenIndex opens (or creates) the dedup index at path. An empty path
// yields an in-memory index that lasts for the process lifetime.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Index{bleve: idx}, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, err
		}
		return &Index{bleve: idx}, nil
	}
	idx, err := bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx}, nil
}

// Seen reports whether the post was surfaced by an earlier cycle.
func (i *Index) Seen(p models.ViralPost) (bool, error) {
	doc, err := i.bleve.Document(docID(p))
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// Remember records the post so future cycles skip it.
func (i *Index) Remember(p models.ViralPost) error {
	return i.bleve.Index(docID(p), indexedPost{
		Platform:  p.Platform,
		URL:       p.URL,
		Content:   p.Content,
		FirstSeen: time.Now().UTC(),
	})
}

// Count returns how many posts the index has seen.
func (i *Index) Count() (uint64, error) { return i.bleve.DocCount() }

// Close releases the underlying index.
func (i *Index) Close() error { return i.bleve.Close() }

// docID keys a post by URL when it has one, otherwise by a digest of its
// platform and text. Scraped posts often lack stable URLs.
func docID(p models.ViralPost) string {
	if u := strings.TrimSpace(p.URL); u != "" {
		return u
	}
	sum := sha1.Sum([]byte(p.Platform + "\x00" + p.Content))
	return hex.EncodeToString(sum[:])
}
