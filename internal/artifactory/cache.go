package artifactory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// responseCache keeps the last body and ETag seen per URL on disk so that
// GETs can be revalidated with If-None-Match. It never affects what a GET
// returns, only whether the body crosses the network.
type responseCache struct {
	mu  sync.Mutex
	dir string
}

func newResponseCache(dir string) (*responseCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &responseCache{dir: dir}, nil
}

func (c *responseCache) paths(url string) (body, etag string) {
	h := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(h[:])
	return filepath.Join(c.dir, name+".body"), filepath.Join(c.dir, name+".etag")
}

// etag returns the stored validator for url, if both it and the body exist.
func (c *responseCache) etag(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bodyPath, etagPath := c.paths(url)
	tag, err := os.ReadFile(etagPath)
	if err != nil || len(tag) == 0 {
		return "", false
	}
	if _, err := os.Stat(bodyPath); err != nil {
		return "", false
	}
	return string(tag), true
}

func (c *responseCache) body(url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bodyPath, _ := c.paths(url)
	return os.ReadFile(bodyPath)
}

func (c *responseCache) put(url, etag string, body []byte) error {
	if etag == "" {
		return c.drop(url)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	bodyPath, etagPath := c.paths(url)
	if err := os.WriteFile(bodyPath, body, 0o644); err != nil {
		return err
	}
	return os.WriteFile(etagPath, []byte(etag), 0o644)
}

func (c *responseCache) drop(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bodyPath, etagPath := c.paths(url)
	for _, p := range []string{etagPath, bodyPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
