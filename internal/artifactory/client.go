// Package artifactory is the Artifactory transport for the object-storage
// backend. Blobs are plain files in a generic repository; enumeration uses
// the AQL search API.
package artifactory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/yourorg/scancache/internal/objectstore"
)

// AuthHeader carries the API token on every request.
const AuthHeader = "X-JFrog-Art-Api"

const (
	defaultAttempts = 3
	defaultDelay    = 200 * time.Millisecond
)

type Options struct {
	URL        string
	Repository string
	APIToken   string
	// CacheDir enables the revalidating response cache when set.
	CacheDir   string
	HTTPClient *http.Client
	Logger     *log.Logger
}

type Client struct {
	base       string
	repository string
	token      string
	http       *http.Client
	cache      *responseCache
	log        *log.Logger

	attempts   int
	retryDelay time.Duration
}

func New(opts Options) (*Client, error) {
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("artifactory url: %w", err)
	}
	c := &Client{
		base:       strings.TrimSuffix(opts.URL, "/"),
		repository: opts.Repository,
		token:      opts.APIToken,
		http:       opts.HTTPClient,
		log:        opts.Logger,
		attempts:   defaultAttempts,
		retryDelay: defaultDelay,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.log == nil {
		c.log = log.Default()
	}
	if opts.CacheDir != "" {
		cache, err := newResponseCache(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("artifactory cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// fileURL escapes every key segment so percent signs produced by the
// object-store layout reach the server literally.
func (c *Client) fileURL(key string) (string, error) {
	segs := []string{url.PathEscape(c.repository)}
	for _, s := range strings.Split(strings.TrimPrefix(key, "/"), "/") {
		segs = append(segs, url.PathEscape(s))
	}
	return url.JoinPath(c.base, segs...)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(AuthHeader, c.token)
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)}
	}
	return resp, nil
}

func statusError(req *http.Request, resp *http.Response) error {
	err := fmt.Errorf("%s %s: unexpected status %s", req.Method, req.URL.Redacted(), resp.Status)
	if resp.StatusCode >= 500 {
		return &retryableError{err: err}
	}
	return err
}

// Get downloads the file at key. A missing file is objectstore.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	target, err := c.fileURL(key)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = retry(ctx, c.attempts, c.retryDelay, func() error {
		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		if c.cache != nil {
			if tag, ok := c.cache.etag(target); ok {
				req.Header.Set("If-None-Match", tag)
			}
		}

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotModified && c.cache != nil:
			body, err := c.cache.body(target)
			if err != nil {
				return fmt.Errorf("read cached %s: %w", key, err)
			}
			c.log.Debug("artifactory cache hit", "key", key)
			out = body
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return objectstore.ErrNotFound
		case resp.StatusCode != http.StatusOK:
			return statusError(req, resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &retryableError{err: fmt.Errorf("read %s: %w", key, err)}
		}
		if c.cache != nil {
			if err := c.cache.put(target, resp.Header.Get("ETag"), body); err != nil {
				c.log.Debug("could not cache response", "key", key, "err", err)
			}
		}
		out = body
		return nil
	})
	return out, err
}

// PutFile uploads the file at path to key.
func (c *Client) PutFile(ctx context.Context, key, path string) error {
	target, err := c.fileURL(key)
	if err != nil {
		return err
	}

	err = retry(ctx, c.attempts, c.retryDelay, func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}

		req, err := c.newRequest(ctx, http.MethodPut, target, f)
		if err != nil {
			return err
		}
		req.ContentLength = info.Size()
		req.Header.Set("Content-Type", "application/x-yaml")

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return statusError(req, resp)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.drop(target); err != nil {
			c.log.Debug("could not drop cached response", "key", key, "err", err)
		}
	}
	return nil
}

// aqlQuery builds the AQL search for files named fileName below prefix.
func (c *Client) aqlQuery(prefix, fileName string) string {
	q := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	match := strings.TrimSuffix(prefix, "/") + "/*"
	return fmt.Sprintf(`items.find({"$and":[{"repo":%s},{"path":{"$match":%s}},{"name":%s}]}).include("repo","path","name")`,
		q(c.repository), q(match), q(fileName))
}

// List returns the keys of every file named fileName below prefix.
func (c *Client) List(ctx context.Context, prefix, fileName string) ([]string, error) {
	target, err := url.JoinPath(c.base, "api", "search", "aql")
	if err != nil {
		return nil, err
	}
	query := c.aqlQuery(prefix, fileName)

	var keys []string
	err = retry(ctx, c.attempts, c.retryDelay, func() error {
		req, err := c.newRequest(ctx, http.MethodPost, target, bytes.NewBufferString(query))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError(req, resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &retryableError{err: fmt.Errorf("read aql response: %w", err)}
		}
		if !gjson.ValidBytes(body) {
			return fmt.Errorf("aql response is not valid json")
		}

		keys = keys[:0]
		gjson.GetBytes(body, "results").ForEach(func(_, item gjson.Result) bool {
			p := item.Get("path").String()
			n := item.Get("name").String()
			if n == "" {
				return true
			}
			if p == "" || p == "." {
				keys = append(keys, n)
			} else {
				keys = append(keys, p+"/"+n)
			}
			return true
		})
		return nil
	})
	return keys, err
}

var _ objectstore.Bucket = (*Client)(nil)
