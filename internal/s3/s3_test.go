package s3

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/objectstore"
	"github.com/yourorg/scancache/internal/storage"
)

const testBucket = "scan-results"

// fakeS3 serves the subset of the S3 REST API the client uses, path-style,
// for a single bucket.
type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	denied       map[string]bool
}

func newFakeS3(t *testing.T) (*fakeS3, *Client) {
	t.Helper()
	f := &fakeS3{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
		denied:       map[string]bool{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	// A fixed region keeps the client from asking for the bucket location.
	c, err := New(strings.TrimPrefix(srv.URL, "http://"), "minio", "minio123", false, "us-east-1", testBucket)
	require.NoError(t, err)
	return f, c
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != testBucket {
		writeError(w, http.StatusNotFound, "NoSuchBucket", bucket, "")
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		f.list(w, r.URL.Query().Get("prefix"))
	case r.Method == http.MethodGet:
		f.get(w, key)
	case r.Method == http.MethodPut:
		f.put(w, r, key)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", bucket, key)
	}
}

func (f *fakeS3) get(w http.ResponseWriter, key string) {
	f.mu.Lock()
	data, ok := f.objects[key]
	denied := f.denied[key]
	f.mu.Unlock()

	switch {
	case denied:
		writeError(w, http.StatusForbidden, "AccessDenied", testBucket, key)
		return
	case !ok:
		writeError(w, http.StatusNotFound, "NoSuchKey", testBucket, key)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	_, _ = w.Write(data)
}

func (f *fakeS3) put(w http.ResponseWriter, r *http.Request, key string) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		data, err = readAWSChunked(r.Body)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody", testBucket, key)
		return
	}

	f.mu.Lock()
	f.objects[key] = data
	f.contentTypes[key] = r.Header.Get("Content-Type")
	f.mu.Unlock()

	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

// readAWSChunked decodes a streaming-signature body: "<hex size>[;ext]\r\n"
// followed by the chunk and "\r\n", ending with a zero-size chunk.
func readAWSChunked(body io.Reader) ([]byte, error) {
	br := bufio.NewReader(body)
	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	f.mu.Lock()
	var keys []string
	sizes := map[string]int{}
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			sizes[k] = len(v)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	res := listResult{Name: testBucket, Prefix: prefix, KeyCount: len(keys), MaxKeys: 1000}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, k := range keys {
		res.Contents = append(res.Contents, listContent{
			Key: k, LastModified: now, ETag: `"etag"`, Size: sizes[k], StorageClass: "STANDARD",
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, status int, code, bucket, key string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `%s<Error><Code>%s</Code><Message>%s</Message><BucketName>%s</BucketName><Key>%s</Key><RequestId>1</RequestId><HostId>1</HostId></Error>`,
		xml.Header, code, code, bucket, key)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blob.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}))
	assert.False(t, isNotFound(errors.New("dial tcp: connection refused")))
}

func TestNew(t *testing.T) {
	c, err := New("localhost:9000", "minio", "minio123", false, "us-east-1", "scan-results")
	require.NoError(t, err)
	assert.Equal(t, "scan-results", c.bucket)
}

func TestGet_MissingKey(t *testing.T) {
	_, c := newFakeS3(t)
	_, err := c.Get(context.Background(), "scan-results/NPM/~/absent/1/scan-results.yml")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestGet_AccessDeniedIsNotAMiss(t *testing.T) {
	f, c := newFakeS3(t)
	key := "scan-results/NPM/~/locked/1/scan-results.yml"
	f.denied[key] = true

	_, err := c.Get(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, objectstore.ErrNotFound)
}

func TestPutFileThenGet(t *testing.T) {
	ctx := context.Background()
	f, c := newFakeS3(t)
	key := "scan-results/NPM/~/lodash/4.17.21/scan-results.yml"
	content := "id: NPM::lodash:4.17.21\nresults: []\n"

	require.NoError(t, c.PutFile(ctx, key, writeTemp(t, content)))
	assert.Equal(t, content, string(f.objects[key]))
	assert.Equal(t, "application/x-yaml", f.contentTypes[key])

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f, c := newFakeS3(t)
	f.objects["scan-results/NPM/~/a/1/scan-results.yml"] = []byte("a")
	f.objects["scan-results/Maven/org/b/2/scan-results.yml"] = []byte("b")
	f.objects["scan-results/Maven/org/b/2/notes.txt"] = []byte("ignored")
	f.objects["scan-results-by-provenance/artifact/x/scan-results.yml"] = []byte("other prefix")

	keys, err := c.List(ctx, "scan-results/", "scan-results.yml")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"scan-results/NPM/~/a/1/scan-results.yml",
		"scan-results/Maven/org/b/2/scan-results.yml",
	}, keys)
}

func TestObjectStoreOverS3(t *testing.T) {
	ctx := context.Background()
	_, c := newFakeS3(t)
	store := objectstore.New(c, objectstore.WithScratchDir(t.TempDir()), objectstore.WithLogger(log.New(io.Discard)))
	id := model.Identifier{Type: "NPM", Namespace: "@types", Name: "node", Version: "20.1.0"}

	r := model.ScanResult{
		Provenance: model.Provenance{SourceArtifact: &model.RemoteArtifact{URL: "https://registry.npmjs.org/@types/node/-/node-20.1.0.tgz"}},
		Scanner:    model.ScannerDetails{Name: "ScanCode", Version: "3.2.1"},
		Summary:    model.ScanSummary{FileCount: 4, LicenseFindings: []model.LicenseFinding{{License: "MIT"}}},
		RawResult:  model.RawResult("binary \xff output"),
	}
	assert.Equal(t, storage.Miss, store.Fetch(ctx, id).Status)
	require.NoError(t, store.Store(ctx, id, r))
	require.NoError(t, store.Store(ctx, id, r))

	ids, err := store.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Identifier{id}, ids)

	l := store.Fetch(ctx, id)
	require.Equal(t, storage.Hit, l.Status)
	require.Len(t, l.Container.Results, 2)
	assert.Equal(t, r.RawResult, l.Container.Results[1].RawResult)
}
