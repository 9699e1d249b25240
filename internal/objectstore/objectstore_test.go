package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/storage"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	getErr  error
	listErr error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (b *memBucket) PutFile(_ context.Context, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.puts = append(b.puts, path)
	return nil
}

func (b *memBucket) List(_ context.Context, prefix, fileName string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, "/"+fileName) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func newTestStore(t *testing.T, b Bucket) *Store {
	t.Helper()
	return New(b, WithScratchDir(t.TempDir()), WithLogger(log.New(io.Discard)))
}

func artifactResult(scanner, license string) model.ScanResult {
	return model.ScanResult{
		Provenance: model.Provenance{SourceArtifact: &model.RemoteArtifact{
			URL:  "https://repo1.maven.org/maven2/org/example/lib/1.0/lib-1.0-sources.jar",
			Hash: model.Hash{Value: "da39a3ee", Algorithm: "SHA-1"},
		}},
		Scanner: model.ScannerDetails{Name: scanner, Version: "3.2.1", Configuration: "--copyright --license"},
		Summary: model.ScanSummary{
			FileCount: 12,
			LicenseFindings: []model.LicenseFinding{{
				License:   license,
				Locations: []model.TextLocation{{Path: "LICENSE", StartLine: 1, EndLine: 20}},
			}},
		},
		RawResult: model.RawResult(`{"files":[{"path":"LICENSE"}]}`),
	}
}

func TestSegmentEncoding(t *testing.T) {
	for _, s := range []string{"", ".", "..", "~", "a b", "org/example", "@scope", "100%", "v1.0+meta"} {
		enc := encodeSegment(s)
		assert.NotContains(t, enc, "/", s)
		assert.NotEqual(t, ".", enc)
		assert.NotEqual(t, "..", enc)
		dec, err := decodeSegment(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
	assert.Equal(t, "~", encodeSegment(""))
	assert.Equal(t, "%7E", encodeSegment("~"))
}

func TestIdentifierKey_RoundTrip(t *testing.T) {
	ids := []model.Identifier{
		{Type: "Maven", Namespace: "org.example", Name: "lib", Version: "1.0"},
		{Type: "NPM", Namespace: "@babel", Name: "core", Version: "7.0.0"},
		{Type: "Go", Namespace: "github.com/o", Name: "r", Version: ""},
		{Type: "Unmanaged", Name: ".."},
	}
	for _, id := range ids {
		key := IdentifierKey(id)
		assert.True(t, strings.HasPrefix(key, Prefix+"/"))
		assert.True(t, strings.HasSuffix(key, "/"+FileName))

		got, err := ParseIdentifierKey(key)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		got, err = ParseIdentifierKey("/" + key)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	assert.Equal(t, "scan-results/Maven/org.example/lib/1.0/scan-results.yml",
		IdentifierKey(model.Identifier{Type: "Maven", Namespace: "org.example", Name: "lib", Version: "1.0"}))
}

func TestParseIdentifierKey_Rejects(t *testing.T) {
	for _, key := range []string{
		"other/Maven/org/lib/1.0/scan-results.yml",
		"scan-results/Maven/org/lib/1.0/other.yml",
		"scan-results/Maven/lib/1.0/scan-results.yml",
		"scan-results/Maven/org/lib/%zz/scan-results.yml",
	} {
		_, err := ParseIdentifierKey(key)
		assert.Error(t, err, key)
	}
}

func TestProvenanceKey_RoundTrip(t *testing.T) {
	art := ProvenanceKey{Kind: KindArtifact, URL: "https://example.com/a-1.0.tgz"}
	vcs := ProvenanceKey{Kind: KindVCS, URL: "https://github.com/o/r.git", ResolvedRevision: "0123abcd"}

	for _, k := range []ProvenanceKey{art, vcs} {
		got, err := ParseProvenanceKey(k.Path())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	assert.Equal(t, "scan-results-by-provenance/artifact/https%3A%2F%2Fexample.com%2Fa-1.0.tgz/scan-results.yml", art.Path())

	_, err := KeyForProvenance(model.Provenance{VCS: &model.VcsInfo{URL: "x"}})
	assert.Error(t, err)
	_, err = KeyForProvenance(model.Provenance{})
	assert.Error(t, err)
}

func TestStoreAndFetch(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	id := model.Identifier{Type: "Maven", Namespace: "org.example", Name: "lib", Version: "1.0"}

	assert.Equal(t, storage.Miss, s.Fetch(ctx, id).Status)

	first := artifactResult("ScanCode", "Apache-2.0")
	second := artifactResult("Licensee", "MIT")
	require.NoError(t, s.Store(ctx, id, first))
	require.NoError(t, s.Store(ctx, id, second))

	l := s.Fetch(ctx, id)
	require.Equal(t, storage.Hit, l.Status)
	require.Len(t, l.Container.Results, 2)
	assert.Equal(t, first, l.Container.Results[0])
	assert.Equal(t, second, l.Container.Results[1])

	var blob model.ScanResultContainer
	require.NoError(t, yaml.Unmarshal(b.objects[IdentifierKey(id)], &blob))
	assert.Equal(t, id, blob.ID)
}

func TestStore_RemovesScratchFiles(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	require.NoError(t, s.Store(ctx, model.Identifier{Name: "a"}, artifactResult("ScanCode", "MIT")))

	require.Len(t, b.puts, 1)
	_, err := os.Stat(b.puts[0])
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(s.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingPutBucket struct{ *memBucket }

func (failingPutBucket) PutFile(context.Context, string, string) error {
	return errors.New("503 service unavailable")
}

func TestStore_UploadFailureCleansUp(t *testing.T) {
	s := newTestStore(t, failingPutBucket{newMemBucket()})
	err := s.Store(context.Background(), model.Identifier{Name: "a"}, artifactResult("ScanCode", "MIT"))
	assert.Error(t, err)

	entries, err := os.ReadDir(s.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_UnreadableBlobIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	id := model.Identifier{Name: "a"}
	require.NoError(t, s.Store(ctx, id, artifactResult("ScanCode", "MIT")))
	before := b.objects[IdentifierKey(id)]

	b.getErr = errors.New("connection reset")
	assert.Error(t, s.Store(ctx, id, artifactResult("ScanCode", "MIT")))
	assert.Equal(t, before, b.objects[IdentifierKey(id)])
}

func TestFetch_Failures(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	id := model.Identifier{Name: "a"}

	b.objects[IdentifierKey(id)] = []byte("results: [unterminated")
	assert.Equal(t, storage.Failed, s.Fetch(ctx, id).Status)

	b.getErr = errors.New("dial tcp: connection refused")
	l := s.Fetch(ctx, id)
	assert.Equal(t, storage.Failed, l.Status)
	assert.ErrorContains(t, l.Err, "connection refused")

	st := storage.New(s, storage.WithLogger(log.New(io.Discard)))
	c := st.Read(ctx, id)
	assert.Empty(t, c.Results)
	assert.Equal(t, id, c.ID)
}

func TestFetch_PatchIsReadOnly(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	id := model.Identifier{Type: "NPM", Name: "legacy", Version: "1"}

	require.NoError(t, s.Store(ctx, id, artifactResult("ScanCode", "MIT AND LicenseRef-proprietary")))
	stored := append([]byte(nil), b.objects[IdentifierKey(id)]...)

	l := s.Fetch(ctx, id)
	require.Equal(t, storage.Hit, l.Status)
	assert.Equal(t, "MIT AND LicenseRef-scancode-proprietary", l.Container.Results[0].Summary.LicenseFindings[0].License)
	assert.Equal(t, stored, b.objects[IdentifierKey(id)])

	// A later write must keep the stored form of earlier results.
	require.NoError(t, s.Store(ctx, id, artifactResult("Licensee", "MIT")))
	var blob model.ScanResultContainer
	require.NoError(t, yaml.Unmarshal(b.objects[IdentifierKey(id)], &blob))
	assert.Equal(t, "MIT AND LicenseRef-proprietary", blob.Results[0].Summary.LicenseFindings[0].License)
}

func TestFetchStored_SkipsPatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemBucket())
	id := model.Identifier{Type: "NPM", Name: "legacy", Version: "1"}
	require.NoError(t, s.Store(ctx, id, artifactResult("ScanCode", "LicenseRef-foo")))

	l := s.FetchStored(ctx, id)
	require.Equal(t, storage.Hit, l.Status)
	assert.Equal(t, "LicenseRef-foo", l.Container.Results[0].Summary.LicenseFindings[0].License)
	assert.Equal(t, "LicenseRef-scancode-foo", s.Fetch(ctx, id).Container.Results[0].Summary.LicenseFindings[0].License)
	assert.Equal(t, storage.Miss, s.FetchStored(ctx, model.Identifier{Name: "absent"}).Status)
}

func TestStore_RawResultRoundTrip(t *testing.T) {
	raws := []struct {
		name string
		raw  model.RawResult
	}{
		{"pretty json with markup", model.RawResult("{\n  \"summary\": \"<b>3 files</b>\",\n  \"files\": []\n}\n")},
		{"json string literal", model.RawResult(`"a json string"`)},
		{"invalid utf-8", model.RawResult("binary \xff\xfe output")},
		{"nul byte", model.RawResult("before\x00after")},
	}
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)

	for _, tt := range raws {
		t.Run(tt.name, func(t *testing.T) {
			id := model.Identifier{Type: "Maven", Namespace: "org.example", Name: "raw", Version: tt.name}
			r := artifactResult("ScanCode", "MIT")
			r.RawResult = tt.raw
			require.NoError(t, s.Store(ctx, id, r))

			l := s.Fetch(ctx, id)
			require.Equal(t, storage.Hit, l.Status)
			require.Len(t, l.Container.Results, 1)
			assert.Equal(t, []byte(tt.raw), []byte(l.Container.Results[0].RawResult))
			assert.True(t, utf8.Valid(b.objects[IdentifierKey(id)]), "blob is text")
		})
	}
}

func TestIdentifiers(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	s := newTestStore(t, b)
	a := model.Identifier{Type: "Maven", Namespace: "org", Name: "a", Version: "1"}
	c := model.Identifier{Type: "NPM", Namespace: "", Name: "c", Version: "2"}

	require.NoError(t, s.Store(ctx, a, artifactResult("ScanCode", "MIT")))
	require.NoError(t, s.Store(ctx, a, artifactResult("ScanCode", "MIT")))
	require.NoError(t, s.Store(ctx, c, artifactResult("ScanCode", "MIT")))
	b.objects[Prefix+"/junk/scan-results.yml"] = []byte("results: []")

	ids, err := s.Identifiers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Identifier{a, c}, ids)

	b.listErr = errors.New("aql 500")
	_, err = s.Identifiers(ctx)
	assert.Error(t, err)
}

func TestProvenanceStore(t *testing.T) {
	ctx := context.Background()
	b := newMemBucket()
	p := newTestStore(t, b).ByProvenance()

	art := artifactResult("ScanCode", "LicenseRef-foo")
	vcs := artifactResult("ScanCode", "MIT")
	vcs.Provenance = model.Provenance{VCS: &model.VcsInfo{
		Type: "Git", URL: "https://github.com/o/r.git", Revision: "main", ResolvedRevision: "abc123",
	}}

	require.NoError(t, p.AddProvenance(ctx, art))
	require.NoError(t, p.AddProvenance(ctx, art))
	require.NoError(t, p.AddProvenance(ctx, vcs))

	got := p.ReadProvenance(ctx, art.Provenance)
	require.Len(t, got, 2)
	assert.Equal(t, "LicenseRef-scancode-foo", got[0].Summary.LicenseFindings[0].License)
	assert.Len(t, p.ReadProvenance(ctx, vcs.Provenance), 1)

	assert.ElementsMatch(t, []ProvenanceKey{
		{Kind: KindArtifact, URL: art.Provenance.SourceArtifact.URL},
		{Kind: KindVCS, URL: "https://github.com/o/r.git", ResolvedRevision: "abc123"},
	}, p.ListProvenances(ctx))

	rejected := art
	rejected.Summary.FileCount = 0
	var rej *storage.RejectionError
	assert.ErrorAs(t, p.AddProvenance(ctx, rejected), &rej)

	b.getErr = errors.New("timeout")
	assert.Empty(t, p.ReadProvenance(ctx, art.Provenance))
	assert.Error(t, p.AddProvenance(ctx, art))
}
