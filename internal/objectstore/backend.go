// Package objectstore implements the blob-per-identifier scan result backend
// on top of a key/value object store such as Artifactory or S3.
//
// Writes are read-modify-write. Two writers adding results for the same
// identifier at the same time can race, in which case the last upload wins
// and the other addition is lost. Writers for different identifiers never
// interfere.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/storage"
)

// ErrNotFound is returned by a Bucket when no object exists at a key.
var ErrNotFound = errors.New("object not found")

// Bucket is the transport the backend stores blobs through.
type Bucket interface {
	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// PutFile uploads the local file at path to key, replacing any object.
	PutFile(ctx context.Context, key, path string) error
	// List returns the keys below prefix whose last segment is fileName.
	List(ctx context.Context, prefix, fileName string) ([]string, error)
}

// Store is the object-storage backend.
type Store struct {
	bucket  Bucket
	name    string
	scratch string
	log     *log.Logger
}

type Option func(*Store)

// WithScratchDir sets where blobs are staged before upload.
func WithScratchDir(dir string) Option {
	return func(s *Store) {
		if dir != "" {
			s.scratch = dir
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithName sets the name reported in logs, e.g. the transport in use.
func WithName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

func New(bucket Bucket, opts ...Option) *Store {
	s := &Store{
		bucket:  bucket,
		name:    "objectstore",
		scratch: os.TempDir(),
		log:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string { return s.name }

// Fetch reads the container blob for id. Stored results are patched in
// memory before they are returned; the blob itself is left as it is.
func (s *Store) Fetch(ctx context.Context, id model.Identifier) storage.Lookup {
	l := s.fetchStored(ctx, IdentifierKey(id), id)
	if l.Status != storage.Hit {
		return l
	}
	for i, r := range l.Container.Results {
		if patched, ok := model.PatchLegacyLicenseRefs(r); ok {
			l.Container.Results[i] = patched
		}
	}
	return l
}

// FetchStored is Fetch without the read-time patch: results come back exactly
// as they are stored.
func (s *Store) FetchStored(ctx context.Context, id model.Identifier) storage.Lookup {
	return s.fetchStored(ctx, IdentifierKey(id), id)
}

func (s *Store) fetchStored(ctx context.Context, key string, id model.Identifier) storage.Lookup {
	data, err := s.bucket.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return storage.NotFound()
	}
	if err != nil {
		return storage.Failure(fmt.Errorf("get %s: %w", key, err))
	}

	c := model.EmptyContainer(id)
	if err := yaml.Unmarshal(data, &c); err != nil {
		return storage.Failure(fmt.Errorf("decode %s: %w", key, err))
	}
	return storage.Found(c)
}

// Store appends result to the container blob for id. A blob that exists but
// cannot be read is never overwritten.
func (s *Store) Store(ctx context.Context, id model.Identifier, result model.ScanResult) error {
	key := IdentifierKey(id)

	c := model.EmptyContainer(id)
	switch l := s.fetchStored(ctx, key, id); l.Status {
	case storage.Hit:
		c.Results = l.Container.Results
	case storage.Failed:
		return fmt.Errorf("read existing results before write: %w", l.Err)
	}
	c.ID = id
	c.Results = append(c.Results, result)

	return s.upload(ctx, key, c)
}

func (s *Store) upload(ctx context.Context, key string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err := os.MkdirAll(s.scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	tmp := filepath.Join(s.scratch, uuid.NewString()+".yml")
	defer os.Remove(tmp)

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	if err := s.bucket.PutFile(ctx, key, tmp); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.log.Debug("uploaded scan results", "key", key, "bytes", len(data))
	return nil
}

// Identifiers enumerates the identifier namespace. Keys that do not follow
// the layout are skipped.
func (s *Store) Identifiers(ctx context.Context) ([]model.Identifier, error) {
	keys, err := s.bucket.List(ctx, Prefix+"/", FileName)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", Prefix, err)
	}

	ids := make([]model.Identifier, 0, len(keys))
	for _, k := range keys {
		id, err := ParseIdentifierKey(k)
		if err != nil {
			s.log.Debug("skipping unrecognized key", "key", k, "err", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var _ storage.Backend = (*Store)(nil)
