package storage

import (
	"context"
	"errors"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/yourorg/scancache/internal/model"
)

// Storage applies the backend-independent read and write rules on top of a
// Backend. Reads never fail: a backend that cannot be reached degrades to a
// miss. Writes report success as a boolean and log the cause otherwise.
type Storage struct {
	backend Backend
	policy  model.Compatibility
	log     *log.Logger
}

type Option func(*Storage)

// WithCompatibility sets the scanner reuse policy used by ReadFor.
func WithCompatibility(p model.Compatibility) Option {
	return func(s *Storage) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.log = l
		}
	}
}

func New(b Backend, opts ...Option) *Storage {
	if b == nil {
		b = NewNull()
	}
	s := &Storage{
		backend: b,
		policy:  model.DefaultCompatibility,
		log:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("storage", b.Name())
	return s
}

// Backend returns the wrapped backend.
func (s *Storage) Backend() Backend { return s.backend }

// Read returns every result stored for id. The container is empty, never an
// error, when nothing is stored or the backend cannot be reached.
func (s *Storage) Read(ctx context.Context, id model.Identifier) model.ScanResultContainer {
	return s.read(id, s.backend.Fetch(ctx, id))
}

// StoredFetcher is implemented by backends that rewrite results on read and
// can also return them as stored.
type StoredFetcher interface {
	FetchStored(ctx context.Context, id model.Identifier) Lookup
}

// ReadStored is Read without any read-time rewriting the backend applies.
// Copies between storages use it so the target receives the stored form.
func (s *Storage) ReadStored(ctx context.Context, id model.Identifier) model.ScanResultContainer {
	if f, ok := s.backend.(StoredFetcher); ok {
		return s.read(id, f.FetchStored(ctx, id))
	}
	return s.Read(ctx, id)
}

func (s *Storage) read(id model.Identifier, l Lookup) model.ScanResultContainer {
	switch l.Status {
	case Hit:
		c := l.Container
		c.ID = id
		return c
	case Failed:
		s.log.Warn("could not read scan results, treating as miss", "id", id.String(), "err", l.Err)
	default:
		s.log.Debug("no stored scan results", "id", id.String())
	}
	return model.EmptyContainer(id)
}

// ReadFor returns the stored results for pkg whose provenance matches the
// package's current source location and whose scanner is compatible with
// scanner. Provenance is checked before scanner compatibility.
func (s *Storage) ReadFor(ctx context.Context, pkg model.Package, scanner model.ScannerDetails) model.ScanResultContainer {
	all := s.Read(ctx, pkg.ID)
	out := model.EmptyContainer(pkg.ID)

	for _, r := range all.Results {
		if !r.Provenance.Matches(pkg) {
			continue
		}
		if !r.Scanner.IsCompatibleUnder(scanner, s.policy) {
			continue
		}
		out.Results = append(out.Results, r)
	}

	if len(all.Results) > 0 {
		s.log.Debug("filtered stored scan results",
			"id", pkg.ID.String(), "stored", len(all.Results), "usable", len(out.Results))
	}
	return out
}

// Add validates result and, if it passes, hands it to the backend. It
// reports whether the result was stored.
func (s *Storage) Add(ctx context.Context, id model.Identifier, result model.ScanResult) bool {
	if err := Validate(result); err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			s.log.Info("not storing scan result", "id", id.String(), "reason", rej.Reason)
		}
		return false
	}

	if err := s.backend.Store(ctx, id, result); err != nil {
		if errors.Is(err, ErrWritesDisabled) {
			s.log.Debug("not storing scan result", "id", id.String(), "reason", err)
		} else {
			s.log.Error("could not store scan result", "id", id.String(), "err", err)
		}
		return false
	}

	s.log.Debug("stored scan result", "id", id.String(), "scanner", result.Scanner.Name)
	return true
}

// ListPackages returns every distinct identifier with stored results, sorted.
func (s *Storage) ListPackages(ctx context.Context) []model.Identifier {
	ids, err := s.backend.Identifiers(ctx)
	if err != nil {
		s.log.Warn("could not list stored packages", "err", err)
		return []model.Identifier{}
	}

	out := slices.Clone(ids)
	slices.SortFunc(out, model.Identifier.Compare)
	return slices.Compact(out)
}
