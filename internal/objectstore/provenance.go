package objectstore

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/scancache/internal/model"
	"github.com/yourorg/scancache/internal/storage"
)

type provenanceBlob struct {
	Results []model.ScanResult `yaml:"results"`
}

// ProvenanceStore keys blobs by the scanned source instead of the package
// identifier, so packages sharing a source share results. It shares the
// bucket, scratch directory and logger of the Store it was created from.
type ProvenanceStore struct {
	s *Store
}

func (s *Store) ByProvenance() *ProvenanceStore {
	return &ProvenanceStore{s: s}
}

// ReadProvenance returns the results stored for the source location of prov.
// Unreachable storage yields no results.
func (p *ProvenanceStore) ReadProvenance(ctx context.Context, prov model.Provenance) []model.ScanResult {
	key, err := KeyForProvenance(prov)
	if err != nil {
		p.s.log.Debug("provenance cannot be keyed", "err", err)
		return []model.ScanResult{}
	}
	blob, err := p.fetch(ctx, key.Path())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.s.log.Warn("could not read scan results, treating as miss", "key", key.Path(), "err", err)
		}
		return []model.ScanResult{}
	}

	out := make([]model.ScanResult, 0, len(blob.Results))
	for _, r := range blob.Results {
		if patched, ok := model.PatchLegacyLicenseRefs(r); ok {
			r = patched
		}
		out = append(out, r)
	}
	return out
}

// AddProvenance appends result under its own provenance. The shared write
// gate applies.
func (p *ProvenanceStore) AddProvenance(ctx context.Context, result model.ScanResult) error {
	if err := storage.Validate(result); err != nil {
		return err
	}
	key, err := KeyForProvenance(result.Provenance)
	if err != nil {
		return err
	}
	path := key.Path()

	blob, err := p.fetch(ctx, path)
	switch {
	case errors.Is(err, ErrNotFound):
		blob = provenanceBlob{}
	case err != nil:
		return fmt.Errorf("read existing results before write: %w", err)
	}
	blob.Results = append(blob.Results, result)
	return p.s.upload(ctx, path, blob)
}

// ListProvenances enumerates every stored source location. Listing failures
// yield an empty list.
func (p *ProvenanceStore) ListProvenances(ctx context.Context) []ProvenanceKey {
	keys, err := p.s.bucket.List(ctx, ProvenancePrefix+"/", FileName)
	if err != nil {
		p.s.log.Warn("could not list stored provenances", "err", err)
		return []ProvenanceKey{}
	}

	out := make([]ProvenanceKey, 0, len(keys))
	for _, k := range keys {
		pk, err := ParseProvenanceKey(k)
		if err != nil {
			p.s.log.Debug("skipping unrecognized key", "key", k, "err", err)
			continue
		}
		out = append(out, pk)
	}
	return out
}

func (p *ProvenanceStore) fetch(ctx context.Context, key string) (provenanceBlob, error) {
	var blob provenanceBlob
	data, err := p.s.bucket.Get(ctx, key)
	if err != nil {
		return blob, err
	}
	if err := yaml.Unmarshal(data, &blob); err != nil {
		return blob, fmt.Errorf("decode %s: %w", key, err)
	}
	return blob, nil
}
