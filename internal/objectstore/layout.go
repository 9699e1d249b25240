package objectstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yourorg/scancache/internal/model"
)

const (
	// Prefix is the namespace holding identifier-keyed blobs.
	Prefix = "scan-results"
	// ProvenancePrefix is the namespace holding provenance-keyed blobs.
	ProvenancePrefix = "scan-results-by-provenance"
	// FileName is the blob name under every derived directory.
	FileName = "scan-results.yml"
)

// encodeSegment makes s safe to use as a single path segment on any
// filesystem-like store. The result never contains a slash.
func encodeSegment(s string) string {
	switch s {
	case "":
		return "~"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return strings.ReplaceAll(url.QueryEscape(s), "~", "%7E")
}

func decodeSegment(s string) (string, error) {
	if s == "~" {
		return "", nil
	}
	return url.QueryUnescape(s)
}

// IdentifierKey returns the blob key for id.
func IdentifierKey(id model.Identifier) string {
	return strings.Join([]string{
		Prefix,
		encodeSegment(id.Type),
		encodeSegment(id.Namespace),
		encodeSegment(id.Name),
		encodeSegment(id.Version),
		FileName,
	}, "/")
}

// ParseIdentifierKey inverts IdentifierKey. Leading slashes are tolerated
// since some listing APIs report keys relative to the repository root.
func ParseIdentifierKey(key string) (model.Identifier, error) {
	trimmed := strings.TrimPrefix(key, "/")
	trimmed, ok := strings.CutPrefix(trimmed, Prefix+"/")
	if !ok {
		return model.Identifier{}, fmt.Errorf("key %q is outside %s/", key, Prefix)
	}
	trimmed, ok = strings.CutSuffix(trimmed, "/"+FileName)
	if !ok {
		return model.Identifier{}, fmt.Errorf("key %q does not name %s", key, FileName)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) != 4 {
		return model.Identifier{}, fmt.Errorf("key %q has %d identifier segments, want 4", key, len(parts))
	}
	var fields [4]string
	for i, p := range parts {
		v, err := decodeSegment(p)
		if err != nil {
			return model.Identifier{}, fmt.Errorf("key %q: %w", key, err)
		}
		fields[i] = v
	}
	return model.Identifier{Type: fields[0], Namespace: fields[1], Name: fields[2], Version: fields[3]}, nil
}

// ProvenanceKey names a provenance-keyed blob. For artifacts only URL is set.
type ProvenanceKey struct {
	Kind             string
	URL              string
	ResolvedRevision string
}

const (
	KindArtifact = "artifact"
	KindVCS      = "vcs"
)

// KeyForProvenance derives the blob location of p. It fails for provenance
// that cannot be keyed: no source at all, or a VCS checkout whose commit
// was never resolved.
func KeyForProvenance(p model.Provenance) (ProvenanceKey, error) {
	switch {
	case p.SourceArtifact != nil:
		return ProvenanceKey{Kind: KindArtifact, URL: p.SourceArtifact.URL}, nil
	case p.VCS != nil:
		if p.VCS.ResolvedRevision == "" {
			return ProvenanceKey{}, fmt.Errorf("vcs provenance for %s has no resolved revision", p.VCS.URL)
		}
		return ProvenanceKey{Kind: KindVCS, URL: p.VCS.URL, ResolvedRevision: p.VCS.ResolvedRevision}, nil
	default:
		return ProvenanceKey{}, fmt.Errorf("provenance has neither source artifact nor vcs info")
	}
}

// Path returns the blob key for k.
func (k ProvenanceKey) Path() string {
	parts := []string{ProvenancePrefix, k.Kind, encodeSegment(k.URL)}
	if k.Kind == KindVCS {
		parts = append(parts, encodeSegment(k.ResolvedRevision))
	}
	return strings.Join(append(parts, FileName), "/")
}

// ParseProvenanceKey inverts ProvenanceKey.Path.
func ParseProvenanceKey(key string) (ProvenanceKey, error) {
	trimmed := strings.TrimPrefix(key, "/")
	trimmed, ok := strings.CutPrefix(trimmed, ProvenancePrefix+"/")
	if !ok {
		return ProvenanceKey{}, fmt.Errorf("key %q is outside %s/", key, ProvenancePrefix)
	}
	trimmed, ok = strings.CutSuffix(trimmed, "/"+FileName)
	if !ok {
		return ProvenanceKey{}, fmt.Errorf("key %q does not name %s", key, FileName)
	}

	parts := strings.Split(trimmed, "/")
	var k ProvenanceKey
	switch {
	case len(parts) == 2 && parts[0] == KindArtifact:
		k.Kind = KindArtifact
	case len(parts) == 3 && parts[0] == KindVCS:
		k.Kind = KindVCS
	default:
		return ProvenanceKey{}, fmt.Errorf("key %q is not a provenance path", key)
	}

	u, err := decodeSegment(parts[1])
	if err != nil {
		return ProvenanceKey{}, fmt.Errorf("key %q: %w", key, err)
	}
	k.URL = u
	if k.Kind == KindVCS {
		rev, err := decodeSegment(parts[2])
		if err != nil {
			return ProvenanceKey{}, fmt.Errorf("key %q: %w", key, err)
		}
		k.ResolvedRevision = rev
	}
	return k, nil
}
