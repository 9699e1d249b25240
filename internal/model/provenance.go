package model

import (
	"strings"
	"time"
)

// Hash is a checksum of a downloadable artifact.
type Hash struct {
	Value     string `json:"value" yaml:"value"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// RemoteArtifact is a source archive reference. The zero value means none.
type RemoteArtifact struct {
	URL  string `json:"url" yaml:"url"`
	Hash Hash   `json:"hash" yaml:"hash"`
}

func (a RemoteArtifact) IsZero() bool {
	return a == RemoteArtifact{}
}

// VcsInfo is a version-control reference.
type VcsInfo struct {
	Type             string `json:"type" yaml:"type"`
	URL              string `json:"url" yaml:"url"`
	Revision         string `json:"revision" yaml:"revision"`
	ResolvedRevision string `json:"resolved_revision,omitempty" yaml:"resolved_revision,omitempty"`
	Path             string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Package is the current source location of a package as reported by the
// analyzer. VCS is expected to be normalized already.
type Package struct {
	ID             Identifier
	SourceArtifact RemoteArtifact
	VCS            VcsInfo
}

// Provenance describes the exact source code a scan ran on.
type Provenance struct {
	DownloadTime   time.Time       `json:"download_time" yaml:"download_time"`
	SourceArtifact *RemoteArtifact `json:"source_artifact,omitempty" yaml:"source_artifact,omitempty"`
	VCS            *VcsInfo        `json:"vcs_info,omitempty" yaml:"vcs_info,omitempty"`
	// OriginalVCS is the VCS reference before revision resolution, if it differed.
	OriginalVCS *VcsInfo `json:"original_vcs_info,omitempty" yaml:"original_vcs_info,omitempty"`
}

// IsStorable reports whether the provenance can ever be matched back to a
// source location.
func (p Provenance) IsStorable() bool {
	return p.SourceArtifact != nil || p.VCS != nil
}

// Matches reports whether this provenance describes the current source
// location of pkg.
func (p Provenance) Matches(pkg Package) bool {
	if p.SourceArtifact != nil {
		return *p.SourceArtifact == pkg.SourceArtifact
	}
	if p.VCS == nil {
		return false
	}

	// A package without a revision floats on its default branch, whose tip may
	// have moved since the scan.
	if pkg.VCS.Revision == "" {
		return false
	}
	// Without a resolved revision the scanned commit is unknown.
	if p.VCS.ResolvedRevision == "" {
		return false
	}

	ref := *p.VCS
	if p.OriginalVCS != nil {
		ref = *p.OriginalVCS
	}
	if ref.Type != "" && pkg.VCS.Type != "" && !strings.EqualFold(ref.Type, pkg.VCS.Type) {
		return false
	}
	if ref.URL != pkg.VCS.URL || ref.Path != pkg.VCS.Path {
		return false
	}
	return ref.Revision == pkg.VCS.Revision || p.VCS.ResolvedRevision == pkg.VCS.Revision
}

func (p Provenance) clone() Provenance {
	out := p
	if p.SourceArtifact != nil {
		a := *p.SourceArtifact
		out.SourceArtifact = &a
	}
	if p.VCS != nil {
		v := *p.VCS
		out.VCS = &v
	}
	if p.OriginalVCS != nil {
		v := *p.OriginalVCS
		out.OriginalVCS = &v
	}
	return out
}
