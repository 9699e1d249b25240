package model

import (
	"fmt"
	"strings"

	"deps.dev/util/semver"
)

// ScannerDetails identifies the tool run that produced a scan result.
type ScannerDetails struct {
	Name          string `json:"name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	Configuration string `json:"configuration" yaml:"configuration"`
}

// IsCompatible reports whether a result produced by d can be reused for a
// request by other under the default policy.
func (d ScannerDetails) IsCompatible(other ScannerDetails) bool {
	return d.IsCompatibleUnder(other, DefaultCompatibility)
}

// IsCompatibleUnder is IsCompatible with an explicit policy. Scanner names
// always have to agree.
func (d ScannerDetails) IsCompatibleUnder(other ScannerDetails, policy Compatibility) bool {
	if !strings.EqualFold(d.Name, other.Name) {
		return false
	}
	if policy == nil {
		policy = DefaultCompatibility
	}
	return policy.Compatible(d, other)
}

// Compatibility decides whether a stored result's scanner may serve a
// request made with another scanner of the same name.
type Compatibility interface {
	Compatible(stored, requested ScannerDetails) bool
}

// CompatibilityFunc adapts a function to Compatibility.
type CompatibilityFunc func(stored, requested ScannerDetails) bool

func (f CompatibilityFunc) Compatible(stored, requested ScannerDetails) bool {
	return f(stored, requested)
}

var (
	// ExactVersion requires identical versions.
	ExactVersion Compatibility = CompatibilityFunc(func(stored, requested ScannerDetails) bool {
		return stored.Configuration == requested.Configuration && stored.Version == requested.Version
	})

	// SameMinorVersion accepts versions that differ at most in patch level,
	// pre-release or build metadata.
	SameMinorVersion Compatibility = CompatibilityFunc(func(stored, requested ScannerDetails) bool {
		return stored.Configuration == requested.Configuration &&
			versionsWithin(stored.Version, requested.Version, semver.DiffMajor, semver.DiffMinor)
	})

	// SameMajorVersion accepts versions sharing the major version.
	SameMajorVersion Compatibility = CompatibilityFunc(func(stored, requested ScannerDetails) bool {
		return stored.Configuration == requested.Configuration &&
			versionsWithin(stored.Version, requested.Version, semver.DiffMajor)
	})

	DefaultCompatibility = SameMinorVersion
)

func versionsWithin(a, b string, rejected ...semver.Diff) bool {
	if a == b {
		return true
	}
	_, diff, err := semver.NPM.Difference(a, b)
	if err != nil {
		return false
	}
	if diff == semver.DiffOther {
		return false
	}
	for _, r := range rejected {
		if diff == r {
			return false
		}
	}
	return true
}

type versionRange struct {
	expr       string
	constraint *semver.Constraint
}

// VersionRange accepts stored results whose scanner version satisfies the
// given constraint, e.g. ">=3.2.0 <3.3.0". The requested version is ignored.
func VersionRange(expr string) (Compatibility, error) {
	c, err := semver.NPM.ParseConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("parse scanner version range %q: %w", expr, err)
	}
	return &versionRange{expr: expr, constraint: c}, nil
}

func (r *versionRange) Compatible(stored, requested ScannerDetails) bool {
	if stored.Configuration != requested.Configuration {
		return false
	}
	v, err := semver.NPM.Parse(stored.Version)
	if err != nil {
		return false
	}
	return r.constraint.MatchVersion(v)
}

func (r *versionRange) String() string { return r.expr }

// ParseCompatibility maps a configured policy name to a policy. Anything that
// is not a known name is treated as a version range.
func ParseCompatibility(s string) (Compatibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minor":
		return SameMinorVersion, nil
	case "exact":
		return ExactVersion, nil
	case "major":
		return SameMajorVersion, nil
	}
	return VersionRange(s)
}
