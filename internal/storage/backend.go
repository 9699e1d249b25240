// Package storage defines the contract every scan result backend implements
// and the logic shared across backends: the provenance and scanner filter,
// the write validation gate and read access statistics.
package storage

import (
	"context"

	"github.com/yourorg/scancache/internal/model"
)

// Status is the outcome of a backend lookup.
type Status int

const (
	// Miss means the backend was asked and holds nothing for the identifier.
	Miss Status = iota
	// Hit means at least one result was returned.
	Hit
	// Failed means the backend could not be asked; Err holds the cause.
	Failed
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lookup is the result of Backend.Fetch. It keeps "nothing stored" apart from
// "could not ask".
type Lookup struct {
	Status    Status
	Container model.ScanResultContainer
	Err       error
}

// Found builds a lookup for c, classifying an empty container as a miss.
func Found(c model.ScanResultContainer) Lookup {
	if c.IsEmpty() {
		return NotFound()
	}
	return Lookup{Status: Hit, Container: c}
}

func NotFound() Lookup {
	return Lookup{Status: Miss}
}

func Failure(err error) Lookup {
	return Lookup{Status: Failed, Err: err}
}

// Backend is the raw per-technology storage. Implementations persist what
// they are given; validation and matching happen in Storage.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Fetch returns every result stored for id.
	Fetch(ctx context.Context, id model.Identifier) Lookup

	// Store persists one result for id.
	Store(ctx context.Context, id model.Identifier, result model.ScanResult) error

	// Identifiers lists every identifier with at least one stored result.
	// Duplicates are allowed; Storage removes them.
	Identifiers(ctx context.Context) ([]model.Identifier, error)
}
