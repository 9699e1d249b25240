package storage

import (
	"context"
	"errors"

	"github.com/yourorg/scancache/internal/model"
)

// ErrWritesDisabled is returned by the null backend for every write.
var ErrWritesDisabled = errors.New("scan result storage is not configured")

// Null is a backend that never stores anything. It is the default until a
// real backend is configured.
type Null struct{}

func NewNull() *Null {
	return &Null{}
}

func (Null) Name() string { return "null" }

// Fetch always misses.
func (Null) Fetch(ctx context.Context, id model.Identifier) Lookup {
	return NotFound()
}

// Store always fails with ErrWritesDisabled.
func (Null) Store(ctx context.Context, id model.Identifier, result model.ScanResult) error {
	return ErrWritesDisabled
}

func (Null) Identifiers(ctx context.Context) ([]model.Identifier, error) {
	return nil, nil
}

var _ Backend = (*Null)(nil)
