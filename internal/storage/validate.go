package storage

import (
	"fmt"

	"github.com/yourorg/scancache/internal/model"
)

// RejectionError explains why a result was not stored. A rejection is a
// deliberate decision, not a failure.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("scan result not stored: %s", e.Reason)
}

// Rejection reasons.
const (
	ReasonNoFiles      = "summary reports zero scanned files"
	ReasonNoRawResult  = "raw scanner output is missing"
	ReasonNoProvenance = "provenance has neither a source artifact nor VCS info"
)

// Validate applies the write gate shared by all backends.
func Validate(r model.ScanResult) error {
	switch {
	case r.Summary.FileCount <= 0:
		return &RejectionError{Reason: ReasonNoFiles}
	case r.RawResult == nil:
		return &RejectionError{Reason: ReasonNoRawResult}
	case !r.Provenance.IsStorable():
		return &RejectionError{Reason: ReasonNoProvenance}
	}
	return nil
}
