package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// TextLocation is a line range within a scanned file.
type TextLocation struct {
	Path      string `json:"path" yaml:"path"`
	StartLine int    `json:"start_line" yaml:"start_line"`
	EndLine   int    `json:"end_line" yaml:"end_line"`
}

type CopyrightFinding struct {
	Statement string         `json:"statement" yaml:"statement"`
	Locations []TextLocation `json:"locations" yaml:"locations"`
}

type LicenseFinding struct {
	License    string             `json:"license" yaml:"license"`
	Locations  []TextLocation     `json:"locations" yaml:"locations"`
	Copyrights []CopyrightFinding `json:"copyrights,omitempty" yaml:"copyrights,omitempty"`
}

// ScanSummary is the scanner-independent digest of a scan run.
type ScanSummary struct {
	StartTime               time.Time        `json:"start_time" yaml:"start_time"`
	EndTime                 time.Time        `json:"end_time" yaml:"end_time"`
	FileCount               int              `json:"file_count" yaml:"file_count"`
	PackageVerificationCode string           `json:"package_verification_code,omitempty" yaml:"package_verification_code,omitempty"`
	LicenseFindings         []LicenseFinding `json:"license_findings" yaml:"license_findings"`
}

// RawResult is the scanner's native output, kept byte for byte. A nil
// RawResult means the output is absent, which is never acceptable for
// persisted results.
//
// Output that is valid UTF-8 without NUL bytes is encoded as a plain string.
// Anything else is encoded as base64: in JSON as
// {"encoding":"base64","data":"..."}, in YAML as a !!binary scalar.
type RawResult []byte

const rawEncodingBase64 = "base64"

type rawEnvelope struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

// textSafe reports whether r survives as a JSON, YAML and postgres jsonb
// string unchanged.
func (r RawResult) textSafe() bool {
	return utf8.Valid(r) && bytes.IndexByte(r, 0) < 0
}

func (r RawResult) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	if r.textSafe() {
		return json.Marshal(string(r))
	}
	return json.Marshal(rawEnvelope{Encoding: rawEncodingBase64, Data: base64.StdEncoding.EncodeToString(r)})
}

func (r *RawResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawResult(s)
		return nil
	case len(data) > 0 && data[0] == '{':
		var env rawEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.Encoding == rawEncodingBase64 {
			b, err := base64.StdEncoding.DecodeString(env.Data)
			if err != nil {
				return fmt.Errorf("raw_result: %w", err)
			}
			*r = b
			return nil
		}
	}
	// Documents written before the string form embedded the output as JSON.
	*r = slices.Clone(data)
	return nil
}

func (r RawResult) MarshalYAML() (any, error) {
	if r == nil {
		return nil, nil
	}
	if r.textSafe() {
		return string(r), nil
	}
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!binary",
		Value: base64.StdEncoding.EncodeToString(r),
	}, nil
}

func (r *RawResult) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("raw_result: expected scalar, got yaml kind %d", node.Kind)
	}
	switch node.ShortTag() {
	case "!!null":
		*r = nil
	case "!!binary":
		// The decoder skips the line breaks long base64 scalars carry.
		b, err := base64.StdEncoding.DecodeString(node.Value)
		if err != nil {
			return fmt.Errorf("raw_result: %w", err)
		}
		*r = b
	default:
		*r = RawResult(node.Value)
	}
	return nil
}

// ScanResult is one scanner run's output for one provenance.
type ScanResult struct {
	Provenance Provenance     `json:"provenance" yaml:"provenance"`
	Scanner    ScannerDetails `json:"scanner" yaml:"scanner"`
	Summary    ScanSummary    `json:"summary" yaml:"summary"`
	RawResult  RawResult      `json:"raw_result" yaml:"raw_result"`
}

// Clone returns a deep copy of r.
func (r ScanResult) Clone() ScanResult {
	out := r
	out.Provenance = r.Provenance.clone()
	out.RawResult = slices.Clone(r.RawResult)
	if r.Summary.LicenseFindings != nil {
		out.Summary.LicenseFindings = make([]LicenseFinding, len(r.Summary.LicenseFindings))
		for i, f := range r.Summary.LicenseFindings {
			f.Locations = slices.Clone(f.Locations)
			if f.Copyrights != nil {
				cs := make([]CopyrightFinding, len(f.Copyrights))
				for j, c := range f.Copyrights {
					c.Locations = slices.Clone(c.Locations)
					cs[j] = c
				}
				f.Copyrights = cs
			}
			out.Summary.LicenseFindings[i] = f
		}
	}
	return out
}

// ScanResultContainer holds every stored result for one identifier. Results
// are appended in storage order and never merged.
type ScanResultContainer struct {
	ID      Identifier   `json:"id" yaml:"id"`
	Results []ScanResult `json:"results" yaml:"results"`
}

// EmptyContainer returns a container for id without results.
func EmptyContainer(id Identifier) ScanResultContainer {
	return ScanResultContainer{ID: id, Results: []ScanResult{}}
}

func (c ScanResultContainer) IsEmpty() bool {
	return len(c.Results) == 0
}

// AccessStatistics is a snapshot of read traffic counters.
type AccessStatistics struct {
	Reads int64 `json:"reads"`
	Hits  int64 `json:"hits"`
}
