package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-layers/pkg/sql"
)

// Query is the defining query text of a map layer plus a derived identity.
// Build it with NewQuery; the text is never modified afterwards.
type Query struct {
	Text string `json:"text"`
	Hash string `json:"hash"`
}

// NewQuery wraps raw query text and derives its SHA-256 identity.
func NewQuery(text string) Query {
	sum := sha256.Sum256([]byte(text))
	return Query{Text: text, Hash: hex.EncodeToString(sum[:])}
}

// ShortHash returns the first 12 hex characters of the identity, for logs.
func (q Query) ShortHash() string {
	if len(q.Hash) < 12 {
		return q.Hash
	}
	return q.Hash[:12]
}

// ValidationLevel selects how much the validator allows beyond plain SELECT.
type ValidationLevel string

const (
	// ValidationLevelStrict allows SELECT statements only.
	ValidationLevelStrict ValidationLevel = "strict"
	// ValidationLevelModerate rejects writes, DDL and unrecognized statements.
	ValidationLevelModerate ValidationLevel = "moderate"
	// ValidationLevelPermissive rejects writes and DDL but only warns on
	// unrecognized read statements such as VALUES or TABLE.
	ValidationLevelPermissive ValidationLevel = "permissive"
)

// ParseValidationLevel parses a case-insensitive level name.
func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch ValidationLevel(strings.ToLower(strings.TrimSpace(s))) {
	case ValidationLevelStrict:
		return ValidationLevelStrict, nil
	case ValidationLevelModerate:
		return ValidationLevelModerate, nil
	case ValidationLevelPermissive:
		return ValidationLevelPermissive, nil
	default:
		return "", fmt.Errorf("unknown validation level %q (want strict, moderate or permissive)", s)
	}
}

// ValidationResult is the outcome of validating one query at one level.
// IsValid implies Errors is empty.
type ValidationResult struct {
	IsValid     bool            `json:"is_valid"`
	QueryHash   string          `json:"query_hash"`
	QueryType   sql.QueryType   `json:"query_type"`
	Level       ValidationLevel `json:"level"`
	Errors      []string        `json:"errors"`
	Warnings    []string        `json:"warnings"`
	Plan        json.RawMessage `json:"plan,omitempty"`
	PlanCost    *float64        `json:"plan_cost,omitempty"`
	ElapsedTime time.Duration   `json:"elapsed_time_ns"`
}

// NewValidationResult returns an empty, valid result for the query and level.
func NewValidationResult(q Query, level ValidationLevel) *ValidationResult {
	return &ValidationResult{
		IsValid:   true,
		QueryHash: q.Hash,
		QueryType: sql.QueryTypeUnknown,
		Level:     level,
		Errors:    []string{},
		Warnings:  []string{},
	}
}

// AddError records a violation and marks the result invalid.
func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

// AddWarning records a non-fatal observation.
func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// BoundingBox is an axis-aligned rectangle in EPSG:4326 degrees.
type BoundingBox struct {
	West  float64 `json:"west" validate:"gte=-180,lte=180,ltefield=East"`
	South float64 `json:"south" validate:"gte=-90,lte=90,ltefield=North"`
	East  float64 `json:"east" validate:"gte=-180,lte=180"`
	North float64 `json:"north" validate:"gte=-90,lte=90"`
}

// SpatialMetadata summarizes a layer query's result set.
// Every field may be absent: an empty result set has no geometry type,
// bounds or SRID and that is not an error.
type SpatialMetadata struct {
	FeatureCount   *int64       `json:"feature_count"`
	GeometryType   *string      `json:"geometry_type"`
	Bounds         *BoundingBox `json:"bounds"`
	SRID           *int         `json:"srid"`
	AttributeNames []string     `json:"attribute_names"`
}

// DegradedSpatialMetadata is returned when metadata could not be computed.
func DegradedSpatialMetadata() *SpatialMetadata {
	var zero int64
	return &SpatialMetadata{
		FeatureCount:   &zero,
		AttributeNames: []string{},
	}
}

// PageRequest selects one page of a layer's features.
// Bounds is optional; when set it is an overlap filter, not containment.
// A nil Limit means the maximum page size; zero returns no rows.
type PageRequest struct {
	Bounds *BoundingBox `json:"bounds,omitempty" validate:"omitempty"`
	Limit  *int         `json:"limit,omitempty" validate:"omitempty,gte=0"`
	Offset int          `json:"offset" validate:"gte=0"`
}

// PageLimit returns n as a PageRequest limit.
func PageLimit(n int) *int {
	return &n
}
