package model

import (
	"errors"
	"fmt"
)

// ErrOutOfScope marks a location that resolved cleanly but falls outside the
// configured region scope. Callers drop and count these rows; they are not
// failures.
var ErrOutOfScope = errors.New("location outside configured region scope")

// ParseError reports a malformed or missing field in a single source row.
// The row is skipped and counted; parsing continues.
type ParseError struct {
	Source SourceID
	RowRef string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: row %s: field %q: %s", e.Source, e.RowRef, e.Field, e.Reason)
}

// UnresolvableLocationError reports a location no reference table or boundary
// lookup could place. The record is skipped and counted.
type UnresolvableLocationError struct {
	Source   SourceID
	Location string
}

func (e *UnresolvableLocationError) Error() string {
	return fmt.Sprintf("%s: unresolvable location %q", e.Source, e.Location)
}

// ValidationError reports a fused record that violated a quality rule. The
// record moves to the rejected set; validation continues.
type ValidationError struct {
	Rule   string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rule %s: field %q: %s", e.Rule, e.Field, e.Detail)
}

// SystemicError reports a condition that invalidates the whole run, such as
// a missing reference table or an unreadable input directory.
type SystemicError struct {
	Reason string
	Err    error
}

func (e *SystemicError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("systemic failure: %s: %v", e.Reason, e.Err)
	}
	return "systemic failure: " + e.Reason
}

func (e *SystemicError) Unwrap() error {
	return e.Err
}
