package service

import (
	"errors"
	"fmt"

	"github.com/andyc1997/kyc-agent/backend/model"
)

// Sentinel errors surfaced by the case pipeline.
var (
	// ErrStoreUnavailable means the case table object could not be
	// fetched or parsed. No record is mutated when this is returned.
	ErrStoreUnavailable = errors.New("case table unavailable")
	// ErrKeyNotFound means an update referenced a client key with no row.
	ErrKeyNotFound = errors.New("client key not found")
	// ErrIncompleteCase means consolidation was attempted before all
	// stages completed.
	ErrIncompleteCase = errors.New("case has incomplete stages")
	// ErrTemplateMissing means the report template artifact is absent.
	ErrTemplateMissing = errors.New("report template missing")
	// ErrDataMissing means the report data artifact is absent.
	ErrDataMissing = errors.New("report data missing")
	// ErrNoCoordinates means geocoding returned nothing for the address.
	ErrNoCoordinates = errors.New("no coordinates found for address")
	// ErrEmptySearchResults means every search query returned no items.
	ErrEmptySearchResults = errors.New("search returned no results")
)

// CollaboratorError reports a failed external stage invocation. The case
// record is left untouched, so the stage stays retryable.
type CollaboratorError struct {
	Stage  model.Stage
	Detail string
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s collaborator failed: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s collaborator failed: %s", e.Stage, e.Detail)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// collabErr wraps err as a CollaboratorError unless it already is one.
func collabErr(stage model.Stage, detail string, err error) error {
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Stage: stage, Detail: detail, Err: err}
}

// RenderError reports a template that could not be rendered against a
// data row (malformed placeholder syntax, not a missing field).
type RenderError struct {
	Object string
	Detail string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %s", e.Object, e.Detail)
}
