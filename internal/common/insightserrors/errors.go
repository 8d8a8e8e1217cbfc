// Package insightserrors contains the errors returned by the aggregation engine. Callers should use errors.As to
// look through wrapped error chains for these types.
//
// Failures from several concurrent stack computations are collected into a multierror.Error from package
// github.com/hashicorp/go-multierror and returned wrapped in an ErrStackWorker.
package insightserrors

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrInvalidRequest is returned when a filter cannot be compiled, e.g., a missing across dimension, an unsupported
// stack or an invalid sort field. It is always returned before any query is sent to the store.
type ErrInvalidRequest struct {
	Field   string      // Name of the offending field, e.g., "across"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidRequest) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", fmt.Sprint(err.Value), err.Field)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", fmt.Sprint(err.Value), err.Field, err.Message)
}

// ErrUnsupportedDimension is returned by catalog lookups for dimensions not registered for an entity family.
type ErrUnsupportedDimension struct {
	Family    string
	Dimension string
}

func (err *ErrUnsupportedDimension) Error() string {
	return fmt.Sprintf("dimension %q is not supported for %s", err.Dimension, err.Family)
}

// ErrStoreExecution wraps a failure reported by the relational store. The rendered statement is kept so that it can
// be logged next to the error.
type ErrStoreExecution struct {
	Description string
	Sql         string
	Err         error
}

func (err *ErrStoreExecution) Error() string {
	return fmt.Sprintf("error executing %s query: %v", err.Description, err.Err)
}

func (err *ErrStoreExecution) Unwrap() error {
	return err.Err
}

// ErrPartialProfileResolution is raised when profile overrides cannot be loaded. It is never returned to callers;
// the aggregation proceeds without overrides.
type ErrPartialProfileResolution struct {
	ProfileIds []string
	Err        error
}

func (err *ErrPartialProfileResolution) Error() string {
	return fmt.Sprintf("failed to resolve profiles [%s]: %v", strings.Join(err.ProfileIds, ", "), err.Err)
}

func (err *ErrPartialProfileResolution) Unwrap() error {
	return err.Err
}

// ErrStackWorker is returned when at least one nested stack computation fails.
type ErrStackWorker struct {
	Dimension string
	Failures  *multierror.Error
}

func (err *ErrStackWorker) Error() string {
	n := 0
	if err.Failures != nil {
		n = len(err.Failures.Errors)
	}
	return fmt.Sprintf("%d stack computation(s) for %q failed: %v", n, err.Dimension, err.Failures.ErrorOrNil())
}

func (err *ErrStackWorker) Unwrap() error {
	return err.Failures.ErrorOrNil()
}

// IsInvalidRequest returns true if err, or any error it wraps, means the request itself was rejected.
func IsInvalidRequest(err error) bool {
	{
		var e *ErrInvalidRequest
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrUnsupportedDimension
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
