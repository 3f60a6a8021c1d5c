// Package apperr defines the error taxonomy shared by the chatbot core.
// Transport handlers map these onto HTTP status codes; nothing in the core
// should surface an untyped failure across a component boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrStorageUnavailable means the backing document store could not be
	// reached. Fatal for the current request, never retried automatically.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound means a referenced conversation or message does not exist
	// or does not belong to the caller.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict means an optimistic save lost the race against a
	// concurrent writer. Store callers retry; it never escapes the store layer.
	ErrVersionConflict = errors.New("document version conflict")

	// ErrPostconditionFailed means a backend reported success but the
	// expected artifact is missing.
	ErrPostconditionFailed = errors.New("postcondition failed")
)

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a named field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RemoteSynthesisError reports a failed remote speech-synthesis call,
// carrying the upstream HTTP status.
type RemoteSynthesisError struct {
	Status int
	Detail string
}

func (e *RemoteSynthesisError) Error() string {
	return fmt.Sprintf("remote synthesis failed: status %d: %s", e.Status, e.Detail)
}

// LocalFailureKind classifies local synthesis backend failures.
type LocalFailureKind string

const (
	LocalFailureMissingDeps    LocalFailureKind = "missing_dependency"
	LocalFailureAccelerator    LocalFailureKind = "accelerator"
	LocalFailureMissingSamples LocalFailureKind = "missing_voice_samples"
	LocalFailureTimeout        LocalFailureKind = "timeout"
	LocalFailureOther          LocalFailureKind = "other"
)

// LocalSynthesisError reports a failed local speech-synthesis subprocess run.
// A timed-out run uses kind LocalFailureTimeout so fallback treats timeouts
// like any other local failure.
type LocalSynthesisError struct {
	Kind     LocalFailureKind
	ExitCode int
	Detail   string
}

func (e *LocalSynthesisError) Error() string {
	return fmt.Sprintf("local synthesis failed (%s, exit %d): %s", e.Kind, e.ExitCode, e.Detail)
}

// IsTimeout reports whether err is a local synthesis timeout.
func IsTimeout(err error) bool {
	var le *LocalSynthesisError
	return errors.As(err, &le) && le.Kind == LocalFailureTimeout
}

// IsSynthesisFailure reports whether err came from either synthesis backend
// and is therefore eligible for the single fallback hop.
func IsSynthesisFailure(err error) bool {
	var re *RemoteSynthesisError
	var le *LocalSynthesisError
	return errors.As(err, &re) || errors.As(err, &le) || errors.Is(err, ErrPostconditionFailed)
}
