// Package apperr defines the error taxonomy surfaced to cleaners. Every type
// carries a displayable message; none of them is fatal.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInFlight is returned when the same action is already running for the same target.
	ErrInFlight = errors.New("action already in progress")
	// ErrAbandoned is returned when the caller went away before the result could be applied.
	ErrAbandoned = errors.New("operation abandoned by caller")
)

// AuthError is a sign-in or session failure. Message is shown verbatim.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Err }

// NotFound reports a job or task that does not resolve for the current cleaner.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UploadKind classifies where a photo upload failed.
type UploadKind string

const (
	UploadTranscodeFailed    UploadKind = "transcode_failed"
	UploadEmptyPayload       UploadKind = "empty_payload"
	UploadBucketMissing      UploadKind = "bucket_missing"
	UploadCredentialFailed   UploadKind = "credential_failed"
	UploadStoreUploadFailed  UploadKind = "store_upload_failed"
	UploadRecordInsertFailed UploadKind = "record_insert_failed"
)

// UploadError wraps a failed pipeline step with enough context to offer a retry.
type UploadError struct {
	Kind      UploadKind
	JobID     string
	PhotoKind string
	Step      string
	Err       error
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload %s photo for job %s failed at %s (%s)", e.PhotoKind, e.JobID, e.Step, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error { return e.Err }

// TransitionError reports a failed persistence call for a lifecycle action.
// Local state is unchanged; the same action may be retried.
type TransitionError struct {
	Op    string
	JobID string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// StoreError is a failed relational read. The store's own text is kept for display.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError is a local, pre-network rejection.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UploadKindOf returns the upload failure kind, if err is an UploadError.
func UploadKindOf(err error) (UploadKind, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return "", false
}
