package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestUploadError_MessageCarriesContext(t *testing.T) {
	err := &apperr.UploadError{
		Kind:      apperr.UploadBucketMissing,
		JobID:     "job-1",
		PhotoKind: "before",
		Step:      "probe_bucket",
		Err:       errors.New(`bucket "photos" not found`),
	}

	msg := err.Error()
	assert.Contains(t, msg, "job-1")
	assert.Contains(t, msg, "before")
	assert.Contains(t, msg, "probe_bucket")
	assert.Contains(t, msg, "bucket_missing")
	assert.Contains(t, msg, `bucket "photos" not found`)
}

func TestUploadKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", &apperr.UploadError{Kind: apperr.UploadEmptyPayload})

	kind, ok := apperr.UploadKindOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperr.UploadEmptyPayload, kind)

	_, ok = apperr.UploadKindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestTransitionError_Unwraps(t *testing.T) {
	cause := errors.New("permission denied")
	err := &apperr.TransitionError{Op: "check_in", JobID: "j", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "check_in job j: permission denied", err.Error())
}

func TestStoreError_KeepsStoreText(t *testing.T) {
	cause := errors.New("permission denied for table jobs")
	err := fmt.Errorf("loading: %w", &apperr.StoreError{Op: "listing upcoming jobs", Err: cause})

	var se *apperr.StoreError
	assert.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "listing upcoming jobs: permission denied for table jobs", se.Error())
}
