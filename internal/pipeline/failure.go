package pipeline

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	// ErrTaskNotFound is returned when a task cannot be found by ID.
	ErrTaskNotFound = errors.New("pipeline: task not found")
	// ErrFormBusy is returned when a creation form already has an operation in flight.
	ErrFormBusy = errors.New("pipeline: an upload is already in progress for this form")
	// ErrInvalidSubmission is returned for submissions missing an owner or with an unknown type.
	ErrInvalidSubmission = errors.New("pipeline: invalid submission")
	// ErrNotAwaitingReplacement is returned when a replacement arrives for a task not waiting for one.
	ErrNotAwaitingReplacement = errors.New("pipeline: task is not awaiting a replacement asset")
	// ErrTransferInFlight is returned when cancelling a task whose transfer already started.
	ErrTransferInFlight = errors.New("pipeline: transfer already in flight")
	// ErrAlreadyFinished is returned when acting on a task in a terminal state.
	ErrAlreadyFinished = errors.New("pipeline: task already finished")
)

// FailureKind classifies how an operation ended unsuccessfully.
type FailureKind string

const (
	// KindValidation is a policy violation; the user must change the input.
	KindValidation FailureKind = "validation"
	// KindQuota is a rate-limit, duplicate or showcase-cap denial.
	KindQuota FailureKind = "quota"
	// KindTransform is a mandatory transformation that failed.
	KindTransform FailureKind = "transform"
	// KindTransfer is an upload that failed after every retry.
	KindTransfer FailureKind = "transfer"
	// KindCommit is a metadata write that failed after the upload.
	KindCommit FailureKind = "commit"
	// KindCancelled is an abandoned operation.
	KindCancelled FailureKind = "cancelled"
)

// Reasons that are not produced by the validator or the quota guard.
const (
	ReasonQuotaUnavailable = "QUOTA_UNAVAILABLE"
	ReasonTransformFailed  = "TRANSFORM_FAILED"
	ReasonTransferFailed   = "TRANSFER_FAILED"
	ReasonCommitFailed     = "COMMIT_FAILED"
	ReasonMediaRequired    = "MEDIA_REQUIRED"
	ReasonCancelled        = "CANCELLED"
)

// Failure is the typed outcome of an unsuccessful operation.
type Failure struct {
	Kind FailureKind
	// Reason is the enumerated reason, for example TOO_LARGE or DUPLICATE.
	Reason string
	// Detail is a human readable explanation.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s failed: %s", f.Kind, f.Reason)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message returns the text shown to the user.
func (f *Failure) Message() string {
	switch f.Kind {
	case KindTransfer:
		return "Upload failed. Check your connection and try again."
	case KindCommit:
		return "Your media was uploaded but the post could not be saved. Please try again."
	case KindCancelled:
		return "Upload cancelled."
	}
	if f.Detail != "" {
		return f.Detail
	}
	return string(f.Kind) + " failed"
}
