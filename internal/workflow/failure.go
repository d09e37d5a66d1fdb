package workflow

import (
	"errors"
	"fmt"

	"github.com/montagehq/montage/internal/client"
	"github.com/montagehq/montage/internal/media"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	ErrNothingSelected    = errors.New("no media selected")
	ErrClosed             = errors.New("workflow closed")
	ErrNotTracking        = errors.New("no job is being tracked")
)

type FailureKind string

const (
	FailureUnsupportedType   FailureKind = "unsupported_type"
	FailureArchiveExtraction FailureKind = "archive_extraction"
	FailureEmptyArchive      FailureKind = "empty_archive"
	FailureSubmission        FailureKind = "submission"
	FailureProcessing        FailureKind = "processing"
	FailureStalled           FailureKind = "stalled"
)

// Failure is the user facing outcome of a failed step. Every kind carries its
// own message.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.err
}

func newSelectionFailure(err error) *Failure {
	var (
		unsupported *media.ErrUnsupportedFileType
		empty       *media.ErrEmptyArchive
		extraction  *media.ErrArchiveExtraction
	)
	switch {
	case errors.As(err, &unsupported):
		return &Failure{Kind: FailureUnsupportedType, Message: err.Error(), err: err}
	case errors.As(err, &empty):
		return &Failure{Kind: FailureEmptyArchive, Message: err.Error(), err: err}
	case errors.As(err, &extraction):
		return &Failure{Kind: FailureArchiveExtraction, Message: err.Error(), err: err}
	default:
		return &Failure{Kind: FailureArchiveExtraction, Message: fmt.Sprintf("could not extract archive: %v", err), err: err}
	}
}

func newSubmissionFailure(err error) *Failure {
	reason := err.Error()
	var statusErr *client.ErrUnexpectedStatus
	if errors.As(err, &statusErr) {
		reason = statusErr.Reason()
	}
	return &Failure{Kind: FailureSubmission, Message: fmt.Sprintf("upload failed: %s", reason), err: err}
}

func newProcessingFailure(serverError string) *Failure {
	if serverError == "" {
		return &Failure{Kind: FailureProcessing, Message: "processing failed"}
	}
	return &Failure{Kind: FailureProcessing, Message: fmt.Sprintf("processing failed: %s", serverError)}
}

func newStalledFailure(jobID string) *Failure {
	return &Failure{
		Kind:    FailureStalled,
		Message: fmt.Sprintf("job %s is taking longer than expected, check back later", jobID),
	}
}
