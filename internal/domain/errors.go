package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a claim finds the job no longer pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidPayload is returned when a job payload lacks a required key
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned when no processor is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrProjectNotFound is returned when a package is created under a missing project
	ErrProjectNotFound = errors.New("project not found")

	// ErrPackageNotFound is returned when the package named by a job does not exist
	ErrPackageNotFound = errors.New("package not found")

	// ErrNoDocuments is returned when a package has nothing to render
	ErrNoDocuments = errors.New("no documents found for package")

	// ErrNothingRendered is returned when no page of a package rendered completely
	ErrNothingRendered = errors.New("no sheet rendered for package")

	// ErrEmptyDocument is returned when a downloaded PDF has no content
	ErrEmptyDocument = errors.New("downloaded document is empty")

	// ErrDocumentNotFound is returned by lookups of a missing document row
	ErrDocumentNotFound = errors.New("document not found")
)

// RetryableError wraps transient errors such as an unreachable store.
// The poll loop treats them as an empty poll and tries again next interval.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}
