package services

import "errors"

// Per-row, per-SKU and per-job failure kinds. None of them aborts a job.
var (
	ErrMalformedRow    = errors.New("malformed row")
	ErrNoCatalogRecord = errors.New("no catalog record for SKU")
	ErrUploadFailure   = errors.New("image upload failed")
	ErrLinkFailure     = errors.New("variant link failed")
	ErrJobIOFailure    = errors.New("job artifact io failure")
	ErrEmptyFile       = errors.New("file has no header row")
)

// ErrJobLeased is returned by Pipeline.Run when another worker holds a live
// lease on the job. The delivery should be retried later, not acknowledged.
var ErrJobLeased = errors.New("job is held by another worker")

// Errors returned by the job service to the HTTP layer.
var (
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrJobNotCancellable = errors.New("job already finished")
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }
