package syncjob

import "errors"

// Validation failures are rejected synchronously at the API boundary;
// nothing is persisted when any of these is returned.
var (
	ErrNotFound            = errors.New("syncjob: not found")
	ErrEmptyBatch          = errors.New("syncjob: batch contains no items")
	ErrBatchTooLarge       = errors.New("syncjob: batch exceeds maximum size")
	ErrOwnership           = errors.New("syncjob: item not owned by tenant")
	ErrDuplicateSubmission = errors.New("syncjob: item already syncing to target")
)

// IsValidation reports whether err is a caller-visible submission rejection
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrOwnership) ||
		errors.Is(err, ErrDuplicateSubmission)
}
