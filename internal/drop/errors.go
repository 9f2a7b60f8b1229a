package drop

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFiles is returned when an upload carries no non-empty payload.
	ErrNoFiles = errors.New("no files provided")
	// ErrCodeExhausted is returned when no unused share code was found within
	// the configured number of attempts.
	ErrCodeExhausted = errors.New("failed to generate unique code after multiple attempts")
	// ErrNotFound is returned when a code has no records.
	ErrNotFound = errors.New("invalid code or no files found")
	// ErrGone is returned when a batch is already consumed or expired.
	ErrGone = errors.New("link expired or already used")
	// ErrAllLinksFailed is returned when no signed reference could be produced
	// for a batch.
	ErrAllLinksFailed = errors.New("failed to generate download URLs for any files")
	// ErrGroupNotFound is returned for unknown group ids.
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupExists is returned by stores when a group id is already taken.
	ErrGroupExists = errors.New("group already exists")
	// ErrBackendUnavailable matches every BackendError.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ConfigError reports missing backend configuration.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("server configuration error: %s missing", e.Field)
}

// ErrMissingStorageConfig is returned by Upload when no blob store is wired.
var ErrMissingStorageConfig error = &ConfigError{Field: "storage"}

// BlobUploadError aborts a batch when one payload could not be stored.
type BlobUploadError struct {
	Filename string
	Index    int
	Err      error
}

func (e *BlobUploadError) Error() string {
	return fmt.Sprintf("blob upload failed for %s: %v", e.Filename, e.Err)
}

func (e *BlobUploadError) Unwrap() error { return e.Err }

// BackendError wraps a failed or timed out call to a store.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBackendUnavailable) hold for every BackendError.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func unavailable(backend, op string, err error) error {
	return &BackendError{Backend: backend, Op: op, Err: err}
}
