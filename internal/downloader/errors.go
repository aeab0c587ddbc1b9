package downloader

import (
	"errors"
	"fmt"
)

// ErrUnknownSize is returned when the size probe reports zero bytes. It is
// permanent: the download is abandoned without retrying.
var ErrUnknownSize = errors.New("file size cannot be determined")

// RetriesExhaustedError is returned when every attempt of a download failed.
type RetriesExhaustedError struct {
	File     string // Artifact file name
	Attempts int    // Number of attempts made
	Err      error  // Error of the last attempt
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts to download %s failed: %v", e.Attempts, e.File, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
