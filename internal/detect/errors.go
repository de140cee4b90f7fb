package detect

import (
	"errors"
	"fmt"
)

// Validation and workflow errors. Each is recovered at the operation boundary
// and surfaced as a user-visible message; none changes workflow state.
var (
	ErrFileTooLarge         = errors.New("file exceeds the upload size limit")
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrNoFileSelected       = errors.New("no file selected")
	ErrDetectionBusy        = errors.New("a detection is already in progress")
)

// ServerError reports a failed detector call: a non-2xx response (Status set)
// or a transport failure such as a timeout (Status zero, Err set).
type ServerError struct {
	Status int
	Detail string
	Err    error
}

func (e *ServerError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("detector returned status %d: %s", e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("detector returned status %d", e.Status)
	default:
		return fmt.Sprintf("detector request failed: %v", e.Err)
	}
}

func (e *ServerError) Unwrap() error { return e.Err }
