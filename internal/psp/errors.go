package psp

import (
	"errors"
	"fmt"
)

// CaptureError marks a failed capture call. The dispatcher treats it as
// recoverable: the notification is rescheduled instead of abandoned.
type CaptureError struct {
	PSPReference string
	Err          error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("psp: capture failed for %s: %v", e.PSPReference, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// IsCaptureError reports whether the error chain contains a CaptureError.
func IsCaptureError(err error) bool {
	var target *CaptureError
	return errors.As(err, &target)
}
