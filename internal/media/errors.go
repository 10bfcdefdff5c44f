package media

import (
	"errors"
	"fmt"
)

// Capture failures map to distinct categories so the UI can tell the
// user what to actually do about them.
var (
	ErrPermissionDenied = errors.New("camera/microphone access denied")
	ErrDeviceNotFound   = errors.New("no camera or microphone found")
	ErrDeviceBusy       = errors.New("camera or microphone already in use")
	ErrInsecureContext  = errors.New("media capture requires a secure context")
	ErrOverconstrained  = errors.New("requested media settings not supported by device")
)

// CaptureError wraps a capture failure with the operation that hit it.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Remediation returns user-facing guidance for a capture failure, or ""
// when there is no specific advice.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Allow camera and microphone access in your system settings and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "Connect a camera or microphone and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "Close other applications using the camera or microphone and try again."
	case errors.Is(err, ErrInsecureContext):
		return "Connect to the server over HTTPS/WSS."
	case errors.Is(err, ErrOverconstrained):
		return "Lower the requested resolution or frame rate and try again."
	default:
		return ""
	}
}
