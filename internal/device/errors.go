package device

import "errors"

// Device errors. Backends translate their native failure codes into these
// sentinels so the rest of the bridge can match with errors.Is.
var (
	ErrNotFound          = errors.New("device not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrAlreadyOpen       = errors.New("device already open")
	ErrDisconnected      = errors.New("device disconnected")
	ErrIO                = errors.New("device io error")
	ErrUnsupported       = errors.New("operation not supported by device")
	ErrResourceExhausted = errors.New("no free force feedback slot")
)
