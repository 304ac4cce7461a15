// Package bridge owns the session lifecycle: it finds a wheel, gets it
// calibrated, stands up the virtual gamepad and keeps the input and force
// feedback paths running through disconnects and reconnects.
package bridge

import (
	"time"

	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

// State of the bridge session.
type State int

const (
	// StateIdle means no wheel has been found yet.
	StateIdle State = iota
	// StateEnumerated means a wheel was found but is not serving input yet.
	StateEnumerated
	// StateCalibrating means the calibration wizard is sampling the wheel.
	StateCalibrating
	// StateActive means input and force feedback are flowing.
	StateActive
	// StateSuspended means the wheel vanished and may reconnect within the
	// grace period. The virtual gamepad stays up with its last frame.
	StateSuspended
	// StateTerminated is final.
	StateTerminated
	// StateError is final: the virtual controller driver is unusable.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerated:
		return "enumerated"
	case StateCalibrating:
		return "calibrating"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Status is a point-in-time snapshot of the session, published to the
// diagnostics hub on every change and periodically while active.
type Status struct {
	State         string       `json:"state"`
	Device        *device.Info `json:"device,omitempty"`
	Calibrated    bool         `json:"calibrated"`
	Frame         *vpad.State  `json:"frame,omitempty"`
	ActiveEffects int          `json:"activeEffects"`
	Message       string       `json:"message,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

func newStatus(state State) Status {
	return Status{State: state.String(), Timestamp: time.Now().UnixMilli()}
}
