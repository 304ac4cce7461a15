// Package device is the platform abstraction over physical wheel hardware:
// enumeration, exclusive open, bounded-latency input polling and the native
// force feedback command set. One backend exists per target OS.
package device

import (
	"fmt"
	"time"
)

// AxisRole is the semantic meaning assigned to a raw axis.
type AxisRole string

const (
	RoleSteering AxisRole = "steering"
	RoleThrottle AxisRole = "throttle"
	RoleBrake    AxisRole = "brake"
	RoleClutch   AxisRole = "clutch"
	RoleUnmapped AxisRole = "unmapped"
)

// AxisInfo describes one raw axis as reported by the hardware.
type AxisInfo struct {
	Code   uint16   `json:"code"`
	RawMin int32    `json:"rawMin"`
	RawMax int32    `json:"rawMax"`
	Role   AxisRole `json:"role"`
}

// Info identifies an enumerated physical device and its capabilities.
type Info struct {
	VendorID      uint16     `json:"vendorId"`
	ProductID     uint16     `json:"productId"`
	Path          string     `json:"path"`
	Name          string     `json:"name"`
	Axes          []AxisInfo `json:"axes"`
	Buttons       int        `json:"buttons"`
	ForceFeedback bool       `json:"forceFeedback"`
	FFSlots       int        `json:"ffSlots"`
}

// Key returns the identity used to match a reappearing device after a
// disconnect and to key stored calibration profiles.
func (i Info) Key() string {
	return fmt.Sprintf("%04x:%04x", i.VendorID, i.ProductID)
}

// Sample is one raw input snapshot: current value per axis code plus a
// button bitset indexed by button number.
type Sample struct {
	Axes    map[uint16]int32
	Buttons uint32
}

// EffectKind selects one of the natively supported effect families.
type EffectKind uint8

const (
	EffectConstant EffectKind = iota
	EffectPeriodic
	EffectSpring
	EffectRamp
)

// Envelope shapes effect attack and fade, all values in native units
// (milliseconds and 0..0x7fff levels).
type Envelope struct {
	AttackLengthMs uint16
	AttackLevel    uint16
	FadeLengthMs   uint16
	FadeLevel      uint16
}

// EffectParams are force feedback parameters in the wheel's native units:
// signed 16-bit levels, direction as a 16-bit full circle (0x4000 = 90°),
// durations in milliseconds with zero meaning "play until stopped".
type EffectParams struct {
	Kind       EffectKind
	Level      int16  // constant force level or periodic magnitude
	EndLevel   int16  // ramp end level
	Direction  uint16 // 0..0xffff over a full turn
	DurationMs uint16 // 0 = infinite
	PeriodMs   uint16 // periodic only
	Coeff      int16  // spring/damper coefficient
	Saturation uint16 // spring/damper clip level
	Envelope   Envelope
}

// EffectHandle names one uploaded effect on the physical device. Handles are
// small integers drawn from the device's fixed slot pool.
type EffectHandle int16

// Backend enumerates and opens physical devices for one platform.
type Backend interface {
	// Enumerate lists candidate wheel devices currently attached.
	Enumerate() ([]Info, error)
	// Open claims the device at path for exclusive use.
	Open(path string) (Device, error)
}

// Device is an open, exclusively held physical wheel.
type Device interface {
	Info() Info

	// PollInput blocks for at most timeout waiting for fresh input and
	// returns the current raw sample. Returns ErrDisconnected when the
	// hardware is gone and ErrIO on transient read failures.
	PollInput(timeout time.Duration) (Sample, error)

	// UploadEffect allocates a slot and loads the effect onto the device.
	// Returns ErrResourceExhausted when the slot pool is full.
	UploadEffect(p EffectParams) (EffectHandle, error)
	// UpdateEffect re-parameterizes an already uploaded effect in place.
	UpdateEffect(h EffectHandle, p EffectParams) error
	PlayEffect(h EffectHandle) error
	// StopEffect halts the effect and releases its slot. Stopping an
	// unknown handle is a no-op.
	StopEffect(h EffectHandle) error

	// Close stops all effects, releases exclusive access and closes the
	// handle. Always releases, even when individual steps fail.
	Close() error
}
