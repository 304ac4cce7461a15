// Package vpad creates and drives the OS-level virtual gamepad the host
// application sees, and surfaces the force feedback effect events the host
// sends back to it.
package vpad

import "errors"

var (
	ErrDriverUnavailable = errors.New("virtual controller driver unavailable")
	ErrCreateFailed      = errors.New("virtual controller creation failed")
	ErrPermissionDenied  = errors.New("virtual controller permission denied")
)

// Button bits of the published gamepad state.
type Button uint32

const (
	ButtonA Button = 1 << iota
	ButtonB
	ButtonX
	ButtonY
	ButtonLB
	ButtonRB
	ButtonBack
	ButtonStart
	ButtonGuide
	ButtonThumbL
	ButtonThumbR
	ButtonDpadUp
	ButtonDpadDown
	ButtonDpadLeft
	ButtonDpadRight
)

// State is one complete gamepad frame. It is produced fresh every tick and
// handed over by value, so a consumer never sees a half-updated frame.
type State struct {
	LeftStickX   float64 `json:"leftStickX"`
	LeftStickY   float64 `json:"leftStickY"`
	RightStickX  float64 `json:"rightStickX"`
	RightStickY  float64 `json:"rightStickY"`
	LeftTrigger  float64 `json:"leftTrigger"`
	RightTrigger float64 `json:"rightTrigger"`
	Buttons      Button  `json:"buttons"`
}

// EffectEventKind classifies host force feedback activity.
type EffectEventKind uint8

const (
	// EffectUpload is a new effect the host started playing.
	EffectUpload EffectEventKind = iota
	// EffectUpdate re-parameterizes an effect the host already uploaded.
	EffectUpdate
	// EffectStop ends one effect.
	EffectStop
	// HostDisconnected means the host released the virtual controller;
	// everything outstanding on the wheel must be stopped.
	HostDisconnected
)

func (k EffectEventKind) String() string {
	switch k {
	case EffectUpload:
		return "upload"
	case EffectUpdate:
		return "update"
	case EffectStop:
		return "stop"
	case HostDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// RawEffect carries the backend-reported effect parameters before unit
// conversion. The field layout follows the Linux ff_effect union; the
// Windows backend up-converts its rumble percentages into the same shape.
type RawEffect struct {
	Type            uint16 // native effect type code (FF_* on Linux)
	Direction       uint16 // 0..0xffff over a full turn
	DurationMs      uint16 // 0 = infinite
	Level           int16  // constant level / periodic magnitude / ramp start
	EndLevel        int16  // ramp end
	StrongMagnitude uint16 // rumble
	WeakMagnitude   uint16 // rumble
	PeriodMs        uint16
	Coeff           int16 // spring/damper
	Saturation      uint16
	AttackLengthMs  uint16
	AttackLevel     uint16
	FadeLengthMs    uint16
	FadeLevel       uint16
}

// EffectEvent is one host-side effect lifecycle event, keyed by the effect
// id the host assigned.
type EffectEvent struct {
	Kind   EffectEventKind
	ID     int16
	Effect RawEffect
}

// Controller is an OS-level virtual gamepad.
type Controller interface {
	// Publish pushes the latest frame to the OS. Must return well within
	// one polling tick.
	Publish(State) error
	// Effects yields host effect events in arrival order. The channel is
	// closed after a HostDisconnected event or on Destroy.
	Effects() <-chan EffectEvent
	// Destroy removes the virtual device. Safe to call more than once.
	Destroy() error
}
