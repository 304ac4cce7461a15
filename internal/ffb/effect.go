// Package ffb carries force feedback effects from the virtual controller
// back to the physical wheel. Host-reported raw parameters are decoded into
// a canonical form, re-encoded in the wheel's native units and tracked per
// host effect id so updates never consume a second wheel slot.
package ffb

import (
	"math"

	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

// Host effect type codes, as reported in vpad.RawEffect.Type.
const (
	typeRumble   = 0x50
	typePeriodic = 0x51
	typeConstant = 0x52
	typeSpring   = 0x53
	typeDamper   = 0x55
	typeRamp     = 0x57
)

// EffectCommand is the canonical, unit-normalized description of one
// effect: magnitudes in [-1,1], direction in degrees, durations in
// milliseconds.
type EffectCommand struct {
	Kind         device.EffectKind
	Magnitude    float64 // signed strength, or ramp start
	EndMagnitude float64 // ramp end
	DirectionDeg float64 // 0..360, 90 = left pull on a wheel
	DurationMs   uint32  // 0 = play until stopped
	PeriodMs     uint32
	Coeff        float64 // spring/damper strength
	Saturation   float64
	Envelope     EnvelopeCommand
}

// EnvelopeCommand shapes attack and fade in canonical units.
type EnvelopeCommand struct {
	AttackMs    uint32
	AttackLevel float64
	FadeMs      uint32
	FadeLevel   float64
}

// Decode turns a host raw effect into the canonical command. Rumble pairs
// collapse into a single signed constant pull: the strong motor drives the
// magnitude and the weak motor subtracts from it, so a weak-only buzz
// produces a light counter-pull rather than nothing.
func Decode(raw vpad.RawEffect) EffectCommand {
	cmd := EffectCommand{
		DirectionDeg: float64(raw.Direction) * 360.0 / 65536.0,
		DurationMs:   uint32(raw.DurationMs),
		Envelope: EnvelopeCommand{
			AttackMs:    uint32(raw.AttackLengthMs),
			AttackLevel: float64(raw.AttackLevel) / 0x7fff,
			FadeMs:      uint32(raw.FadeLengthMs),
			FadeLevel:   float64(raw.FadeLevel) / 0x7fff,
		},
	}

	switch raw.Type {
	case typeRumble:
		strong := float64(raw.StrongMagnitude) / 0xffff
		weak := float64(raw.WeakMagnitude) / 0xffff
		cmd.Kind = device.EffectConstant
		cmd.Magnitude = clamp(strong - weak)
	case typeConstant:
		cmd.Kind = device.EffectConstant
		cmd.Magnitude = clamp(float64(raw.Level) / 0x7fff)
	case typePeriodic:
		cmd.Kind = device.EffectPeriodic
		cmd.Magnitude = clamp(float64(raw.Level) / 0x7fff)
		cmd.PeriodMs = uint32(raw.PeriodMs)
	case typeRamp:
		cmd.Kind = device.EffectRamp
		cmd.Magnitude = clamp(float64(raw.Level) / 0x7fff)
		cmd.EndMagnitude = clamp(float64(raw.EndLevel) / 0x7fff)
	case typeSpring, typeDamper:
		cmd.Kind = device.EffectSpring
		cmd.Coeff = clamp(float64(raw.Coeff) / 0x7fff)
		cmd.Saturation = float64(raw.Saturation) / 0xffff
	default:
		// Unknown types degrade to a constant pull of the reported level.
		cmd.Kind = device.EffectConstant
		cmd.Magnitude = clamp(float64(raw.Level) / 0x7fff)
	}
	return cmd
}

// Encode converts a canonical command into the wheel's native parameter
// block: signed 16-bit levels, 0..0xffff direction, millisecond durations.
func Encode(cmd EffectCommand) device.EffectParams {
	return device.EffectParams{
		Kind:       cmd.Kind,
		Level:      level16(cmd.Magnitude),
		EndLevel:   level16(cmd.EndMagnitude),
		Direction:  uint16(cmd.DirectionDeg / 360.0 * 65536.0),
		DurationMs: clampMs(cmd.DurationMs),
		PeriodMs:   clampMs(cmd.PeriodMs),
		Coeff:      level16(cmd.Coeff),
		Saturation: uint16(math.Round(clamp01(cmd.Saturation) * 0xffff)),
		Envelope: device.Envelope{
			AttackLengthMs: clampMs(cmd.Envelope.AttackMs),
			AttackLevel:    uint16(math.Round(clamp01(cmd.Envelope.AttackLevel) * 0x7fff)),
			FadeLengthMs:   clampMs(cmd.Envelope.FadeMs),
			FadeLevel:      uint16(math.Round(clamp01(cmd.Envelope.FadeLevel) * 0x7fff)),
		},
	}
}

func level16(v float64) int16 {
	return int16(math.Round(clamp(v) * 0x7fff))
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func clampMs(v uint32) uint16 {
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}
