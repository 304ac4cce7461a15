// Package calibration learns per-axis range, center and deadzone from
// observed wheel motion and turns raw hardware samples into normalized
// control values.
package calibration

import (
	"errors"
	"fmt"
	"math"
)

var ErrInsufficientMovement = errors.New("insufficient axis movement during calibration")

// AxisCalibration holds the normalization parameters of one axis.
// Invariants: EffectiveMin <= Center <= EffectiveMax and
// 0 <= Deadzone < (EffectiveMax-EffectiveMin)/2.
type AxisCalibration struct {
	Center       float64 `json:"center"`
	Deadzone     float64 `json:"deadzone"`
	EffectiveMin float64 `json:"effectiveMin"`
	EffectiveMax float64 `json:"effectiveMax"`
	Inverted     bool    `json:"inverted"`
}

func (a AxisCalibration) validate() error {
	if a.EffectiveMin > a.Center || a.Center > a.EffectiveMax {
		return fmt.Errorf("center %v outside effective range [%v, %v]",
			a.Center, a.EffectiveMin, a.EffectiveMax)
	}
	if a.Deadzone < 0 || a.Deadzone >= (a.EffectiveMax-a.EffectiveMin)/2 {
		return fmt.Errorf("deadzone %v out of bounds for range [%v, %v]",
			a.Deadzone, a.EffectiveMin, a.EffectiveMax)
	}
	return nil
}

// Normalize maps a raw sample to [-1, 1]. Values within the deadzone of
// center map to exactly 0; values beyond the effective range clamp to ±1;
// everything between is linear.
func (a AxisCalibration) Normalize(raw float64) float64 {
	d := raw - a.Center
	var n float64
	switch {
	case math.Abs(d) <= a.Deadzone:
		n = 0
	case d > 0:
		span := a.EffectiveMax - a.Center - a.Deadzone
		if span <= 0 {
			n = 1
		} else {
			n = math.Min((d-a.Deadzone)/span, 1)
		}
	default:
		span := a.Center - a.EffectiveMin - a.Deadzone
		if span <= 0 {
			n = -1
		} else {
			n = math.Max((d+a.Deadzone)/span, -1)
		}
	}
	if a.Inverted {
		n = -n
	}
	return n
}

// NormalizeTrigger maps a raw pedal sample to [0, 1] over the effective
// range. Pedals have no center; the deadzone is not applied.
func (a AxisCalibration) NormalizeTrigger(raw float64) float64 {
	span := a.EffectiveMax - a.EffectiveMin
	if span <= 0 {
		return 0
	}
	n := (raw - a.EffectiveMin) / span
	n = math.Min(math.Max(n, 0), 1)
	if a.Inverted {
		n = 1 - n
	}
	return n
}

// Profile is the immutable calibration result for one device. It is
// replaced wholesale on re-calibration, never mutated in place.
type Profile struct {
	DeviceKey  string                     `json:"deviceKey"`
	DeviceName string                     `json:"deviceName"`
	Axes       map[uint16]AxisCalibration `json:"axes"`
}

// Axis returns the calibration for an axis code, if present.
func (p *Profile) Axis(code uint16) (AxisCalibration, bool) {
	a, ok := p.Axes[code]
	return a, ok
}
