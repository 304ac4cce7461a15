package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/soar/wheelbridge/internal/device"
)

// Options control profile derivation. The deadzone fraction and safety
// margin are policy knobs surfaced through configuration; defaults follow
// DefaultOptions.
type Options struct {
	// DeadzoneFrac is the deadzone radius as a fraction of an axis's
	// half-range.
	DeadzoneFrac float64
	// MarginFrac shrinks the effective range inward from the observed
	// extremes by this fraction of the observed span.
	MarginFrac float64
	// MinMovementFrac is the minimum observed span, as a fraction of the
	// hardware-reported range, below which a role-mapped axis counts as
	// degenerate.
	MinMovementFrac float64
}

func DefaultOptions() Options {
	return Options{
		DeadzoneFrac:    0.03,
		MarginFrac:      0,
		MinMovementFrac: 0.1,
	}
}

type axisObservation struct {
	info     device.AxisInfo
	min, max int32
	restSum  float64
	restN    int
	seen     bool
}

// Calibrator accumulates raw samples while the operator exercises the full
// range of motion, then derives an immutable Profile.
type Calibrator struct {
	opts Options
	key  string
	name string
	obs  map[uint16]*axisObservation
}

func NewCalibrator(info device.Info, opts Options) *Calibrator {
	c := &Calibrator{
		opts: opts,
		key:  info.Key(),
		name: info.Name,
		obs:  make(map[uint16]*axisObservation, len(info.Axes)),
	}
	for _, a := range info.Axes {
		c.obs[a.Code] = &axisObservation{info: a}
	}
	return c
}

// ObserveResting accumulates samples taken while the controls are at rest;
// their average becomes the axis center.
func (c *Calibrator) ObserveResting(s device.Sample) {
	for code, raw := range s.Axes {
		o, ok := c.obs[code]
		if !ok {
			continue
		}
		o.restSum += float64(raw)
		o.restN++
	}
	c.Observe(s)
}

// Observe widens the observed min/max with a movement-phase sample.
func (c *Calibrator) Observe(s device.Sample) {
	for code, raw := range s.Axes {
		o, ok := c.obs[code]
		if !ok {
			continue
		}
		if !o.seen {
			o.min, o.max = raw, raw
			o.seen = true
			continue
		}
		if raw < o.min {
			o.min = raw
		}
		if raw > o.max {
			o.max = raw
		}
	}
}

// Finish derives the profile. Role-mapped axes whose observed span stays
// under the movement threshold fail the whole calibration, since a stuck
// axis would otherwise normalize garbage.
func (c *Calibrator) Finish() (*Profile, error) {
	p := &Profile{
		DeviceKey:  c.key,
		DeviceName: c.name,
		Axes:       make(map[uint16]AxisCalibration, len(c.obs)),
	}
	for code, o := range c.obs {
		if !o.seen {
			if o.info.Role != device.RoleUnmapped {
				return nil, fmt.Errorf("%w: axis %d (%s) never sampled", ErrInsufficientMovement, code, o.info.Role)
			}
			continue
		}
		span := float64(o.max - o.min)
		if o.info.Role != device.RoleUnmapped {
			reported := float64(o.info.RawMax - o.info.RawMin)
			threshold := reported * c.opts.MinMovementFrac
			if threshold <= 0 {
				threshold = 16
			}
			if span < threshold {
				return nil, fmt.Errorf("%w: axis %d (%s) moved %v of %v", ErrInsufficientMovement, code, o.info.Role, span, reported)
			}
		}

		margin := span * c.opts.MarginFrac
		a := AxisCalibration{
			EffectiveMin: float64(o.min) + margin,
			EffectiveMax: float64(o.max) - margin,
		}
		if o.restN > 0 {
			a.Center = o.restSum / float64(o.restN)
		} else {
			a.Center = (a.EffectiveMin + a.EffectiveMax) / 2
		}

		// A released pedal should rest near its minimum. Resting near the
		// maximum means the axis reports backwards, so flip it.
		switch o.info.Role {
		case device.RoleThrottle, device.RoleBrake, device.RoleClutch:
			if o.restN > 0 && a.Center > (a.EffectiveMin+a.EffectiveMax)/2 {
				a.Inverted = true
			}
		}
		if a.Center < a.EffectiveMin {
			a.Center = a.EffectiveMin
		}
		if a.Center > a.EffectiveMax {
			a.Center = a.EffectiveMax
		}
		a.Deadzone = (a.EffectiveMax - a.EffectiveMin) / 2 * c.opts.DeadzoneFrac
		if err := a.validate(); err != nil {
			return nil, fmt.Errorf("axis %d: %w", code, err)
		}
		p.Axes[code] = a
	}
	return p, nil
}

// readRetries bounds consecutive transient IO failures during a calibration
// read, mirroring the tolerance of the steady-state polling loop.
const readRetries = 3

// Calibrate runs a timed calibration pass against an open device: a short
// resting phase to learn centers, then range observation for the remainder
// of the window.
func Calibrate(ctx context.Context, dev device.Device, window time.Duration, opts Options) (*Profile, error) {
	c := NewCalibrator(dev.Info(), opts)

	restUntil := time.Now().Add(window / 5)
	deadline := time.Now().Add(window)
	log.Printf("Calibrating %s: keep controls at rest, then exercise full range of motion", dev.Info().Name)

	failures := 0
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := dev.PollInput(20 * time.Millisecond)
		if err != nil {
			if errors.Is(err, device.ErrIO) && failures < readRetries {
				failures++
				continue
			}
			return nil, err
		}
		failures = 0
		if time.Now().Before(restUntil) {
			c.ObserveResting(s)
		} else {
			c.Observe(s)
		}
	}
	return c.Finish()
}
