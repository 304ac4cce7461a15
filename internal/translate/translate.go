// Package translate polls the physical wheel, normalizes its axes through
// the calibration profile and publishes complete gamepad frames to the
// virtual controller.
package translate

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soar/wheelbridge/internal/calibration"
	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

// Default loop rate. 8ms keeps the frame stream at 125Hz.
const DefaultInterval = 8 * time.Millisecond

// ErrDeviceLost is returned by Run when the wheel stops answering and the
// retry budget is exhausted.
var ErrDeviceLost = errors.New("wheel device lost")

// Mapping fixes which wheel controls land on which gamepad controls.
// Steering goes to the left stick X, throttle and brake to the triggers
// and the clutch to the left stick Y. Shift paddles, when present, come
// out as the Y and X face buttons; every other wheel button fills the
// remaining gamepad buttons in index order.
var buttonOrder = []vpad.Button{
	vpad.ButtonA, vpad.ButtonB, vpad.ButtonLB, vpad.ButtonRB,
	vpad.ButtonBack, vpad.ButtonStart, vpad.ButtonGuide,
	vpad.ButtonThumbL, vpad.ButtonThumbR,
	vpad.ButtonDpadUp, vpad.ButtonDpadDown, vpad.ButtonDpadLeft, vpad.ButtonDpadRight,
}

const (
	// Wheel button indexes treated as shift paddles.
	ShiftUpButton   = 4
	ShiftDownButton = 5
)

// Translator runs the wheel-to-gamepad input path.
type Translator struct {
	dev      device.Device
	pad      vpad.Controller
	interval time.Duration
	retries  int

	profile atomic.Pointer[calibration.Profile]

	mu    sync.Mutex
	last  vpad.State
	valid bool
}

// New builds a Translator. maxRetries bounds how many consecutive transient
// read failures are tolerated before the device counts as lost.
func New(dev device.Device, pad vpad.Controller, profile *calibration.Profile, interval time.Duration, maxRetries int) *Translator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Translator{dev: dev, pad: pad, interval: interval, retries: maxRetries}
	t.profile.Store(profile)
	return t
}

// SetProfile swaps the calibration profile. Takes effect on the next tick.
func (t *Translator) SetProfile(p *calibration.Profile) {
	t.profile.Store(p)
}

// Last returns the most recently published frame, and whether one exists.
func (t *Translator) Last() (vpad.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.valid
}

// Run polls and publishes until the context ends or the device is lost.
// On loss it returns ErrDeviceLost without publishing a stale or zeroed
// frame; whatever frame the host saw last simply stays in place.
func (t *Translator) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sample, err := t.dev.PollInput(t.interval)
		if err != nil {
			if errors.Is(err, device.ErrDisconnected) {
				return ErrDeviceLost
			}
			failures++
			if failures > t.retries {
				log.Printf("wheel read failed %d times: %v", failures, err)
				return ErrDeviceLost
			}
			continue
		}
		failures = 0

		state := t.mapSample(sample)
		t.mu.Lock()
		t.last = state
		t.valid = true
		t.mu.Unlock()

		if err := t.pad.Publish(state); err != nil {
			log.Printf("publish frame: %v", err)
		}
	}
}

// mapSample converts one raw wheel sample into a gamepad frame.
func (t *Translator) mapSample(s device.Sample) vpad.State {
	var out vpad.State
	prof := t.profile.Load()

	for code, raw := range s.Axes {
		cal, role, ok := lookupAxis(prof, t.dev.Info(), code)
		if !ok {
			continue
		}
		switch role {
		case device.RoleSteering:
			out.LeftStickX = cal.Normalize(float64(raw))
		case device.RoleClutch:
			out.LeftStickY = cal.Normalize(float64(raw))
		case device.RoleThrottle:
			out.RightTrigger = cal.NormalizeTrigger(float64(raw))
		case device.RoleBrake:
			out.LeftTrigger = cal.NormalizeTrigger(float64(raw))
		}
	}

	slot := 0
	for i := 0; i < 32; i++ {
		pressed := s.Buttons&(1<<uint(i)) != 0
		switch i {
		case ShiftUpButton:
			if pressed {
				out.Buttons |= vpad.ButtonY
			}
		case ShiftDownButton:
			if pressed {
				out.Buttons |= vpad.ButtonX
			}
		default:
			if pressed && slot < len(buttonOrder) {
				out.Buttons |= buttonOrder[slot]
			}
			slot++
		}
	}
	return out
}

// lookupAxis resolves the calibration entry and role for a raw axis code.
// An axis missing from the profile falls back to identity over the device's
// reported range, so an uncalibrated wheel is still drivable.
func lookupAxis(prof *calibration.Profile, info device.Info, code uint16) (calibration.AxisCalibration, device.AxisRole, bool) {
	var axisInfo device.AxisInfo
	found := false
	for _, a := range info.Axes {
		if a.Code == code {
			axisInfo = a
			found = true
			break
		}
	}
	if !found || axisInfo.Role == device.RoleUnmapped {
		return calibration.AxisCalibration{}, device.RoleUnmapped, false
	}

	if prof != nil {
		if cal, ok := prof.Axes[code]; ok {
			return cal, axisInfo.Role, true
		}
	}

	min, max := float64(axisInfo.RawMin), float64(axisInfo.RawMax)
	if max <= min {
		return calibration.AxisCalibration{}, device.RoleUnmapped, false
	}
	return calibration.AxisCalibration{
		Center:       (min + max) / 2,
		EffectiveMin: min,
		EffectiveMax: max,
	}, axisInfo.Role, true
}
