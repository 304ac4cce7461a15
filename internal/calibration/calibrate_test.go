package calibration

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/soar/wheelbridge/internal/device"
)

func wheelInfo() device.Info {
	return device.Info{
		VendorID:  0x046d,
		ProductID: 0xc262,
		Name:      "Test Wheel",
		Axes: []device.AxisInfo{
			{Code: 0, RawMin: 0, RawMax: 1023, Role: device.RoleSteering},
			{Code: 1, RawMin: 0, RawMax: 255, Role: device.RoleThrottle},
		},
	}
}

func sample(steering, throttle int32) device.Sample {
	return device.Sample{Axes: map[uint16]int32{0: steering, 1: throttle}}
}

func TestCalibrator_DerivesCenterAndRange(t *testing.T) {
	c := NewCalibrator(wheelInfo(), DefaultOptions())

	// Rest slightly off true center, then sweep both axes fully.
	for i := 0; i < 10; i++ {
		c.ObserveResting(sample(520, 0))
	}
	for v := int32(0); v <= 1023; v += 8 {
		c.Observe(sample(v, v/4))
	}

	p, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	st, ok := p.Axis(0)
	if !ok {
		t.Fatalf("steering axis missing from profile")
	}
	if st.Center != 520 {
		t.Fatalf("steering center = %v, want 520", st.Center)
	}
	if st.EffectiveMin != 0 || st.EffectiveMax > 1023 || st.EffectiveMax < 1016 {
		t.Fatalf("steering range = [%v, %v], want about [0, 1023]", st.EffectiveMin, st.EffectiveMax)
	}
	wantDz := (st.EffectiveMax - st.EffectiveMin) / 2 * 0.03
	if math.Abs(st.Deadzone-wantDz) > 1e-9 {
		t.Fatalf("steering deadzone = %v, want %v", st.Deadzone, wantDz)
	}
}

func TestCalibrator_InsufficientMovementFails(t *testing.T) {
	c := NewCalibrator(wheelInfo(), DefaultOptions())

	// The throttle barely twitches while the wheel sweeps.
	for i := 0; i < 10; i++ {
		c.ObserveResting(sample(512, 0))
	}
	for v := int32(0); v <= 1023; v += 8 {
		c.Observe(sample(v, v%3))
	}

	if _, err := c.Finish(); !errors.Is(err, ErrInsufficientMovement) {
		t.Fatalf("Finish error = %v, want ErrInsufficientMovement", err)
	}
}

func TestCalibrator_NeverSampledRoleAxisFails(t *testing.T) {
	c := NewCalibrator(wheelInfo(), DefaultOptions())
	c.Observe(device.Sample{Axes: map[uint16]int32{0: 500}})
	c.Observe(device.Sample{Axes: map[uint16]int32{0: 0}})
	c.Observe(device.Sample{Axes: map[uint16]int32{0: 1023}})

	if _, err := c.Finish(); !errors.Is(err, ErrInsufficientMovement) {
		t.Fatalf("Finish error = %v, want ErrInsufficientMovement for unsampled throttle", err)
	}
}

func TestCalibrator_PedalRestingHighMarksInverted(t *testing.T) {
	c := NewCalibrator(wheelInfo(), DefaultOptions())

	// Released throttle reads near max: backwards wiring.
	for i := 0; i < 10; i++ {
		c.ObserveResting(sample(512, 250))
	}
	for v := int32(0); v <= 1023; v += 8 {
		c.Observe(sample(v, 255-v/4))
	}

	p, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	th, _ := p.Axis(1)
	if !th.Inverted {
		t.Fatalf("throttle resting near max should be marked inverted")
	}
	if got := th.NormalizeTrigger(250); got > 0.1 {
		t.Fatalf("released inverted throttle normalizes to %v, want near 0", got)
	}
}

// flakyDev is a wheel whose reads fail with ErrIO a configured number of
// times before samples start flowing.
type flakyDev struct {
	info       device.Info
	ioFailures int
	alwaysFail bool
	calls      int
}

func (d *flakyDev) Info() device.Info { return d.info }

func (d *flakyDev) PollInput(time.Duration) (device.Sample, error) {
	if d.alwaysFail {
		return device.Sample{}, device.ErrIO
	}
	if d.calls < d.ioFailures {
		d.calls++
		return device.Sample{}, device.ErrIO
	}
	n := int32(d.calls % 1024)
	d.calls++
	return sample(n, n/4), nil
}

func (d *flakyDev) UploadEffect(device.EffectParams) (device.EffectHandle, error) { return 0, nil }
func (d *flakyDev) UpdateEffect(device.EffectHandle, device.EffectParams) error   { return nil }
func (d *flakyDev) PlayEffect(device.EffectHandle) error                          { return nil }
func (d *flakyDev) StopEffect(device.EffectHandle) error                          { return nil }
func (d *flakyDev) Close() error                                                  { return nil }

func TestCalibrate_ToleratesTransientReadErrors(t *testing.T) {
	dev := &flakyDev{info: wheelInfo(), ioFailures: 2}

	p, err := Calibrate(context.Background(), dev, 100*time.Millisecond, DefaultOptions())
	if err != nil {
		t.Fatalf("Calibrate failed on transient IO errors: %v", err)
	}
	if _, ok := p.Axis(0); !ok {
		t.Fatalf("steering axis missing from profile")
	}
}

func TestCalibrate_PersistentReadErrorsAbort(t *testing.T) {
	dev := &flakyDev{info: wheelInfo(), alwaysFail: true}

	_, err := Calibrate(context.Background(), dev, 100*time.Millisecond, DefaultOptions())
	if !errors.Is(err, device.ErrIO) {
		t.Fatalf("Calibrate error = %v, want ErrIO", err)
	}
}

func TestCalibrator_UnmappedAxisIsOptional(t *testing.T) {
	info := wheelInfo()
	info.Axes = append(info.Axes, device.AxisInfo{Code: 9, RawMin: 0, RawMax: 255, Role: device.RoleUnmapped})
	c := NewCalibrator(info, DefaultOptions())

	for i := 0; i < 5; i++ {
		c.ObserveResting(sample(512, 0))
	}
	for v := int32(0); v <= 1023; v += 8 {
		c.Observe(sample(v, v/4))
	}

	p, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish failed with silent unmapped axis: %v", err)
	}
	if _, ok := p.Axis(9); ok {
		t.Fatalf("unsampled unmapped axis should not appear in profile")
	}
}
