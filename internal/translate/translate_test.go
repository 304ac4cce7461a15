package translate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soar/wheelbridge/internal/calibration"
	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

type fakeDev struct {
	mu      sync.Mutex
	info    device.Info
	samples []device.Sample
	errs    []error
}

func (d *fakeDev) Info() device.Info { return d.info }

func (d *fakeDev) PollInput(time.Duration) (device.Sample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return device.Sample{}, err
	}
	if len(d.samples) == 0 {
		return device.Sample{Axes: map[uint16]int32{}}, nil
	}
	s := d.samples[0]
	if len(d.samples) > 1 {
		d.samples = d.samples[1:]
	}
	return s, nil
}

func (d *fakeDev) UploadEffect(device.EffectParams) (device.EffectHandle, error) { return 0, nil }
func (d *fakeDev) UpdateEffect(device.EffectHandle, device.EffectParams) error   { return nil }
func (d *fakeDev) PlayEffect(device.EffectHandle) error                          { return nil }
func (d *fakeDev) StopEffect(device.EffectHandle) error                          { return nil }
func (d *fakeDev) Close() error                                                  { return nil }

type fakePad struct {
	mu     sync.Mutex
	frames []vpad.State
}

func (p *fakePad) Publish(s vpad.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, s)
	return nil
}

func (p *fakePad) Effects() <-chan vpad.EffectEvent { return nil }
func (p *fakePad) Destroy() error                   { return nil }

func (p *fakePad) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func testDev() *fakeDev {
	return &fakeDev{info: device.Info{
		Name: "fake wheel",
		Axes: []device.AxisInfo{
			{Code: 0, RawMin: 0, RawMax: 1023, Role: device.RoleSteering},
			{Code: 1, RawMin: 0, RawMax: 255, Role: device.RoleThrottle},
			{Code: 2, RawMin: 0, RawMax: 255, Role: device.RoleBrake},
			{Code: 3, RawMin: 0, RawMax: 255, Role: device.RoleClutch},
		},
	}}
}

func testProfile() *calibration.Profile {
	return &calibration.Profile{
		DeviceKey: "0000:0000",
		Axes: map[uint16]calibration.AxisCalibration{
			0: {Center: 512, Deadzone: 0, EffectiveMin: 0, EffectiveMax: 1024},
			1: {EffectiveMin: 0, EffectiveMax: 255},
			2: {EffectiveMin: 0, EffectiveMax: 255},
			3: {Center: 128, EffectiveMin: 0, EffectiveMax: 256},
		},
	}
}

func TestMapSample_AxisRoles(t *testing.T) {
	tr := New(testDev(), &fakePad{}, testProfile(), 0, 3)

	out := tr.mapSample(device.Sample{Axes: map[uint16]int32{
		0: 1024, // full right
		1: 255,  // throttle floored
		2: 0,    // brake released
		3: 128,  // clutch centered
	}})

	if out.LeftStickX != 1 {
		t.Fatalf("steering LeftStickX = %v, want 1", out.LeftStickX)
	}
	if out.RightTrigger != 1 {
		t.Fatalf("throttle RightTrigger = %v, want 1", out.RightTrigger)
	}
	if out.LeftTrigger != 0 {
		t.Fatalf("brake LeftTrigger = %v, want 0", out.LeftTrigger)
	}
	if out.LeftStickY != 0 {
		t.Fatalf("clutch LeftStickY = %v, want 0", out.LeftStickY)
	}
}

func TestMapSample_ShiftPaddles(t *testing.T) {
	tr := New(testDev(), &fakePad{}, testProfile(), 0, 3)

	up := tr.mapSample(device.Sample{Buttons: 1 << ShiftUpButton})
	if up.Buttons&vpad.ButtonY == 0 {
		t.Fatalf("shift up did not press Y: %#x", up.Buttons)
	}
	down := tr.mapSample(device.Sample{Buttons: 1 << ShiftDownButton})
	if down.Buttons&vpad.ButtonX == 0 {
		t.Fatalf("shift down did not press X: %#x", down.Buttons)
	}
}

func TestMapSample_ButtonMappingIsPositional(t *testing.T) {
	tr := New(testDev(), &fakePad{}, testProfile(), 0, 3)

	// Button 6 must land on the same output no matter what else is held.
	alone := tr.mapSample(device.Sample{Buttons: 1 << 6})
	together := tr.mapSample(device.Sample{Buttons: 1<<6 | 1<<0})

	if alone.Buttons&together.Buttons != alone.Buttons {
		t.Fatalf("button 6 moved: alone %#x, with button 0 held %#x", alone.Buttons, together.Buttons)
	}
	if together.Buttons&vpad.ButtonA == 0 {
		t.Fatalf("button 0 should map to A: %#x", together.Buttons)
	}
}

func TestMapSample_NoProfileFallsBackToReportedRange(t *testing.T) {
	tr := New(testDev(), &fakePad{}, nil, 0, 3)

	out := tr.mapSample(device.Sample{Axes: map[uint16]int32{0: 1023, 1: 255}})
	if out.LeftStickX < 0.99 {
		t.Fatalf("uncalibrated steering at max = %v, want close to 1", out.LeftStickX)
	}
	if out.RightTrigger != 1 {
		t.Fatalf("uncalibrated throttle at max = %v, want 1", out.RightTrigger)
	}
}

func TestRun_PublishesFrames(t *testing.T) {
	dev := testDev()
	dev.samples = []device.Sample{{Axes: map[uint16]int32{0: 512}}}
	pad := &fakePad{}
	tr := New(dev, pad, testProfile(), time.Millisecond, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tr.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline", err)
	}
	if pad.count() == 0 {
		t.Fatalf("no frames published")
	}
	if _, ok := tr.Last(); !ok {
		t.Fatalf("Last reports no frame after publishing")
	}
}

func TestRun_DisconnectStopsWithoutZeroedFrame(t *testing.T) {
	dev := testDev()
	dev.samples = []device.Sample{{Axes: map[uint16]int32{0: 1024}}}
	dev.errs = nil
	pad := &fakePad{}
	tr := New(dev, pad, testProfile(), time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	// Let a few frames flow, then kill the device.
	time.Sleep(20 * time.Millisecond)
	dev.mu.Lock()
	dev.errs = []error{device.ErrDisconnected}
	dev.mu.Unlock()

	err := <-done
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Run error = %v, want ErrDeviceLost", err)
	}

	pad.mu.Lock()
	lastFrame := pad.frames[len(pad.frames)-1]
	pad.mu.Unlock()
	if lastFrame.LeftStickX != 1 {
		t.Fatalf("last published frame %v, want the final real sample, not a zeroed frame", lastFrame)
	}
}

func TestRun_TransientErrorsRetryThenFail(t *testing.T) {
	dev := testDev()
	dev.errs = []error{device.ErrIO, device.ErrIO, device.ErrIO, device.ErrIO, device.ErrIO}
	pad := &fakePad{}
	tr := New(dev, pad, testProfile(), time.Millisecond, 3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Run(ctx); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Run error = %v, want ErrDeviceLost after retry budget", err)
	}
}

func TestRun_TransientErrorWithinBudgetRecovers(t *testing.T) {
	dev := testDev()
	dev.errs = []error{device.ErrIO, device.ErrIO}
	dev.samples = []device.Sample{{Axes: map[uint16]int32{0: 512}}}
	pad := &fakePad{}
	tr := New(dev, pad, testProfile(), time.Millisecond, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := tr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want clean deadline after recovery", err)
	}
	if pad.count() == 0 {
		t.Fatalf("no frames published after recovery")
	}
}
