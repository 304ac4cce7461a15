package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/soar/wheelbridge/internal/calibration"
	"github.com/soar/wheelbridge/internal/config"
	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/ffb"
	"github.com/soar/wheelbridge/internal/translate"
	"github.com/soar/wheelbridge/internal/vpad"
)

const (
	enumerateInterval = time.Second
	reconnectInterval = 500 * time.Millisecond
	statusInterval    = 250 * time.Millisecond
)

// PadFactory creates the virtual controller. Split out so tests can
// substitute a fake.
type PadFactory func() (vpad.Controller, error)

// Coordinator drives one bridge session from device discovery to
// termination.
type Coordinator struct {
	cfg     *config.Config
	backend device.Backend
	newPad  PadFactory
	store   *calibration.Store

	changes chan Status
	recal   chan struct{}

	state   State
	info    device.Info
	profile *calibration.Profile
}

// NewCoordinator wires a coordinator. Pass nil store to skip profile
// persistence.
func NewCoordinator(cfg *config.Config, backend device.Backend, newPad PadFactory, store *calibration.Store) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		backend: backend,
		newPad:  newPad,
		store:   store,
		changes: make(chan Status, 16),
		recal:   make(chan struct{}, 1),
	}
}

// Changes yields status snapshots for the diagnostics hub. Slow consumers
// lose intermediate snapshots, never the stream.
func (c *Coordinator) Changes() <-chan Status { return c.changes }

// Recalibrate asks the running session to re-run the calibration wizard.
// No-op when a recalibration is already queued.
func (c *Coordinator) Recalibrate() {
	select {
	case c.recal <- struct{}{}:
	default:
	}
}

func (c *Coordinator) publish(s Status) {
	select {
	case c.changes <- s:
	default:
		// Drop oldest to keep the latest snapshot flowing.
		select {
		case <-c.changes:
		default:
		}
		select {
		case c.changes <- s:
		default:
		}
	}
}

func (c *Coordinator) setState(state State, msg string) {
	c.state = state
	st := newStatus(state)
	st.Message = msg
	if state != StateIdle && state != StateTerminated && state != StateError {
		info := c.info
		st.Device = &info
	}
	st.Calibrated = c.profile != nil
	c.publish(st)
	log.Printf("session %s%s", state, suffix(msg))
}

func suffix(msg string) string {
	if msg == "" {
		return ""
	}
	return ": " + msg
}

// Run executes the session until the context ends, the host releases the
// controller, or the wheel stays gone past the grace period. The returned
// error is nil for a normal termination.
func (c *Coordinator) Run(ctx context.Context) error {
	c.setState(StateIdle, "waiting for a wheel")

	dev, err := c.acquire(ctx)
	if err != nil {
		c.setState(StateTerminated, "")
		return err
	}
	c.info = dev.Info()
	c.setState(StateEnumerated, c.info.Name)

	if err := c.ensureProfile(ctx, dev, false); err != nil {
		dev.Close()
		c.setState(StateTerminated, "")
		return err
	}

	pad, err := c.newPad()
	if err != nil {
		dev.Close()
		c.setState(StateError, err.Error())
		return fmt.Errorf("create virtual controller: %w", err)
	}
	defer pad.Destroy()

	for {
		reason, runErr := c.runActive(ctx, dev, pad)
		switch reason {
		case reasonShutdown:
			dev.Close()
			c.setState(StateTerminated, "shutdown")
			return runErr
		case reasonHostReleased:
			dev.Close()
			c.setState(StateTerminated, "host released controller")
			return nil
		case reasonRecalibrate:
			c.profile = nil
			if err := c.ensureProfile(ctx, dev, true); err != nil {
				dev.Close()
				c.setState(StateTerminated, "")
				return err
			}
		case reasonDeviceLost:
			dev.Close()
			dev = c.reconnect(ctx)
			if dev == nil {
				if ctx.Err() != nil {
					c.setState(StateTerminated, "shutdown")
					return ctx.Err()
				}
				c.setState(StateTerminated, "wheel did not return")
				return nil
			}
			c.info = dev.Info()
			c.setState(StateActive, "wheel reconnected")
		}
	}
}

// acquire polls enumeration until a usable wheel opens.
func (c *Coordinator) acquire(ctx context.Context) (device.Device, error) {
	for {
		if dev := c.tryOpen(""); dev != nil {
			return dev, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(enumerateInterval):
		}
	}
}

// tryOpen enumerates and opens the configured wheel, or the first wheel
// when no path is pinned. wantKey narrows the match during reconnection.
func (c *Coordinator) tryOpen(wantKey string) device.Device {
	infos, err := c.backend.Enumerate()
	if err != nil {
		log.Printf("enumerate wheels: %v", err)
		return nil
	}

	// Prefer the previous path so a multi-wheel rig reclaims the same
	// physical unit.
	if wantKey != "" {
		ordered := make([]device.Info, 0, len(infos))
		for _, info := range infos {
			if info.Key() == wantKey && info.Path == c.info.Path {
				ordered = append(ordered, info)
			}
		}
		for _, info := range infos {
			if info.Key() == wantKey && info.Path != c.info.Path {
				ordered = append(ordered, info)
			}
		}
		infos = ordered
	}

	for _, info := range infos {
		if c.cfg.DevicePath != "" && info.Path != c.cfg.DevicePath {
			continue
		}
		dev, err := c.backend.Open(info.Path)
		if err != nil {
			if errors.Is(err, device.ErrPermissionDenied) {
				log.Printf("open %s: %v", info.Path, err)
			}
			continue
		}
		return dev
	}
	return nil
}

// ensureProfile loads the stored calibration for the wheel or runs the
// wizard and persists the result. force skips the lookup so an operator
// recalibrate always reaches the wizard and replaces the stored profile.
func (c *Coordinator) ensureProfile(ctx context.Context, dev device.Device, force bool) error {
	key := dev.Info().Key()
	if c.store != nil && !force {
		if p := c.store.Lookup(key); p != nil {
			log.Printf("calibration profile found for %s", key)
			c.profile = p
			return nil
		}
	}

	c.setState(StateCalibrating, "move every axis through its full range")
	profile, err := calibration.Calibrate(ctx, dev, c.cfg.CalibrationWindow, calibration.Options{
		DeadzoneFrac:    c.cfg.DeadzoneFrac,
		MinMovementFrac: calibration.DefaultOptions().MinMovementFrac,
	})
	if err != nil {
		return fmt.Errorf("calibrate %s: %w", key, err)
	}
	c.profile = profile
	if c.store != nil {
		if err := c.store.Put(profile); err != nil {
			log.Printf("persist profile: %v", err)
		}
	}
	return nil
}

type stopReason int

const (
	reasonShutdown stopReason = iota
	reasonHostReleased
	reasonDeviceLost
	reasonRecalibrate
)

// runActive runs the two data paths until something ends the active phase.
// When the wheel is lost, every native effect is released before this
// returns, so the Suspended state is only ever entered with a silent wheel.
func (c *Coordinator) runActive(ctx context.Context, dev device.Device, pad vpad.Controller) (stopReason, error) {
	c.setState(StateActive, "")

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := translate.New(dev, pad, c.profile, c.cfg.PollInterval, c.cfg.ReadRetries)
	fw := ffb.NewForwarder(dev)

	trErr := make(chan error, 1)
	fwErr := make(chan error, 1)
	go func() { trErr <- tr.Run(sessCtx) }()
	go func() { fwErr <- fw.Run(sessCtx, pad.Effects()) }()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	finish := func(reason stopReason) (stopReason, error) {
		cancel()
		// Both loops must be down before the device changes hands.
		<-trErr
		<-fwErr
		fw.ReleaseAll()
		return reason, nil
	}

	for {
		select {
		case <-ctx.Done():
			_, _ = finish(reasonShutdown)
			return reasonShutdown, ctx.Err()
		case <-c.recal:
			return finish(reasonRecalibrate)
		case err := <-trErr:
			trErr <- err
			if errors.Is(err, translate.ErrDeviceLost) {
				r, _ := finish(reasonDeviceLost)
				c.setState(StateSuspended, "wheel disconnected")
				return r, nil
			}
			return finish(reasonShutdown)
		case err := <-fwErr:
			fwErr <- err
			if errors.Is(err, ffb.ErrHostReleased) {
				return finish(reasonHostReleased)
			}
			return finish(reasonShutdown)
		case <-ticker.C:
			st := newStatus(StateActive)
			info := c.info
			st.Device = &info
			st.Calibrated = c.profile != nil
			if frame, ok := tr.Last(); ok {
				st.Frame = &frame
			}
			st.ActiveEffects = fw.Active()
			c.publish(st)
		}
	}
}

// reconnect waits for the same wheel model to come back within the grace
// period. Returns nil when the grace expires or the context ends.
func (c *Coordinator) reconnect(ctx context.Context) device.Device {
	deadline := time.Now().Add(c.cfg.ReconnectGrace)
	key := c.info.Key()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectInterval):
		}
		// tryOpen only considers wheels matching the lost model, so the
		// stored calibration stays valid for whatever comes back.
		if dev := c.tryOpen(key); dev != nil {
			return dev
		}
	}
	return nil
}
