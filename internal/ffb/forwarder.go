package ffb

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

// ErrHostReleased is returned by Run after the host disconnects from the
// virtual controller and every outstanding wheel effect has been released.
var ErrHostReleased = errors.New("host released virtual controller")

// slot ties one host effect id to its native wheel handle.
type slot struct {
	handle device.EffectHandle
	cmd    EffectCommand
}

// Forwarder replays host effect events on the physical wheel.
type Forwarder struct {
	dev device.Device

	mu    sync.Mutex
	slots map[int16]slot
}

func NewForwarder(dev device.Device) *Forwarder {
	return &Forwarder{dev: dev, slots: make(map[int16]slot)}
}

// Active reports how many host effects currently hold a wheel slot.
func (f *Forwarder) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slots)
}

// Run consumes effect events until the context ends, the channel closes or
// the host disconnects. A HostDisconnected event releases every native
// effect before Run returns ErrHostReleased.
func (f *Forwarder) Run(ctx context.Context, events <-chan vpad.EffectEvent) error {
	for {
		select {
		case <-ctx.Done():
			f.ReleaseAll()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				f.ReleaseAll()
				return ErrHostReleased
			}
			if ev.Kind == vpad.HostDisconnected {
				f.ReleaseAll()
				return ErrHostReleased
			}
			if err := f.Handle(ev); err != nil {
				log.Printf("ffb %s effect %d: %v", ev.Kind, ev.ID, err)
			}
		}
	}
}

// Handle applies one effect event to the wheel.
func (f *Forwarder) Handle(ev vpad.EffectEvent) error {
	switch ev.Kind {
	case vpad.EffectUpload:
		return f.upload(ev.ID, Decode(ev.Effect))
	case vpad.EffectUpdate:
		return f.update(ev.ID, Decode(ev.Effect))
	case vpad.EffectStop:
		return f.stop(ev.ID)
	case vpad.HostDisconnected:
		f.ReleaseAll()
		return nil
	}
	return nil
}

func (f *Forwarder) upload(id int16, cmd EffectCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// A re-upload of a live id is an update in disguise.
	if s, ok := f.slots[id]; ok {
		return f.updateLocked(id, s, cmd)
	}
	return f.uploadLocked(id, cmd)
}

func (f *Forwarder) update(id int16, cmd EffectCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[id]
	if !ok {
		// Update for an id we never saw; treat as a fresh upload.
		return f.uploadLocked(id, cmd)
	}
	return f.updateLocked(id, s, cmd)
}

func (f *Forwarder) uploadLocked(id int16, cmd EffectCommand) error {
	handle, err := f.dev.UploadEffect(Encode(cmd))
	if err != nil {
		// ErrResourceExhausted means the wheel is out of slots. Dropping
		// this effect is the only option; the host keeps its id and may
		// stop it later.
		return err
	}
	if err := f.dev.PlayEffect(handle); err != nil {
		f.dev.StopEffect(handle)
		return err
	}
	f.slots[id] = slot{handle: handle, cmd: cmd}
	return nil
}

func (f *Forwarder) updateLocked(id int16, s slot, cmd EffectCommand) error {
	if err := f.dev.UpdateEffect(s.handle, Encode(cmd)); err != nil {
		return err
	}
	s.cmd = cmd
	f.slots[id] = s
	return nil
}

// stop releases the wheel slot for one host effect. Stopping an id that is
// not live is a no-op.
func (f *Forwarder) stop(id int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[id]
	if !ok {
		return nil
	}
	delete(f.slots, id)
	return f.dev.StopEffect(s.handle)
}

// ReleaseAll stops every live effect. Used on host disconnect, wheel
// suspend and shutdown; errors are logged because there is nothing left to
// do with the slot either way.
func (f *Forwarder) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, s := range f.slots {
		if err := f.dev.StopEffect(s.handle); err != nil {
			log.Printf("release effect %d: %v", id, err)
		}
		delete(f.slots, id)
	}
}
