package ffb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soar/wheelbridge/internal/device"
	"github.com/soar/wheelbridge/internal/vpad"
)

// fakeWheel records effect calls and models a fixed slot pool.
type fakeWheel struct {
	mu       sync.Mutex
	pool     *device.SlotPool
	uploads  int
	updates  map[device.EffectHandle]int
	playing  map[device.EffectHandle]bool
	stops    map[device.EffectHandle]int
	lastPrms map[device.EffectHandle]device.EffectParams
}

func newFakeWheel(slots int) *fakeWheel {
	return &fakeWheel{
		pool:     device.NewSlotPool(slots),
		updates:  map[device.EffectHandle]int{},
		playing:  map[device.EffectHandle]bool{},
		stops:    map[device.EffectHandle]int{},
		lastPrms: map[device.EffectHandle]device.EffectParams{},
	}
}

func (f *fakeWheel) Info() device.Info { return device.Info{Name: "fake"} }

func (f *fakeWheel) PollInput(time.Duration) (device.Sample, error) {
	return device.Sample{}, nil
}

func (f *fakeWheel) UploadEffect(p device.EffectParams) (device.EffectHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.pool.Acquire()
	if !ok {
		return 0, device.ErrResourceExhausted
	}
	f.uploads++
	f.lastPrms[h] = p
	return h, nil
}

func (f *fakeWheel) UpdateEffect(h device.EffectHandle, p device.EffectParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[h]++
	f.lastPrms[h] = p
	return nil
}

func (f *fakeWheel) PlayEffect(h device.EffectHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing[h] = true
	return nil
}

func (f *fakeWheel) StopEffect(h device.EffectHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[h]++
	f.playing[h] = false
	f.pool.Release(h)
	return nil
}

func (f *fakeWheel) Close() error { return nil }

func constantUpload(id int16, level int16) vpad.EffectEvent {
	return vpad.EffectEvent{
		Kind:   vpad.EffectUpload,
		ID:     id,
		Effect: vpad.RawEffect{Type: 0x52, Level: level},
	}
}

func TestForwarder_UploadPlaysEffect(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	if err := f.Handle(constantUpload(3, 0x4000)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if w.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", w.uploads)
	}
	if !w.playing[0] {
		t.Fatalf("effect not playing after upload")
	}
	if f.Active() != 1 {
		t.Fatalf("Active = %d, want 1", f.Active())
	}
}

func TestForwarder_UpdateNeverReuploads(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	if err := f.Handle(constantUpload(1, 0x1000)); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		ev := constantUpload(1, int16(0x2000+i))
		ev.Kind = vpad.EffectUpdate
		if err := f.Handle(ev); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	if w.uploads != 1 {
		t.Fatalf("uploads = %d after updates, want 1", w.uploads)
	}
	if w.updates[0] != 5 {
		t.Fatalf("updates = %d, want 5", w.updates[0])
	}
	if w.lastPrms[0].Level != 0x2004 {
		t.Fatalf("last level = %#x, want 0x2004", w.lastPrms[0].Level)
	}
}

func TestForwarder_ReuploadOfLiveIDIsUpdate(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	f.Handle(constantUpload(1, 0x1000))
	f.Handle(constantUpload(1, 0x3000))

	if w.uploads != 1 {
		t.Fatalf("uploads = %d, want 1: second upload of same id must reuse the slot", w.uploads)
	}
	if w.updates[0] != 1 {
		t.Fatalf("updates = %d, want 1", w.updates[0])
	}
}

func TestForwarder_StopIsIdempotent(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	f.Handle(constantUpload(2, 0x1000))
	stop := vpad.EffectEvent{Kind: vpad.EffectStop, ID: 2}
	if err := f.Handle(stop); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := f.Handle(stop); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if err := f.Handle(vpad.EffectEvent{Kind: vpad.EffectStop, ID: 99}); err != nil {
		t.Fatalf("stop of unknown id failed: %v", err)
	}

	if w.stops[0] != 1 {
		t.Fatalf("native stops = %d, want exactly 1", w.stops[0])
	}
	if f.Active() != 0 {
		t.Fatalf("Active = %d after stop, want 0", f.Active())
	}
}

func TestForwarder_SlotExhaustionSurfaces(t *testing.T) {
	w := newFakeWheel(2)
	f := NewForwarder(w)

	for id := int16(0); id < 2; id++ {
		if err := f.Handle(constantUpload(id, 0x1000)); err != nil {
			t.Fatalf("upload %d failed: %v", id, err)
		}
	}
	err := f.Handle(constantUpload(9, 0x1000))
	if !errors.Is(err, device.ErrResourceExhausted) {
		t.Fatalf("third upload error = %v, want ErrResourceExhausted", err)
	}

	// Freeing one slot makes the next upload work again.
	f.Handle(vpad.EffectEvent{Kind: vpad.EffectStop, ID: 0})
	if err := f.Handle(constantUpload(9, 0x1000)); err != nil {
		t.Fatalf("upload after free failed: %v", err)
	}
}

func TestForwarder_ReleaseAllStopsEverything(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	for id := int16(0); id < 3; id++ {
		f.Handle(constantUpload(id, 0x1000))
	}
	f.ReleaseAll()

	if f.Active() != 0 {
		t.Fatalf("Active = %d after ReleaseAll, want 0", f.Active())
	}
	for h, playing := range w.playing {
		if playing {
			t.Fatalf("handle %d still playing after ReleaseAll", h)
		}
	}
}

func TestForwarder_RunReleasesOnHostDisconnect(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	events := make(chan vpad.EffectEvent, 8)
	events <- constantUpload(0, 0x1000)
	events <- constantUpload(1, 0x2000)
	events <- vpad.EffectEvent{Kind: vpad.HostDisconnected}

	err := f.Run(context.Background(), events)
	if !errors.Is(err, ErrHostReleased) {
		t.Fatalf("Run error = %v, want ErrHostReleased", err)
	}
	if f.Active() != 0 {
		t.Fatalf("Active = %d after host disconnect, want 0", f.Active())
	}
	for h, playing := range w.playing {
		if playing {
			t.Fatalf("handle %d still playing after host disconnect", h)
		}
	}
}

func TestForwarder_RunStopsOnClosedChannel(t *testing.T) {
	w := newFakeWheel(4)
	f := NewForwarder(w)

	events := make(chan vpad.EffectEvent, 1)
	events <- constantUpload(0, 0x1000)
	close(events)

	if err := f.Run(context.Background(), events); !errors.Is(err, ErrHostReleased) {
		t.Fatalf("Run error = %v, want ErrHostReleased", err)
	}
	if f.Active() != 0 {
		t.Fatalf("Active = %d, want 0", f.Active())
	}
}
