//go:build linux

package vpad

import (
	"encoding/binary"
	"testing"
	"time"
)

func ffEffectBuf(typ, direction, durationMs uint16, union func([]byte)) []byte {
	b := make([]byte, ffEffectSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:], typ)
	le.PutUint16(b[4:], direction)
	le.PutUint16(b[10:], durationMs)
	union(b[16:])
	return b
}

func TestDecodeFFEffect_Rumble(t *testing.T) {
	le := binary.LittleEndian
	b := ffEffectBuf(ffRumble, 0x8000, 300, func(u []byte) {
		le.PutUint16(u[0:], 0xa000) // strong
		le.PutUint16(u[2:], 0x1000) // weak
	})

	eff := decodeFFEffect(b)
	if eff.Type != ffRumble {
		t.Fatalf("type = %#x, want rumble", eff.Type)
	}
	if eff.Direction != 0x8000 || eff.DurationMs != 300 {
		t.Fatalf("direction/duration = %#x/%d, want 0x8000/300", eff.Direction, eff.DurationMs)
	}
	if eff.StrongMagnitude != 0xa000 || eff.WeakMagnitude != 0x1000 {
		t.Fatalf("magnitudes = %#x/%#x, want 0xa000/0x1000", eff.StrongMagnitude, eff.WeakMagnitude)
	}
}

func TestDecodeFFEffect_ConstantWithEnvelope(t *testing.T) {
	le := binary.LittleEndian
	var level int16 = -0x2000
	b := ffEffectBuf(ffConstant, 0x4000, 0, func(u []byte) {
		le.PutUint16(u[0:], uint16(level)) // level
		le.PutUint16(u[2:], 50)            // attack length
		le.PutUint16(u[4:], 0x1000)        // attack level
		le.PutUint16(u[6:], 80)            // fade length
		le.PutUint16(u[8:], 0x0800)        // fade level
	})

	eff := decodeFFEffect(b)
	if eff.Level != -0x2000 {
		t.Fatalf("level = %#x, want -0x2000", eff.Level)
	}
	if eff.AttackLengthMs != 50 || eff.AttackLevel != 0x1000 {
		t.Fatalf("attack = %d/%#x, want 50/0x1000", eff.AttackLengthMs, eff.AttackLevel)
	}
	if eff.FadeLengthMs != 80 || eff.FadeLevel != 0x0800 {
		t.Fatalf("fade = %d/%#x, want 80/0x0800", eff.FadeLengthMs, eff.FadeLevel)
	}
}

func TestDecodeFFEffect_PeriodicMagnitudeOffset(t *testing.T) {
	le := binary.LittleEndian
	b := ffEffectBuf(ffPeriodic, 0, 0, func(u []byte) {
		le.PutUint16(u[0:], 0x5a) // waveform: sine
		le.PutUint16(u[2:], 40)   // period
		le.PutUint16(u[4:], 0x3000)
	})

	eff := decodeFFEffect(b)
	if eff.PeriodMs != 40 {
		t.Fatalf("period = %d, want 40", eff.PeriodMs)
	}
	if eff.Level != 0x3000 {
		t.Fatalf("magnitude = %#x, want 0x3000", eff.Level)
	}
}

func TestDecodeFFEffect_SpringCondition(t *testing.T) {
	le := binary.LittleEndian
	b := ffEffectBuf(ffSpring, 0, 0, func(u []byte) {
		le.PutUint16(u[0:], 0xc000) // right saturation
		le.PutUint16(u[4:], 0x2000) // right coeff
	})

	eff := decodeFFEffect(b)
	if eff.Saturation != 0xc000 {
		t.Fatalf("saturation = %#x, want 0xc000", eff.Saturation)
	}
	if eff.Coeff != 0x2000 {
		t.Fatalf("coeff = %#x, want 0x2000", eff.Coeff)
	}
}

func TestBuildUserDev_Layout(t *testing.T) {
	buf := buildUserDev()
	le := binary.LittleEndian

	if len(buf) != userDevSize {
		t.Fatalf("descriptor size = %d, want %d", len(buf), userDevSize)
	}
	if le.Uint16(buf[82:]) != padVendor || le.Uint16(buf[84:]) != padProduct {
		t.Fatalf("vendor:product = %04x:%04x, want %04x:%04x",
			le.Uint16(buf[82:]), le.Uint16(buf[84:]), padVendor, padProduct)
	}
	if got := le.Uint32(buf[88:]); got != padFFSlots {
		t.Fatalf("ff_effects_max = %d, want %d", got, padFFSlots)
	}

	// Stick X advertises the full signed 16-bit range.
	absMax := int32(le.Uint32(buf[92+absX*4:]))
	absMin := int32(le.Uint32(buf[92+256+absX*4:]))
	if absMin != -32768 || absMax != 32767 {
		t.Fatalf("ABS_X range = [%d, %d], want [-32768, 32767]", absMin, absMax)
	}

	// Triggers are 0..255.
	zMax := int32(le.Uint32(buf[92+absZ*4:]))
	zMin := int32(le.Uint32(buf[92+256+absZ*4:]))
	if zMin != 0 || zMax != 255 {
		t.Fatalf("ABS_Z range = [%d, %d], want [0, 255]", zMin, zMax)
	}
}

// ioc recomputes a uinput ioctl request number from the kernel _IOC macro:
// dir in the top 2 bits, then a 14-bit size, 8-bit type, 8-bit nr.
func ioc(dir, size, nr uintptr) uintptr {
	const typ = 'U'
	return dir<<30 | size<<16 | typ<<8 | nr
}

func TestFFIoctlNumbers_EncodeStructSizes(t *testing.T) {
	const (
		iocWrite = 1
		iocRead  = 2
	)
	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"UI_BEGIN_FF_UPLOAD", uiBeginFFUpl, ioc(iocRead|iocWrite, ffUploadSize, 200)},
		{"UI_END_FF_UPLOAD", uiEndFFUpl, ioc(iocWrite, ffUploadSize, 201)},
		// uinput_ff_erase is 12 bytes; an argument size of 4 makes the
		// kernel reject the request and the host's erase never completes.
		{"UI_BEGIN_FF_ERASE", uiBeginFFErase, ioc(iocRead|iocWrite, 12, 202)},
		{"UI_END_FF_ERASE", uiEndFFErase, ioc(iocWrite, 12, 203)},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("%s = %#x, want %#x", c.name, c.got, c.want)
		}
	}
}

func TestEmit_DropsWhenChannelFull(t *testing.T) {
	c := &UinputController{
		events: make(chan EffectEvent, 2),
		stop:   make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int16(0); i < 5; i++ {
			c.emit(EffectEvent{Kind: EffectUpload, ID: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full channel")
	}
	if got := len(c.events); got != 2 {
		t.Fatalf("buffered events = %d, want 2", got)
	}
	first := <-c.events
	if first.ID != 0 {
		t.Fatalf("first buffered event id = %d, want 0", first.ID)
	}
}

func TestStickRaw_ClampAndScale(t *testing.T) {
	cases := []struct {
		in   float64
		want int32
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2, 32767},
		{-3, -32767},
	}
	for _, c := range cases {
		if got := stickRaw(c.in); got != c.want {
			t.Fatalf("stickRaw(%v) = %d, want %d", c.in, got, c.want)
		}
	}

	if got := triggerRaw(0.5); got != 127 {
		t.Fatalf("triggerRaw(0.5) = %d, want 127", got)
	}
	if got := triggerRaw(-1); got != 0 {
		t.Fatalf("triggerRaw(-1) = %d, want 0", got)
	}
	if got := triggerRaw(9); got != 255 {
		t.Fatalf("triggerRaw(9) = %d, want 255", got)
	}
}
