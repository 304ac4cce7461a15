//go:build linux

package vpad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// uinput ioctl numbers, precomputed for the fixed struct sizes.
const (
	uiDevCreate    = 0x5501
	uiDevDestroy   = 0x5502
	uiSetEvBit     = 0x40045564
	uiSetKeyBit    = 0x40045565
	uiSetAbsBit    = 0x40045567
	uiSetFFBit     = 0x4004556b
	uiBeginFFUpl   = 0xc06855c8 // uinput_ff_upload is 104 bytes
	uiEndFFUpl     = 0x406855c9
	uiBeginFFErase = 0xc00c55ca // uinput_ff_erase is 12 bytes
	uiEndFFErase   = 0x400c55cb
)

const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03
	evFF  = 0x15

	evUinput    = 0x0101 // EV_UINPUT
	uiFFUpload  = 1
	uiFFErase   = 2
	synReport   = 0
	ffGain      = 0x60
	ffAutocentr = 0x61

	absX    = 0x00
	absY    = 0x01
	absZ    = 0x02
	absRX   = 0x03
	absRY   = 0x04
	absRZ   = 0x05
	absHatX = 0x10
	absHatY = 0x11

	btnA      = 0x130
	btnB      = 0x131
	btnX      = 0x133
	btnY      = 0x134
	btnTL     = 0x136
	btnTR     = 0x137
	btnSelect = 0x13a
	btnStart  = 0x13b
	btnMode   = 0x13c
	btnThumbL = 0x13d
	btnThumbR = 0x13e

	ffRumble   = 0x50
	ffPeriodic = 0x51
	ffConstant = 0x52
	ffSpring   = 0x53
	ffDamper   = 0x55
	ffRamp     = 0x57

	inputEventSize = 24
	ffEffectSize   = 48
	ffUploadSize   = 104
	userDevSize    = 1116
)

// Virtual device identity. Matching the Microsoft Xbox 360 pad ids makes
// every host pick it up with built-in mappings.
const (
	padBusUSB  = 0x03
	padVendor  = 0x045e
	padProduct = 0x028e
	padVersion = 0x0110

	padFFSlots = 16
)

// buttonCodes in Button bit order, dpad excluded (it goes out as a hat).
var buttonCodes = []uint16{
	btnA, btnB, btnX, btnY, btnTL, btnTR,
	btnSelect, btnStart, btnMode, btnThumbL, btnThumbR,
}

// UinputController is a kernel uinput gamepad with force feedback enabled.
type UinputController struct {
	mu     sync.Mutex
	fd     int
	rfd    int // dup used by the effect reader
	closed bool

	events chan EffectEvent
	stop   chan struct{}
	done   chan struct{}
}

// NewController creates the virtual gamepad. It fails with
// ErrDriverUnavailable when /dev/uinput does not exist and with
// ErrPermissionDenied when it is not writable.
func NewController() (Controller, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
			return nil, fmt.Errorf("open /dev/uinput: %w", ErrDriverUnavailable)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("open /dev/uinput: %w", ErrPermissionDenied)
		}
		return nil, fmt.Errorf("open /dev/uinput: %v: %w", err, ErrCreateFailed)
	}

	if err := setupDevice(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	rfd, err := unix.Dup(fd)
	if err != nil {
		ioctl(fd, uiDevDestroy, 0)
		unix.Close(fd)
		return nil, fmt.Errorf("dup uinput fd: %v: %w", err, ErrCreateFailed)
	}

	c := &UinputController{
		fd:     fd,
		rfd:    rfd,
		events: make(chan EffectEvent, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readEffects()
	return c, nil
}

func setupDevice(fd int) error {
	set := func(req uintptr, bit uintptr) error {
		if err := ioctl(fd, req, bit); err != nil {
			return fmt.Errorf("uinput setup ioctl %#x bit %#x: %v: %w", req, bit, err, ErrCreateFailed)
		}
		return nil
	}

	for _, ev := range []uintptr{evSyn, evKey, evAbs, evFF} {
		if err := set(uiSetEvBit, ev); err != nil {
			return err
		}
	}
	for _, code := range buttonCodes {
		if err := set(uiSetKeyBit, uintptr(code)); err != nil {
			return err
		}
	}
	for _, code := range []uintptr{absX, absY, absZ, absRX, absRY, absRZ, absHatX, absHatY} {
		if err := set(uiSetAbsBit, code); err != nil {
			return err
		}
	}
	for _, code := range []uintptr{ffRumble, ffPeriodic, ffConstant, ffSpring, ffDamper, ffRamp, ffGain} {
		if err := set(uiSetFFBit, code); err != nil {
			return err
		}
	}

	dev := buildUserDev()
	if n, err := unix.Write(fd, dev); err != nil || n != len(dev) {
		return fmt.Errorf("write uinput_user_dev: %v: %w", err, ErrCreateFailed)
	}
	if err := ioctl(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %v: %w", err, ErrCreateFailed)
	}
	return nil
}

// buildUserDev lays out struct uinput_user_dev: name[80], input_id (4 u16),
// ff_effects_max u32, then absmax/absmin/absfuzz/absflat as 64 s32 each.
func buildUserDev() []byte {
	buf := make([]byte, userDevSize)
	copy(buf, "WheelBridge Virtual Gamepad")
	le := binary.LittleEndian
	le.PutUint16(buf[80:], padBusUSB)
	le.PutUint16(buf[82:], padVendor)
	le.PutUint16(buf[84:], padProduct)
	le.PutUint16(buf[86:], padVersion)
	le.PutUint32(buf[88:], padFFSlots)

	absMax := buf[92:]
	absMin := buf[92+256:]
	putAbs := func(code int, min, max int32) {
		le.PutUint32(absMax[code*4:], uint32(max))
		le.PutUint32(absMin[code*4:], uint32(min))
	}
	putAbs(absX, -32768, 32767)
	putAbs(absY, -32768, 32767)
	putAbs(absRX, -32768, 32767)
	putAbs(absRY, -32768, 32767)
	putAbs(absZ, 0, 255)
	putAbs(absRZ, 0, 255)
	putAbs(absHatX, -1, 1)
	putAbs(absHatY, -1, 1)
	return buf
}

// Effects implements Controller.
func (c *UinputController) Effects() <-chan EffectEvent { return c.events }

// Publish implements Controller. Stick axes are scaled from [-1,1] and
// triggers from [0,1] into the advertised abs ranges.
func (c *UinputController) Publish(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCreateFailed
	}

	buf := make([]byte, 0, inputEventSize*22)
	buf = appendEvent(buf, evAbs, absX, stickRaw(s.LeftStickX))
	buf = appendEvent(buf, evAbs, absY, stickRaw(s.LeftStickY))
	buf = appendEvent(buf, evAbs, absRX, stickRaw(s.RightStickX))
	buf = appendEvent(buf, evAbs, absRY, stickRaw(s.RightStickY))
	buf = appendEvent(buf, evAbs, absZ, triggerRaw(s.LeftTrigger))
	buf = appendEvent(buf, evAbs, absRZ, triggerRaw(s.RightTrigger))

	for i, code := range buttonCodes {
		var v int32
		if s.Buttons&(1<<uint(i)) != 0 {
			v = 1
		}
		buf = appendEvent(buf, evKey, code, v)
	}

	var hatX, hatY int32
	if s.Buttons&ButtonDpadLeft != 0 {
		hatX = -1
	} else if s.Buttons&ButtonDpadRight != 0 {
		hatX = 1
	}
	if s.Buttons&ButtonDpadUp != 0 {
		hatY = -1
	} else if s.Buttons&ButtonDpadDown != 0 {
		hatY = 1
	}
	buf = appendEvent(buf, evAbs, absHatX, hatX)
	buf = appendEvent(buf, evAbs, absHatY, hatY)
	buf = appendEvent(buf, evSyn, synReport, 0)

	if _, err := unix.Write(c.fd, buf); err != nil {
		return fmt.Errorf("publish gamepad frame: %w", err)
	}
	return nil
}

func stickRaw(v float64) int32 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int32(v * 32767)
}

func triggerRaw(v float64) int32 {
	if v > 1 {
		v = 1
	} else if v < 0 {
		v = 0
	}
	return int32(v * 255)
}

func appendEvent(buf []byte, typ, code uint16, value int32) []byte {
	var ev [inputEventSize]byte
	le := binary.LittleEndian
	le.PutUint16(ev[16:], typ)
	le.PutUint16(ev[18:], code)
	le.PutUint32(ev[20:], uint32(value))
	return append(buf, ev[:]...)
}

// Destroy implements Controller.
func (c *UinputController) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	ioctl(c.fd, uiDevDestroy, 0)
	unix.Close(c.fd)
	unix.Close(c.rfd)
	c.mu.Unlock()

	<-c.done
	return nil
}

// readEffects services the kernel force feedback handshake. Uploaded
// parameters are buffered until the host writes the play event, at which
// point a complete Upload (or Update for a known id) goes downstream.
func (c *UinputController) readEffects() {
	defer close(c.done)
	defer close(c.events)

	pending := make(map[int16]RawEffect) // uploaded, not yet played
	live := make(map[int16]RawEffect)    // playing

	fds := []unix.PollFd{{Fd: int32(c.rfd), Events: unix.POLLIN}}
	buf := make([]byte, inputEventSize*16)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.emit(EffectEvent{Kind: HostDisconnected})
			return
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			c.emit(EffectEvent{Kind: HostDisconnected})
			return
		}

		nr, err := unix.Read(c.rfd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			c.emit(EffectEvent{Kind: HostDisconnected})
			return
		}

		le := binary.LittleEndian
		for off := 0; off+inputEventSize <= nr; off += inputEventSize {
			typ := le.Uint16(buf[off+16:])
			code := le.Uint16(buf[off+18:])
			value := int32(le.Uint32(buf[off+20:]))

			switch typ {
			case evUinput:
				switch code {
				case uiFFUpload:
					c.handleUpload(uint32(value), pending, live)
				case uiFFErase:
					c.handleErase(uint32(value), pending, live)
				}
			case evFF:
				if code == ffGain || code == ffAutocentr {
					continue
				}
				id := int16(code)
				if value > 0 {
					if eff, ok := pending[id]; ok {
						delete(pending, id)
						live[id] = eff
						c.emit(EffectEvent{Kind: EffectUpload, ID: id, Effect: eff})
					} else if eff, ok := live[id]; ok {
						c.emit(EffectEvent{Kind: EffectUpload, ID: id, Effect: eff})
					}
				} else {
					if _, ok := live[id]; ok {
						c.emit(EffectEvent{Kind: EffectStop, ID: id})
					}
				}
			}
		}
	}
}

// handleUpload completes one UI_BEGIN/END_FF_UPLOAD exchange.
func (c *UinputController) handleUpload(requestID uint32, pending, live map[int16]RawEffect) {
	var req [ffUploadSize]byte
	le := binary.LittleEndian
	le.PutUint32(req[0:], requestID)
	if err := ioctlPtr(c.rfd, uiBeginFFUpl, unsafe.Pointer(&req[0])); err != nil {
		log.Printf("ff upload begin: %v", err)
		return
	}
	eff := decodeFFEffect(req[8 : 8+ffEffectSize])
	id := int16(le.Uint16(req[10:])) // ff_effect.id

	// retval = 0, accept the effect.
	le.PutUint32(req[4:], 0)
	if err := ioctlPtr(c.rfd, uiEndFFUpl, unsafe.Pointer(&req[0])); err != nil {
		log.Printf("ff upload end: %v", err)
		return
	}

	if _, ok := live[id]; ok {
		live[id] = eff
		c.emit(EffectEvent{Kind: EffectUpdate, ID: id, Effect: eff})
		return
	}
	pending[id] = eff
}

// handleErase completes one UI_BEGIN/END_FF_ERASE exchange.
func (c *UinputController) handleErase(requestID uint32, pending, live map[int16]RawEffect) {
	var req [12]byte
	le := binary.LittleEndian
	le.PutUint32(req[0:], requestID)
	if err := ioctlPtr(c.rfd, uiBeginFFErase, unsafe.Pointer(&req[0])); err != nil {
		log.Printf("ff erase begin: %v", err)
		return
	}
	id := int16(le.Uint32(req[8:]))
	le.PutUint32(req[4:], 0)
	if err := ioctlPtr(c.rfd, uiEndFFErase, unsafe.Pointer(&req[0])); err != nil {
		log.Printf("ff erase end: %v", err)
		return
	}

	delete(pending, id)
	if _, ok := live[id]; ok {
		delete(live, id)
		c.emit(EffectEvent{Kind: EffectStop, ID: id})
	}
}

// decodeFFEffect reads the ff_effect union into a RawEffect. The union
// starts at byte 16; direction is at 4 and replay.length at 10.
func decodeFFEffect(b []byte) RawEffect {
	le := binary.LittleEndian
	eff := RawEffect{
		Type:       le.Uint16(b[0:]),
		Direction:  le.Uint16(b[4:]),
		DurationMs: le.Uint16(b[10:]),
	}
	u := b[16:]
	switch eff.Type {
	case ffRumble:
		eff.StrongMagnitude = le.Uint16(u[0:])
		eff.WeakMagnitude = le.Uint16(u[2:])
	case ffConstant:
		eff.Level = int16(le.Uint16(u[0:]))
		eff.AttackLengthMs = le.Uint16(u[2:])
		eff.AttackLevel = le.Uint16(u[4:])
		eff.FadeLengthMs = le.Uint16(u[6:])
		eff.FadeLevel = le.Uint16(u[8:])
	case ffPeriodic:
		eff.PeriodMs = le.Uint16(u[2:])
		eff.Level = int16(le.Uint16(u[4:]))
		eff.AttackLengthMs = le.Uint16(u[10:])
		eff.AttackLevel = le.Uint16(u[12:])
		eff.FadeLengthMs = le.Uint16(u[14:])
		eff.FadeLevel = le.Uint16(u[16:])
	case ffRamp:
		eff.Level = int16(le.Uint16(u[0:]))
		eff.EndLevel = int16(le.Uint16(u[2:]))
		eff.AttackLengthMs = le.Uint16(u[4:])
		eff.AttackLevel = le.Uint16(u[6:])
		eff.FadeLengthMs = le.Uint16(u[8:])
		eff.FadeLevel = le.Uint16(u[10:])
	case ffSpring, ffDamper:
		eff.Saturation = le.Uint16(u[0:])
		eff.Coeff = int16(le.Uint16(u[4:]))
	}
	return eff
}

// emit never blocks. Stalling here would stall readEffects and with it the
// kernel upload/erase handshake the host is waiting on, so when nothing is
// draining the channel the event is dropped instead.
func (c *UinputController) emit(ev EffectEvent) {
	select {
	case c.events <- ev:
	case <-c.stop:
	default:
		log.Printf("effect event channel full, dropping %s for id %d", ev.Kind, ev.ID)
	}
}

func ioctl(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
