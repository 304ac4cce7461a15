//go:build windows

package vpad

import (
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"
	"unsafe"
)

// ViGEmBus client bindings. The bus driver exposes a C API from
// ViGEmClient.dll; loading it lazily keeps the binary runnable for
// diagnostics on machines without the driver installed.
var (
	vigemDLL = syscall.NewLazyDLL("ViGEmClient.dll")

	procAlloc        = vigemDLL.NewProc("vigem_alloc")
	procConnect      = vigemDLL.NewProc("vigem_connect")
	procDisconnect   = vigemDLL.NewProc("vigem_disconnect")
	procFree         = vigemDLL.NewProc("vigem_free")
	procX360Alloc    = vigemDLL.NewProc("vigem_target_x360_alloc")
	procTargetAdd    = vigemDLL.NewProc("vigem_target_add")
	procTargetRemove = vigemDLL.NewProc("vigem_target_remove")
	procTargetFree   = vigemDLL.NewProc("vigem_target_free")
	procX360Update   = vigemDLL.NewProc("vigem_target_x360_update")
	procX360Notify   = vigemDLL.NewProc("vigem_target_x360_register_notification")
	procX360Unnotify = vigemDLL.NewProc("vigem_target_x360_unregister_notification")
)

const (
	vigemErrNone        = 0x20000000
	vigemErrBusNotFound = 0xe0000002
)

// XUSB_REPORT button bits.
const (
	xusbDpadUp    = 0x0001
	xusbDpadDown  = 0x0002
	xusbDpadLeft  = 0x0004
	xusbDpadRight = 0x0008
	xusbStart     = 0x0010
	xusbBack      = 0x0020
	xusbThumbL    = 0x0040
	xusbThumbR    = 0x0080
	xusbLB        = 0x0100
	xusbRB        = 0x0200
	xusbGuide     = 0x0400
	xusbA         = 0x1000
	xusbB         = 0x2000
	xusbX         = 0x4000
	xusbY         = 0x8000
)

var xusbBits = []struct {
	button Button
	bit    uint16
}{
	{ButtonA, xusbA}, {ButtonB, xusbB}, {ButtonX, xusbX}, {ButtonY, xusbY},
	{ButtonLB, xusbLB}, {ButtonRB, xusbRB},
	{ButtonBack, xusbBack}, {ButtonStart, xusbStart}, {ButtonGuide, xusbGuide},
	{ButtonThumbL, xusbThumbL}, {ButtonThumbR, xusbThumbR},
	{ButtonDpadUp, xusbDpadUp}, {ButtonDpadDown, xusbDpadDown},
	{ButtonDpadLeft, xusbDpadLeft}, {ButtonDpadRight, xusbDpadRight},
}

// The bus reports rumble per target through one registered callback; route
// back to the owning controller by client handle.
var (
	notifyMu  sync.Mutex
	notifyMap = map[uintptr]*ViGEmController{}
)

// ViGEmController is an emulated Xbox 360 pad on the ViGEmBus driver.
type ViGEmController struct {
	mu     sync.Mutex
	client uintptr
	target uintptr
	closed bool

	events  chan EffectEvent
	rumbling bool // a rumble effect is currently live
}

// NewController connects to the ViGEmBus driver and plugs in one virtual
// Xbox 360 pad.
func NewController() (Controller, error) {
	if err := vigemDLL.Load(); err != nil {
		return nil, fmt.Errorf("load ViGEmClient.dll: %w", ErrDriverUnavailable)
	}

	client, _, _ := procAlloc.Call()
	if client == 0 {
		return nil, fmt.Errorf("vigem_alloc: %w", ErrCreateFailed)
	}
	if rc, _, _ := procConnect.Call(client); uint32(rc) != vigemErrNone {
		procFree.Call(client)
		if uint32(rc) == vigemErrBusNotFound {
			return nil, fmt.Errorf("ViGEmBus driver not installed: %w", ErrDriverUnavailable)
		}
		return nil, fmt.Errorf("vigem_connect: %#x: %w", rc, ErrCreateFailed)
	}

	target, _, _ := procX360Alloc.Call()
	if target == 0 {
		procDisconnect.Call(client)
		procFree.Call(client)
		return nil, fmt.Errorf("vigem_target_x360_alloc: %w", ErrCreateFailed)
	}
	if rc, _, _ := procTargetAdd.Call(client, target); uint32(rc) != vigemErrNone {
		procTargetFree.Call(target)
		procDisconnect.Call(client)
		procFree.Call(client)
		return nil, fmt.Errorf("vigem_target_add: %#x: %w", rc, ErrCreateFailed)
	}

	c := &ViGEmController{
		client: client,
		target: target,
		events: make(chan EffectEvent, 64),
	}
	notifyMu.Lock()
	notifyMap[target] = c
	notifyMu.Unlock()

	rc, _, _ := procX360Notify.Call(client, target, rumbleCallback, 0)
	if uint32(rc) != vigemErrNone {
		c.Destroy()
		return nil, fmt.Errorf("vigem x360 notification: %#x: %w", rc, ErrCreateFailed)
	}
	return c, nil
}

var rumbleCallback = syscall.NewCallback(func(client, target uintptr, largeMotor, smallMotor, ledNumber uintptr, userData uintptr) uintptr {
	notifyMu.Lock()
	c := notifyMap[target]
	notifyMu.Unlock()
	if c != nil {
		c.onRumble(byte(largeMotor), byte(smallMotor))
	}
	return 0
})

// onRumble turns the XUSB motor pair into effect lifecycle events. XUSB has
// a single rumble channel, so everything maps onto effect id 0: non-zero
// motors upload or update it, both-zero stops it.
func (c *ViGEmController) onRumble(large, small byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if large == 0 && small == 0 {
		if c.rumbling {
			c.rumbling = false
			c.send(EffectEvent{Kind: EffectStop, ID: 0})
		}
		return
	}

	eff := RawEffect{
		Type:            0x50, // rumble, matching the Linux code space
		StrongMagnitude: uint16(large) * 257,
		WeakMagnitude:   uint16(small) * 257,
	}
	kind := EffectUpload
	if c.rumbling {
		kind = EffectUpdate
	}
	c.rumbling = true
	c.send(EffectEvent{Kind: kind, ID: 0, Effect: eff})
}

func (c *ViGEmController) send(ev EffectEvent) {
	select {
	case c.events <- ev:
	default:
		// Never stall the driver callback; the consumer will catch up
		// on the next state change.
	}
}

// Effects implements Controller.
func (c *ViGEmController) Effects() <-chan EffectEvent { return c.events }

// Publish implements Controller.
func (c *ViGEmController) Publish(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCreateFailed
	}

	var buttons uint16
	for _, m := range xusbBits {
		if s.Buttons&m.button != 0 {
			buttons |= m.bit
		}
	}

	// XUSB_REPORT: wButtons, bLeftTrigger, bRightTrigger, then the four
	// stick axes as s16. XInput Y points up, so stick Y flips sign here.
	var report [12]byte
	le := binary.LittleEndian
	le.PutUint16(report[0:], buttons)
	report[2] = byte(triggerRaw(s.LeftTrigger))
	report[3] = byte(triggerRaw(s.RightTrigger))
	le.PutUint16(report[4:], uint16(stickRaw(s.LeftStickX)))
	le.PutUint16(report[6:], uint16(stickRaw(-s.LeftStickY)))
	le.PutUint16(report[8:], uint16(stickRaw(s.RightStickX)))
	le.PutUint16(report[10:], uint16(stickRaw(-s.RightStickY)))

	rc, _, _ := procX360Update.Call(c.client, c.target, uintptr(unsafe.Pointer(&report[0])))
	if uint32(rc) != vigemErrNone {
		return fmt.Errorf("vigem x360 update: %#x", rc)
	}
	return nil
}

func stickRaw(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

func triggerRaw(v float64) int32 {
	if v > 1 {
		v = 1
	} else if v < 0 {
		v = 0
	}
	return int32(v * 255)
}

// Destroy implements Controller.
func (c *ViGEmController) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client, target := c.client, c.target
	c.mu.Unlock()

	notifyMu.Lock()
	delete(notifyMap, target)
	notifyMu.Unlock()

	procX360Unnotify.Call(target)
	procTargetRemove.Call(client, target)
	procTargetFree.Call(target)
	procDisconnect.Call(client)
	procFree.Call(client)
	close(c.events)
	return nil
}
