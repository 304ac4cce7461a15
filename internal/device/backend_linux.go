//go:build linux

package device

import (
	"encoding/binary"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux input plumbing: evdev ioctls for identity, axis ranges and force
// feedback upload, plus input_event stream parsing. See linux/input.h.
const (
	evSyn uint16 = 0x00
	evKey uint16 = 0x01
	evAbs uint16 = 0x03
	evFF  uint16 = 0x15

	synReport uint16 = 0x00

	absX  uint16 = 0x00
	absY  uint16 = 0x01
	absZ  uint16 = 0x02
	absRZ uint16 = 0x05

	ffConstant uint16 = 0x52
	ffPeriodic uint16 = 0x51
	ffSpring   uint16 = 0x53
	ffRamp     uint16 = 0x57
	ffSine     uint16 = 0x5a

	btnBase uint16 = 0x100

	inputEventSize = 24 // struct input_event on 64-bit
	ffEffectSize   = 48 // struct ff_effect on 64-bit
)

const (
	iocRead  = 2
	iocWrite = 1
)

func evioc(dir, size, nr uintptr) uintptr {
	return dir<<30 | size<<16 | 'E'<<8 | nr
}

var (
	eviocGID      = evioc(iocRead, 8, 0x02)
	eviocGEffects = evioc(iocRead, 4, 0x84)
	eviocSFF      = evioc(iocWrite, ffEffectSize, 0x80)
	eviocRMFF     = evioc(iocWrite, 4, 0x81)
	eviocGrab     = evioc(iocWrite, 4, 0x90)
)

func eviocGName(n uintptr) uintptr  { return evioc(iocRead, n, 0x06) }
func eviocGBit(ev, n uintptr) uintptr {
	return evioc(iocRead, n, 0x20+ev)
}
func eviocGAbs(code uintptr) uintptr { return evioc(iocRead, 24, 0x40+code) }

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// axisRoles maps the evdev axis layout used by Logitech-class wheels to
// semantic roles: X is the wheel, Z gas, RZ brake, Y clutch.
var axisRoles = map[uint16]AxisRole{
	absX:  RoleSteering,
	absZ:  RoleThrottle,
	absRZ: RoleBrake,
	absY:  RoleClutch,
}

// EvdevBackend enumerates and opens wheels through /dev/input/event*.
type EvdevBackend struct {
	// Glob is overridable for tests; defaults to the evdev node pattern.
	Glob string
}

func NewBackend() *EvdevBackend {
	return &EvdevBackend{Glob: "/dev/input/event*"}
}

func (b *EvdevBackend) Enumerate() ([]Info, error) {
	paths, err := filepath.Glob(b.Glob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	var out []Info
	for _, path := range paths {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			continue // no access or racing disconnect, not a candidate
		}
		info, _, err := probe(fd, path)
		unix.Close(fd)
		if err != nil || len(info.Axes) == 0 {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *EvdevBackend) Open(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch err {
		case unix.ENOENT, unix.ENODEV:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		case unix.EACCES, unix.EPERM:
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	info, buttons, err := probe(fd, path)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Exclusive grab so desktop input stacks stop seeing the raw wheel.
	if err := ioctlInt(fd, eviocGrab, 1); err != nil {
		unix.Close(fd)
		if err == unix.EBUSY {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, path)
		}
		return nil, fmt.Errorf("%w: grab %s: %v", ErrIO, path, err)
	}

	d := &evdevDevice{
		fd:       fd,
		info:     info,
		btnIndex: buttons,
		cur:      Sample{Axes: make(map[uint16]int32, len(info.Axes))},
		uploaded: make(map[EffectHandle]struct{}),
	}
	// Seed current axis values so the first sample is not all zero.
	for _, a := range info.Axes {
		var abs [6]int32
		if err := ioctl(fd, eviocGAbs(uintptr(a.Code)), unsafe.Pointer(&abs[0])); err == nil {
			d.cur.Axes[a.Code] = abs[0]
		}
	}
	log.Printf("Opened wheel %s (%s) axes=%d buttons=%d ffSlots=%d",
		info.Name, path, len(info.Axes), len(buttons), info.FFSlots)
	return d, nil
}

func ioctlInt(fd int, req uintptr, v int32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(v))
	if errno != 0 {
		return errno
	}
	return nil
}

func hasBit(bits []byte, n uint16) bool {
	return int(n/8) < len(bits) && bits[n/8]&(1<<(n%8)) != 0
}

// probe reads identity and capabilities from an open evdev fd. The returned
// map assigns a dense index to every key code the device reports, used to
// pack buttons into the sample bitset.
func probe(fd int, path string) (Info, map[uint16]int, error) {
	var id [4]uint16 // bustype, vendor, product, version
	if err := ioctl(fd, eviocGID, unsafe.Pointer(&id[0])); err != nil {
		return Info{}, nil, fmt.Errorf("%w: EVIOCGID: %v", ErrIO, err)
	}

	var name [256]byte
	if err := ioctl(fd, eviocGName(uintptr(len(name))), unsafe.Pointer(&name[0])); err != nil {
		return Info{}, nil, fmt.Errorf("%w: EVIOCGNAME: %v", ErrIO, err)
	}
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}

	var evbits [4]byte
	if err := ioctl(fd, eviocGBit(0, uintptr(len(evbits))), unsafe.Pointer(&evbits[0])); err != nil {
		return Info{}, nil, fmt.Errorf("%w: EVIOCGBIT: %v", ErrIO, err)
	}

	info := Info{
		VendorID:  id[1],
		ProductID: id[2],
		Path:      path,
		Name:      string(name[:n]),
	}

	if hasBit(evbits[:], evAbs) {
		var absbits [8]byte
		if err := ioctl(fd, eviocGBit(uintptr(evAbs), uintptr(len(absbits))), unsafe.Pointer(&absbits[0])); err == nil {
			for code := uint16(0); code < 64; code++ {
				if !hasBit(absbits[:], code) {
					continue
				}
				var abs [6]int32 // value, min, max, fuzz, flat, resolution
				if err := ioctl(fd, eviocGAbs(uintptr(code)), unsafe.Pointer(&abs[0])); err != nil {
					continue
				}
				role, ok := axisRoles[code]
				if !ok {
					role = RoleUnmapped
				}
				info.Axes = append(info.Axes, AxisInfo{
					Code:   code,
					RawMin: abs[1],
					RawMax: abs[2],
					Role:   role,
				})
			}
		}
	}

	buttons := make(map[uint16]int)
	if hasBit(evbits[:], evKey) {
		var keybits [96]byte
		if err := ioctl(fd, eviocGBit(uintptr(evKey), uintptr(len(keybits))), unsafe.Pointer(&keybits[0])); err == nil {
			var codes []uint16
			for code := btnBase; code < uint16(len(keybits)*8); code++ {
				if hasBit(keybits[:], code) {
					codes = append(codes, code)
				}
			}
			sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
			for i, c := range codes {
				buttons[c] = i
			}
		}
	}
	info.Buttons = len(buttons)

	if hasBit(evbits[:], evFF) {
		var slots int32
		if err := ioctl(fd, eviocGEffects, unsafe.Pointer(&slots)); err == nil && slots > 0 {
			info.ForceFeedback = true
			info.FFSlots = int(slots)
		}
	}
	return info, buttons, nil
}

type evdevDevice struct {
	fd       int
	info     Info
	btnIndex map[uint16]int
	cur      Sample
	uploaded map[EffectHandle]struct{}
	closed   bool
}

func (d *evdevDevice) Info() Info { return d.info }

func (d *evdevDevice) PollInput(timeout time.Duration) (Sample, error) {
	if d.closed {
		return Sample{}, ErrDisconnected
	}

	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil && err != unix.EINTR {
		return Sample{}, fmt.Errorf("%w: poll: %v", ErrIO, err)
	}
	if n > 0 {
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return Sample{}, ErrDisconnected
		}
		if err := d.drainEvents(); err != nil {
			return Sample{}, err
		}
	}
	return d.snapshot(), nil
}

func (d *evdevDevice) drainEvents() error {
	buf := make([]byte, inputEventSize*32)
	for {
		n, err := unix.Read(d.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.ENODEV {
				return ErrDisconnected
			}
			return fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			typ := binary.LittleEndian.Uint16(buf[off+16:])
			code := binary.LittleEndian.Uint16(buf[off+18:])
			value := int32(binary.LittleEndian.Uint32(buf[off+20:]))
			d.apply(typ, code, value)
		}
	}
}

func (d *evdevDevice) apply(typ, code uint16, value int32) {
	switch typ {
	case evAbs:
		d.cur.Axes[code] = value
	case evKey:
		idx, ok := d.btnIndex[code]
		if !ok || idx >= 32 {
			return
		}
		if value != 0 {
			d.cur.Buttons |= 1 << idx
		} else {
			d.cur.Buttons &^= 1 << idx
		}
	}
}

func (d *evdevDevice) snapshot() Sample {
	s := Sample{Axes: make(map[uint16]int32, len(d.cur.Axes)), Buttons: d.cur.Buttons}
	for k, v := range d.cur.Axes {
		s.Axes[k] = v
	}
	return s
}

// encodeEffect lays out a struct ff_effect for EVIOCSFF. The union region
// starts at offset 16; replay.length carries the duration.
func encodeEffect(id EffectHandle, p EffectParams) [ffEffectSize]byte {
	var b [ffEffectSize]byte
	le := binary.LittleEndian

	var typ uint16
	switch p.Kind {
	case EffectConstant:
		typ = ffConstant
	case EffectPeriodic:
		typ = ffPeriodic
	case EffectSpring:
		typ = ffSpring
	case EffectRamp:
		typ = ffRamp
	}
	le.PutUint16(b[0:], typ)
	le.PutUint16(b[2:], uint16(id))
	le.PutUint16(b[4:], p.Direction)
	le.PutUint16(b[10:], p.DurationMs) // replay.length

	env := func(off int) {
		le.PutUint16(b[off:], p.Envelope.AttackLengthMs)
		le.PutUint16(b[off+2:], p.Envelope.AttackLevel)
		le.PutUint16(b[off+4:], p.Envelope.FadeLengthMs)
		le.PutUint16(b[off+6:], p.Envelope.FadeLevel)
	}

	switch p.Kind {
	case EffectConstant:
		le.PutUint16(b[16:], uint16(p.Level))
		env(18)
	case EffectRamp:
		le.PutUint16(b[16:], uint16(p.Level))    // start_level
		le.PutUint16(b[18:], uint16(p.EndLevel)) // end_level
		env(20)
	case EffectPeriodic:
		le.PutUint16(b[16:], ffSine) // waveform
		le.PutUint16(b[18:], p.PeriodMs)
		le.PutUint16(b[20:], uint16(p.Level)) // magnitude
		env(26)
	case EffectSpring:
		// Two ff_condition_effect entries, one per axis; the wheel only
		// has one FFB axis so both carry the same coefficients.
		for _, off := range []int{16, 28} {
			le.PutUint16(b[off:], p.Saturation)   // right_saturation
			le.PutUint16(b[off+2:], p.Saturation) // left_saturation
			le.PutUint16(b[off+4:], uint16(p.Coeff))
			le.PutUint16(b[off+6:], uint16(p.Coeff))
		}
	}
	return b
}

func (d *evdevDevice) uploadAt(id EffectHandle, p EffectParams) (EffectHandle, error) {
	buf := encodeEffect(id, p)
	if err := ioctl(d.fd, eviocSFF, unsafe.Pointer(&buf[0])); err != nil {
		switch err {
		case unix.ENOSPC, unix.ENOMEM:
			return 0, ErrResourceExhausted
		case unix.EINVAL:
			return 0, ErrUnsupported
		case unix.ENODEV:
			return 0, ErrDisconnected
		}
		return 0, fmt.Errorf("%w: EVIOCSFF: %v", ErrIO, err)
	}
	// Kernel writes the assigned effect id back into the buffer.
	return EffectHandle(int16(binary.LittleEndian.Uint16(buf[2:]))), nil
}

func (d *evdevDevice) UploadEffect(p EffectParams) (EffectHandle, error) {
	h, err := d.uploadAt(-1, p)
	if err != nil {
		return 0, err
	}
	d.uploaded[h] = struct{}{}
	return h, nil
}

func (d *evdevDevice) UpdateEffect(h EffectHandle, p EffectParams) error {
	if _, ok := d.uploaded[h]; !ok {
		return fmt.Errorf("%w: effect %d not uploaded", ErrUnsupported, h)
	}
	_, err := d.uploadAt(h, p)
	return err
}

func (d *evdevDevice) writeFFEvent(h EffectHandle, value int32) error {
	var buf [inputEventSize]byte
	le := binary.LittleEndian
	le.PutUint16(buf[16:], evFF)
	le.PutUint16(buf[18:], uint16(h))
	le.PutUint32(buf[20:], uint32(value))
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		if err == unix.ENODEV {
			return ErrDisconnected
		}
		return fmt.Errorf("%w: write EV_FF: %v", ErrIO, err)
	}
	return nil
}

func (d *evdevDevice) PlayEffect(h EffectHandle) error {
	return d.writeFFEvent(h, 1)
}

func (d *evdevDevice) StopEffect(h EffectHandle) error {
	if _, ok := d.uploaded[h]; !ok {
		return nil // stop is idempotent
	}
	err := d.writeFFEvent(h, 0)
	if rmErr := ioctlInt(d.fd, eviocRMFF, int32(h)); rmErr != nil && err == nil && rmErr != unix.EINVAL {
		err = fmt.Errorf("%w: EVIOCRMFF: %v", ErrIO, rmErr)
	}
	delete(d.uploaded, h)
	return err
}

func (d *evdevDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for h := range d.uploaded {
		d.writeFFEvent(h, 0)
		ioctlInt(d.fd, eviocRMFF, int32(h))
	}
	d.uploaded = map[EffectHandle]struct{}{}
	ioctlInt(d.fd, eviocGrab, 0)
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}
