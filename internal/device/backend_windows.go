//go:build windows

package device

import (
	"fmt"
	"log"
	"time"

	"github.com/sstallion/go-hid"
)

// Known force-feedback wheels reachable over raw HID. The classic Logitech
// protocol exposes four concurrent effect slots.
const hidFFSlots = 4

type wheelModel struct {
	name string
}

var knownWheels = map[[2]uint16]wheelModel{
	{0x046d, 0xc24f}: {name: "Logitech G29"},
	{0x046d, 0xc260}: {name: "Logitech G29 (PS mode)"},
	{0x046d, 0xc262}: {name: "Logitech G920"},
	{0x046d, 0xc26e}: {name: "Logitech G923"},
	{0x046d, 0xc294}: {name: "Logitech Driving Force"},
	{0x046d, 0xc298}: {name: "Logitech Driving Force Pro"},
	{0x046d, 0xc299}: {name: "Logitech G25"},
	{0x046d, 0xc29b}: {name: "Logitech G27"},
}

// HIDBackend enumerates and opens wheels through the hidapi library.
type HIDBackend struct{}

func NewBackend() *HIDBackend {
	hid.Init()
	return &HIDBackend{}
}

func (b *HIDBackend) Enumerate() ([]Info, error) {
	var out []Info
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(di *hid.DeviceInfo) error {
		model, ok := knownWheels[[2]uint16{di.VendorID, di.ProductID}]
		if !ok {
			return nil
		}
		name := di.ProductStr
		if name == "" {
			name = model.name
		}
		out = append(out, Info{
			VendorID:      di.VendorID,
			ProductID:     di.ProductID,
			Path:          di.Path,
			Name:          name,
			Axes:          WheelReportAxes(),
			Buttons:       12,
			ForceFeedback: true,
			FFSlots:       hidFFSlots,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: hid enumerate: %v", ErrIO, err)
	}
	return out, nil
}

func (b *HIDBackend) Open(path string) (Device, error) {
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	di, err := dev.GetDeviceInfo()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: device info: %v", ErrIO, err)
	}
	model := knownWheels[[2]uint16{di.VendorID, di.ProductID}]
	name := di.ProductStr
	if name == "" {
		name = model.name
	}
	d := &hidDevice{
		dev: dev,
		info: Info{
			VendorID:      di.VendorID,
			ProductID:     di.ProductID,
			Path:          path,
			Name:          name,
			Axes:          WheelReportAxes(),
			Buttons:       12,
			ForceFeedback: true,
			FFSlots:       hidFFSlots,
		},
		slots: NewSlotPool(hidFFSlots),
		cur:   Sample{Axes: make(map[uint16]int32, 4)},
	}
	log.Printf("Opened wheel %s (%s) over HID", name, path)
	return d, nil
}

type hidDevice struct {
	dev    *hid.Device
	info   Info
	slots  *SlotPool
	active map[EffectHandle]EffectParams
	cur    Sample
	closed bool
}

func (d *hidDevice) Info() Info { return d.info }

func (d *hidDevice) PollInput(timeout time.Duration) (Sample, error) {
	if d.closed {
		return Sample{}, ErrDisconnected
	}
	buf := make([]byte, 64)
	n, err := d.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: hid read: %v", ErrIO, err)
	}
	if n > 0 {
		s, err := DecodeWheelReport(buf[:n])
		if err == nil {
			d.cur = s
		}
	}
	out := Sample{Axes: make(map[uint16]int32, len(d.cur.Axes)), Buttons: d.cur.Buttons}
	for k, v := range d.cur.Axes {
		out.Axes[k] = v
	}
	return out, nil
}

// Classic Logitech FFB command set: byte 0 is (slot mask << 4) | command,
// byte 1 the force type, bytes 2..6 force parameters.
const (
	lgCmdDownload        = 0x00
	lgCmdDownloadAndPlay = 0x01
	lgCmdPlay            = 0x02
	lgCmdStop            = 0x03

	lgForceConstant = 0x00
	lgForceSpring   = 0x01
	lgForceDamper   = 0x02
	lgForceVariable = 0x08
)

// lgLevel maps a signed 16-bit level to the protocol's centered byte.
func lgLevel(level int16) byte {
	return byte((int32(level) + 32768) >> 8)
}

func (d *hidDevice) command(h EffectHandle, cmd byte, p EffectParams) error {
	out := make([]byte, 8)
	out[0] = 0 // report id
	out[1] = byte(1<<uint(h))<<4 | cmd
	switch p.Kind {
	case EffectConstant, EffectRamp:
		out[2] = lgForceConstant
		lvl := lgLevel(p.Level)
		out[3], out[4], out[5], out[6] = lvl, lvl, lvl, lvl
	case EffectPeriodic:
		out[2] = lgForceVariable
		out[3] = lgLevel(p.Level)
		out[4] = lgLevel(-p.Level)
		out[5] = byte(p.PeriodMs >> 4)
		out[6] = byte(p.PeriodMs >> 4)
	case EffectSpring:
		out[2] = lgForceSpring
		k := byte(p.Coeff >> 11 & 0x0f)
		out[3], out[4] = k, k
		out[5] = byte(p.Saturation >> 8)
	}
	if _, err := d.dev.Write(out); err != nil {
		return fmt.Errorf("%w: hid write: %v", ErrIO, err)
	}
	return nil
}

func (d *hidDevice) UploadEffect(p EffectParams) (EffectHandle, error) {
	if d.closed {
		return 0, ErrDisconnected
	}
	h, ok := d.slots.Acquire()
	if !ok {
		return 0, ErrResourceExhausted
	}
	if err := d.command(h, lgCmdDownload, p); err != nil {
		d.slots.Release(h)
		return 0, err
	}
	if d.active == nil {
		d.active = make(map[EffectHandle]EffectParams)
	}
	d.active[h] = p
	return h, nil
}

func (d *hidDevice) UpdateEffect(h EffectHandle, p EffectParams) error {
	if _, ok := d.active[h]; !ok {
		return fmt.Errorf("%w: effect %d not uploaded", ErrUnsupported, h)
	}
	// Re-download into the same slot; playback state is preserved.
	if err := d.command(h, lgCmdDownload, p); err != nil {
		return err
	}
	d.active[h] = p
	return nil
}

func (d *hidDevice) PlayEffect(h EffectHandle) error {
	p, ok := d.active[h]
	if !ok {
		return fmt.Errorf("%w: effect %d not uploaded", ErrUnsupported, h)
	}
	return d.command(h, lgCmdPlay, p)
}

func (d *hidDevice) StopEffect(h EffectHandle) error {
	p, ok := d.active[h]
	if !ok {
		return nil // stop is idempotent
	}
	err := d.command(h, lgCmdStop, p)
	delete(d.active, h)
	d.slots.Release(h)
	return err
}

func (d *hidDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for h := range d.active {
		d.StopEffect(h)
	}
	if err := d.dev.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}
