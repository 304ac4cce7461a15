package device

import "fmt"

// Logitech wheel state report layout (G920/G29 family over raw HID). The
// wheel is a 16-bit little-endian value centered at 0x8000; pedals are
// 8-bit and rest at 0xff, pressed toward 0.
const (
	wheelReportLength = 10
	wheelStateReport  = 1

	reportOffType      = 0
	reportOffDpadABXY  = 1
	reportOffButtons   = 2
	reportOffWheelLow  = 4
	reportOffWheelHigh = 5
	reportOffPedalGas  = 6
	reportOffPedalBrk  = 7
	reportOffPedalClu  = 8
)

// Axis codes used by the HID wheel backend. Kept stable so calibration
// profiles survive reconnects.
const (
	WheelAxisSteering uint16 = 0
	WheelAxisThrottle uint16 = 1
	WheelAxisBrake    uint16 = 2
	WheelAxisClutch   uint16 = 3
)

// WheelReportAxes describes the fixed axis set of the HID report format.
func WheelReportAxes() []AxisInfo {
	return []AxisInfo{
		{Code: WheelAxisSteering, RawMin: 0, RawMax: 0xffff, Role: RoleSteering},
		{Code: WheelAxisThrottle, RawMin: 0, RawMax: 0xff, Role: RoleThrottle},
		{Code: WheelAxisBrake, RawMin: 0, RawMax: 0xff, Role: RoleBrake},
		{Code: WheelAxisClutch, RawMin: 0, RawMax: 0xff, Role: RoleClutch},
	}
}

// DecodeWheelReport parses one raw HID state report into a Sample. Pedal
// values are flipped so that pressed reads high, matching the evdev
// backend's orientation.
func DecodeWheelReport(buf []byte) (Sample, error) {
	if len(buf) < wheelReportLength {
		return Sample{}, fmt.Errorf("%w: short report (%d bytes)", ErrIO, len(buf))
	}
	if buf[reportOffType] != wheelStateReport {
		return Sample{}, fmt.Errorf("%w: unknown report type %d", ErrIO, buf[reportOffType])
	}

	s := Sample{Axes: make(map[uint16]int32, 4)}
	s.Axes[WheelAxisSteering] = int32(buf[reportOffWheelLow]) | int32(buf[reportOffWheelHigh])<<8
	s.Axes[WheelAxisThrottle] = 0xff - int32(buf[reportOffPedalGas])
	s.Axes[WheelAxisBrake] = 0xff - int32(buf[reportOffPedalBrk])
	s.Axes[WheelAxisClutch] = 0xff - int32(buf[reportOffPedalClu])

	// Byte 1 packs the dpad in the low nibble and the face buttons in the
	// high nibble; byte 2 carries paddles and the remaining buttons.
	s.Buttons = uint32(buf[reportOffDpadABXY]>>4) | uint32(buf[reportOffButtons])<<4
	return s, nil
}
