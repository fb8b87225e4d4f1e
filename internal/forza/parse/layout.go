package parse

import (
	"fmt"
)

/*
Forza "Data Out" Packet Layout (Sled + Dash, 323 bytes)

The game sends one UDP datagram per simulation tick. Every field is
little-endian and the packet is densely packed with a single exception:

PACKET STRUCTURE (323 bytes total):
├── Sled        [0, 232)   race flag, timestamp, engine, kinematics, per-wheel state, car identity
├── Reserved    [232, 244) 12 bytes, carries no field in this layout and is never read
└── Dash        [244, 323) position, speed/power/torque, tyres, laps, driver inputs

Per-wheel groups are always front-left, front-right, rear-left, rear-right.

The layout below is the single source of truth for offsets. Decode and Encode
both walk it, and ValidateLayout runs at init so that a broken edit panics on
startup instead of producing plausible but wrong physics values.
*/

// Packet layout constants
const (
	MESSAGE_SIZE   = 323                          // Bytes consumed per datagram; trailing bytes are ignored
	RESERVED_START = 232                          // First byte of the unused span between drivetrain and position fields
	RESERVED_END   = 244                          // First byte after the unused span
	RESERVED_SIZE  = RESERVED_END - RESERVED_START // 12 bytes
)

// Kind is the numeric interpretation applied to a field's bytes.
type Kind uint8

const (
	Int32 Kind = iota + 1
	Uint32
	Float32
	Uint16
	Uint8
	Int8
)

// Width returns the wire width in bytes for the kind, or 0 if unknown.
func (k Kind) Width() int {
	switch k {
	case Int32, Uint32, Float32:
		return 4
	case Uint16:
		return 2
	case Uint8, Int8:
		return 1
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Int32:
		return "s32"
	case Uint32:
		return "u32"
	case Float32:
		return "f32"
	case Uint16:
		return "u16"
	case Uint8:
		return "u8"
	case Int8:
		return "s8"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Field is one entry of the wire layout.
type Field struct {
	Name   string
	Offset int
	Width  int
	Kind   Kind

	// ref returns a pointer to the snapshot member this field populates.
	ref func(*Snapshot) any
}

// End returns the first byte after the field.
func (f Field) End() int { return f.Offset + f.Width }

// Value returns the field's value read from s, or nil for a field without a
// snapshot binding.
func (f Field) Value(s Snapshot) any {
	if f.ref == nil {
		return nil
	}
	switch p := f.ref(&s).(type) {
	case *int32:
		return *p
	case *uint32:
		return *p
	case *float32:
		return *p
	case *uint16:
		return *p
	case *uint8:
		return *p
	case *int8:
		return *p
	default:
		return nil
	}
}

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Contains reports whether offset falls inside the span.
func (s Span) Contains(offset int) bool { return offset >= s.Start && offset < s.End }

// Reserved returns the byte range that no field reads.
func Reserved() Span { return Span{Start: RESERVED_START, End: RESERVED_END} }

// Layout returns a copy of the wire layout in offset order.
func Layout() []Field {
	out := make([]Field, len(layout))
	copy(out, layout)
	return out
}

// FieldByName looks up a layout entry by its wire name.
func FieldByName(name string) (Field, bool) {
	for _, f := range layout {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var layout = buildLayout()

func init() {
	if err := ValidateLayout(layout); err != nil {
		panic(fmt.Sprintf("forza packet layout is inconsistent: %v", err))
	}
}

func buildLayout() []Field {
	var l []Field
	add := func(fields ...Field) { l = append(l, fields...) }

	add(
		s32("is_race_on", 0, func(s *Snapshot) *int32 { return &s.IsRaceOn }),
		u32("timestamp_ms", 4, func(s *Snapshot) *uint32 { return &s.TimestampMS }),

		f32("engine_max_rpm", 8, func(s *Snapshot) *float32 { return &s.EngineMaxRPM }),
		f32("engine_idle_rpm", 12, func(s *Snapshot) *float32 { return &s.EngineIdleRPM }),
		f32("current_engine_rpm", 16, func(s *Snapshot) *float32 { return &s.CurrentEngineRPM }),
	)
	add(vec3("acceleration", 20, func(s *Snapshot) *Vector3 { return &s.Acceleration })...)
	add(vec3("velocity", 32, func(s *Snapshot) *Vector3 { return &s.Velocity })...)
	add(vec3("angular_velocity", 44, func(s *Snapshot) *Vector3 { return &s.AngularVelocity })...)
	add(
		f32("yaw", 56, func(s *Snapshot) *float32 { return &s.Yaw }),
		f32("pitch", 60, func(s *Snapshot) *float32 { return &s.Pitch }),
		f32("roll", 64, func(s *Snapshot) *float32 { return &s.Roll }),
	)

	add(wheelsF32("normalized_suspension_travel", 68, func(s *Snapshot) *Wheels[float32] { return &s.NormalizedSuspensionTravel })...)
	add(wheelsF32("tire_slip_ratio", 84, func(s *Snapshot) *Wheels[float32] { return &s.TireSlipRatio })...)
	add(wheelsF32("wheel_rotation_speed", 100, func(s *Snapshot) *Wheels[float32] { return &s.WheelRotationSpeed })...)
	add(wheelsS32("wheel_on_rumble_strip", 116, func(s *Snapshot) *Wheels[int32] { return &s.WheelOnRumbleStrip })...)
	add(wheelsF32("wheel_in_puddle_depth", 132, func(s *Snapshot) *Wheels[float32] { return &s.WheelInPuddleDepth })...)
	add(wheelsF32("surface_rumble", 148, func(s *Snapshot) *Wheels[float32] { return &s.SurfaceRumble })...)
	add(wheelsF32("tire_slip_angle", 164, func(s *Snapshot) *Wheels[float32] { return &s.TireSlipAngle })...)
	add(wheelsF32("tire_combined_slip", 180, func(s *Snapshot) *Wheels[float32] { return &s.TireCombinedSlip })...)
	add(wheelsF32("suspension_travel_meters", 196, func(s *Snapshot) *Wheels[float32] { return &s.SuspensionTravelMeters })...)

	add(
		s32("car_ordinal", 212, func(s *Snapshot) *int32 { return &s.CarOrdinal }),
		s32("car_class", 216, func(s *Snapshot) *int32 { return &s.CarClass }),
		s32("car_performance_index", 220, func(s *Snapshot) *int32 { return &s.CarPerformanceIndex }),
		s32("drivetrain_type", 224, func(s *Snapshot) *int32 { return &s.DrivetrainType }),
		s32("num_cylinders", 228, func(s *Snapshot) *int32 { return &s.NumCylinders }),
	)

	// [232, 244) reserved

	add(vec3("position", 244, func(s *Snapshot) *Vector3 { return &s.Position })...)
	add(
		f32("speed", 256, func(s *Snapshot) *float32 { return &s.Speed }),
		f32("power", 260, func(s *Snapshot) *float32 { return &s.Power }),
		f32("torque", 264, func(s *Snapshot) *float32 { return &s.Torque }),
	)
	add(wheelsF32("tire_temp", 268, func(s *Snapshot) *Wheels[float32] { return &s.TireTemp })...)
	add(
		f32("boost", 284, func(s *Snapshot) *float32 { return &s.Boost }),
		f32("fuel", 288, func(s *Snapshot) *float32 { return &s.Fuel }),
		f32("distance_traveled", 292, func(s *Snapshot) *float32 { return &s.DistanceTraveled }),
		f32("best_lap", 296, func(s *Snapshot) *float32 { return &s.BestLap }),
		f32("last_lap", 300, func(s *Snapshot) *float32 { return &s.LastLap }),
		f32("current_lap", 304, func(s *Snapshot) *float32 { return &s.CurrentLap }),
		f32("current_race_time", 308, func(s *Snapshot) *float32 { return &s.CurrentRaceTime }),

		u16("lap_number", 312, func(s *Snapshot) *uint16 { return &s.LapNumber }),
		u8("race_position", 314, func(s *Snapshot) *uint8 { return &s.RacePosition }),

		u8("accel", 315, func(s *Snapshot) *uint8 { return &s.Accel }),
		u8("brake", 316, func(s *Snapshot) *uint8 { return &s.Brake }),
		u8("clutch", 317, func(s *Snapshot) *uint8 { return &s.Clutch }),
		u8("hand_brake", 318, func(s *Snapshot) *uint8 { return &s.HandBrake }),
		u8("gear", 319, func(s *Snapshot) *uint8 { return &s.Gear }),
		s8("steer", 320, func(s *Snapshot) *int8 { return &s.Steer }),

		s8("normalized_driving_line", 321, func(s *Snapshot) *int8 { return &s.NormalizedDrivingLine }),
		s8("normalized_ai_brake_difference", 322, func(s *Snapshot) *int8 { return &s.NormalizedAIBrakeDifference }),
	)

	return l
}

func s32(name string, offset int, ref func(*Snapshot) *int32) Field {
	return Field{Name: name, Offset: offset, Width: 4, Kind: Int32, ref: func(s *Snapshot) any { return ref(s) }}
}

func u32(name string, offset int, ref func(*Snapshot) *uint32) Field {
	return Field{Name: name, Offset: offset, Width: 4, Kind: Uint32, ref: func(s *Snapshot) any { return ref(s) }}
}

func f32(name string, offset int, ref func(*Snapshot) *float32) Field {
	return Field{Name: name, Offset: offset, Width: 4, Kind: Float32, ref: func(s *Snapshot) any { return ref(s) }}
}

func u16(name string, offset int, ref func(*Snapshot) *uint16) Field {
	return Field{Name: name, Offset: offset, Width: 2, Kind: Uint16, ref: func(s *Snapshot) any { return ref(s) }}
}

func u8(name string, offset int, ref func(*Snapshot) *uint8) Field {
	return Field{Name: name, Offset: offset, Width: 1, Kind: Uint8, ref: func(s *Snapshot) any { return ref(s) }}
}

func s8(name string, offset int, ref func(*Snapshot) *int8) Field {
	return Field{Name: name, Offset: offset, Width: 1, Kind: Int8, ref: func(s *Snapshot) any { return ref(s) }}
}

// vec3 expands a Vector3 member into its x, y and z fields.
func vec3(name string, offset int, ref func(*Snapshot) *Vector3) []Field {
	return []Field{
		f32(name+"_x", offset, func(s *Snapshot) *float32 { return &ref(s).X }),
		f32(name+"_y", offset+4, func(s *Snapshot) *float32 { return &ref(s).Y }),
		f32(name+"_z", offset+8, func(s *Snapshot) *float32 { return &ref(s).Z }),
	}
}

func wheelsF32(name string, offset int, ref func(*Snapshot) *Wheels[float32]) []Field {
	return []Field{
		f32(name+"_front_left", offset, func(s *Snapshot) *float32 { return &ref(s).FrontLeft }),
		f32(name+"_front_right", offset+4, func(s *Snapshot) *float32 { return &ref(s).FrontRight }),
		f32(name+"_rear_left", offset+8, func(s *Snapshot) *float32 { return &ref(s).RearLeft }),
		f32(name+"_rear_right", offset+12, func(s *Snapshot) *float32 { return &ref(s).RearRight }),
	}
}

func wheelsS32(name string, offset int, ref func(*Snapshot) *Wheels[int32]) []Field {
	return []Field{
		s32(name+"_front_left", offset, func(s *Snapshot) *int32 { return &ref(s).FrontLeft }),
		s32(name+"_front_right", offset+4, func(s *Snapshot) *int32 { return &ref(s).FrontRight }),
		s32(name+"_rear_left", offset+8, func(s *Snapshot) *int32 { return &ref(s).RearLeft }),
		s32(name+"_rear_right", offset+12, func(s *Snapshot) *int32 { return &ref(s).RearRight }),
	}
}

// ValidateLayout checks that fields tile [0, MESSAGE_SIZE) in offset order
// with no overlap and no gap other than the reserved span, and that every
// field's width and snapshot binding agree with its kind.
func ValidateLayout(fields []Field) error {
	seen := make(map[string]bool, len(fields))
	cursor := 0
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("field at offset %d has no name", f.Offset)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		seen[f.Name] = true

		if f.Width != 1 && f.Width != 2 && f.Width != 4 {
			return fmt.Errorf("field %s has unsupported width %d", f.Name, f.Width)
		}
		if f.Kind.Width() != f.Width {
			return fmt.Errorf("field %s width %d does not match kind %s", f.Name, f.Width, f.Kind)
		}
		if f.ref != nil {
			if k := bindingKind(f); k != f.Kind {
				return fmt.Errorf("field %s is declared %s but bound to a %s member", f.Name, f.Kind, k)
			}
		}

		if cursor == RESERVED_START {
			cursor = RESERVED_END
		}
		switch {
		case Reserved().Contains(f.Offset):
			return fmt.Errorf("field %s at offset %d overlaps reserved span [%d, %d)", f.Name, f.Offset, RESERVED_START, RESERVED_END)
		case f.Offset < cursor:
			return fmt.Errorf("field %s at offset %d overlaps previous field ending at %d", f.Name, f.Offset, cursor)
		case f.Offset > cursor:
			return fmt.Errorf("gap [%d, %d) before field %s", cursor, f.Offset, f.Name)
		}
		cursor = f.End()
	}
	if cursor != MESSAGE_SIZE {
		return fmt.Errorf("layout ends at byte %d, want %d", cursor, MESSAGE_SIZE)
	}
	return nil
}

func bindingKind(f Field) Kind {
	switch f.ref(&Snapshot{}).(type) {
	case *int32:
		return Int32
	case *uint32:
		return Uint32
	case *float32:
		return Float32
	case *uint16:
		return Uint16
	case *uint8:
		return Uint8
	case *int8:
		return Int8
	default:
		return 0
	}
}
