package parse

// Vector3 is a triple in the car's local space unless noted otherwise. For
// linear quantities X points right, Y up and Z forward; for angular velocity
// X is pitch, Y is yaw and Z is roll.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Wheels holds one value per corner in wire order: front-left, front-right,
// rear-left, rear-right.
type Wheels[T any] struct {
	FrontLeft  T `json:"front_left"`
	FrontRight T `json:"front_right"`
	RearLeft   T `json:"rear_left"`
	RearRight  T `json:"rear_right"`
}

// Slice returns the four corner values in wire order.
func (w Wheels[T]) Slice() []T {
	return []T{w.FrontLeft, w.FrontRight, w.RearLeft, w.RearRight}
}

// Drivetrain is the EDrivetrainType reported in the drivetrain_type field.
type Drivetrain int32

const (
	DrivetrainFWD Drivetrain = 0
	DrivetrainRWD Drivetrain = 1
	DrivetrainAWD Drivetrain = 2
)

func (d Drivetrain) String() string {
	switch d {
	case DrivetrainFWD:
		return "FWD"
	case DrivetrainRWD:
		return "RWD"
	case DrivetrainAWD:
		return "AWD"
	default:
		return "unknown"
	}
}

// Snapshot is one decoded telemetry tick. Decode returns it by value and keeps
// no reference to it.
type Snapshot struct {
	// 1 while a race is running, 0 in menus or when the race is stopped.
	IsRaceOn int32 `json:"is_race_on"`
	// Milliseconds; wraps to 0 on overflow.
	TimestampMS uint32 `json:"timestamp_ms"`

	EngineMaxRPM     float32 `json:"engine_max_rpm"`
	EngineIdleRPM    float32 `json:"engine_idle_rpm"`
	CurrentEngineRPM float32 `json:"current_engine_rpm"`

	Acceleration    Vector3 `json:"acceleration"`
	Velocity        Vector3 `json:"velocity"`
	AngularVelocity Vector3 `json:"angular_velocity"`

	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`

	// 0.0 is max stretch, 1.0 is max compression.
	NormalizedSuspensionTravel Wheels[float32] `json:"normalized_suspension_travel"`
	// 0 means full grip; |ratio| > 1.0 means loss of grip.
	TireSlipRatio Wheels[float32] `json:"tire_slip_ratio"`
	// Radians per second.
	WheelRotationSpeed Wheels[float32] `json:"wheel_rotation_speed"`
	// 1 while the wheel is on a rumble strip.
	WheelOnRumbleStrip Wheels[int32] `json:"wheel_on_rumble_strip"`
	// 0 to 1, where 1 is the deepest puddle.
	WheelInPuddleDepth Wheels[float32] `json:"wheel_in_puddle_depth"`
	// Non-dimensional values passed to controller force feedback.
	SurfaceRumble          Wheels[float32] `json:"surface_rumble"`
	TireSlipAngle          Wheels[float32] `json:"tire_slip_angle"`
	TireCombinedSlip       Wheels[float32] `json:"tire_combined_slip"`
	SuspensionTravelMeters Wheels[float32] `json:"suspension_travel_meters"`

	CarOrdinal int32 `json:"car_ordinal"`
	// 0 (D, worst) to 7 (X, best) inclusive.
	CarClass int32 `json:"car_class"`
	// 100 (slowest) to 999 (fastest) inclusive.
	CarPerformanceIndex int32 `json:"car_performance_index"`
	DrivetrainType      int32 `json:"drivetrain_type"`
	NumCylinders        int32 `json:"num_cylinders"`

	// World space, meters.
	Position Vector3 `json:"position"`

	Speed  float32 `json:"speed"`  // m/s
	Power  float32 `json:"power"`  // W
	Torque float32 `json:"torque"` // N·m

	TireTemp Wheels[float32] `json:"tire_temp"`

	Boost            float32 `json:"boost"`
	Fuel             float32 `json:"fuel"`
	DistanceTraveled float32 `json:"distance_traveled"`
	BestLap          float32 `json:"best_lap"`
	LastLap          float32 `json:"last_lap"`
	CurrentLap       float32 `json:"current_lap"`
	CurrentRaceTime  float32 `json:"current_race_time"`

	LapNumber    uint16 `json:"lap_number"`
	RacePosition uint8  `json:"race_position"`

	Accel     uint8 `json:"accel"`
	Brake     uint8 `json:"brake"`
	Clutch    uint8 `json:"clutch"`
	HandBrake uint8 `json:"hand_brake"`
	Gear      uint8 `json:"gear"`
	Steer     int8  `json:"steer"`

	NormalizedDrivingLine       int8 `json:"normalized_driving_line"`
	NormalizedAIBrakeDifference int8 `json:"normalized_ai_brake_difference"`
}

// RaceOn reports whether the race is active.
func (s Snapshot) RaceOn() bool { return s.IsRaceOn != 0 }

// Drivetrain returns the drivetrain_type field as an enumerated value.
func (s Snapshot) Drivetrain() Drivetrain { return Drivetrain(s.DrivetrainType) }

// SpeedKPH converts Speed from m/s to km/h.
func (s Snapshot) SpeedKPH() float64 { return float64(s.Speed) * 3.6 }
