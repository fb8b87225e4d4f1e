package main

import (
	"math"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
)

const (
	trackRadiusX = 400.0
	trackRadiusZ = 250.0
	idleRPM      = 900
	maxRPM       = 8000
)

// lapGenerator drives a car around an ellipse with two braking zones per lap.
type lapGenerator struct {
	rate       int
	lapSeconds float64
	perLap     int
	tick       int
	distance   float64
	lastLap    float64
	bestLap    float64
}

func newLapGenerator(rate int, lapSeconds float64) *lapGenerator {
	perLap := int(float64(rate) * lapSeconds)
	if perLap < 1 {
		perLap = 1
	}
	return &lapGenerator{rate: rate, lapSeconds: lapSeconds, perLap: perLap}
}

// Next returns the snapshot for the next tick.
func (g *lapGenerator) Next() parse.Snapshot {
	lap := g.tick / g.perLap
	inLap := g.tick % g.perLap
	if inLap == 0 && lap > 0 {
		g.lastLap = g.lapSeconds
		if g.bestLap == 0 || g.lastLap < g.bestLap {
			g.bestLap = g.lastLap
		}
	}

	phase := float64(inLap) / float64(g.perLap)
	angle := 2 * math.Pi * phase
	dt := 1 / float64(g.rate)

	speed := 45 + 20*math.Cos(2*angle)
	braking := math.Sin(2*angle) > 0.7
	gear := uint8(math.Min(6, 1+speed/12))
	rpm := math.Min(maxRPM, idleRPM+speed*110)

	g.distance += speed * dt
	race := float64(g.tick) * dt

	s := parse.Snapshot{
		IsRaceOn:            1,
		TimestampMS:         uint32(int64(g.tick) * 1000 / int64(g.rate)),
		EngineMaxRPM:        maxRPM,
		EngineIdleRPM:       idleRPM,
		CurrentEngineRPM:    float32(rpm),
		Velocity:            parse.Vector3{X: 0, Y: 0, Z: float32(speed)},
		Yaw:                 float32(angle),
		CarOrdinal:          2352,
		CarClass:            5,
		CarPerformanceIndex: 800,
		DrivetrainType:      int32(parse.DrivetrainRWD),
		NumCylinders:        8,
		Position: parse.Vector3{
			X: float32(trackRadiusX * math.Cos(angle)),
			Z: float32(trackRadiusZ * math.Sin(angle)),
		},
		Speed:            float32(speed),
		Power:            float32(rpm * 40),
		Torque:           450,
		Fuel:             float32(1 - race/3600),
		DistanceTraveled: float32(g.distance),
		BestLap:          float32(g.bestLap),
		LastLap:          float32(g.lastLap),
		CurrentLap:       float32(float64(inLap) * dt),
		CurrentRaceTime:  float32(race),
		LapNumber:        uint16(lap),
		RacePosition:     1,
		Gear:             gear,
	}
	if braking {
		s.Brake = 255
	} else {
		s.Accel = 255
	}

	g.tick++
	return s
}
