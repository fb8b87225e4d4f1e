package main

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/forza/recorder"
)

func TestLapGenerator(t *testing.T) {
	gen := newLapGenerator(10, 2)

	var snaps []parse.Snapshot
	for i := 0; i < 45; i++ {
		snaps = append(snaps, gen.Next())
	}

	assert.Equal(t, uint16(0), snaps[0].LapNumber)
	assert.Equal(t, uint16(1), snaps[20].LapNumber)
	assert.Equal(t, uint16(2), snaps[44].LapNumber)
	assert.Equal(t, float32(2), snaps[20].LastLap)
	assert.Equal(t, float32(2), snaps[44].BestLap)
	assert.Equal(t, float32(0), snaps[20].CurrentLap)

	for i, s := range snaps {
		assert.Equal(t, uint32(i*100), s.TimestampMS)
		assert.True(t, s.RaceOn())
		assert.GreaterOrEqual(t, s.Gear, uint8(1))
		assert.LessOrEqual(t, s.Gear, uint8(6))
		assert.LessOrEqual(t, s.CurrentEngineRPM, float32(maxRPM))
		assert.True(t, s.Accel == 0 || s.Brake == 0)
		if i > 0 {
			assert.Greater(t, s.DistanceTraveled, snaps[i-1].DistanceTraveled)
		}
	}
}

func TestLapGenerator_TimestampDoesNotDrift(t *testing.T) {
	tests := []struct {
		rate  int
		ticks int
	}{
		{rate: 60, ticks: 600},
		{rate: 2000, ticks: 4000},
	}
	for _, tt := range tests {
		gen := newLapGenerator(tt.rate, 30)
		var last parse.Snapshot
		for i := 0; i <= tt.ticks; i++ {
			s := gen.Next()
			assert.GreaterOrEqual(t, s.TimestampMS, last.TimestampMS)
			last = s
		}
		assert.Equal(t, uint32(tt.ticks*1000/tt.rate), last.TimestampMS, "rate %d", tt.rate)
	}
}

func TestWriteCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lap"+recorder.FileExt)
	start := time.Unix(1700000000, 0)
	require.NoError(t, writeCapture(path, newLapGenerator(20, 1), 30, start))

	rd, err := recorder.Open(path)
	require.NoError(t, err)
	defer rd.Close()

	count := 0
	for {
		pkt, err := rd.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, start.Add(time.Duration(count)*50*time.Millisecond).UnixNano(), pkt.Timestamp.UnixNano())

		s, err := parse.Decode(pkt.Data)
		require.NoError(t, err)
		assert.Equal(t, uint32(count*50), s.TimestampMS)
		count++
	}
	assert.Equal(t, 30, count)
}
