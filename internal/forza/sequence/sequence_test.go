package sequence

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
)

func frame(ts uint32) network.Frame {
	return network.Frame{Snapshot: parse.Snapshot{TimestampMS: ts}}
}

func timestamps(frames []network.Frame) []uint32 {
	out := make([]uint32, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Snapshot.TimestampMS)
	}
	return out
}

func TestBefore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{math.MaxUint32, 0, true},
		{0, math.MaxUint32, false},
		{math.MaxUint32 - 10, 10, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Before(tt.a, tt.b), "Before(%d, %d)", tt.a, tt.b)
	}
}

func TestSequencer_Passthrough(t *testing.T) {
	t.Parallel()

	s := New(0)
	assert.Equal(t, []uint32{30}, timestamps(s.Push(frame(30))))
	assert.Equal(t, []uint32{10}, timestamps(s.Push(frame(10))))
	assert.Zero(t, s.Late())
}

func TestSequencer_Reorders(t *testing.T) {
	t.Parallel()

	s := New(2)
	var released []network.Frame
	for _, ts := range []uint32{100, 116, 108, 132, 124, 140} {
		released = append(released, s.Push(frame(ts))...)
	}
	released = append(released, s.Flush()...)

	assert.Equal(t, []uint32{100, 108, 116, 124, 132, 140}, timestamps(released))
	assert.Zero(t, s.Pending())
	assert.Zero(t, s.Late())
}

func TestSequencer_DropsLate(t *testing.T) {
	t.Parallel()

	s := New(1)
	require.Empty(t, s.Push(frame(100)))
	assert.Equal(t, []uint32{100}, timestamps(s.Push(frame(200))))
	assert.Empty(t, s.Push(frame(50)))
	assert.Equal(t, int64(1), s.Late())
	assert.Equal(t, []uint32{200}, timestamps(s.Flush()))
}

func TestSequencer_AcrossWrap(t *testing.T) {
	t.Parallel()

	s := New(3)
	var released []network.Frame
	for _, ts := range []uint32{math.MaxUint32 - 16, 8, math.MaxUint32, 24} {
		released = append(released, s.Push(frame(ts))...)
	}
	released = append(released, s.Flush()...)

	assert.Equal(t, []uint32{math.MaxUint32 - 16, math.MaxUint32, 8, 24}, timestamps(released))
}

func TestSequencer_ClockReset(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Push(frame(900000))
	s.Push(frame(900016))

	// A new session starts the clock near zero.
	out := s.Push(frame(16))
	assert.Equal(t, []uint32{900016}, timestamps(out))
	assert.Equal(t, int64(1), s.Resets())
	assert.Zero(t, s.Late())

	assert.Equal(t, []uint32{16}, timestamps(s.Push(frame(32))))
	assert.Equal(t, []uint32{32}, timestamps(s.Flush()))
}

func TestSequencer_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	s := New(4)
	a := network.Frame{Snapshot: parse.Snapshot{TimestampMS: 5}, Source: "a"}
	b := network.Frame{Snapshot: parse.Snapshot{TimestampMS: 5}, Source: "b"}
	s.Push(a)
	s.Push(b)

	out := s.Flush()
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Source)
	assert.Equal(t, "b", out[1].Source)
}

func TestSink_Concurrent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []uint32
	next := network.SinkFunc(func(f network.Frame) {
		mu.Lock()
		got = append(got, f.Snapshot.TimestampMS)
		mu.Unlock()
	})
	sink := NewSink(64, next)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < 40; i += 4 {
				sink.HandleFrame(frame(uint32(1000 + i)))
			}
		}(w)
	}
	wg.Wait()
	sink.Flush()

	require.Len(t, got, 40)
	for i := 1; i < len(got); i++ {
		assert.True(t, Before(got[i-1], got[i]), "out of order at %d: %v", i, got)
	}
	assert.Zero(t, sink.Late())
}
