package live

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
)

func frame(ts uint32) network.Frame {
	return network.Frame{Snapshot: parse.Snapshot{TimestampMS: ts}}
}

func TestHub_Latest(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_, ok := h.Latest()
	assert.False(t, ok)

	h.HandleFrame(frame(1))
	h.HandleFrame(frame(2))

	f, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, uint32(2), f.Snapshot.TimestampMS)
}

func TestHub_Subscribe(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(4)
	assert.Equal(t, 1, h.Subscribers())

	h.HandleFrame(frame(10))
	h.HandleFrame(frame(11))

	select {
	case f := <-ch:
		assert.Equal(t, uint32(10), f.Snapshot.TimestampMS)
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	assert.Equal(t, uint32(11), (<-ch).Snapshot.TimestampMS)

	cancel()
	cancel()
	assert.Zero(t, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)

	// Frames after cancel must not panic on the closed channel.
	h.HandleFrame(frame(12))
}

func TestHub_SlowSubscriberSkips(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		h.HandleFrame(frame(uint32(i)))
	}

	assert.Equal(t, int64(4), h.Skipped())
	assert.Equal(t, uint32(0), (<-ch).Snapshot.TimestampMS)
	f, _ := h.Latest()
	assert.Equal(t, uint32(4), f.Snapshot.TimestampMS)
}

func TestHub_ConcurrentPublish(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch, cancel := h.Subscribe(1000)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.HandleFrame(frame(uint32(i)))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 400)
}
