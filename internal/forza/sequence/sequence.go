// Package sequence restores timestamp order for telemetry frames that arrive
// out of order over UDP or from concurrent decode workers.
package sequence

import (
	"sync"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
)

// ResetGapMS is how far behind the last released frame a timestamp may fall
// before it is treated as a restarted game clock rather than a late frame.
const ResetGapMS = 5000

// Before reports whether a precedes b on the wrapping millisecond clock.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Sequencer holds up to window frames and releases the oldest once the window
// overflows. Frames older than the last released frame are dropped as late.
// A Sequencer is not safe for concurrent use; wrap it in a Sink for that.
type Sequencer struct {
	window       int
	pending      []network.Frame
	lastReleased uint32
	hasReleased  bool
	late         int64
	resets       int64
}

// New returns a Sequencer. A window of zero or less passes frames straight
// through.
func New(window int) *Sequencer {
	return &Sequencer{window: window}
}

// Push adds f and returns the frames released by it, oldest first.
func (s *Sequencer) Push(f network.Frame) []network.Frame {
	if s.window <= 0 {
		return []network.Frame{f}
	}

	ts := f.Snapshot.TimestampMS
	var out []network.Frame
	if s.hasReleased && Before(ts, s.lastReleased) {
		if s.lastReleased-ts <= ResetGapMS {
			s.late++
			return nil
		}
		out = s.Flush()
		s.hasReleased = false
		s.resets++
	}

	s.insert(f)
	for len(s.pending) > s.window {
		out = append(out, s.release())
	}
	return out
}

// Flush releases every pending frame in order.
func (s *Sequencer) Flush() []network.Frame {
	var out []network.Frame
	for len(s.pending) > 0 {
		out = append(out, s.release())
	}
	return out
}

// Pending returns the number of frames held back.
func (s *Sequencer) Pending() int { return len(s.pending) }

// Late returns the number of frames dropped for arriving too late.
func (s *Sequencer) Late() int64 { return s.late }

// Resets returns how many times the game clock was seen to restart.
func (s *Sequencer) Resets() int64 { return s.resets }

// insert keeps pending sorted; equal timestamps keep arrival order.
func (s *Sequencer) insert(f network.Frame) {
	ts := f.Snapshot.TimestampMS
	i := len(s.pending)
	for i > 0 && Before(ts, s.pending[i-1].Snapshot.TimestampMS) {
		i--
	}
	s.pending = append(s.pending, network.Frame{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = f
}

func (s *Sequencer) release() network.Frame {
	f := s.pending[0]
	s.pending[0] = network.Frame{}
	s.pending = s.pending[1:]
	s.lastReleased = f.Snapshot.TimestampMS
	s.hasReleased = true
	return f
}

// Sink orders frames before handing them to next. It is safe for concurrent
// use and calls next under its lock so released frames stay ordered.
type Sink struct {
	mu   sync.Mutex
	seq  *Sequencer
	next network.Sink
}

// NewSink wraps next with a reorder window.
func NewSink(window int, next network.Sink) *Sink {
	return &Sink{seq: New(window), next: next}
}

func (s *Sink) HandleFrame(f network.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.seq.Push(f) {
		s.next.HandleFrame(out)
	}
}

// Flush releases everything still held, for use at shutdown.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.seq.Flush() {
		s.next.HandleFrame(out)
	}
}

// Late returns the number of frames dropped for arriving too late.
func (s *Sink) Late() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.Late()
}
