package network

import (
	"time"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
)

// Frame is one decoded telemetry packet with its receive metadata. Raw is an
// owned copy of the datagram and is never reused by the listener.
type Frame struct {
	Snapshot   parse.Snapshot
	Raw        []byte
	ReceivedAt time.Time
	Source     string
}

// Sink consumes decoded frames. The listener calls HandleFrame from several
// worker goroutines, so implementations must be safe for concurrent use.
type Sink interface {
	HandleFrame(f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f Frame)

func (fn SinkFunc) HandleFrame(f Frame) { fn(f) }

// MultiSink hands every frame to each sink in order. Nil entries are skipped.
type MultiSink []Sink

func (m MultiSink) HandleFrame(f Frame) {
	for _, s := range m {
		if s != nil {
			s.HandleFrame(f)
		}
	}
}
