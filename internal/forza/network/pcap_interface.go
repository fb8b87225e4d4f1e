package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

// PCAPReader yields captured telemetry datagrams in capture order. Both the
// gopacket-backed pcap reader and the .ftlog recorder implement it.
type PCAPReader interface {
	// NextPacket returns io.EOF (or a nil packet) when the capture is exhausted.
	NextPacket() (*Packet, error)
	Close()
}

// ReplayOptions controls capture replay pacing.
type ReplayOptions struct {
	// SpeedMultiplier paces packets by their capture timestamps (1.0 is real
	// time, 2.0 twice as fast). Zero or negative replays as fast as possible.
	SpeedMultiplier float64
}

// ReplayPackets feeds every packet from reader to handler and returns the
// number of packets replayed.
func ReplayPackets(ctx context.Context, reader PCAPReader, handler PacketHandler, opts ReplayOptions) (int, error) {
	count := 0
	startTime := time.Now()
	var lastPacketTime time.Time

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("Replay stopping due to context cancellation (processed %d packets)", count)
			return count, ctx.Err()
		default:
		}

		pkt, err := reader.NextPacket()
		if errors.Is(err, io.EOF) || (err == nil && pkt == nil) {
			monitoring.Logf("Replay complete: %d packets processed in %v", count, time.Since(startTime))
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read packet %d: %w", count+1, err)
		}

		if opts.SpeedMultiplier > 0 && !pkt.Timestamp.IsZero() {
			if !lastPacketTime.IsZero() {
				delay := time.Duration(float64(pkt.Timestamp.Sub(lastPacketTime)) / opts.SpeedMultiplier)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return count, ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastPacketTime = pkt.Timestamp
		}

		handler(*pkt)
		count++

		if count%10000 == 0 {
			elapsed := time.Since(startTime)
			monitoring.Logf("Replay progress: %d packets processed in %v (%.0f pkt/s)",
				count, elapsed, float64(count)/elapsed.Seconds())
		}
	}
}

// MockPCAPReader implements PCAPReader for testing.
type MockPCAPReader struct {
	mu sync.Mutex

	Packets   []Packet
	ReadIndex int
	// ReadError is returned once the reader reaches ErrorAt.
	ReadError error
	ErrorAt   int
	Closed    bool
}

// NewMockPCAPReader creates a new MockPCAPReader with the given packets.
func NewMockPCAPReader(packets []Packet) *MockPCAPReader {
	return &MockPCAPReader{Packets: packets, ErrorAt: -1}
}

func (m *MockPCAPReader) NextPacket() (*Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return nil, errors.New("reader closed")
	}
	if m.ReadError != nil && m.ReadIndex == m.ErrorAt {
		return nil, m.ReadError
	}
	if m.ReadIndex >= len(m.Packets) {
		return nil, io.EOF
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	return &pkt, nil
}

func (m *MockPCAPReader) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

// AddPacket appends a packet to the mock reader.
func (m *MockPCAPReader) AddPacket(data []byte, timestamp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, Packet{Data: data, Timestamp: timestamp})
}
