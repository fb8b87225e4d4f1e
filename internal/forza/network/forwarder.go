package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

// ForwardStats receives forwarder drop counts.
type ForwardStats interface {
	AddDropped()
}

// PacketForwarder relays raw datagrams to another UDP address so a second
// dashboard can consume the same stream. Sends never block the caller.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       ForwardStats
	logInterval time.Duration
	address     string
	done        chan struct{}
	closeOnce   sync.Once
}

// NewPacketForwarder dials address ("host:port") and queues up to 1000 packets.
func NewPacketForwarder(address string, stats ForwardStats, logInterval time.Duration) (*PacketForwarder, error) {
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if stats == nil {
		stats = &noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}

	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the send loop until ctx is cancelled or Close is called. Write
// failures are summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					monitoring.Warnf("Dropped %d forwarded packets due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet. When the queue is full the packet is
// dropped and counted.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		f.stats.AddDropped()
	}
}

// Address returns the forward destination.
func (f *PacketForwarder) Address() string { return f.address }

// Close stops the send loop and closes the connection. It is safe to call
// more than once.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
