package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

// maxDatagram leaves room for the longer Horizon variants of the packet.
const maxDatagram = 2048

// PacketStatsInterface provides packet statistics management
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDecoded()
	AddMalformed()
	AddDropped()
	LogStats()
}

// Decoder turns a datagram into a snapshot. parse.Decode is the default.
type Decoder func(buf []byte) (parse.Snapshot, error)

// Packet is one raw datagram, from a socket or a capture.
type Packet struct {
	Data      []byte
	Timestamp time.Time
	Source    string
}

// PacketHandler consumes raw packets. UDPListener.HandlePacket is the usual
// implementation; replay paths feed it directly.
type PacketHandler func(pkt Packet)

// UDPListener receives telemetry datagrams, decodes them on a bounded worker
// group and hands the resulting frames to a Sink.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	workers       int
	connMu        sync.RWMutex // Protects conn field
	conn          UDPSocket
	stats         PacketStatsInterface
	forwarder     *PacketForwarder
	decoder       Decoder
	sink          Sink
	capture       PacketHandler
	socketFactory UDPSocketFactory
}

// UDPListenerConfig contains configuration options for the UDP listener
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	// Workers bounds concurrent decodes. 1 keeps frames in arrival order.
	Workers       int
	Stats         PacketStatsInterface
	Forwarder     *PacketForwarder
	Decoder       Decoder
	Sink          Sink
	// Capture sees every datagram in read order, before decoding.
	Capture       PacketHandler
	SocketFactory UDPSocketFactory // Optional: factory for creating UDP sockets (for testing)
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	var stats PacketStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	workers := config.Workers
	if workers < 1 {
		workers = 1
	}

	decoder := config.Decoder
	if decoder == nil {
		decoder = parse.Decode
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = NewRealUDPSocketFactory()
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		workers:       workers,
		stats:         stats,
		forwarder:     config.Forwarder,
		decoder:       decoder,
		sink:          config.Sink,
		capture:       config.Capture,
		socketFactory: socketFactory,
	}
}

type noopStats struct{}

func (n *noopStats) AddPacket(bytes int) {}
func (n *noopStats) AddDecoded()         {}
func (n *noopStats) AddMalformed()       {}
func (n *noopStats) AddDropped()         {}
func (n *noopStats) LogStats()           {}

// Start binds the socket and processes datagrams until ctx is cancelled or
// the listener is closed. In-flight decodes finish before Start returns.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes, %d decode workers", conn.LocalAddr(), l.rcvBuf, l.workers)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	var g errgroup.Group
	g.SetLimit(l.workers)
	defer func() { _ = g.Wait() }()

	buffer := make([]byte, maxDatagram)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed promptly.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			if !deadlineErrLogged {
				monitoring.Logf("failed to set read deadline: %v", err)
				deadlineErrLogged = true
			}
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		// The read buffer is reused, so each worker gets its own copy.
		pkt := Packet{
			Data:      append([]byte(nil), buffer[:n]...),
			Timestamp: time.Now(),
		}
		if from != nil {
			pkt.Source = from.String()
		}
		if l.capture != nil {
			l.capture(pkt)
		}
		g.Go(func() error {
			l.HandlePacket(pkt)
			return nil
		})
	}
}

// startStatsLogging periodically logs packet statistics
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// Trigger an initial stats report shortly after startup to avoid a long
	// silence on first-run. Then continue on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// HandlePacket counts, forwards and decodes one packet. A packet that fails
// to decode is counted and logged and produces no frame.
func (l *UDPListener) HandlePacket(pkt Packet) {
	l.stats.AddPacket(len(pkt.Data))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(pkt.Data)
	}

	s, err := l.decoder(pkt.Data)
	if err != nil {
		l.stats.AddMalformed()
		monitoring.Logf("Dropping malformed packet (%d bytes) from %s: %v", len(pkt.Data), pkt.Source, err)
		return
	}
	l.stats.AddDecoded()

	if l.sink != nil {
		l.sink.HandleFrame(Frame{
			Snapshot:   s,
			Raw:        pkt.Data,
			ReceivedAt: pkt.Timestamp,
			Source:     pkt.Source,
		})
	}
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// GetConn returns the bound socket, or nil before Start and after Close.
func (l *UDPListener) GetConn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Close closes the UDP listener and releases resources.
// It is safe to call Close multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
