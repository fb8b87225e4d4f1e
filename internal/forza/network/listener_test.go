package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// MockFullPacketStats implements PacketStatsInterface for testing
type MockFullPacketStats struct {
	mu        sync.Mutex
	packets   int
	bytes     int
	decoded   int
	malformed int
	dropped   int
	logCalls  int
}

func (m *MockFullPacketStats) AddPacket(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets++
	m.bytes += bytes
}

func (m *MockFullPacketStats) AddDecoded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decoded++
}

func (m *MockFullPacketStats) AddMalformed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed++
}

func (m *MockFullPacketStats) AddDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *MockFullPacketStats) LogStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logCalls++
}

func (m *MockFullPacketStats) counts() (packets, decoded, malformed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packets, m.decoded, m.malformed
}

// frameCollector is a concurrency-safe Sink for assertions.
type frameCollector struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *frameCollector) HandleFrame(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *frameCollector) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func packetWithSpeed(speed float32, ts uint32) []byte {
	return parse.Encode(parse.Snapshot{IsRaceOn: 1, TimestampMS: ts, Speed: speed, Gear: 3})
}

var testAddr = &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 40000}

func TestNewUDPListener_Defaults(t *testing.T) {
	listener := NewUDPListener(UDPListenerConfig{Address: ":5300"})

	require.NotNil(t, listener)
	assert.Equal(t, time.Minute, listener.logInterval)
	assert.Equal(t, 1, listener.workers)
	assert.NotNil(t, listener.stats)
	assert.NotNil(t, listener.decoder)
	assert.IsType(t, &RealUDPSocketFactory{}, listener.socketFactory)
	assert.Nil(t, listener.GetConn())
}

func TestUDPListener_HandlePacket(t *testing.T) {
	stats := &MockFullPacketStats{}
	sink := &frameCollector{}
	listener := NewUDPListener(UDPListenerConfig{Stats: stats, Sink: sink})

	now := time.Now()
	listener.HandlePacket(Packet{Data: packetWithSpeed(27.5, 100), Timestamp: now, Source: "a"})
	listener.HandlePacket(Packet{Data: make([]byte, 100), Timestamp: now, Source: "b"})

	packets, decoded, malformed := stats.counts()
	assert.Equal(t, 2, packets)
	assert.Equal(t, 1, decoded)
	assert.Equal(t, 1, malformed)

	frames := sink.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, float32(27.5), frames[0].Snapshot.Speed)
	assert.Equal(t, uint32(100), frames[0].Snapshot.TimestampMS)
	assert.Equal(t, now, frames[0].ReceivedAt)
	assert.Equal(t, "a", frames[0].Source)
	assert.Len(t, frames[0].Raw, parse.MESSAGE_SIZE)
}

func TestUDPListener_HandlePacket_CustomDecoder(t *testing.T) {
	stats := &MockFullPacketStats{}
	sink := &frameCollector{}
	listener := NewUDPListener(UDPListenerConfig{
		Stats: stats,
		Sink:  sink,
		Decoder: func(buf []byte) (parse.Snapshot, error) {
			return parse.Snapshot{}, errors.New("rejected")
		},
	})

	listener.HandlePacket(Packet{Data: packetWithSpeed(1, 1)})

	_, decoded, malformed := stats.counts()
	assert.Equal(t, 0, decoded)
	assert.Equal(t, 1, malformed)
	assert.Empty(t, sink.Frames())
}

func TestUDPListener_Start_WithMockSocket(t *testing.T) {
	socket := NewMockUDPSocket([]MockUDPPacket{
		{Data: packetWithSpeed(10, 1), Addr: testAddr},
		{Data: []byte{1, 2, 3}, Addr: testAddr},
		{Data: append(packetWithSpeed(20, 2), 0xff), Addr: testAddr}, // trailing byte
		{Data: packetWithSpeed(30, 3), Addr: testAddr},
	})
	factory := NewMockUDPSocketFactory(socket)
	stats := &MockFullPacketStats{}
	sink := &frameCollector{}

	listener := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:5300",
		RcvBuf:        1 << 20,
		Workers:       1,
		Stats:         stats,
		Sink:          sink,
		SocketFactory: factory,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- listener.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, decoded, malformed := stats.counts()
		return decoded == 3 && malformed == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}

	require.Len(t, factory.ListenCalls, 1)
	assert.Equal(t, "udp", factory.ListenCalls[0].Network)
	assert.Equal(t, 1<<20, socket.ReadBufferSize)
	assert.True(t, socket.IsClosed())

	// One worker keeps arrival order.
	frames := sink.Frames()
	require.Len(t, frames, 3)
	for i, want := range []float32{10, 20, 30} {
		assert.Equal(t, want, frames[i].Snapshot.Speed)
		assert.Equal(t, testAddr.String(), frames[i].Source)
	}
}

func TestUDPListener_Start_FramesOwnTheirBytes(t *testing.T) {
	var packets []MockUDPPacket
	for i := 0; i < 50; i++ {
		packets = append(packets, MockUDPPacket{Data: packetWithSpeed(float32(i), uint32(i)), Addr: testAddr})
	}
	socket := NewMockUDPSocket(packets)
	sink := &frameCollector{}

	listener := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:5300",
		Workers:       4,
		Sink:          sink,
		SocketFactory: NewMockUDPSocketFactory(socket),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Start(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Frames()) == 50 }, 2*time.Second, 5*time.Millisecond)

	seen := make(map[uint32]bool)
	for _, f := range sink.Frames() {
		// Each frame's raw bytes must still decode to its own snapshot.
		again, err := parse.Decode(f.Raw)
		require.NoError(t, err)
		assert.Equal(t, f.Snapshot.TimestampMS, again.TimestampMS)
		assert.Equal(t, float32(f.Snapshot.TimestampMS), f.Snapshot.Speed)
		seen[f.Snapshot.TimestampMS] = true
	}
	assert.Len(t, seen, 50)
}

func TestUDPListener_Start_CapturesInReadOrder(t *testing.T) {
	var packets []MockUDPPacket
	for i := 0; i < 20; i++ {
		data := packetWithSpeed(float32(i), uint32(i))
		if i%5 == 0 {
			data = []byte{byte(i)}
		}
		packets = append(packets, MockUDPPacket{Data: data, Addr: testAddr})
	}
	socket := NewMockUDPSocket(packets)
	stats := &MockFullPacketStats{}

	var (
		mu       sync.Mutex
		captured [][]byte
	)
	listener := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:5300",
		Workers: 4,
		Stats:   stats,
		Capture: func(pkt Packet) {
			mu.Lock()
			defer mu.Unlock()
			captured = append(captured, pkt.Data)
		},
		SocketFactory: NewMockUDPSocketFactory(socket),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, decoded, malformed := stats.counts()
		return decoded == 16 && malformed == 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 20)
	for i, data := range captured {
		assert.Equal(t, packets[i].Data, data, "packet %d", i)
	}
}

func TestUDPListener_Start_ListenError(t *testing.T) {
	factory := NewMockUDPSocketFactory(nil)
	factory.Error = errors.New("address in use")

	listener := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:5300", SocketFactory: factory})
	err := listener.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen on UDP address")
}

func TestUDPListener_Start_BadAddress(t *testing.T) {
	listener := NewUDPListener(UDPListenerConfig{Address: "not an address", SocketFactory: NewMockUDPSocketFactory(nil)})
	err := listener.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve UDP address")
}

func TestUDPListener_Start_ReadErrorIsNotFatal(t *testing.T) {
	socket := NewMockUDPSocket([]MockUDPPacket{{Data: packetWithSpeed(5, 1), Addr: testAddr}})
	socket.ReadError = errors.New("transient")
	socket.SetReadBufferError = errors.New("not permitted")
	sink := &frameCollector{}

	listener := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:5300",
		RcvBuf:        1024,
		Sink:          sink,
		SocketFactory: NewMockUDPSocketFactory(socket),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Start(ctx) }()

	require.Eventually(t, func() bool { return len(sink.Frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestUDPListener_Close(t *testing.T) {
	socket := NewMockUDPSocket(nil)
	listener := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:5300",
		SocketFactory: NewMockUDPSocketFactory(socket),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- listener.Start(context.Background()) }()

	require.Eventually(t, func() bool { return listener.GetConn() != nil }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after Close")
	}
	assert.Nil(t, listener.GetConn())
}

func TestUDPListener_RealSocket(t *testing.T) {
	sink := &frameCollector{}
	listener := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0", Sink: sink, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Start(ctx) }()

	require.Eventually(t, func() bool { return listener.GetConn() != nil }, 2*time.Second, 5*time.Millisecond)
	addr := listener.GetConn().LocalAddr().(*net.UDPAddr)

	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(packetWithSpeed(42, 7))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.Frames()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float32(42), sink.Frames()[0].Snapshot.Speed)
}
