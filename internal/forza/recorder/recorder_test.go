package recorder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func TestRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lap"+FileExt)
	rec, err := Create(path)
	require.NoError(t, err)

	base := time.Unix(1700000000, 123456789)
	packets := [][]byte{
		parse.Encode(parse.Snapshot{TimestampMS: 1, Speed: 10}),
		[]byte("short"),
		parse.Encode(parse.Snapshot{TimestampMS: 2, Speed: 20}),
	}
	for i, p := range packets {
		require.NoError(t, rec.Write(base.Add(time.Duration(i)*16*time.Millisecond), p))
	}
	assert.Equal(t, 3, rec.Count())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	for i, want := range packets {
		pkt, err := rd.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, want, pkt.Data)
		assert.True(t, base.Add(time.Duration(i)*16*time.Millisecond).Equal(pkt.Timestamp))
		assert.Equal(t, "lap"+FileExt, pkt.Source)
	}
	_, err = rd.NextPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecorder_RecordPacket(t *testing.T) {
	rec, err := CreateInDir(filepath.Join(t.TempDir(), "captures"), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rec.Path(), "forza-20260301T120000Z"+FileExt))

	raw := parse.Encode(parse.Snapshot{Speed: 5})
	rec.RecordPacket(network.Packet{Data: raw, Timestamp: time.Now()})
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Write(time.Now(), raw), os.ErrClosed)

	info, err := os.Stat(rec.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(len(Magic)+recordHeaderSize+len(raw)), info.Size())
}

func TestRecorder_TooLarge(t *testing.T) {
	rec, err := Create(filepath.Join(t.TempDir(), "big"+FileExt))
	require.NoError(t, err)
	defer rec.Close()

	err = rec.Write(time.Now(), make([]byte, 70000))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOpen_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus"+FileExt)
	require.NoError(t, os.WriteFile(path, []byte("NOTALOG!"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Open(filepath.Join(t.TempDir(), "missing"+FileExt))
	assert.Error(t, err)
}

func TestReader_Truncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut"+FileExt)
	rec, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, rec.Write(time.Now(), make([]byte, 323)))
	require.NoError(t, rec.Write(time.Now(), make([]byte, 323)))
	require.NoError(t, rec.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-100], 0o644))

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	_, err = rd.NextPacket()
	require.NoError(t, err)
	_, err = rd.NextPacket()
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestReader_ReplaysThroughListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay"+FileExt)
	rec, err := Create(path)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, rec.Write(time.Now(), parse.Encode(parse.Snapshot{TimestampMS: uint32(i), Speed: float32(i)})))
	}
	require.NoError(t, rec.Close())

	var speeds []float32
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Sink: network.SinkFunc(func(f network.Frame) { speeds = append(speeds, f.Snapshot.Speed) }),
	})

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()

	n, err := network.ReplayPackets(context.Background(), rd, listener.HandlePacket, network.ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, speeds)
}
