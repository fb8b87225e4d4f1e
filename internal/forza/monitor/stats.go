package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

// StatsSnapshot is the rate summary of one logging interval.
type StatsSnapshot struct {
	PacketsPerSec   float64   `json:"packets_per_sec"`
	KBPerSec        float64   `json:"kb_per_sec"`
	DecodedPerSec   float64   `json:"decoded_per_sec"`
	MalformedCount  int64     `json:"malformed_count"`
	DroppedCount    int64     `json:"dropped_count"`
	Timestamp       time.Time `json:"timestamp"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// Totals are lifetime counters. They are never reset.
type Totals struct {
	Packets   int64         `json:"packets"`
	Bytes     int64         `json:"bytes"`
	Decoded   int64         `json:"decoded"`
	Malformed int64         `json:"malformed"`
	Dropped   int64         `json:"dropped"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// PacketStats tracks ingest counters with thread-safe operations.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	decodedCount   int64
	malformedCount int64
	droppedCount   int64
	totals         Totals
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// NewPacketStats creates a new PacketStats instance
func NewPacketStats() *PacketStats {
	now := time.Now()
	return &PacketStats{
		lastReset: now,
		startTime: now,
	}
}

// AddPacket counts one received datagram of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
	ps.totals.Packets++
	ps.totals.Bytes += int64(bytes)
}

// AddDecoded counts one datagram that produced a snapshot.
func (ps *PacketStats) AddDecoded() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.decodedCount++
	ps.totals.Decoded++
}

// AddMalformed counts one datagram that failed to decode.
func (ps *PacketStats) AddMalformed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.malformedCount++
	ps.totals.Malformed++
}

// AddDropped counts one datagram the forwarder could not queue.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
	ps.totals.Dropped++
}

// GetAndReset returns the interval counters and resets them.
func (ps *PacketStats) GetAndReset() (packets, bytes, decoded, malformed, dropped int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	decoded = ps.decodedCount
	malformed = ps.malformedCount
	dropped = ps.droppedCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.decodedCount = 0
	ps.malformedCount = 0
	ps.droppedCount = 0
	ps.lastReset = now

	return
}

// LogStats logs the interval rates and stores a snapshot for the web API.
// Quiet intervals are not logged.
func (ps *PacketStats) LogStats() {
	packets, bytes, decoded, malformed, dropped, duration := ps.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := &StatsSnapshot{
		PacketsPerSec:   float64(packets) / secs,
		KBPerSec:        float64(bytes) / secs / 1024,
		DecodedPerSec:   float64(decoded) / secs,
		MalformedCount:  malformed,
		DroppedCount:    dropped,
		Timestamp:       time.Now(),
		IntervalSeconds: secs,
	}

	ps.mu.Lock()
	ps.latestSnapshot = snap
	ps.mu.Unlock()

	logMsg := fmt.Sprintf("Telemetry stats (/sec): %.1f KB, %.1f packets, %.1f decoded",
		snap.KBPerSec, snap.PacketsPerSec, snap.DecodedPerSec)
	if malformed > 0 {
		logMsg += fmt.Sprintf(", %s malformed", FormatWithCommas(malformed))
	}
	if dropped > 0 {
		logMsg += fmt.Sprintf(", %s dropped on forward", FormatWithCommas(dropped))
	}
	monitoring.Logf("%s", logMsg)
}

// GetUptime returns the time since the stats were created
func (ps *PacketStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return time.Since(ps.startTime)
}

// GetLatestSnapshot returns a copy of the most recent interval summary, or nil
// before the first non-empty interval has been logged.
func (ps *PacketStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latestSnapshot == nil {
		return nil
	}
	snapshot := *ps.latestSnapshot
	return &snapshot
}

// Totals returns the lifetime counters.
func (ps *PacketStats) Totals() Totals {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	t := ps.totals
	t.Uptime = time.Since(ps.startTime)
	return t
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
