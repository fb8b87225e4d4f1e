// Package recorder writes and replays raw telemetry captures.
//
// A capture file starts with an 8-byte magic, followed by records of
//
//	[8-byte unix nanos][2-byte payload length][payload]
//
// with integers little-endian. Payloads are the datagrams exactly as received,
// so a capture replays through the same decode path as live traffic.
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
)

// Magic identifies a capture file.
const Magic = "FZTLOG01"

// FileExt is the capture file extension.
const FileExt = ".ftlog"

const recordHeaderSize = 10

var (
	ErrBadMagic  = errors.New("not a telemetry capture file")
	ErrTruncated = errors.New("capture ends with a truncated record")
	ErrTooLarge  = errors.New("payload too large for capture record")
)

// Recorder appends packets to a capture file. It is safe for concurrent use
// and implements network.Sink.
type Recorder struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	path  string
	count int
}

// Create creates (or truncates) a capture file at path.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(Magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Recorder{f: f, w: w, path: path}, nil
}

// CreateInDir creates a capture file in dir named after the start time.
func CreateInDir(dir string, start time.Time) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	name := "forza-" + start.UTC().Format("20060102T150405Z") + FileExt
	return Create(filepath.Join(dir, name))
}

// Write appends one packet received at ts.
func (r *Recorder) Write(ts time.Time, raw []byte) error {
	if len(raw) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}
	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(raw)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return os.ErrClosed
	}
	if _, err := r.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(raw); err != nil {
		return err
	}
	r.count++
	return nil
}

// RecordPacket appends pkt as received. It is a network.PacketHandler, so
// write errors are dropped; use Write directly to observe them.
func (r *Recorder) RecordPacket(pkt network.Packet) {
	_ = r.Write(pkt.Timestamp, pkt.Data)
}

// Count returns the number of records written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Path returns the capture file path.
func (r *Recorder) Path() string { return r.path }

// Flush pushes buffered records to the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return os.ErrClosed
	}
	return r.w.Flush()
}

// Close flushes and closes the file. Later calls return nil.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	flushErr := r.w.Flush()
	closeErr := r.f.Close()
	r.w = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Reader replays a capture file. It implements network.PCAPReader.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	source string
}

// Open opens a capture file and checks its magic.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r := bufio.NewReader(f)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrBadMagic)
	}
	return &Reader{f: f, r: r, source: filepath.Base(path)}, nil
}

// NextPacket returns the next record, io.EOF at a clean end of file, or
// ErrTruncated if the file stops partway through a record.
func (rd *Reader) NextPacket() (*network.Packet, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	ts := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	n := binary.LittleEndian.Uint16(hdr[8:10])

	data := make([]byte, n)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return &network.Packet{
		Data:      data,
		Timestamp: time.Unix(0, ts),
		Source:    rd.source,
	}, nil
}

func (rd *Reader) Close() {
	rd.f.Close()
}
