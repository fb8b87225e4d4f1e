package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

// SnapshotWriter is a network.Sink that buffers frames and writes them to the
// database in batches, either when a batch fills or on each flush interval.
type SnapshotWriter struct {
	db         *DB
	sessionID  string
	batchSize  int
	maxPending int
	interval   time.Duration

	mu      sync.Mutex
	pending []network.Frame
	written int64
	dropped int64

	kick      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

// NewSnapshotWriter creates a writer for sessionID. Frames beyond 50 batches
// of backlog are dropped rather than held while the database is stalled.
func NewSnapshotWriter(db *DB, sessionID string, batchSize int, interval time.Duration) *SnapshotWriter {
	if batchSize < 1 {
		batchSize = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SnapshotWriter{
		db:         db,
		sessionID:  sessionID,
		batchSize:  batchSize,
		maxPending: batchSize * 50,
		interval:   interval,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (w *SnapshotWriter) HandleFrame(f network.Frame) {
	w.mu.Lock()
	if len(w.pending) >= w.maxPending {
		w.dropped++
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, f)
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
}

// Start runs the flush loop until ctx is cancelled or Close is called.
func (w *SnapshotWriter) Start(ctx context.Context) {
	if w.started.Swap(true) {
		return
	}
	go func() {
		defer close(w.stopped)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.flushLogged()
				return
			case <-w.done:
				return
			case <-ticker.C:
				w.flushLogged()
			case <-w.kick:
				w.flushLogged()
			}
		}
	}()
}

func (w *SnapshotWriter) flushLogged() {
	if err := w.Flush(); err != nil {
		monitoring.Warnf("Failed to write snapshots: %v", err)
	}
}

// Flush writes every pending frame now. When the batch transaction fails the
// frames are retried one at a time, so only the rows that still fail are
// counted as dropped.
func (w *SnapshotWriter) Flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	var written, dropped int64
	err := w.db.RecordFrames(w.sessionID, batch)
	if err == nil {
		written = int64(len(batch))
	} else {
		var firstErr error
		for _, f := range batch {
			if rerr := w.db.RecordSnapshot(w.sessionID, f.ReceivedAt, f.Snapshot, f.Raw); rerr != nil {
				dropped++
				if firstErr == nil {
					firstErr = rerr
				}
				continue
			}
			written++
		}
		err = firstErr
		if err != nil && dropped > 1 {
			err = fmt.Errorf("%d of %d snapshots: %w", dropped, len(batch), err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.written += written
	w.dropped += dropped
	return err
}

// Written returns the number of frames stored.
func (w *SnapshotWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Dropped returns the number of frames discarded by backlog or write errors.
func (w *SnapshotWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops the flush loop if it was started and writes what remains.
func (w *SnapshotWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.Flush()
	})
	return err
}

// Wait blocks until the flush loop has exited. It returns at once if the
// loop was never started.
func (w *SnapshotWriter) Wait() {
	if !w.started.Load() {
		return
	}
	<-w.stopped
}
