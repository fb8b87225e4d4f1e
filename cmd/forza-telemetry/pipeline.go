package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/config"
	"github.com/banshee-data/forza-telemetry/internal/db"
	"github.com/banshee-data/forza-telemetry/internal/forza/live"
	"github.com/banshee-data/forza-telemetry/internal/forza/monitor"
	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/forza/recorder"
	"github.com/banshee-data/forza-telemetry/internal/forza/sequence"
)

type pipelineOptions struct {
	source  string
	useDB   bool
	record  bool
	verbose bool
	console io.Writer
}

// pipeline owns every consumer of received packets. capture is handed the raw
// datagrams in read order; sink gets decoded frames, after the optional
// reorder window.
type pipeline struct {
	stats    *monitor.PacketStats
	hub      *live.Hub
	db       *db.DB
	session  *db.Session
	writer   *db.SnapshotWriter
	recorder *recorder.Recorder
	ordered  *sequence.Sink
	units    string
	sink     network.Sink
	capture  network.PacketHandler

	drainOnce sync.Once
	drainErr  error
}

func newPipeline(cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{
		stats: monitor.NewPacketStats(),
		hub:   live.NewHub(),
		units: cfg.GetSpeedUnits(),
	}

	downstream := network.MultiSink{p.hub}

	if opts.useDB {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		session, err := database.StartSession(opts.source)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("start session: %w", err)
		}
		log.Printf("Recording session %s from %s into %s", session.ID, opts.source, database.Path())
		p.db = database
		p.session = session
		p.writer = db.NewSnapshotWriter(database, session.ID, cfg.GetBatchSize(), cfg.GetFlushInterval())
		downstream = append(downstream, p.writer)
	}

	if opts.verbose && opts.console != nil {
		downstream = append(downstream, consoleSink(opts.console))
	}

	var next network.Sink = downstream
	if window := cfg.GetReorderWindow(); window > 0 {
		p.ordered = sequence.NewSink(window, downstream)
		next = p.ordered
	}

	if dir := cfg.GetRecordDir(); opts.record && dir != "" {
		rec, err := recorder.CreateInDir(dir, time.Now())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create capture: %w", err)
		}
		log.Printf("Capturing raw telemetry to %s", rec.Path())
		p.recorder = rec
		p.capture = rec.RecordPacket
	}
	p.sink = next

	return p, nil
}

// Drain releases held frames and writes everything still buffered. The
// database stays open so the session can still be queried.
func (p *pipeline) Drain() error {
	p.drainOnce.Do(func() {
		var errs []error
		if p.ordered != nil {
			p.ordered.Flush()
			if late := p.ordered.Late(); late > 0 {
				log.Printf("Dropped %d late frames", late)
			}
		}
		if p.writer != nil {
			if err := p.writer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("flush snapshots: %w", err))
			}
			p.writer.Wait()
			log.Printf("Stored %d snapshots (%d dropped)", p.writer.Written(), p.writer.Dropped())
		}
		if p.recorder != nil {
			if err := p.recorder.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close capture: %w", err))
			}
			log.Printf("Captured %d packets to %s", p.recorder.Count(), p.recorder.Path())
		}
		if p.session != nil {
			if err := p.db.EndSession(p.session.ID); err != nil {
				errs = append(errs, fmt.Errorf("end session: %w", err))
			}
		}
		p.drainErr = errors.Join(errs...)
	})
	return p.drainErr
}

// Close drains the pipeline and closes the database.
func (p *pipeline) Close() error {
	err := p.Drain()
	if p.db != nil {
		if cerr := p.db.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

var consoleMu sync.Mutex

// consoleSink prints one line per decoded frame.
func consoleSink(w io.Writer) network.Sink {
	return network.SinkFunc(func(f network.Frame) {
		consoleMu.Lock()
		defer consoleMu.Unlock()
		fmt.Fprintln(w, consoleLine(f.Snapshot))
	})
}

func consoleLine(s parse.Snapshot) string {
	return fmt.Sprintf("Speed: %dkm/h, Engine RPM: %d, Gear: %d",
		int32(s.Speed*3.6), int32(s.CurrentEngineRPM), s.Gear)
}
