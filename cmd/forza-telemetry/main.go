package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/api"
	"github.com/banshee-data/forza-telemetry/internal/config"
	"github.com/banshee-data/forza-telemetry/internal/forza/network"
	"github.com/banshee-data/forza-telemetry/internal/forza/recorder"
	"github.com/banshee-data/forza-telemetry/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a JSON or YAML config file")
	udpAddr       = flag.String("udp-addr", config.DefaultUDPAddress, "UDP address to receive Data Out telemetry on")
	rcvBuf        = flag.Int("rcvbuf", config.DefaultRcvBuf, "UDP socket receive buffer in bytes (0 keeps the OS default)")
	logInterval   = flag.String("log-interval", config.DefaultLogInterval, "Interval between packet statistics log lines")
	workers       = flag.Int("workers", config.DefaultWorkers, "Concurrent decode workers (1 keeps arrival order)")
	forwardAddr   = flag.String("forward-addr", "", "Forward every raw datagram to this UDP address")
	reorderWindow = flag.Int("reorder-window", config.DefaultReorderWindow, "Frames held to restore timestamp order (0 disables)")
	dbPath        = flag.String("db", config.DefaultDBPath, "SQLite database path")
	noDB          = flag.Bool("no-db", false, "Do not persist snapshots")
	httpListen    = flag.String("http-listen", config.DefaultHTTPListen, "HTTP listen address (empty disables the API)")
	speedUnits    = flag.String("units", config.DefaultSpeedUnits, "Speed units for the API: mps, kph or mph")
	recordDir     = flag.String("record-dir", "", "Write a raw capture of every received datagram, malformed ones included, into this directory")
	verbose       = flag.Bool("verbose", false, "Print speed, rpm and gear for every decoded packet")
	inspectFile   = flag.String("inspect", "", "Decode a single raw 323-byte packet file and print every field")
	replayFile    = flag.String("replay", "", "Replay a capture file written by -record-dir instead of listening")
	pcapFile      = flag.String("pcap", "", "Replay a PCAP file instead of listening (requires the pcap build tag)")
	pcapPort      = flag.Int("pcap-port", 7878, "UDP destination port to select from the PCAP file")
	replaySpeed   = flag.Float64("speed", 1.0, "Replay speed multiplier (0 replays as fast as possible)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *inspectFile != "" {
		if err := inspectPacket(os.Stdout, *inspectFile); err != nil {
			log.Fatalf("inspect failed: %v", err)
		}
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlagOverrides(cfg, set)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *replayFile != "" || *pcapFile != "" {
		if err := runReplay(ctx, cfg); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	runLive(ctx, cfg)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// applyFlagOverrides copies the explicitly set flags over cfg so a config
// file supplies defaults and the command line has the last word.
func applyFlagOverrides(cfg *config.Config, set map[string]bool) {
	if set["udp-addr"] {
		cfg.UDPAddress = udpAddr
	}
	if set["rcvbuf"] {
		cfg.RcvBuf = rcvBuf
	}
	if set["log-interval"] {
		cfg.LogInterval = logInterval
	}
	if set["workers"] {
		cfg.Workers = workers
	}
	if set["forward-addr"] {
		cfg.ForwardAddr = forwardAddr
	}
	if set["reorder-window"] {
		cfg.ReorderWindow = reorderWindow
	}
	if set["db"] {
		cfg.DBPath = dbPath
	}
	if set["http-listen"] {
		cfg.HTTPListen = httpListen
	}
	if set["units"] {
		cfg.SpeedUnits = speedUnits
	}
	if set["record-dir"] {
		cfg.RecordDir = recordDir
	}
}

func runLive(ctx context.Context, cfg *config.Config) {
	p, err := newPipeline(cfg, pipelineOptions{
		source:  cfg.GetUDPAddress(),
		useDB:   !*noDB,
		record:  true,
		verbose: *verbose,
		console: os.Stdout,
	})
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	var forwarder *network.PacketForwarder
	if addr := cfg.GetForwardAddr(); addr != "" {
		forwarder, err = network.NewPacketForwarder(addr, p.stats, cfg.GetLogInterval())
		if err != nil {
			log.Fatalf("failed to create forwarder: %v", err)
		}
		defer forwarder.Close()
	}

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     cfg.GetUDPAddress(),
		RcvBuf:      cfg.GetRcvBuf(),
		LogInterval: cfg.GetLogInterval(),
		Workers:     cfg.GetWorkers(),
		Stats:       p.stats,
		Forwarder:   forwarder,
		Sink:        p.sink,
		Capture:     p.capture,
	})

	var wg sync.WaitGroup

	if p.writer != nil {
		p.writer.Start(ctx)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("listener routine terminated")
	}()

	if listen := cfg.GetHTTPListen(); listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, listen, p)
		}()
	}

	wg.Wait()
	listener.Close()
	if err := p.Close(); err != nil {
		log.Printf("pipeline shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func serveHTTP(ctx context.Context, listen string, p *pipeline) {
	apiServer := api.NewServer(p.db, p.hub, p.stats, p.units)
	if p.session != nil {
		apiServer.SetSession(p.session.ID)
	}
	mux := apiServer.ServeMux()
	if p.db != nil {
		if err := p.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}
	}

	server := &http.Server{
		Addr:    listen,
		Handler: api.LoggingMiddleware(mux),
	}

	go func() {
		log.Printf("HTTP API listening on %s", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

func runReplay(ctx context.Context, cfg *config.Config) error {
	source := "replay:" + *replayFile
	if *pcapFile != "" {
		source = "pcap:" + *pcapFile
	}

	p, err := newPipeline(cfg, pipelineOptions{
		source:  source,
		useDB:   !*noDB,
		verbose: *verbose,
		console: os.Stdout,
	})
	if err != nil {
		return err
	}
	if p.writer != nil {
		p.writer.Start(ctx)
	}

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Stats: p.stats,
		Sink:  p.sink,
	})
	opts := network.ReplayOptions{SpeedMultiplier: *replaySpeed}

	var n int
	if *pcapFile != "" {
		n, err = network.ReadPCAPFile(ctx, *pcapFile, *pcapPort, listener.HandlePacket, opts)
	} else {
		var rd *recorder.Reader
		rd, err = recorder.Open(*replayFile)
		if err == nil {
			n, err = network.ReplayPackets(ctx, rd, listener.HandlePacket, opts)
			rd.Close()
		}
	}

	defer p.Close()
	if derr := p.Drain(); derr != nil {
		log.Printf("pipeline drain error: %v", derr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Printf("Replayed %d packets", n)
	return printSummary(os.Stdout, p)
}
