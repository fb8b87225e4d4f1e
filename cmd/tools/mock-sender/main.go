// Command mock-sender plays synthetic Data Out telemetry at a listener, or
// writes it to a capture file for -replay.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/forza-telemetry/internal/forza/parse"
	"github.com/banshee-data/forza-telemetry/internal/forza/recorder"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7878", "UDP address to send packets to")
	rate := flag.Int("rate", 60, "packets per second")
	laps := flag.Int("laps", 2, "number of laps to drive")
	lapSeconds := flag.Float64("lap-seconds", 30, "duration of one lap")
	output := flag.String("o", "", "write a capture file here instead of sending")
	flag.Parse()

	if *rate < 1 || *laps < 1 || *lapSeconds <= 0 {
		log.Fatal("rate, laps and lap-seconds must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := newLapGenerator(*rate, *lapSeconds)
	total := int(float64(*rate) * *lapSeconds) * *laps

	if *output != "" {
		if err := writeCapture(*output, gen, total, time.Now()); err != nil {
			log.Fatalf("failed to write capture: %v", err)
		}
		log.Printf("✓ Created: %s (%d packets)", *output, total)
		return
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			log.Printf("stopped after %d packets", i)
			return
		case <-ticker.C:
		}
		if _, err := conn.Write(parse.Encode(gen.Next())); err != nil {
			log.Printf("send failed: %v", err)
		}
		if (i+1)%(*rate*5) == 0 {
			log.Printf("%d/%d packets", i+1, total)
		}
	}
	log.Printf("✓ Sent %d packets to %s", total, *addr)
}

func writeCapture(path string, gen *lapGenerator, n int, start time.Time) error {
	rec, err := recorder.Create(path)
	if err != nil {
		return err
	}
	step := time.Second / time.Duration(gen.rate)
	for i := 0; i < n; i++ {
		if err := rec.Write(start.Add(time.Duration(i)*step), parse.Encode(gen.Next())); err != nil {
			rec.Close()
			os.Remove(path)
			return err
		}
	}
	return rec.Close()
}
