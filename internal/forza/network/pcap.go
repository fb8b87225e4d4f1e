//go:build pcap
// +build pcap

package network

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/forza-telemetry/internal/monitoring"
)

type pcapFileReader struct {
	handle *pcap.Handle
	source *gopacket.PacketSource
}

// OpenPCAPFile opens a capture and filters it to UDP traffic on udpPort.
// This function is only available when building with the 'pcap' build tag.
func OpenPCAPFile(pcapFile string, udpPort int) (PCAPReader, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}
	monitoring.Logf("PCAP BPF filter set: %s", filterStr)

	return &pcapFileReader{
		handle: handle,
		source: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

func (r *pcapFileReader) NextPacket() (*Packet, error) {
	for {
		packet, err := r.source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		pkt := &Packet{
			Data:      append([]byte(nil), udp.Payload...),
			Timestamp: packet.Metadata().Timestamp,
		}
		if nl := packet.NetworkLayer(); nl != nil {
			pkt.Source = fmt.Sprintf("%s:%d", nl.NetworkFlow().Src(), int(udp.SrcPort))
		}
		return pkt, nil
	}
}

func (r *pcapFileReader) Close() {
	r.handle.Close()
}

// ReadPCAPFile replays the UDP payloads on udpPort from a capture file
// through handler.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler PacketHandler, opts ReplayOptions) (int, error) {
	reader, err := OpenPCAPFile(pcapFile, udpPort)
	if err != nil {
		return 0, err
	}
	defer reader.Close()
	return ReplayPackets(ctx, reader, handler, opts)
}
