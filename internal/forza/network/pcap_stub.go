//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"errors"
)

// ErrPCAPDisabled is returned when the binary was built without libpcap.
var ErrPCAPDisabled = errors.New("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file reading")

// OpenPCAPFile is a stub implementation when PCAP support is disabled.
func OpenPCAPFile(pcapFile string, udpPort int) (PCAPReader, error) {
	return nil, ErrPCAPDisabled
}

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler PacketHandler, opts ReplayOptions) (int, error) {
	return 0, ErrPCAPDisabled
}
