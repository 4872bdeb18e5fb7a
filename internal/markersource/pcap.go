//go:build pcap
// +build pcap

package markersource

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/shakedasido/AutoLink/internal/marker"
)

// PcapSource replays detector datagrams captured on the wire. Frame times
// come from the capture timestamps when the payload has none.
// This type is only available when building with the 'pcap' build tag.
type PcapSource struct {
	handle  *pcap.Handle
	packets chan gopacket.Packet
	count   int

	Dropped int
}

// OpenPcap opens a capture file and filters it to UDP traffic on port.
func OpenPcap(path string, port int) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	filter := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filter, err)
	}
	logf("PCAP replay %s, filter %q", path, filter)

	return &PcapSource{
		handle:  handle,
		packets: gopacket.NewPacketSource(handle, handle.LinkType()).Packets(),
	}, nil
}

func (p *PcapSource) Next(ctx context.Context) (marker.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return marker.Frame{}, ctx.Err()
		case packet, ok := <-p.packets:
			if !ok || packet == nil {
				logf("PCAP replay complete after %d packets", p.count)
				return marker.Frame{}, ErrExhausted
			}
			p.count++

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			frame, err := marker.DecodeFrame(udp.Payload, packet.Metadata().Timestamp)
			if err != nil {
				p.Dropped++
				logf("PCAP packet %d: %v", p.count, err)
				continue
			}
			return frame, nil
		}
	}
}

func (p *PcapSource) Close() error {
	p.handle.Close()
	return nil
}
