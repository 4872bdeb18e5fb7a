//go:build !pcap
// +build !pcap

package markersource

import "fmt"

// OpenPcap is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP replay.
func OpenPcap(path string, port int) (Source, error) {
	return nil, fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to replay %s", path)
}
