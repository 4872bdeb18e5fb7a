//go:build !pcap
// +build !pcap

package markersource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenPcapStub(t *testing.T) {
	src, err := OpenPcap("capture.pcap", 5600)
	assert.Nil(t, src)
	assert.ErrorContains(t, err, "-tags=pcap")
}
