package afpacket

import (
	"testing"

	"github.com/google/gopacket/afpacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/buffwatch/internal/core"
)

func TestComputeRing(t *testing.T) {
	tests := []struct {
		name     string
		bufferMB int
		snapLen  int
		pageSize int
	}{
		{"default snaplen", 10, 65535, 4096},
		{"mtu snaplen", 10, 1500, 4096},
		{"tiny buffer", 1, 65535, 4096},
		{"large pages", 64, 9000, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := computeRing(tt.bufferMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.Zero(t, r.frameSize%tpacketAlignment, "frame alignment")
			assert.GreaterOrEqual(t, r.frameSize, tt.snapLen+tpacketHdrLen)
			assert.Zero(t, r.blockSize%tt.pageSize, "block page alignment")
			assert.Zero(t, r.blockSize%r.frameSize, "whole frames per block")
			assert.GreaterOrEqual(t, r.numBlocks, 1)
			if r.numBlocks > 1 {
				assert.LessOrEqual(t, r.blockSize*r.numBlocks, tt.bufferMB<<20)
			}
		})
	}
}

func TestComputeRingMTU(t *testing.T) {
	r, err := computeRing(10, 1500, 4096)
	require.NoError(t, err)
	assert.Equal(t, 1552, r.frameSize)
	assert.Equal(t, 397312, r.blockSize)
	assert.Equal(t, 26, r.numBlocks)
}

func TestComputeRingInvalid(t *testing.T) {
	_, err := computeRing(0, 1500, 4096)
	assert.Error(t, err)
	_, err = computeRing(10, 0, 4096)
	assert.Error(t, err)
	_, err = computeRing(10, 1500, 1000)
	assert.Error(t, err)
}

func TestParseFanoutType(t *testing.T) {
	ft, err := parseFanoutType("")
	require.NoError(t, err)
	assert.Equal(t, afpacket.FanoutType(0), ft)

	ft, err = parseFanoutType("hash")
	require.NoError(t, err)
	assert.Equal(t, afpacket.FanoutHash, ft)

	_, err = parseFanoutType("cpu")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	c := NewAFPacketCapturer().(*AFPacketCapturer)
	require.NoError(t, c.Init(map[string]any{
		"device":         "eth0",
		"snap_len":       1500,
		"buffer_size_mb": "10",
		"promiscuous":    true,
	}))
	assert.Equal(t, "eth0", c.config.Device)
	assert.Equal(t, defaultBPFFilter, c.config.BPFFilter)
	assert.Positive(t, c.ring.numBlocks)
	assert.Equal(t, core.LinkTypeEthernet, c.LinkType())
}

func TestInitRejectsUnknownFanout(t *testing.T) {
	c := NewAFPacketCapturer()
	err := c.Init(map[string]any{"fanout_type": "lb"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
