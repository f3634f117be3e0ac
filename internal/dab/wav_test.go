// SPDX-License-Identifier: GPL-3.0-only

package dab

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWAVHeaderPCM(t *testing.T) {
	h := WAVHeader(false, 2, 16, 48000)
	require.Len(t, h, 44)
	require.Equal(t, "RIFF", string(h[0:4]))
	require.Equal(t, "WAVE", string(h[8:12]))
	require.Equal(t, "fmt ", string(h[12:16]))
	require.Equal(t, "data", string(h[36:40]))

	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(h[20:22]))
	require.Equal(t, uint16(2), binary.LittleEndian.Uint16(h[22:24]))
	require.Equal(t, uint32(48000), binary.LittleEndian.Uint32(h[24:28]))
	require.Equal(t, uint32(48000*2*2), binary.LittleEndian.Uint32(h[28:32]))
	require.Equal(t, uint16(4), binary.LittleEndian.Uint16(h[32:34]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(h[34:36]))
}

func TestWAVHeaderFloatFormatCode(t *testing.T) {
	h := WAVHeader(true, 2, 32, 44100)
	require.Equal(t, uint16(3), binary.LittleEndian.Uint16(h[20:22]))
	require.Equal(t, uint16(32), binary.LittleEndian.Uint16(h[34:36]))
}

func TestWAVHeaderUnboundedSizes(t *testing.T) {
	h := WAVHeader(false, 2, 16, 48000)
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(h[4:8]))
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(h[40:44]))
}
