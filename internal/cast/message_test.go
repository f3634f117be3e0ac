// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCastMessageRoundTrip(t *testing.T) {
	in := &castMessage{
		sourceID:      "sender-0",
		destinationID: "receiver-0",
		namespace:     nsReceiver,
		payload:       `{"type":"GET_STATUS","requestId":1}`,
	}
	out, err := unmarshalCastMessage(in.marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &castMessage{
		sourceID:      "sender-0",
		destinationID: "transport-1",
		namespace:     nsMedia,
		payload:       `{"type":"PLAY"}`,
	}
	require.NoError(t, writeFrame(&buf, in))

	// 4-byte big-endian length prefix.
	raw := buf.Bytes()
	require.Equal(t, uint32(len(raw)-4), binary.BigEndian.Uint32(raw[:4]))

	out, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, maxFrameSize+1)
	buf.Write(prefix)
	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	in := &castMessage{sourceID: "a", destinationID: "b", namespace: "c", payload: "{}"}
	data := in.marshal()
	// protocol_version and payload_type are varint fields the decoder
	// skips; corrupting nothing, just confirm they do not leak into the
	// result.
	out, err := unmarshalCastMessage(data)
	require.NoError(t, err)
	require.Equal(t, "a", out.sourceID)
	require.Equal(t, "{}", out.payload)
}
