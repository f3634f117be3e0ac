// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// CASTv2 envelope field numbers (extensions/api/cast_channel.proto). The
// single message type is hand-encoded with protowire instead of carrying
// generated code.
const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
)

// payload_type STRING; BINARY payloads are never sent by this sender.
const payloadTypeString = 0

type castMessage struct {
	sourceID      string
	destinationID string
	namespace     string
	payload       string
}

func (m *castMessage) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 0) // CASTV2_1_0
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.sourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.destinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, payloadTypeString)
	b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
	b = protowire.AppendString(b, m.payload)
	return b
}

func unmarshalCastMessage(data []byte) (*castMessage, error) {
	m := &castMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case fieldSourceID:
				m.sourceID = v
			case fieldDestinationID:
				m.destinationID = v
			case fieldNamespace:
				m.namespace = v
			case fieldPayloadUTF8:
				m.payload = v
			}
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
	}
	return m, nil
}

// maxFrameSize guards against a corrupted length prefix.
const maxFrameSize = 1 << 20

// writeFrame sends one length-prefixed message.
func writeFrame(w io.Writer, m *castMessage) error {
	body := m.marshal()
	frame := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	_, err := w.Write(append(frame, body...))
	return err
}

// readFrame reads one length-prefixed message.
func readFrame(r io.Reader) (*castMessage, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("cast frame too large: %d bytes", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return unmarshalCastMessage(body)
}
