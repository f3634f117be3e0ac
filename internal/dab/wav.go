// SPDX-License-Identifier: GPL-3.0-only

package dab

import "encoding/binary"

// WAVHeader renders a 44-byte RIFF header for an unbounded stream: both
// chunk-size fields are zero so players treat the output as endless.
// isFloat selects format code 3 (32-bit float) instead of 1 (PCM).
func WAVHeader(isFloat bool, channels, bitDepth, sampleRate int) []byte {
	format := uint16(1)
	if isFloat {
		format = 3
	}
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	buf := make([]byte, 0, 44)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // chunk size: unbounded
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = binary.LittleEndian.AppendUint16(buf, format)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(sampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(bitDepth))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // data size: unbounded
	return buf
}
