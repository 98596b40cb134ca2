package transport

import "encoding/binary"

// EncodeHeader writes a frame header: payload length then padding length,
// each an unsigned 16-bit big-endian integer.
func EncodeHeader(header []byte, payloadLength, paddingLength int) {
	if payloadLength < 0 || payloadLength > MaxPayloadLength {
		panic("transport: payload length out of range")
	}
	if paddingLength < 0 || paddingLength > MaxPayloadLength {
		panic("transport: padding length out of range")
	}
	binary.BigEndian.PutUint16(header[0:2], uint16(payloadLength))
	binary.BigEndian.PutUint16(header[2:4], uint16(paddingLength))
}

// PayloadLength reads the payload length from a frame header.
func PayloadLength(header []byte) int {
	return int(binary.BigEndian.Uint16(header[0:2]))
}

// PaddingLength reads the padding length from a frame header.
func PaddingLength(header []byte) int {
	return int(binary.BigEndian.Uint16(header[2:4]))
}
