// Package protocol defines what peers put on the wire: the value payload,
// the discovery beacon and the invitation handshake.
package protocol

import (
	"encoding/binary"
	"math"
)

// EncodeValue returns the IEEE-754 bits of v, little-endian. The payload has
// no header, version or length prefix.
func EncodeValue(v float64) []byte {
	buf := make([]byte, ValueSize)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

// DecodeValue reads the first ValueSize bytes of data. ok is false when data
// is too short. Any bit pattern is accepted, including NaN and infinities.
func DecodeValue(data []byte) (float64, bool) {
	if len(data) < ValueSize {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data[:ValueSize])), true
}
