package pebble

import "encoding/binary"

// Keyspace prefixes for the two append streams. Both share one Pebble
// instance; prefix iteration keeps a newest-first scan of one stream from
// wandering into the other's keys.
const (
	reqPrefix   = "req/"
	statePrefix = "state/"
)

// encodeID renders a monotonic uint64 as 8 big-endian bytes so Pebble's
// lexical key order matches numeric order, letting range scans walk the
// stream in id order without a secondary index.
func encodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func decodeID(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func reqKey(id uint64) []byte {
	return append([]byte(reqPrefix), encodeID(id)...)
}

func stateKey(id uint64) []byte {
	return append([]byte(statePrefix), encodeID(id)...)
}

func reqPrefixBounds() (lower, upper []byte) {
	return []byte(reqPrefix), append([]byte(reqPrefix), 0xFF)
}

func statePrefixBounds() (lower, upper []byte) {
	return []byte(statePrefix), append([]byte(statePrefix), 0xFF)
}
