package rdb

import "bytes"

// EmptySnapshot returns a minimal, valid RDB payload with no keys: a
// header, two AUX fields advertising a version/bits pair, a DB 0
// selector, and an EOF trailer with a zeroed checksum. It is what the
// leader sends a follower during every full resync, whatever its own
// keyspace holds.
func EmptySnapshot() []byte {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")

	buf.WriteByte(opAux)
	writeLengthPrefixedString(&buf, "redis-ver")
	writeLengthPrefixedString(&buf, "7.2.0")

	buf.WriteByte(opAux)
	writeLengthPrefixedString(&buf, "redis-bits")
	writeLengthPrefixedString(&buf, "64")

	buf.WriteByte(opSelectDB)
	buf.WriteByte(0x00)

	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	return buf.Bytes()
}

func writeLengthPrefixedString(buf *bytes.Buffer, s string) {
	writeLength(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeLength(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 1<<6:
		buf.WriteByte(byte(n))
	case n < 1<<14:
		buf.WriteByte(byte(0x40 | (n >> 8)))
		buf.WriteByte(byte(n))
	case n <= 0xFFFFFFFF:
		buf.WriteByte(0x80)
		buf.WriteByte(byte(n >> 24))
		buf.WriteByte(byte(n >> 16))
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	default:
		buf.WriteByte(0x81)
		for shift := 56; shift >= 0; shift -= 8 {
			buf.WriteByte(byte(n >> uint(shift)))
		}
	}
}
