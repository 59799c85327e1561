package rdb

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestDecodeEmptySnapshot(t *testing.T) {
	dec, err := NewDecoder(bytes.NewReader(EmptySnapshot()))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	_, err = dec.Next()
	if err != io.EOF {
		t.Fatalf("Next() = %v, want io.EOF for an empty snapshot", err)
	}
}

func TestDecodeStringValue(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opSelectDB)
	buf.WriteByte(0x00)
	buf.WriteByte(typeString)
	writeLengthPrefixedString(&buf, "foo")
	writeLengthPrefixedString(&buf, "bar")
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	entry, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if entry.Key != "foo" || entry.Value != "bar" || !entry.Deadline.IsZero() {
		t.Fatalf("entry = %+v", entry)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("second Next() = %v, want io.EOF", err)
	}
}

func TestDecodeExpiryMS(t *testing.T) {
	deadline := time.UnixMilli(1700000000000)
	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(opExpireMS)
	ms := uint64(deadline.UnixMilli())
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(ms >> (8 * i)))
	}
	buf.WriteByte(typeString)
	writeLengthPrefixedString(&buf, "k")
	writeLengthPrefixedString(&buf, "v")
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	entry, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !entry.Deadline.Equal(deadline) {
		t.Fatalf("Deadline = %v, want %v", entry.Deadline, deadline)
	}
}

func TestDecodeLZFString(t *testing.T) {
	// A pure literal run is always valid LZF: control byte (len-1)
	// followed by len raw bytes, no back-references involved.
	original := "hello"
	compressed := append([]byte{byte(len(original) - 1)}, []byte(original)...)

	var buf bytes.Buffer
	buf.WriteString("REDIS0011")
	buf.WriteByte(typeString)
	writeLengthPrefixedString(&buf, "k")
	buf.WriteByte(0xC3) // special encoding, type 3 = LZF
	writeLength(&buf, uint64(len(compressed)))
	writeLength(&buf, uint64(len(original)))
	buf.Write(compressed)
	buf.WriteByte(opEOF)
	buf.Write(make([]byte, 8))

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	entry, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if entry.Value != original {
		t.Fatalf("Value = %q, want %q", entry.Value, original)
	}
	if got := dec.LZFStringsDecoded.Load(); got != 1 {
		t.Fatalf("LZFStringsDecoded = %d, want 1", got)
	}
}
