// Package rdb decodes and encodes the subset of the RDB snapshot
// format this server needs: the REDIS header, AUX/SELECTDB/RESIZEDB
// metadata opcodes, millisecond/second expiry opcodes, plain string
// values, and the EOF trailer.
package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	lzf "github.com/zhuyie/golzf"
)

const (
	opAux        = 0xFA
	opResizeDB   = 0xFB
	opExpireSec  = 0xFD
	opExpireMS   = 0xFC
	opSelectDB   = 0xFE
	opEOF        = 0xFF
	typeString   = 0x00
)

const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// Entry is one decoded key/value pair, with its database index and
// optional absolute expiry deadline.
type Entry struct {
	DB       int
	Key      string
	Value    string
	Deadline time.Time // zero means no expiry
}

// Decoder reads entries from an RDB byte stream.
type Decoder struct {
	r           *bufio.Reader
	db          int
	deadline    time.Time
	havePending bool

	// LZFStringsDecoded counts LZF-compressed string values this
	// decoder has decompressed, for callers that want to surface it
	// (e.g. server-level stats).
	LZFStringsDecoded atomic.Int64
}

// NewDecoder wraps r in a Decoder after validating the "REDIS" magic
// header and its version digits.
func NewDecoder(r io.Reader) (*Decoder, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, 9)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("rdb: read header: %w", err)
	}
	if string(magic[:5]) != "REDIS" {
		return nil, fmt.Errorf("rdb: bad magic %q", magic[:5])
	}
	for _, c := range magic[5:] {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("rdb: bad version %q", magic[5:])
		}
	}
	return &Decoder{r: br}, nil
}

// Next returns the next key/value entry, or io.EOF once the stream's
// EOF opcode has been consumed.
func (d *Decoder) Next() (Entry, error) {
	for {
		opcode, err := d.r.ReadByte()
		if err != nil {
			return Entry{}, err
		}

		switch opcode {
		case opEOF:
			checksum := make([]byte, 8)
			if _, err := io.ReadFull(d.r, checksum); err != nil {
				return Entry{}, fmt.Errorf("rdb: read EOF checksum: %w", err)
			}
			return Entry{}, io.EOF

		case opSelectDB:
			n, err := d.readLength()
			if err != nil {
				return Entry{}, fmt.Errorf("rdb: read db index: %w", err)
			}
			d.db = int(n)
			continue

		case opResizeDB:
			if _, err := d.readLength(); err != nil {
				return Entry{}, fmt.Errorf("rdb: read hash table size: %w", err)
			}
			if _, err := d.readLength(); err != nil {
				return Entry{}, fmt.Errorf("rdb: read expires size: %w", err)
			}
			continue

		case opAux:
			if _, err := d.readString(); err != nil {
				return Entry{}, fmt.Errorf("rdb: read aux key: %w", err)
			}
			if _, err := d.readString(); err != nil {
				return Entry{}, fmt.Errorf("rdb: read aux value: %w", err)
			}
			continue

		case opExpireMS:
			buf := make([]byte, 8)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return Entry{}, fmt.Errorf("rdb: read ms expiry: %w", err)
			}
			ms := int64(binary.LittleEndian.Uint64(buf))
			d.deadline = time.UnixMilli(ms)
			d.havePending = true
			continue

		case opExpireSec:
			buf := make([]byte, 4)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return Entry{}, fmt.Errorf("rdb: read sec expiry: %w", err)
			}
			sec := binary.LittleEndian.Uint32(buf)
			d.deadline = time.Unix(int64(sec), 0)
			d.havePending = true
			continue

		case typeString:
			key, err := d.readString()
			if err != nil {
				return Entry{}, fmt.Errorf("rdb: read key: %w", err)
			}
			value, err := d.readString()
			if err != nil {
				return Entry{}, fmt.Errorf("rdb: read value for key %q: %w", key, err)
			}
			entry := Entry{DB: d.db, Key: key, Value: value}
			if d.havePending {
				entry.Deadline = d.deadline
				d.havePending = false
				d.deadline = time.Time{}
			}
			return entry, nil

		default:
			return Entry{}, fmt.Errorf("rdb: unsupported value type 0x%02X", opcode)
		}
	}
}

// readLength parses the 2-bit-prefixed length encoding: 6-bit, 14-bit,
// 32-bit, or 64-bit (the 0x81 extension), big-endian for the
// multi-byte forms.
func (d *Decoder) readLength() (uint64, error) {
	n, _, err := d.readLengthOrSpecial()
	return n, err
}

func (d *Decoder) readLengthOrSpecial() (length uint64, special bool, err error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return 0, false, err
	}
	switch (first >> 6) & 0x03 {
	case 0:
		return uint64(first & 0x3F), false, nil
	case 1:
		next, err := d.r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return (uint64(first&0x3F) << 8) | uint64(next), false, nil
	case 2:
		if first == 0x80 {
			buf := make([]byte, 4)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf)), false, nil
		}
		if first == 0x81 {
			buf := make([]byte, 8)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(buf), false, nil
		}
		return uint64(first & 0x3F), true, nil
	default: // case 3
		return uint64(first & 0x3F), true, nil
	}
}

// readString reads a length-prefixed string, an integer special
// encoding (INT8/16/32), or an LZF-compressed string.
func (d *Decoder) readString() (string, error) {
	length, special, err := d.readLengthOrSpecial()
	if err != nil {
		return "", err
	}
	if !special {
		if length == 0 {
			return "", nil
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", fmt.Errorf("read string payload: %w", err)
		}
		return string(buf), nil
	}

	switch length {
	case encInt8:
		b, err := d.r.ReadByte()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(int8(b))), nil
	case encInt16:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", err
		}
		return strconv.Itoa(int(int16(binary.LittleEndian.Uint16(buf)))), nil
	case encInt32:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", err
		}
		return strconv.Itoa(int(int32(binary.LittleEndian.Uint32(buf)))), nil
	case encLZF:
		return d.readLZFString()
	default:
		return "", fmt.Errorf("rdb: unsupported string encoding %d", length)
	}
}

func (d *Decoder) readLZFString() (string, error) {
	compressedLen, err := d.readLength()
	if err != nil {
		return "", fmt.Errorf("read LZF compressed length: %w", err)
	}
	originalLen, err := d.readLength()
	if err != nil {
		return "", fmt.Errorf("read LZF original length: %w", err)
	}
	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(d.r, compressed); err != nil {
		return "", fmt.Errorf("read LZF payload: %w", err)
	}
	dst := make([]byte, originalLen)
	n, err := lzf.Decompress(compressed, dst)
	if err != nil {
		return "", fmt.Errorf("LZF decompress: %w", err)
	}
	if uint64(n) != originalLen {
		return "", fmt.Errorf("LZF decompressed length mismatch: want %d, got %d", originalLen, n)
	}
	d.LZFStringsDecoded.Add(1)
	return string(dst), nil
}
