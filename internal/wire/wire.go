package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindValue byte = 1
	kindMeta  byte = 2
)

var (
	ErrCorrupt = errors.New("bindcache: corrupt entry")
	ErrETagLen = errors.New("bindcache: etag too long")
	magic4     = [...]byte{'B', 'N', 'D', 'C'}
)

const headerLen = 4 + 1 + 1

func writeHeader(buf *bytes.Buffer, kind byte) {
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
}

// header reports whether b starts with a header of kind and holds at least n bytes.
func header(b []byte, kind byte, n int) bool {
	return len(b) >= n && bytes.Equal(b[:4], magic4[:]) && b[4] == version && b[5] == kind
}

// Value: magic(4) | ver(1) | kind(1=value) | vlen(u32 be) | payload(vlen)
func EncodeValue(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + 4 + len(payload))
	writeHeader(&buf, kindValue)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeValue returns a slice into b (no copy). Trailing bytes are rejected.
func DecodeValue(b []byte) ([]byte, error) {
	if !header(b, kindValue, headerLen+4) {
		return nil, ErrCorrupt
	}
	off := headerLen
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return nil, ErrCorrupt
	}
	return b[off : off+vlen], nil
}

// Meta: magic(4) | ver(1) | kind(2=meta) | lastModified(i64 be, unix nanos) | elen(u16 be) | etag(elen)
func EncodeMeta(etag string, lastModified time.Time) ([]byte, error) {
	if len(etag) > 0xFFFF {
		return nil, ErrETagLen
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + 8 + 2 + len(etag))
	writeHeader(&buf, kindMeta)

	var u8 [8]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(lastModified.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(etag)))
	buf.Write(u2[:])
	buf.WriteString(etag)

	return buf.Bytes(), nil
}

func DecodeMeta(b []byte) (etag string, lastModified time.Time, err error) {
	if !header(b, kindMeta, headerLen+8+2) {
		return "", time.Time{}, ErrCorrupt
	}
	off := headerLen

	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	elen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if elen != len(b)-off {
		return "", time.Time{}, ErrCorrupt
	}

	return string(b[off:]), time.Unix(0, nanos), nil
}
