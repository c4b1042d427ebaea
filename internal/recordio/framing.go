// Package recordio implements the on-disk record framing shared by the
// segmented log and the alternating metadata files:
//
//	checksum (NUL-terminated ASCII) || length (8 bytes, big-endian) || payload
//
// The checksum covers length||payload. This one framing function is
// reused everywhere this record shape is needed, so segment records
// and metadata records stay byte-for-byte consistent.
package recordio

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// MaxChecksumLen bounds the length of the checksum string, including its
// terminating NUL, so a reader never has to scan unbounded data looking
// for it.
const MaxChecksumLen = 32

// checksumPrefix identifies the algorithm so the framing could grow new
// algorithms later without breaking readers of old files; only one is
// implemented today.
const checksumPrefix = "crc32c:"

// Encode returns a self-contained framed record for payload.
func Encode(payload []byte) []byte {
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, uint64(len(payload)))

	sum := crc32.Checksum(append(append([]byte{}, lenBuf...), payload...), crc32.MakeTable(crc32.Castagnoli))
	checksum := fmt.Sprintf("%s%08x", checksumPrefix, sum)
	if len(checksum)+1 > MaxChecksumLen {
		panic("recordio: checksum string exceeds MaxChecksumLen")
	}

	out := make([]byte, 0, len(checksum)+1+8+len(payload))
	out = append(out, checksum...)
	out = append(out, 0)
	out = append(out, lenBuf...)
	out = append(out, payload...)
	return out
}

// Decode parses a single framed record out of buf starting at offset.
// It returns the payload and the offset of the byte just past the
// record. An error is returned if buf doesn't contain a complete,
// checksum-valid record at offset; ErrIncomplete specifically signals
// "not enough bytes yet", as distinct from a checksum mismatch.
func Decode(buf []byte, offset int) (payload []byte, next int, err error) {
	nul := -1
	limit := offset + MaxChecksumLen
	if limit > len(buf) {
		limit = len(buf)
	}
	for i := offset; i < limit; i++ {
		if buf[i] == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return nil, offset, ErrIncomplete
	}
	checksum := string(buf[offset:nul])
	pos := nul + 1
	if pos+8 > len(buf) {
		return nil, offset, ErrIncomplete
	}
	length := binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8
	if pos+int(length) > len(buf) {
		return nil, offset, ErrIncomplete
	}
	payload = buf[pos : pos+int(length)]
	pos += int(length)

	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, length)
	sum := crc32.Checksum(append(append([]byte{}, lenBuf...), payload...), crc32.MakeTable(crc32.Castagnoli))
	want := fmt.Sprintf("%s%08x", checksumPrefix, sum)
	if checksum != want {
		return nil, offset, ErrChecksumMismatch
	}
	return payload, pos, nil
}

// ErrIncomplete means buf does not yet contain a full record at the
// requested offset -- the normal "reached EOF mid-record" condition.
var ErrIncomplete = fmt.Errorf("recordio: incomplete record")

// ErrChecksumMismatch means a complete record was read but its checksum
// doesn't match -- this indicates corruption, not a partial write.
var ErrChecksumMismatch = fmt.Errorf("recordio: checksum mismatch")
