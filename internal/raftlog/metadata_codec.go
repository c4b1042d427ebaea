package raftlog

import "encoding/binary"

// encodeMetadata serializes m into the payload carried inside a
// storage.MetadataFile record.
func encodeMetadata(m Metadata) []byte {
	buf := make([]byte, 8+8+8+1)
	binary.BigEndian.PutUint64(buf[0:8], m.CurrentTerm)
	binary.BigEndian.PutUint64(buf[8:16], m.VotedFor)
	binary.BigEndian.PutUint64(buf[16:24], m.LogStartIndex)
	buf[24] = m.FormatVersion
	return buf
}

func decodeMetadata(buf []byte) (Metadata, bool) {
	if len(buf) < 25 {
		return Metadata{}, false
	}
	return Metadata{
		CurrentTerm:   binary.BigEndian.Uint64(buf[0:8]),
		VotedFor:      binary.BigEndian.Uint64(buf[8:16]),
		LogStartIndex: binary.BigEndian.Uint64(buf[16:24]),
		FormatVersion: buf[24],
	}, true
}
