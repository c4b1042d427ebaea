package raftlog

import "github.com/mrshabel/treekeep/internal/recordio"

// marshalFramed encodes e per enc and wraps it in the shared
// checksum||length||payload record framing (see internal/recordio),
// giving segment files the same on-disk framing LogCabin's log uses.
func marshalFramed(e Entry, enc Encoding) []byte {
	return recordio.Encode(MarshalEntry(e, enc))
}

// unmarshalFramed reads one framed entry record out of buf at offset.
func unmarshalFramed(buf []byte, offset int, enc Encoding) (e Entry, next int, err error) {
	payload, next, err := recordio.Decode(buf, offset)
	if err != nil {
		return Entry{}, offset, err
	}
	e, err = UnmarshalEntry(payload, enc)
	if err != nil {
		return Entry{}, offset, err
	}
	return e, next, nil
}
