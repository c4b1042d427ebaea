package snapshot

import (
	"encoding/json"

	"github.com/mrshabel/treekeep/internal/recordio"
)

// encodeMessage frames v (JSON-marshaled) with the shared
// checksum||length||payload record format used throughout this module's
// storage layer.
func encodeMessage(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return recordio.Encode(payload), nil
}

// decodeMessage parses one framed record out of buf (starting at its
// beginning) into v, returning the number of bytes consumed.
func decodeMessage(buf []byte, v interface{}) (consumed int, err error) {
	payload, next, err := recordio.Decode(buf, 0)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return 0, err
	}
	return next, nil
}
