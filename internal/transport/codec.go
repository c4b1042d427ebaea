package transport

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec, letting
// this package's hand-written gRPC service exchange plain Go structs
// instead of protobuf messages. There is no .proto source for the
// RaftCore RPCs or the client-facing tree commands (see DESIGN.md), so
// every message on the wire here is JSON, consistent with
// internal/raftlog, internal/snapshot, and internal/raft's own no-protoc
// framing decisions.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
