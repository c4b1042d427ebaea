package raft

import (
	"encoding/json"

	"github.com/mrshabel/treekeep/internal/clusterconfig"
)

// encodeConfiguration/decodeConfiguration serialize a joint-consensus
// Description into a CONFIGURATION entry's Payload. LogCabin serializes
// these as a protobuf Raft.SimpleConfiguration/Configuration message;
// this environment has no protoc available (see DESIGN.md), so JSON is
// used instead, consistent with the rest of this module's wire types.
func encodeConfiguration(desc clusterconfig.Description) []byte {
	b, err := json.Marshal(desc)
	if err != nil {
		panic("raft: marshal configuration: " + err.Error())
	}
	return b
}

func decodeConfiguration(payload []byte) clusterconfig.Description {
	var desc clusterconfig.Description
	if err := json.Unmarshal(payload, &desc); err != nil {
		return clusterconfig.Description{}
	}
	return desc
}
