package raft

import (
	"encoding/json"

	"github.com/mrshabel/treekeep/internal/statemachine"
)

// encodeCommand/decodeCommand serialize a statemachine.Command into a
// DATA entry's Payload. LogCabin serializes these as a protobuf
// Client::Command message; this environment has no protoc available
// (see DESIGN.md), so JSON is used instead, consistent with the rest of
// this module's wire types.
func encodeCommand(cmd *statemachine.Command) []byte {
	b, err := json.Marshal(cmd)
	if err != nil {
		panic("raft: marshal command: " + err.Error())
	}
	return b
}

func decodeCommand(payload []byte) *statemachine.Command {
	var cmd statemachine.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil
	}
	return &cmd
}

// encodeAdvanceVersion builds the DATA payload for a leader-proposed
// AdvanceVersion command, issued by stateMachineUpdaterThread.
func encodeAdvanceVersion(version uint16) []byte {
	return encodeCommand(&statemachine.Command{
		Type:             statemachine.CommandAdvanceVersion,
		RequestedVersion: version,
	})
}

// MaxStateMachineVersion is this server's highest supported
// state-machine version, matching the Capabilities this server
// advertises in every AppendEntries response.
func MaxStateMachineVersion() uint16 {
	return statemachine.MaxSupportedVersion
}
