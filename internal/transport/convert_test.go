package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/tree"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := v1.ExecuteRequest{ClientID: 7, RPCNumber: 3, Command: v1.TreeCommand{Op: v1.TreeOpWrite, Path: "/f", Contents: "hi"}}

	data, err := c.Marshal(&req)
	require.NoError(t, err)

	var got v1.ExecuteRequest
	require.NoError(t, c.Unmarshal(data, &got))
	require.Equal(t, req, got)
	require.Equal(t, "json", c.Name())
}

func TestToInternalTreeCommand(t *testing.T) {
	wire := v1.TreeCommand{
		Op:             v1.TreeOpWrite,
		Path:           "/a/b",
		Contents:       "payload",
		ConditionPath:  "/a",
		ConditionValue: "v1",
		HasCondition:   true,
	}
	got := toInternalTreeCommand(wire)
	require.Equal(t, statemachine.TreeOp(v1.TreeOpWrite), got.Op)
	require.Equal(t, "/a/b", got.Path)
	require.Equal(t, "payload", got.Contents)
	require.True(t, got.HasCondition)
}

func TestToWireStatusMapsEveryTreeStatus(t *testing.T) {
	cases := []struct {
		in   tree.Status
		want v1.Status
	}{
		{tree.StatusOK, v1.StatusOK},
		{tree.StatusInvalidArgument, v1.StatusInvalidArgument},
		{tree.StatusLookupError, v1.StatusLookupError},
		{tree.StatusTypeError, v1.StatusTypeError},
		{tree.StatusConditionNotMet, v1.StatusConditionNotMet},
	}
	for _, c := range cases {
		resp := statemachine.Response{TreeStatus: c.in}
		require.Equal(t, c.want, toWireStatus(resp))
	}
}

func TestToWireStatusReportsSessionExpired(t *testing.T) {
	resp := statemachine.Response{Status: statemachine.ResponseSessionExpired}
	require.Equal(t, v1.StatusSessionExpired, toWireStatus(resp))
}
