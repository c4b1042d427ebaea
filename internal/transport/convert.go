package transport

import (
	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/tree"
)

func toInternalTreeCommand(c v1.TreeCommand) statemachine.TreeCommand {
	return statemachine.TreeCommand{
		Op:             statemachine.TreeOp(c.Op),
		Path:           c.Path,
		Contents:       c.Contents,
		ConditionPath:  c.ConditionPath,
		ConditionValue: c.ConditionValue,
		HasCondition:   c.HasCondition,
	}
}

func toExecuteResponse(resp statemachine.Response) *v1.ExecuteResponse {
	if resp.Status == statemachine.ResponseSessionExpired {
		return &v1.ExecuteResponse{Status: v1.StatusSessionExpired}
	}
	return &v1.ExecuteResponse{
		Status:  toWireStatus(resp),
		Error:   resp.TreeError,
		Payload: resp.Payload,
	}
}

func toWireStatus(resp statemachine.Response) v1.Status {
	if resp.Status == statemachine.ResponseSessionExpired {
		return v1.StatusSessionExpired
	}
	switch resp.TreeStatus {
	case tree.StatusOK:
		return v1.StatusOK
	case tree.StatusInvalidArgument:
		return v1.StatusInvalidArgument
	case tree.StatusLookupError:
		return v1.StatusLookupError
	case tree.StatusTypeError:
		return v1.StatusTypeError
	case tree.StatusConditionNotMet:
		return v1.StatusConditionNotMet
	default:
		return v1.StatusOK
	}
}
