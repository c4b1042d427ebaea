package v1

import (
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrPathNotFound reports a LOOKUP_ERROR from a tree command, carrying
// enough detail for an operator-facing trace without exposing internal
// tree state.
type ErrPathNotFound struct {
	Path string
}

func (e ErrPathNotFound) GRPCStatus() *status.Status {
	st := status.New(codes.NotFound, fmt.Sprintf("path not found: %s", e.Path))
	details := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: fmt.Sprintf("The requested path does not exist: %s", e.Path),
	}
	std, err := st.WithDetails(details)
	if err != nil {
		return st
	}
	return std
}

func (e ErrPathNotFound) Error() string {
	return e.GRPCStatus().Err().Error()
}

// ErrNotLeader reports that this server cannot accept client commands
// right now, carrying the current leader's address when known so a
// client can redirect without a full retry-discovery cycle.
type ErrNotLeader struct {
	LeaderAddress string
}

func (e ErrNotLeader) GRPCStatus() *status.Status {
	st := status.New(codes.FailedPrecondition, "not leader")
	if e.LeaderAddress == "" {
		return st
	}
	details := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: fmt.Sprintf("redirect to leader at %s", e.LeaderAddress),
	}
	std, err := st.WithDetails(details)
	if err != nil {
		return st
	}
	return std
}

func (e ErrNotLeader) Error() string {
	return e.GRPCStatus().Err().Error()
}
