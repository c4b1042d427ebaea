// Package transport implements the RPC framing between clients, and
// between RaftCore peers. It is grounded on gumlog's server/server.go,
// generalized from a single produce/consume log service to the
// cluster's RequestVote/AppendEntries/InstallSnapshot and
// client-facing OpenSession/CloseSession/Execute/Query RPCs, and
// adapted to a hand-rolled, .proto-free gRPC service (see DESIGN.md)
// since this environment has no protoc available.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_auth "github.com/grpc-ecosystem/go-grpc-middleware/auth"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/codes"

	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/raft"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/storage"
	"github.com/mrshabel/treekeep/internal/telemetry"
)

const (
	objectTree    = "tree"
	actionRead    = "read"
	actionWrite   = "write"
	defaultRPCTimeout = 5 * time.Second
)

// Authorizer enforces an ACL on connecting clients, matching gumlog's
// server.Authorizer interface.
type Authorizer interface {
	Authorize(subject, object, action string) error
}

// Config collects what a Server needs to answer both inter-peer and
// client-facing RPCs.
type Config struct {
	Core         *raft.Core
	StateMachine *statemachine.StateMachine
	Authorizer   Authorizer
	Layout       *storage.Layout
}

type subjectContextKey struct{}

type Server struct {
	*Config
}

var _ clusterService = (*Server)(nil)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// NewGRPCServer wires up a grpc.Server the same way gumlog's
// NewGRPCServer does: ctxtags/zap/auth interceptors, an opencensus stats
// handler and always-sample trace config, then registers the hand-
// written cluster service instead of a protoc-generated one.
func NewGRPCServer(config *Config, opts ...grpc.ServerOption) (*grpc.Server, error) {
	logger := zap.L().Named("transport")
	zapOpts := []grpc_zap.Option{
		grpc_zap.WithDurationField(func(duration time.Duration) zapcore.Field {
			return zap.Int64("grpc.time_ns", duration.Nanoseconds())
		}),
	}
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	if err := view.Register(ocgrpc.DefaultServerViews...); err != nil {
		return nil, err
	}
	if err := telemetry.RegisterViews(); err != nil {
		return nil, err
	}

	opts = append(opts,
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_ctxtags.StreamServerInterceptor(),
			grpc_zap.StreamServerInterceptor(logger, zapOpts...),
			grpc_auth.StreamServerInterceptor(authenticate),
		)),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			requestIDUnaryInterceptor(),
			grpc_zap.UnaryServerInterceptor(logger, zapOpts...),
			grpc_auth.UnaryServerInterceptor(authenticate),
		)),
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
		grpc.ForceServerCodec(jsonCodec{}),
	)

	gsrv := grpc.NewServer(opts...)
	srv := &Server{Config: config}
	gsrv.RegisterService(&serviceDesc, srv)
	return gsrv, nil
}

// requestIDUnaryInterceptor tags every RPC with a generated request ID
// so grpc_zap's access log lines can be correlated with each other
// across the cluster, the same in-flight-request-ID idea as openbao's
// HTTP handler (uuid.GenerateUUID() per request).
func requestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		grpc_ctxtags.Extract(ctx).Set("request_id", uuid.New().String())
		return handler(ctx, req)
	}
}

func authenticate(ctx context.Context) (context.Context, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return ctx, status.New(codes.Unknown, "couldn't get peer info").Err()
	}
	if p.AuthInfo == nil {
		return context.WithValue(ctx, subjectContextKey{}, ""), nil
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.VerifiedChains) == 0 || len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return context.WithValue(ctx, subjectContextKey{}, ""), nil
	}
	subject := tlsInfo.State.VerifiedChains[0][0].Subject.CommonName
	return context.WithValue(ctx, subjectContextKey{}, subject), nil
}

func subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectContextKey{}).(string)
	return s
}

// --- inter-peer RPC handlers: these are unauthenticated server-to-
// server calls making up RaftCore's RPC surface. ---

func (s *Server) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	resp := s.Core.HandleRequestVote(*req)
	return &resp, nil
}

func (s *Server) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	resp := s.Core.HandleAppendEntries(*req)
	return &resp, nil
}

func (s *Server) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	resp, err := s.Core.HandleInstallSnapshot(s.Layout, *req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- client-facing RPCs, authorized against the tree ACL. ---

func (s *Server) OpenSession(ctx context.Context, req *v1.OpenSessionRequest) (*v1.OpenSessionResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectTree, actionWrite); err != nil {
		return nil, err
	}
	index, err := s.Core.Propose(&statemachine.Command{Type: statemachine.CommandOpenSession})
	if err != nil {
		return nil, toGRPCErr(s.Core, err)
	}
	resp, err := s.StateMachine.WaitForResponse(ctx, index, &statemachine.Command{Type: statemachine.CommandOpenSession})
	if err != nil {
		return nil, err
	}
	return &v1.OpenSessionResponse{ClientID: resp.ClientID}, nil
}

func (s *Server) CloseSession(ctx context.Context, req *v1.CloseSessionRequest) (*v1.CloseSessionResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectTree, actionWrite); err != nil {
		return nil, err
	}
	cmd := &statemachine.Command{Type: statemachine.CommandCloseSession, CloseSessionClientID: req.ClientID}
	index, err := s.Core.Propose(cmd)
	if err != nil {
		return nil, toGRPCErr(s.Core, err)
	}
	if _, err := s.StateMachine.WaitForResponse(ctx, index, cmd); err != nil {
		return nil, err
	}
	return &v1.CloseSessionResponse{}, nil
}

func (s *Server) Execute(ctx context.Context, req *v1.ExecuteRequest) (*v1.ExecuteResponse, error) {
	start := time.Now()
	action := actionRead
	if isWriteOp(req.Command.Op) {
		action = actionWrite
	}
	defer telemetry.RecordExecute(ctx, opName(req.Command.Op), start)
	if err := s.Authorizer.Authorize(subject(ctx), objectTree, action); err != nil {
		return nil, err
	}

	cmd := &statemachine.Command{
		Type: statemachine.CommandTree,
		ExactlyOnce: statemachine.ExactlyOnce{
			ClientID:            req.ClientID,
			FirstOutstandingRPC: req.FirstOutstandingRPC,
			RPCNumber:           req.RPCNumber,
		},
		Tree: toInternalTreeCommand(req.Command),
	}
	index, err := s.Core.Propose(cmd)
	if err != nil {
		return nil, toGRPCErr(s.Core, err)
	}
	resp, err := s.StateMachine.WaitForResponse(ctx, index, cmd)
	if err != nil {
		return nil, err
	}
	return toExecuteResponse(resp), nil
}

func (s *Server) Query(ctx context.Context, req *v1.QueryRequest) (*v1.QueryResponse, error) {
	if err := s.Authorizer.Authorize(subject(ctx), objectTree, actionRead); err != nil {
		return nil, err
	}
	resp, ok := s.StateMachine.Query(toInternalTreeCommand(req.Command))
	if !ok {
		return nil, status.New(codes.InvalidArgument, "unsupported query").Err()
	}
	return &v1.QueryResponse{
		Status:  toWireStatus(resp),
		Error:   resp.TreeError,
		Payload: resp.Payload,
	}, nil
}

func isWriteOp(op v1.TreeOp) bool {
	switch op {
	case v1.TreeOpMakeDirectory, v1.TreeOpRemoveDirectory, v1.TreeOpWrite, v1.TreeOpRemoveFile:
		return true
	default:
		return false
	}
}

func opName(op v1.TreeOp) string {
	switch op {
	case v1.TreeOpCheckCondition:
		return "check_condition"
	case v1.TreeOpMakeDirectory:
		return "make_directory"
	case v1.TreeOpListDirectory:
		return "list_directory"
	case v1.TreeOpRemoveDirectory:
		return "remove_directory"
	case v1.TreeOpWrite:
		return "write"
	case v1.TreeOpRead:
		return "read"
	case v1.TreeOpRemoveFile:
		return "remove_file"
	default:
		return "unknown"
	}
}

func toGRPCErr(core *raft.Core, err error) error {
	if err == raft.ErrNotLeader {
		return v1.ErrNotLeader{LeaderAddress: core.LeaderAddress()}
	}
	return err
}
