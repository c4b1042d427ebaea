package transport

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/raft"
)

// Dialer lazily opens and caches one grpc.ClientConn per peer address,
// implementing raft.Transport so a *raft.Core can issue RPCs without
// knowing anything about gRPC itself. It also backs the client-facing
// calls a CLI or library client makes against the current leader.
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewDialer returns a Dialer. Pass grpc.WithTransportCredentials(...)
// via extraOpts for TLS; an insecure credential is used if none is
// given, matching a same-host development cluster.
func NewDialer(extraOpts ...grpc.DialOption) *Dialer {
	opts := []grpc.DialOption{grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json"))}
	if len(extraOpts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, extraOpts...)
	}
	return &Dialer{conns: make(map[string]*grpc.ClientConn), opts: opts}
}

func (d *Dialer) conn(addr string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(addr, d.opts...)
	if err != nil {
		return nil, err
	}
	d.conns[addr] = c
	return c, nil
}

// Close releases every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for addr, c := range d.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.conns, addr)
	}
	return firstErr
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp interface{}) error {
	return conn.Invoke(ctx, methodPath(method), req, resp)
}

// --- raft.Transport: peer-to-peer RPCs. ---

var _ raft.Transport = (*Dialer)(nil)

func (d *Dialer) RequestVote(ctx context.Context, addr string, req raft.RequestVoteRequest) (raft.RequestVoteResponse, error) {
	conn, err := d.conn(addr)
	if err != nil {
		return raft.RequestVoteResponse{}, err
	}
	var resp raft.RequestVoteResponse
	err = invoke(ctx, conn, "RequestVote", &req, &resp)
	return resp, err
}

func (d *Dialer) AppendEntries(ctx context.Context, addr string, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	conn, err := d.conn(addr)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	var resp raft.AppendEntriesResponse
	err = invoke(ctx, conn, "AppendEntries", &req, &resp)
	return resp, err
}

func (d *Dialer) InstallSnapshot(ctx context.Context, addr string, req raft.InstallSnapshotRequest) (raft.InstallSnapshotResponse, error) {
	conn, err := d.conn(addr)
	if err != nil {
		return raft.InstallSnapshotResponse{}, err
	}
	var resp raft.InstallSnapshotResponse
	err = invoke(ctx, conn, "InstallSnapshot", &req, &resp)
	return resp, err
}

// --- client-facing RPCs. ---

// Client issues client-facing RPCs against one server address,
// following redirects reported via v1.ErrNotLeader is the caller's
// responsibility (the CLI in cmd/treekeepctl does not follow them; it
// reports the error and exits).
type Client struct {
	dialer *Dialer
	addr   string
}

// NewClient returns a Client talking to addr, believed to be the
// current leader.
func (d *Dialer) NewClient(addr string) *Client {
	return &Client{dialer: d, addr: addr}
}

func (c *Client) OpenSession(ctx context.Context) (*v1.OpenSessionResponse, error) {
	conn, err := c.dialer.conn(c.addr)
	if err != nil {
		return nil, err
	}
	var resp v1.OpenSessionResponse
	if err := invoke(ctx, conn, "OpenSession", &v1.OpenSessionRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CloseSession(ctx context.Context, clientID uint64) error {
	conn, err := c.dialer.conn(c.addr)
	if err != nil {
		return err
	}
	var resp v1.CloseSessionResponse
	return invoke(ctx, conn, "CloseSession", &v1.CloseSessionRequest{ClientID: clientID}, &resp)
}

func (c *Client) Execute(ctx context.Context, req *v1.ExecuteRequest) (*v1.ExecuteResponse, error) {
	conn, err := c.dialer.conn(c.addr)
	if err != nil {
		return nil, err
	}
	var resp v1.ExecuteResponse
	if err := invoke(ctx, conn, "Execute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Query(ctx context.Context, req *v1.QueryRequest) (*v1.QueryResponse, error) {
	conn, err := c.dialer.conn(c.addr)
	if err != nil {
		return nil, err
	}
	var resp v1.QueryResponse
	if err := invoke(ctx, conn, "Query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Addr reports the server address this Client is currently pinned to.
func (c *Client) Addr() string { return c.addr }

// Redial repoints this Client at a new address, used after a
// v1.ErrNotLeader redirect.
func (c *Client) Redial(addr string) { c.addr = addr }
