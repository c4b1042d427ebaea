// Command treekeepd runs a single server of a treekeep cluster: it
// loads configuration, opens its on-disk log and snapshot layout, and
// serves both the inter-peer Raft RPCs and the client-facing tree API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mrshabel/treekeep/internal/auth"
	"github.com/mrshabel/treekeep/internal/clusterconfig"
	"github.com/mrshabel/treekeep/internal/config"
	"github.com/mrshabel/treekeep/internal/discovery"
	"github.com/mrshabel/treekeep/internal/raft"
	"github.com/mrshabel/treekeep/internal/raftlog"
	"github.com/mrshabel/treekeep/internal/snapshot"
	"github.com/mrshabel/treekeep/internal/statemachine"
	"github.com/mrshabel/treekeep/internal/storage"
	"github.com/mrshabel/treekeep/internal/telemetry"
	"github.com/mrshabel/treekeep/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a server config YAML file")
	dev := flag.Bool("dev", false, "use a development (console) logger instead of JSON")
	raftDebug := flag.Bool("raft-debug", false, "enable RaftCore's invariant checker (overrides raft_debug in the config file)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "treekeepd: -config is required")
		os.Exit(1)
	}

	logger, err := telemetry.Init(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "treekeepd: failed to build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, *raftDebug, logger); err != nil {
		logger.Fatal("treekeepd exited with error", zap.Error(err))
	}
}

func run(configPath string, raftDebug bool, logger *zap.Logger) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading server config: %w", err)
	}
	if raftDebug {
		cfg.RaftDebug = true
	}

	localID := discovery.ServerID(cfg.NodeName)

	layout, err := storage.NewLayout(cfg.DataDir, localID)
	if err != nil {
		return fmt.Errorf("opening storage layout: %w", err)
	}
	defer layout.Close()

	if err := snapshot.DiscardPartialSnapshots(layout); err != nil {
		return fmt.Errorf("discarding partial snapshots: %w", err)
	}

	log, err := raftlog.Open(raftlog.Config{Dir: layout.LogDir})
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}

	sm := statemachine.New(logger)

	dialer := transport.NewDialer()
	defer dialer.Close()

	rpcAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.RPCPort)
	core := raft.New(cfg.RaftConfig(), logger, localID, rpcAddr, log, sm, dialer)
	core.SetSnapshotLayout(layout)

	if cfg.Bootstrap {
		if err := core.BootstrapConfiguration([]clusterconfig.Server{{ID: localID, Address: rpcAddr}}); err != nil {
			return fmt.Errorf("bootstrapping configuration: %w", err)
		}
	}

	authorizer := auth.New(config.ACLModelFile, config.ACLPolicyFile)
	gsrv, err := transport.NewGRPCServer(&transport.Config{
		Core:         core,
		StateMachine: sm,
		Authorizer:   authorizer,
		Layout:       layout,
	})
	if err != nil {
		return fmt.Errorf("building grpc server: %w", err)
	}

	ln, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", rpcAddr, err)
	}

	httpSrv := transport.NewHTTPServer(cfg.HTTPAddr, core)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	go func() {
		if err := gsrv.Serve(ln); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			logger.Info("http server stopped", zap.Error(err))
		}
	}()

	membership, err := discovery.New(
		discovery.NewRaftHandler(core, 30*time.Second),
		discovery.Config{
			NodeName: cfg.NodeName,
			BindAddr: cfg.BindAddr,
			Tags:     map[string]string{"rpc_addr": rpcAddr},
			StartJoinAddrs: cfg.StartJoinAddrs,
		},
	)
	if err != nil {
		return fmt.Errorf("starting membership: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	_ = membership.Leave()
	cancel()
	gsrv.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	return nil
}
