package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrshabel/treekeep/internal/raft"
)

// ServerConfig is the on-disk shape of a treekeepd server's
// configuration: the handful of fields a small LAN cluster operator
// needs to set beyond the TLS/ACL files files.go already resolves.
type ServerConfig struct {
	NodeName       string   `yaml:"node_name"`
	DataDir        string   `yaml:"data_dir"`
	BindAddr       string   `yaml:"bind_addr"`
	RPCPort        int      `yaml:"rpc_port"`
	HTTPAddr       string   `yaml:"http_addr"`
	StartJoinAddrs []string `yaml:"start_join_addrs"`
	Bootstrap      bool     `yaml:"bootstrap"`

	ElectionTimeout time.Duration `yaml:"election_timeout"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	RaftDebug       bool          `yaml:"raft_debug"`
}

// LoadServerConfig reads and parses a YAML server config file at path.
func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RaftConfig builds a raft.Config from this server config, falling back
// to raft.DefaultConfig's timings for any duration left unset.
func (c ServerConfig) RaftConfig() raft.Config {
	cfg := raft.DefaultConfig()
	if c.ElectionTimeout > 0 {
		cfg.ElectionTimeout = c.ElectionTimeout
	}
	if c.HeartbeatPeriod > 0 {
		cfg.HeartbeatPeriod = c.HeartbeatPeriod
	}
	cfg.RaftDebug = c.RaftDebug
	return cfg
}
