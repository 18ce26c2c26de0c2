// Package config loads a YAML cluster configuration file describing
// this node's identity, its peers' addresses, and the timing
// parameters fed into raft.Configuration.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/gyuho/raftcore/raft"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a node's configuration file.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Timing  TimingConfig  `yaml:"timing"`
}

// NodeConfig identifies this node and where it keeps its data.
type NodeConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	DataDir string `yaml:"data_dir"`
}

// ClusterConfig lists every server in the cluster, including this one.
type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig is one cluster member's ID and listen address.
type PeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

// TimingConfig holds the election/heartbeat parameters, expressed in
// milliseconds in the YAML file for readability.
type TimingConfig struct {
	ElectionTimeoutMillis      int64 `yaml:"election_timeout_ms"`
	ElectionTimeoutRangeMillis int64 `yaml:"election_timeout_range_ms"`
	HeartbeatTimeoutMillis     int64 `yaml:"heartbeat_timeout_ms"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be greater than 0")
	}
	if c.Node.Address == "" {
		return fmt.Errorf("node.address is required")
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	found := false
	ids := make(map[uint64]bool, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		if ids[p.ID] {
			return fmt.Errorf("duplicate peer ID: %d", p.ID)
		}
		ids[p.ID] = true
		if p.ID == c.Node.ID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("node.id=%d not found in cluster.peers", c.Node.ID)
	}

	if c.Timing.ElectionTimeoutMillis <= 0 {
		return fmt.Errorf("timing.election_timeout_ms must be positive")
	}
	if c.Timing.HeartbeatTimeoutMillis <= 0 {
		return fmt.Errorf("timing.heartbeat_timeout_ms must be positive")
	}
	if c.Timing.HeartbeatTimeoutMillis >= c.Timing.ElectionTimeoutMillis {
		return fmt.Errorf("timing.heartbeat_timeout_ms must be well below election_timeout_ms")
	}
	return nil
}

// PeerAddress returns the address configured for id, or "" if id is
// not one of this cluster's members.
func (c *Config) PeerAddress(id uint64) string {
	for _, p := range c.Cluster.Peers {
		if p.ID == id {
			return p.Address
		}
	}
	return ""
}

// RaftConfiguration derives the raft.Configuration this node's core
// should run with from the cluster size and timing parameters.
func (c *Config) RaftConfiguration() raft.Configuration {
	return raft.Configuration{
		NumServers:           uint16(len(c.Cluster.Peers)),
		ElectionTimeout:      time.Duration(c.Timing.ElectionTimeoutMillis) * time.Millisecond,
		ElectionTimeoutRange: time.Duration(c.Timing.ElectionTimeoutRangeMillis) * time.Millisecond,
		HeartbeatTimeout:     time.Duration(c.Timing.HeartbeatTimeoutMillis) * time.Millisecond,
	}
}
