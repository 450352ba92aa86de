// Package config parses the static group membership file described in
// the wire-protocol specification: a node count followed by one
// "<name> <hostname> <port>" line per node, NodeID assigned by
// declaration order starting at zero.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// NodeConfig is one line of the group configuration file: this peer's
// name, dial target, and listening port.
type NodeConfig struct {
	ID       types.NodeID
	Name     string
	Hostname string
	Port     uint16
}

// Config is the fixed, ordered group membership for a run. It never
// changes after Parse: dynamic membership is explicitly out of scope.
type Config struct {
	nodes []NodeConfig
}

// Get returns the configuration for the given NodeID, or false if out of
// range.
func (c *Config) Get(id types.NodeID) (NodeConfig, bool) {
	if int(id) < 0 || int(id) >= len(c.nodes) {
		return NodeConfig{}, false
	}
	return c.nodes[id], true
}

// Len returns the number of nodes in the group.
func (c *Config) Len() int { return len(c.nodes) }

// LowerPeers returns every NodeID strictly smaller than id, the set this
// node is responsible for dialing during bring-up (see spec.md §4.2: dial
// only lower IDs, accept from higher IDs).
func (c *Config) LowerPeers(id types.NodeID) []types.NodeID {
	peers := make([]types.NodeID, 0, int(id))
	for i := types.NodeID(0); i < id; i++ {
		peers = append(peers, i)
	}
	return peers
}

// Parse reads the group configuration from r and returns the Config plus
// the NodeID assigned to selfName. It returns an error if selfName is not
// listed, if a line is malformed, or if the declared node count does not
// match the number of lines actually present.
func Parse(r io.Reader, selfName string) (*Config, types.NodeID, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, 0, fmt.Errorf("bad config: missing node count")
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return nil, 0, fmt.Errorf("bad config: could not parse node count")
	}

	cfg := &Config{}
	var selfID types.NodeID
	found := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, 0, fmt.Errorf("bad config: expected 3 fields, got %d in %q", len(fields), line)
		}

		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return nil, 0, fmt.Errorf("bad config: could not parse port for node %q: %w", fields[0], err)
		}

		id := types.NodeID(len(cfg.nodes))
		cfg.nodes = append(cfg.nodes, NodeConfig{
			ID:       id,
			Name:     fields[0],
			Hostname: fields[1],
			Port:     uint16(port),
		})

		if fields[0] == selfName {
			selfID = id
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("bad config: %w", err)
	}

	if !found {
		return nil, 0, fmt.Errorf("bad config: node %q is not listed", selfName)
	}
	if len(cfg.nodes) != count {
		return nil, 0, fmt.Errorf("bad config: expected %d nodes, found %d", count, len(cfg.nodes))
	}

	return cfg, selfID, nil
}

// ParseFile opens path and parses it with Parse.
func ParseFile(path string, selfName string) (*Config, types.NodeID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return Parse(f, selfName)
}
