// Package config loads the topology and names JSON files spec.md §6
// defines, and assembles the CLI flag / optional YAML overlay layer that
// drives cmd/meshrouted.
//
// Grounded on postalsys-Muti-Metroo/internal/config.Load's
// read-then-parse-then-validate shape, trimmed to the two JSON file kinds
// spec.md §6 actually names (topology, names) instead of that teacher's
// single large YAML document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/kabili207/meshrouted/internal/errs"
)

// Topology is the parsed form of the topology file:
//
//	{ "type": "topo", "config": { "<node-id>": ["<nb-id>", ...], ... } }
//
// Undirected — each node lists its direct neighbors; costs default to 1.
type Topology struct {
	Adjacency map[string][]string
}

type topologyFile struct {
	Type   string              `json:"type"`
	Config map[string][]string `json:"config"`
}

// LoadTopology reads and parses a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read topology file: %v", errs.ErrConfig, err)
	}
	return ParseTopology(data)
}

// ParseTopology parses topology file JSON bytes.
func ParseTopology(data []byte) (*Topology, error) {
	var raw topologyFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode topology file: %v", errs.ErrConfig, err)
	}
	if raw.Type != "topo" {
		return nil, fmt.Errorf("%w: topology file: expected type \"topo\", got %q", errs.ErrConfig, raw.Type)
	}
	if len(raw.Config) == 0 {
		return nil, fmt.Errorf("%w: topology file: config is empty", errs.ErrConfig)
	}
	return &Topology{Adjacency: raw.Config}, nil
}

// Neighbors returns id's direct neighbors, sorted for deterministic
// iteration (log output, test fixtures).
func (t *Topology) Neighbors(id string) []string {
	nbs := append([]string(nil), t.Adjacency[id]...)
	sort.Strings(nbs)
	return nbs
}

// HasNode reports whether id appears anywhere in the topology, either as a
// key or as a listed neighbor.
func (t *Topology) HasNode(id string) bool {
	if _, ok := t.Adjacency[id]; ok {
		return true
	}
	for _, nbs := range t.Adjacency {
		for _, nb := range nbs {
			if nb == id {
				return true
			}
		}
	}
	return false
}
