package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kabili207/meshrouted/internal/errs"
)

// NodeAddress is one node's entry in a stream-mode names file:
// {"host": "<h>", "port": <p>}.
type NodeAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NodeChannel is one node's entry in a pub/sub-mode names file:
// {"channel": "<name>"}.
type NodeChannel struct {
	Channel string `json:"channel"`
}

// Names is the parsed form of the names file, covering both shapes spec.md
// §6 defines. Exactly one of the two maps is populated, selected by which
// per-node shape the file used ("host"/"port" vs "channel").
type Names struct {
	// Broker fields, populated only in pub/sub mode.
	BrokerHost string
	BrokerPort int
	BrokerPwd  string

	// Addresses holds stream-mode entries (node id -> host:port).
	Addresses map[string]NodeAddress
	// Channels holds pub/sub-mode entries (node id -> channel name).
	Channels map[string]NodeChannel
}

// IsPubSub reports whether the file used the pub/sub-mode shape (channel
// entries) rather than the stream-mode shape (host/port entries).
func (n *Names) IsPubSub() bool {
	return len(n.Channels) > 0
}

type namesFile struct {
	Type   string          `json:"type"`
	Host   string          `json:"host"`
	Port   int             `json:"port"`
	Pwd    string          `json:"pwd"`
	Config json.RawMessage `json:"config"`
}

// LoadNames reads and parses a names file.
func LoadNames(path string) (*Names, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read names file: %v", errs.ErrConfig, err)
	}
	return ParseNames(data)
}

// ParseNames parses names file JSON bytes, auto-detecting stream vs.
// pub/sub shape from the per-node entry contents.
func ParseNames(data []byte) (*Names, error) {
	var raw namesFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode names file: %v", errs.ErrConfig, err)
	}
	if raw.Type != "names" {
		return nil, fmt.Errorf("%w: names file: expected type \"names\", got %q", errs.ErrConfig, raw.Type)
	}
	if len(raw.Config) == 0 {
		return nil, fmt.Errorf("%w: names file: config is empty", errs.ErrConfig)
	}

	var asChannels map[string]NodeChannel
	if err := json.Unmarshal(raw.Config, &asChannels); err == nil && allChannelsPopulated(asChannels) {
		return &Names{
			BrokerHost: raw.Host,
			BrokerPort: raw.Port,
			BrokerPwd:  raw.Pwd,
			Channels:   asChannels,
		}, nil
	}

	var asAddresses map[string]NodeAddress
	if err := json.Unmarshal(raw.Config, &asAddresses); err != nil {
		return nil, fmt.Errorf("%w: names file: config entries match neither stream nor pub/sub shape: %v", errs.ErrConfig, err)
	}
	return &Names{Addresses: asAddresses}, nil
}

func allChannelsPopulated(m map[string]NodeChannel) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if v.Channel == "" {
			return false
		}
	}
	return true
}
