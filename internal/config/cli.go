package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kabili207/meshrouted/internal/errs"
)

// Mode selects the transport backend: a direct stream (socket) or one of
// the pub/sub backends.
type Mode string

const (
	ModeSocket Mode = "socket"
	ModeRedis  Mode = "redis"
	ModeMQTT   Mode = "mqtt"
	// ModeSerial is a repo-specific addition to spec.md §6's socket/redis
	// pair: a hardware-attached node wired to its single neighbor over a
	// serial line (internal/transport/serialbus), selected the same way
	// the other backends are.
	ModeSerial Mode = "serial"
)

// Algorithm selects the routing algorithm.
type Algorithm string

const (
	AlgorithmFlooding Algorithm = "flooding"
	AlgorithmDijkstra Algorithm = "dijkstra"
	AlgorithmLSR      Algorithm = "lsr"
)

// Flags holds the startup configuration spec.md §6 defines as CLI flags,
// optionally overlaid from a YAML file via --config.
//
// File overlay is a pure convenience: every field here also has a flag,
// and flags win when both are set (an explicit --id always overrides a
// config file's id). This mirrors postalsys-Muti-Metroo's yaml-agent-
// config-plus-flags layering, trimmed to this repo's smaller flag set.
type Flags struct {
	ID        string    `yaml:"id"`
	Algorithm Algorithm `yaml:"algorithm"`
	Topo      string    `yaml:"topo"`
	Names     string    `yaml:"names"`
	Mode      Mode      `yaml:"mode"`
	LogLevel  string    `yaml:"log_level"`
	LogFormat string    `yaml:"log_format"`
	// SerialPort is the device path (e.g. "/dev/ttyUSB0") used when
	// Mode == ModeSerial. Ignored otherwise.
	SerialPort string `yaml:"serial_port"`
}

// Default returns Flags populated with spec.md's documented defaults.
func Default() Flags {
	return Flags{
		Mode:      ModeRedis,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadOverlay reads a YAML config file and returns the fields it sets.
// Fields absent from the file are left at their zero value so the caller
// can layer them under flag values without clobbering flags the user did
// pass.
func LoadOverlay(path string) (Flags, error) {
	var f Flags
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("%w: read config overlay: %v", errs.ErrConfig, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: decode config overlay: %v", errs.ErrConfig, err)
	}
	return f, nil
}

// Merge layers the non-zero fields of f on top of base, returning the
// result. Used to apply an optional --config overlay under explicit flags:
// flags.Merge(overlay) keeps every flag the user actually set and fills
// gaps from the overlay file.
func (f Flags) Merge(base Flags) Flags {
	out := base
	if f.ID != "" {
		out.ID = f.ID
	}
	if f.Algorithm != "" {
		out.Algorithm = f.Algorithm
	}
	if f.Topo != "" {
		out.Topo = f.Topo
	}
	if f.Names != "" {
		out.Names = f.Names
	}
	if f.Mode != "" {
		out.Mode = f.Mode
	}
	if f.SerialPort != "" {
		out.SerialPort = f.SerialPort
	}
	if f.LogLevel != "" {
		out.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		out.LogFormat = f.LogFormat
	}
	return out
}

// Validate checks Flags for ConfigError conditions: missing self-id,
// unknown algorithm or mode, and missing required paths. Malformed files
// are reported by the loaders, not here.
func (f Flags) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: --id is required", errs.ErrConfig)
	}
	switch f.Algorithm {
	case AlgorithmFlooding, AlgorithmDijkstra, AlgorithmLSR:
	default:
		return fmt.Errorf("%w: unknown algorithm %q (must be flooding, dijkstra, or lsr)", errs.ErrConfig, f.Algorithm)
	}
	switch f.Mode {
	case ModeSocket, ModeRedis, ModeMQTT, ModeSerial:
	default:
		return fmt.Errorf("%w: unknown mode %q (must be socket, redis, mqtt, or serial)", errs.ErrConfig, f.Mode)
	}
	if f.Mode == ModeSerial && f.SerialPort == "" {
		return fmt.Errorf("%w: --serial-port is required when --mode=serial", errs.ErrConfig)
	}
	if f.Topo == "" {
		return fmt.Errorf("%w: --topo is required", errs.ErrConfig)
	}
	if f.Names == "" {
		return fmt.Errorf("%w: --names is required", errs.ErrConfig)
	}
	return nil
}
