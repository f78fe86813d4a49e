package config

import "github.com/spf13/cobra"

// RegisterFlags binds f's fields to cmd's flag set, grounded on
// postalsys-Muti-Metroo/cmd/muti-metroo/main.go's runCmd flag wiring
// (StringVarP against a local variable, defaults supplied inline).
func RegisterFlags(cmd *cobra.Command, f *Flags) {
	defaults := Default()
	cmd.Flags().StringVar(&f.ID, "id", defaults.ID, "this node's router id")
	cmd.Flags().StringVar((*string)(&f.Algorithm), "algorithm", string(defaults.Algorithm), "routing algorithm: flooding, dijkstra, or lsr")
	cmd.Flags().StringVar(&f.Topo, "topo", defaults.Topo, "path to the topology JSON file")
	cmd.Flags().StringVar(&f.Names, "names", defaults.Names, "path to the names JSON file")
	cmd.Flags().StringVar((*string)(&f.Mode), "mode", string(defaults.Mode), "transport mode: socket, redis, mqtt, or serial")
	cmd.Flags().StringVar(&f.SerialPort, "serial-port", defaults.SerialPort, "serial device path, required when --mode=serial")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", defaults.LogLevel, "log level: debug, info, warn, or error")
	cmd.Flags().StringVar(&f.LogFormat, "log-format", defaults.LogFormat, "log format: text or json")
}

// ConfigFileFlag registers the optional --config overlay flag and returns
// a pointer to its value.
func ConfigFileFlag(cmd *cobra.Command) *string {
	var path string
	cmd.Flags().StringVarP(&path, "config", "c", "", "optional YAML file supplying defaults for any of the flags above")
	return &path
}
