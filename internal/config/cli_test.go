package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kabili207/meshrouted/internal/errs"
)

func TestDefaultFlags(t *testing.T) {
	f := Default()
	if f.Mode != ModeRedis {
		t.Errorf("default mode = %q, want %q", f.Mode, ModeRedis)
	}
	if f.LogLevel != "info" || f.LogFormat != "text" {
		t.Errorf("default log level/format = %s/%s, want info/text", f.LogLevel, f.LogFormat)
	}
}

func TestValidateRequiresID(t *testing.T) {
	f := Default()
	f.Algorithm = AlgorithmFlooding
	f.Topo = "topo.json"
	f.Names = "names.json"

	err := f.Validate()
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig for missing id, got %v", err)
	}
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	f := Default()
	f.ID = "A"
	f.Algorithm = "bogus"
	f.Topo = "topo.json"
	f.Names = "names.json"

	if err := f.Validate(); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown algorithm, got %v", err)
	}
}

func TestValidateAccepts(t *testing.T) {
	f := Flags{
		ID:        "A",
		Algorithm: AlgorithmLSR,
		Topo:      "topo.json",
		Names:     "names.json",
		Mode:      ModeSocket,
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error %v", err)
	}
}

func TestValidateRequiresSerialPortForSerialMode(t *testing.T) {
	f := Flags{ID: "A", Algorithm: AlgorithmLSR, Topo: "topo.json", Names: "names.json", Mode: ModeSerial}
	if err := f.Validate(); !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig for missing serial port, got %v", err)
	}
	f.SerialPort = "/dev/ttyUSB0"
	if err := f.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error %v", err)
	}
}

func TestMergeKeepsExplicitFlagsOverOverlay(t *testing.T) {
	flags := Flags{ID: "A", Algorithm: AlgorithmLSR}
	overlay := Flags{ID: "B", Algorithm: AlgorithmFlooding, Topo: "topo.json"}

	merged := flags.Merge(overlay)
	if merged.ID != "A" {
		t.Errorf("ID = %q, want A (flag wins over overlay)", merged.ID)
	}
	if merged.Algorithm != AlgorithmLSR {
		t.Errorf("Algorithm = %q, want lsr (flag wins over overlay)", merged.Algorithm)
	}
	if merged.Topo != "topo.json" {
		t.Errorf("Topo = %q, want topo.json (filled from overlay)", merged.Topo)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshrouted.yaml")
	content := "id: A\nalgorithm: lsr\ntopo: topo.json\nnames: names.json\nmode: redis\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	overlay, err := LoadOverlay(path)
	if err != nil {
		t.Fatalf("LoadOverlay: %v", err)
	}
	if overlay.ID != "A" || overlay.Algorithm != AlgorithmLSR || overlay.Mode != ModeRedis {
		t.Errorf("overlay = %+v, want id=A algorithm=lsr mode=redis", overlay)
	}
}

func TestLoadOverlayMissingFile(t *testing.T) {
	_, err := LoadOverlay("/nonexistent/meshrouted.yaml")
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
