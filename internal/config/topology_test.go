package config

import (
	"errors"
	"testing"

	"github.com/kabili207/meshrouted/internal/errs"
)

func TestParseTopologyValid(t *testing.T) {
	data := []byte(`{"type":"topo","config":{"A":["B","C"],"B":["A"],"C":["A"]}}`)

	topo, err := ParseTopology(data)
	if err != nil {
		t.Fatalf("ParseTopology: %v", err)
	}

	nbs := topo.Neighbors("A")
	if len(nbs) != 2 || nbs[0] != "B" || nbs[1] != "C" {
		t.Errorf("Neighbors(A) = %v, want [B C]", nbs)
	}
	if !topo.HasNode("B") {
		t.Error("HasNode(B) = false, want true")
	}
	if topo.HasNode("Z") {
		t.Error("HasNode(Z) = true, want false")
	}
}

func TestParseTopologyWrongType(t *testing.T) {
	data := []byte(`{"type":"names","config":{"A":["B"]}}`)

	_, err := ParseTopology(data)
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestParseTopologyEmptyConfig(t *testing.T) {
	data := []byte(`{"type":"topo","config":{}}`)

	_, err := ParseTopology(data)
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestParseTopologyMalformed(t *testing.T) {
	_, err := ParseTopology([]byte(`{not json`))
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	_, err := LoadTopology("/nonexistent/path/topo.json")
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
