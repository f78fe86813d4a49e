package packet

import (
	"encoding/json"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	p := &Packet{
		Proto: ProtoLSR,
		Type:  TypeMessage,
		From:  "A",
		To:    "C",
		TTL:   5,
		Headers: map[string]any{
			"msg_id": "deadbeef",
			"path":   []any{"A", "B"},
		},
		Payload: "hi",
	}

	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got.Proto != p.Proto || got.Type != p.Type || got.From != p.From || got.To != p.To || got.TTL != p.TTL {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if got.GetMsgID() != "deadbeef" {
		t.Errorf("GetMsgID() = %q, want deadbeef", got.GetMsgID())
	}
	path := got.GetPath()
	if len(path) != 2 || path[0] != "A" || path[1] != "B" {
		t.Errorf("GetPath() = %v, want [A B]", path)
	}
}

func TestDecodeLegacyListHeaders(t *testing.T) {
	raw := `{"proto":"flooding","type":"message","from":"A","to":"B","ttl":3,"headers":["A","B"],"payload":"x"}`
	p, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	path := p.GetPath()
	if len(path) != 2 || path[0] != "A" || path[1] != "B" {
		t.Errorf("legacy list headers not upgraded to path: got %v", path)
	}
	if p.GetMsgID() != "" {
		t.Errorf("legacy headers should carry no msg_id yet, got %q", p.GetMsgID())
	}
	// First mutation must rewrite headers into the map form without losing path.
	id := p.EnsureMsgID()
	if id == "" {
		t.Fatal("EnsureMsgID() returned empty id")
	}
	path = p.GetPath()
	if len(path) != 2 || path[0] != "A" || path[1] != "B" {
		t.Errorf("path lost after EnsureMsgID: got %v", path)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected error decoding malformed JSON")
	}
}

func TestDecrementTTL(t *testing.T) {
	p := &Packet{TTL: 1}
	if ok := p.DecrementTTL(); ok {
		t.Errorf("DecrementTTL() with ttl=1 should reach 0 and return false")
	}
	if p.TTL != 0 {
		t.Errorf("TTL = %d, want 0", p.TTL)
	}

	p = &Packet{TTL: 2}
	if ok := p.DecrementTTL(); !ok {
		t.Errorf("DecrementTTL() with ttl=2 should leave packet forwardable")
	}
}

func TestEnsureMsgIDIdempotent(t *testing.T) {
	p := &Packet{}
	first := p.EnsureMsgID()
	second := p.EnsureMsgID()
	if first != second {
		t.Errorf("EnsureMsgID() not idempotent: %q != %q", first, second)
	}
	if first == "" {
		t.Fatal("EnsureMsgID() returned empty id")
	}
}

func TestSetHeaderAndGetHeaderString(t *testing.T) {
	p := &Packet{}
	if got := p.GetHeaderString("sig"); got != "" {
		t.Fatalf("GetHeaderString on empty packet = %q, want \"\"", got)
	}
	p.SetHeader("sig", "deadbeef")
	if got := p.GetHeaderString("sig"); got != "deadbeef" {
		t.Errorf("GetHeaderString(sig) = %q, want deadbeef", got)
	}
}

func TestAppendToPathRollingWindow(t *testing.T) {
	p := &Packet{}
	p.SetPath([]string{"A", "B", "C"})
	path := p.AppendToPath("D")
	if len(path) != MaxPathLen {
		t.Fatalf("path length = %d, want %d", len(path), MaxPathLen)
	}
	want := []string{"B", "C", "D"}
	for i, w := range want {
		if path[i] != w {
			t.Errorf("path[%d] = %q, want %q", i, path[i], w)
		}
	}
	if path[len(path)-1] != "D" {
		t.Errorf("path must end with the forwarder")
	}
}

func TestPathContains(t *testing.T) {
	p := &Packet{}
	p.SetPath([]string{"A", "B"})
	if !p.PathContains("A") {
		t.Error("PathContains(A) = false, want true")
	}
	if p.PathContains("Z") {
		t.Error("PathContains(Z) = true, want false")
	}
}

func TestCloneIndependence(t *testing.T) {
	p := &Packet{Headers: map[string]any{"path": []any{"A"}}}
	clone := p.Clone()
	clone.AppendToPath("B")

	if len(p.GetPath()) != 1 {
		t.Errorf("mutating clone affected original path: %v", p.GetPath())
	}
}

func TestPayloadPreservesJSONObjects(t *testing.T) {
	type lsaPayload struct {
		Origin string         `json:"origin"`
		Seq    int            `json:"seq"`
		Nbrs   map[string]int `json:"neighbors"`
	}
	payload := lsaPayload{Origin: "A", Seq: 5, Nbrs: map[string]int{"B": 1}}
	p := &Packet{Proto: ProtoLSR, Type: TypeInfo, From: "A", To: Broadcast, TTL: 16, Payload: payload}

	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	raw, err := json.Marshal(got.Payload)
	if err != nil {
		t.Fatalf("re-marshal payload: %v", err)
	}
	var back lsaPayload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if back.Origin != "A" || back.Seq != 5 || back.Nbrs["B"] != 1 {
		t.Errorf("payload round trip mismatch: got %+v", back)
	}
}
