package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/kabili207/meshrouted/internal/config"
	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/router"
	"github.com/kabili207/meshrouted/internal/routing/dijkstra"
	"github.com/kabili207/meshrouted/internal/routing/flooding"
	"github.com/kabili207/meshrouted/internal/routing/lsr"
	"github.com/kabili207/meshrouted/internal/transport"
)

// stubTransport is a minimal transport.Transport double; no test here
// exercises real packet delivery, only REPL command dispatch.
type stubTransport struct{}

func (stubTransport) Start(ctx context.Context) error                 { return nil }
func (stubTransport) Stop() error                                     { return nil }
func (stubTransport) IsConnected() bool                                { return true }
func (stubTransport) SetPacketHandler(fn transport.PacketHandler)      {}
func (stubTransport) SetStateHandler(fn transport.StateHandler)        {}
func (stubTransport) SendTo(peerID string, pkt *packet.Packet) error   { return nil }
func (stubTransport) Broadcast(pkt *packet.Packet, exclude string) error { return nil }

func buildRouter(t *testing.T, algoName string, topo *config.Topology) *router.Router {
	t.Helper()
	switch algoName {
	case "flooding":
		a := flooding.New("A")
		return router.New(router.Config{SelfID: "A", Algorithm: a, Transport: stubTransport{}})
	case "dijkstra":
		a := dijkstra.New("A")
		if topo != nil {
			a.SetTopology(topo.Adjacency)
		}
		return router.New(router.Config{SelfID: "A", Algorithm: a, Transport: stubTransport{}})
	case "lsr":
		a := lsr.New("A")
		return router.New(router.Config{SelfID: "A", Algorithm: a, Transport: stubTransport{}})
	}
	t.Fatalf("unknown algorithm %q", algoName)
	return nil
}

func TestSendReturnsOK(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, quit := repl.Execute("send B hello")
	if reply != "OK" || quit {
		t.Errorf("send reply = %q quit=%v, want OK false", reply, quit)
	}
}

func TestSendMissingArgs(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("send B")
	if !strings.Contains(reply, "usage") {
		t.Errorf("reply = %q, want usage message", reply)
	}
}

func TestEchoReturnsOK(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("echo B")
	if reply != "OK" {
		t.Errorf("echo reply = %q, want OK", reply)
	}
}

func TestQuitStopsTheLoop(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	_, quit := repl.Execute("quit")
	if !quit {
		t.Error("quit should request loop exit")
	}
}

func TestUnknownCommand(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("frobnicate")
	if !strings.Contains(reply, "unknown command") {
		t.Errorf("reply = %q, want unknown command message", reply)
	}
}

func TestPathOnlyAvailableForDijkstra(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("path B")
	if !strings.Contains(reply, "dijkstra") {
		t.Errorf("reply = %q, want a message steering toward --algorithm dijkstra", reply)
	}
}

func TestPathReturnsFullPathForDijkstra(t *testing.T) {
	topo := mustTopology(t, map[string][]string{"A": {"B"}, "B": {"A", "C"}, "C": {"B"}})
	r := buildRouter(t, "dijkstra", topo)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("path C")
	if reply != "A -> B -> C" {
		t.Errorf("path reply = %q, want A -> B -> C", reply)
	}
}

func TestLSROnlyAvailableForLSR(t *testing.T) {
	r := buildRouter(t, "dijkstra", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("lsr")
	if !strings.Contains(reply, "--algorithm lsr") {
		t.Errorf("reply = %q, want a message steering toward --algorithm lsr", reply)
	}
}

func TestLSRDumpsInternalState(t *testing.T) {
	r := buildRouter(t, "lsr", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("lsr")
	for _, want := range []string{"neighbor_states:", "link_state_db:", "routing_table:"} {
		if !strings.Contains(reply, want) {
			t.Errorf("lsr reply missing %q, got:\n%s", want, reply)
		}
	}
}

func TestDebugWorksForEveryAlgorithm(t *testing.T) {
	for _, name := range []string{"flooding", "dijkstra", "lsr"} {
		r := buildRouter(t, name, nil)
		repl := New(Config{Router: r, Out: &bytes.Buffer{}})
		reply, _ := repl.Execute("debug")
		if !strings.Contains(reply, "algorithm="+name) {
			t.Errorf("debug(%s) reply = %q, want algorithm=%s", name, reply, name)
		}
	}
}

func TestTopologyCommand(t *testing.T) {
	topo := mustTopology(t, map[string][]string{"A": {"B"}, "B": {"A"}})
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}, Topology: topo})
	reply, _ := repl.Execute("topology")
	if !strings.Contains(reply, "A: B") || !strings.Contains(reply, "B: A") {
		t.Errorf("topology reply = %q", reply)
	}
}

func TestTopologyCommandWithoutTopologyConfigured(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("topology")
	if reply != "no topology configured" {
		t.Errorf("reply = %q, want \"no topology configured\"", reply)
	}
}

func TestLogsCommandEmpty(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	repl := New(Config{Router: r, Out: &bytes.Buffer{}})
	reply, _ := repl.Execute("logs")
	if reply != "no log entries" {
		t.Errorf("reply = %q, want \"no log entries\"", reply)
	}
}

func TestRunEchoesPromptsAndStopsOnQuit(t *testing.T) {
	r := buildRouter(t, "flooding", nil)
	var out bytes.Buffer
	repl := New(Config{Router: r, In: strings.NewReader("send B hi\nquit\n"), Out: &out})
	if err := repl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "OK") {
		t.Errorf("output = %q, want it to contain the send reply OK", out.String())
	}
	if !strings.Contains(out.String(), "> ") {
		t.Errorf("output = %q, want it to contain the prompt", out.String())
	}
}

func mustTopology(t *testing.T, adjacency map[string][]string) *config.Topology {
	t.Helper()
	return &config.Topology{Adjacency: adjacency}
}
