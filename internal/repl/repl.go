// Package repl implements the interactive control surface from spec.md §6:
// send, echo, neighbors, routes, topology, logs, path (Dijkstra only),
// debug, lsr (LSR only), quit.
//
// Grounded on device/room.Server's executeCLI: tokenize with
// strings.Fields, switch on the first token, one small method per command
// returning a reply string. Unlike the teacher's CLI (which replies over an
// encrypted mesh packet), these replies just go to an io.Writer — this
// control surface is local to the process, per spec.md's "out of scope:
// the specific wire binding" framing of the REPL as an external collaborator.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kabili207/meshrouted/internal/config"
	"github.com/kabili207/meshrouted/internal/neighbor"
	"github.com/kabili207/meshrouted/internal/router"
	"github.com/kabili207/meshrouted/internal/routing"
	"github.com/kabili207/meshrouted/internal/routing/dijkstra"
	"github.com/kabili207/meshrouted/internal/routing/lsr"
)

// Config configures a REPL.
type Config struct {
	// Router is the engine this REPL controls.
	Router *router.Router
	// Topology is printed by the `topology` command. Optional.
	Topology *config.Topology
	// Neighbors is the engine-level neighbor store consulted by the
	// `neighbors` command for algorithms (flooding, dijkstra) that keep no
	// liveness state of their own. Optional.
	Neighbors *neighbor.Store

	// In is read for command lines. Defaults to os.Stdin by the caller.
	In io.Reader
	// Out receives prompts, replies, and asynchronously surfaced
	// message/echo_reply content.
	Out io.Writer
}

// REPL reads commands from In and writes replies to Out until `quit` or
// In is exhausted.
type REPL struct {
	cfg Config
}

// New creates a REPL and wires it to cfg.Router's message/echo-reply
// handlers so inbound traffic is printed even between command prompts.
func New(cfg Config) *REPL {
	r := &REPL{cfg: cfg}
	cfg.Router.SetMessageHandler(func(from string, payload any) {
		fmt.Fprintf(cfg.Out, "\n[MESSAGE FROM %s]: %v\n", from, payload)
	})
	cfg.Router.SetEchoReplyHandler(func(from string, rtt time.Duration, payload any) {
		fmt.Fprintf(cfg.Out, "\n[ECHO REPLY FROM %s] rtt=%s: %v\n", from, rtt, payload)
	})
	return r
}

// Run reads and dispatches commands until `quit`, EOF, or a scanner error.
func (r *REPL) Run() error {
	scanner := bufio.NewScanner(r.cfg.In)
	fmt.Fprint(r.cfg.Out, "> ")
	for scanner.Scan() {
		line := scanner.Text()
		reply, quit := r.Execute(line)
		if reply != "" {
			fmt.Fprintln(r.cfg.Out, reply)
		}
		if quit {
			return nil
		}
		fmt.Fprint(r.cfg.Out, "> ")
	}
	return scanner.Err()
}

// Execute dispatches a single command line and returns its reply text and
// whether the REPL should now exit.
func (r *REPL) Execute(line string) (reply string, quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", false
	}

	switch parts[0] {
	case "send":
		return r.cmdSend(parts[1:]), false
	case "echo":
		return r.cmdEcho(parts[1:]), false
	case "neighbors":
		return r.cmdNeighbors(), false
	case "routes":
		return r.cmdRoutes(), false
	case "topology":
		return r.cmdTopology(), false
	case "logs":
		return r.cmdLogs(), false
	case "path":
		return r.cmdPath(parts[1:]), false
	case "debug":
		return r.cmdDebug(), false
	case "lsr":
		return r.cmdLSR(), false
	case "quit":
		return "", true
	default:
		return "unknown command: " + parts[0], false
	}
}

func (r *REPL) cmdSend(args []string) string {
	if len(args) < 2 {
		return "usage: send <dest> <msg>"
	}
	dest := args[0]
	msg := strings.Join(args[1:], " ")
	r.cfg.Router.Send(dest, msg)
	return "OK"
}

func (r *REPL) cmdEcho(args []string) string {
	if len(args) < 1 {
		return "usage: echo <dest>"
	}
	r.cfg.Router.Echo(args[0])
	return "OK"
}

// cmdNeighbors prefers the routing algorithm's own liveness view (LSR
// tracks neighbor_states via HELLO); algorithms with no liveness state of
// their own (flooding, dijkstra) fall back to the engine-level
// neighbor.Store, if one was configured.
func (r *REPL) cmdNeighbors() string {
	if lsrAlgo, ok := r.cfg.Router.Algorithm().(*lsr.Algorithm); ok {
		snaps := lsrAlgo.Neighbors()
		if len(snaps) == 0 {
			return "no neighbors"
		}
		var b strings.Builder
		for _, n := range snaps {
			fmt.Fprintf(&b, "%s cost=%d alive=%t last_seen=%s\n", n.ID, n.Cost, n.Alive, n.LastSeen.Format(time.RFC3339))
		}
		return strings.TrimRight(b.String(), "\n")
	}
	if r.cfg.Neighbors == nil {
		return "no neighbor state available for this algorithm"
	}
	records := r.cfg.Neighbors.All()
	if len(records) == 0 {
		return "no neighbors"
	}
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "%s cost=%d address=%s\n", rec.ID, rec.Cost, rec.Address)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdRoutes enumerates every known node id (from the topology file, if
// one was supplied) and asks the algorithm's common GetNextHop for each —
// the same query all three algorithms already answer when the engine
// routes self-originated packets, so `routes` needs no algorithm-specific
// branching.
func (r *REPL) cmdRoutes() string {
	ids := r.knownNodeIDs()
	if len(ids) == 0 {
		return "no topology configured"
	}
	algo := r.cfg.Router.Algorithm()
	var b strings.Builder
	for _, id := range ids {
		if id == r.cfg.Router.SelfID() {
			continue
		}
		d := algo.GetNextHop(id)
		if d.Kind == routing.NoRoute {
			fmt.Fprintf(&b, "%s -> (no route)\n", id)
		} else {
			fmt.Fprintf(&b, "%s -> %s\n", id, d.Neighbor)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *REPL) knownNodeIDs() []string {
	if r.cfg.Topology == nil {
		return nil
	}
	set := map[string]struct{}{}
	for id, nbrs := range r.cfg.Topology.Adjacency {
		set[id] = struct{}{}
		for _, nb := range nbrs {
			set[nb] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *REPL) cmdTopology() string {
	if r.cfg.Topology == nil {
		return "no topology configured"
	}
	ids := make([]string, 0, len(r.cfg.Topology.Adjacency))
	for id := range r.cfg.Topology.Adjacency {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%s: %s\n", id, strings.Join(r.cfg.Topology.Neighbors(id), ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *REPL) cmdLogs() string {
	entries := r.cfg.Router.Logs()
	if len(entries) == 0 {
		return "no log entries"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s [%s] %s -> %s\n", e.Timestamp.Format(time.RFC3339), e.Direction, e.Summary, e.Decision)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdPath is Dijkstra-only, per spec.md §6 ("path <dest> (Dijkstra only)").
func (r *REPL) cmdPath(args []string) string {
	if len(args) < 1 {
		return "usage: path <dest>"
	}
	dijkstraAlgo, ok := r.cfg.Router.Algorithm().(*dijkstra.Algorithm)
	if !ok {
		return "path is only available with --algorithm dijkstra"
	}
	path := dijkstraAlgo.GetFullPath(args[0])
	if len(path) == 0 {
		return "no route to " + args[0]
	}
	return strings.Join(path, " -> ")
}

// cmdDebug is the generic, algorithm-agnostic diagnostic: engine counters
// plus whatever each algorithm publishes in its routing table, per
// SUPPLEMENTED FEATURES #2 ("the Dijkstra/Flooding equivalents").
func (r *REPL) cmdDebug() string {
	c := r.cfg.Router.Counters()
	var b strings.Builder
	fmt.Fprintf(&b, "self=%s algorithm=%s\n", r.cfg.Router.SelfID(), r.cfg.Router.Algorithm().Name())
	fmt.Fprintf(&b, "recv=%d sent=%d duplicates=%d ttl_expired=%d no_route=%d cycles_detected=%d consumed=%d flooded=%d unicast=%d\n",
		c.PacketsRecv, c.PacketsSent, c.Duplicates, c.TTLExpired, c.NoRoute, c.CyclesDetected, c.Consumed, c.Flooded, c.Unicast)
	switch algo := r.cfg.Router.Algorithm().(type) {
	case *lsr.Algorithm:
		fmt.Fprintf(&b, "routing_table: %s", formatRoutingTable(algo.RoutingTableSnapshot()))
	case *dijkstra.Algorithm:
		b.WriteString("routing_table: use `path <dest>` or `routes` (Dijkstra publishes no bulk snapshot)")
	default:
		b.WriteString("routing_table: flooding has no persistent routing state")
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdLSR is LSR-only, per spec.md §6 ("lsr (LSR only)"). It dumps
// neighbor_states, link_state_db, and routing_table — the three structures
// SUPPLEMENTED FEATURES #2 names verbatim from original_source/.
func (r *REPL) cmdLSR() string {
	algo, ok := r.cfg.Router.Algorithm().(*lsr.Algorithm)
	if !ok {
		return "lsr is only available with --algorithm lsr"
	}
	var b strings.Builder

	b.WriteString("neighbor_states:\n")
	for _, n := range algo.Neighbors() {
		fmt.Fprintf(&b, "  %s cost=%d alive=%t last_seen=%s\n", n.ID, n.Cost, n.Alive, n.LastSeen.Format(time.RFC3339))
	}

	b.WriteString("link_state_db:\n")
	for _, e := range algo.LSDBSnapshot() {
		fmt.Fprintf(&b, "  origin=%s seq=%d neighbors=%s last_received=%s\n",
			e.Origin, e.Seq, formatNeighborCosts(e.Neighbors), e.LastReceived.Format(time.RFC3339))
	}

	b.WriteString("routing_table: ")
	b.WriteString(formatRoutingTable(algo.RoutingTableSnapshot()))

	return strings.TrimRight(b.String(), "\n")
}

func formatRoutingTable(table map[string]string) string {
	if len(table) == 0 {
		return "(empty)\n"
	}
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%s->%s ", id, table[id])
	}
	b.WriteString("\n")
	return b.String()
}

func formatNeighborCosts(m map[string]int) string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+":"+strconv.Itoa(m[id]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
