// Package dijkstra implements the eager, compute-once shortest-path
// routing variant: the full topology is supplied once at startup, a
// single-source shortest-path tree is computed immediately, and
// ProcessPacket never triggers recomputation. This preserves the static
// semantics spec.md's open questions call for — Dijkstra does not react to
// neighbor disconnection the way LSR does.
//
// Grounded on original_source/src/algorithms/dijkstra.py's
// _calculate_shortest_paths, adapted into Go with deterministic (node-id
// ordered) tie-breaking and an exported SetTopology entry point instead of
// print()-based tracing.
package dijkstra

import (
	"sort"

	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/routing"
)

// Algorithm is the pre-computed Dijkstra routing variant.
type Algorithm struct {
	routerID  string
	topology  map[string][]string // node -> adjacent node ids, bidirectional
	table     map[string]string   // destination -> next-hop neighbor
	predTree  map[string]string   // destination -> predecessor, for GetFullPath
	neighbors map[string]int
}

// New creates a Dijkstra Algorithm for routerID. Call SetTopology before
// routing any packets.
func New(routerID string) *Algorithm {
	return &Algorithm{
		routerID:  routerID,
		topology:  map[string][]string{},
		table:     map[string]string{},
		predTree:  map[string]string{},
		neighbors: map[string]int{},
	}
}

var _ routing.Algorithm = (*Algorithm)(nil)

// Name returns "dijkstra".
func (a *Algorithm) Name() string { return "dijkstra" }

// UpdateNeighbor records a direct neighbor's cost. Dijkstra does not
// recompute on this call alone — SetTopology drives the one-time SPF run,
// matching the "compute once" semantics.
func (a *Algorithm) UpdateNeighbor(id string, info routing.NeighborInfo) {
	cost := info.Cost
	if cost <= 0 {
		cost = 1
	}
	a.neighbors[id] = cost
}

// SetTopology supplies the full network graph (adjacency lists, undirected,
// uniform cost 1) and runs shortest-path-first exactly once. Costs recorded
// by UpdateNeighbor do not enter the computation.
func (a *Algorithm) SetTopology(topology map[string][]string) {
	a.topology = topology
	a.calculateShortestPaths()
}

// ProcessPacket performs no protocol work: hello/info/lsa packets are
// ignored, and data/echo packets are answered purely from the
// precomputed table.
func (a *Algorithm) ProcessPacket(pkt *packet.Packet, fromNeighbor string) routing.Decision {
	switch pkt.Type {
	case packet.TypeHello, packet.TypeInfo, packet.TypeLSA:
		return routing.Decision{Kind: routing.ConsumeLocal}
	}
	return a.GetNextHop(pkt.To)
}

// GetNextHop returns the precomputed next hop for destination, or NoRoute
// if destination is unreachable.
func (a *Algorithm) GetNextHop(destination string) routing.Decision {
	if destination == a.routerID {
		return routing.Decision{Kind: routing.ConsumeLocal}
	}
	nh, ok := a.table[destination]
	if !ok {
		return routing.Decision{Kind: routing.NoRoute}
	}
	return routing.Decision{Kind: routing.NextHop, Neighbor: nh}
}

// GetFullPath returns the sequence of ids from self to dest along the
// precomputed tree, for diagnostics (the `path` REPL command). Returns nil
// if dest is unreachable.
func (a *Algorithm) GetFullPath(dest string) []string {
	if dest == a.routerID {
		return []string{a.routerID}
	}
	if _, ok := a.table[dest]; !ok {
		return nil
	}
	var rev []string
	cur := dest
	for cur != a.routerID {
		rev = append(rev, cur)
		pred, ok := a.predTree[cur]
		if !ok {
			return nil
		}
		cur = pred
	}
	rev = append(rev, a.routerID)

	path := make([]string, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path
}

// calculateShortestPaths runs single-source Dijkstra from routerID over the
// full topology, with deterministic tie-breaking by node-id ordering.
func (a *Algorithm) calculateShortestPaths() {
	allNodes := map[string]struct{}{}
	for node, nbrs := range a.topology {
		allNodes[node] = struct{}{}
		for _, nb := range nbrs {
			allNodes[nb] = struct{}{}
		}
	}
	allNodes[a.routerID] = struct{}{}

	const inf = 1 << 30
	dist := make(map[string]int, len(allNodes))
	pred := make(map[string]string, len(allNodes))
	for n := range allNodes {
		dist[n] = inf
	}
	dist[a.routerID] = 0

	unvisited := make(map[string]struct{}, len(allNodes))
	for n := range allNodes {
		unvisited[n] = struct{}{}
	}

	for len(unvisited) > 0 {
		// Deterministic selection: minimum distance, ties broken by node-id
		// ordering.
		var u string
		found := false
		best := inf
		names := sortedKeys(unvisited)
		for _, n := range names {
			if dist[n] < best {
				best = dist[n]
				u = n
				found = true
			}
		}
		delete(unvisited, u)
		if !found || dist[u] == inf {
			break
		}

		neighbors := append([]string(nil), a.topology[u]...)
		sort.Strings(neighbors)
		for _, v := range neighbors {
			if _, ok := unvisited[v]; !ok {
				continue
			}
			alt := dist[u] + 1
			if alt < dist[v] {
				dist[v] = alt
				pred[v] = u
			}
		}
	}

	table := map[string]string{}
	for dst := range allNodes {
		if dst == a.routerID || dist[dst] == inf {
			continue
		}
		nh := findNextHop(dst, pred, a.routerID)
		if nh != "" {
			table[dst] = nh
		}
	}

	a.table = table
	a.predTree = pred
}

// findNextHop traces pred back from dst to routerID and returns the node
// adjacent to routerID along that path.
func findNextHop(dst string, pred map[string]string, routerID string) string {
	cur := dst
	for {
		p, ok := pred[cur]
		if !ok {
			return ""
		}
		if p == routerID {
			return cur
		}
		cur = p
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
