package lsr

import "sort"

// calculateRoutesLocked runs shortest-path-first over the adjacency implied
// by alive direct neighbors plus the LSDB, and atomically publishes a new
// routing table. Must be called with a.mu held.
//
// Grounded on original_source/src/algorithms/lsr.py's calculateRoutes: the
// first-hop is carried during relaxation rather than reconstructed by
// walking a predecessor chain afterward, and candidate vertices are visited
// in name order so the whole computation is reproducible across routers
// that share the same LSDB and neighbor states.
func (a *Algorithm) calculateRoutesLocked() {
	adj := map[string]map[string]int{}
	addEdge := func(u, v string, cost int) {
		if adj[u] == nil {
			adj[u] = map[string]int{}
		}
		if existing, ok := adj[u][v]; !ok || cost < existing {
			adj[u][v] = cost
		}
	}

	for nb, st := range a.neighborStates {
		if st.alive {
			addEdge(a.routerID, nb, st.cost)
			addEdge(nb, a.routerID, st.cost)
		}
	}

	for origin, entry := range a.linkStateDB {
		for nb, cost := range entry.neighbors {
			addEdge(origin, nb, cost)
			addEdge(nb, origin, cost)
		}
	}

	if _, ok := adj[a.routerID]; !ok {
		a.routingTable = map[string]string{}
		return
	}

	const inf = 1 << 30
	dist := map[string]int{a.routerID: 0}
	firstHop := map[string]string{}

	unvisited := map[string]struct{}{}
	for v := range adj {
		unvisited[v] = struct{}{}
		if v != a.routerID {
			dist[v] = inf
		}
	}

	for len(unvisited) > 0 {
		u, ok := pickMinDistance(unvisited, dist)
		if !ok {
			break
		}
		delete(unvisited, u)
		if dist[u] == inf {
			break
		}

		neighbors := make([]string, 0, len(adj[u]))
		for v := range adj[u] {
			neighbors = append(neighbors, v)
		}
		sort.Strings(neighbors)

		for _, v := range neighbors {
			if _, ok := unvisited[v]; !ok {
				continue
			}
			alt := dist[u] + adj[u][v]
			var candFirst string
			if u == a.routerID {
				candFirst = v
			} else {
				candFirst = firstHop[u]
			}

			if alt < dist[v] {
				dist[v] = alt
				firstHop[v] = candFirst
			} else if alt == dist[v] && a.preferFirstHop(candFirst, firstHop[v]) {
				firstHop[v] = candFirst
			}
		}
	}

	table := map[string]string{}
	for dst, fh := range firstHop {
		if dst == a.routerID || fh == "" {
			continue
		}
		if d, ok := dist[dst]; !ok || d >= inf {
			continue
		}
		table[dst] = fh
	}
	a.routingTable = table
}

// pickMinDistance selects the unvisited vertex with minimum distance,
// breaking ties by lexicographic id order for reproducibility.
func pickMinDistance(unvisited map[string]struct{}, dist map[string]int) (string, bool) {
	names := make([]string, 0, len(unvisited))
	for v := range unvisited {
		names = append(names, v)
	}
	sort.Strings(names)

	const inf = 1 << 30
	best := ""
	bestDist := inf + 1
	found := false
	for _, v := range names {
		d, ok := dist[v]
		if !ok {
			d = inf
		}
		if d < bestDist {
			bestDist = d
			best = v
			found = true
		}
	}
	return best, found
}

// preferFirstHop implements the deterministic tie-break rule: prefer a
// non-empty first-hop, then a first-hop that is currently an alive direct
// neighbor, then lexicographic order.
func (a *Algorithm) preferFirstHop(cand, cur string) bool {
	if cur == "" {
		return cand != ""
	}
	if cand == "" {
		return false
	}
	candAlive := a.isAliveNeighbor(cand)
	curAlive := a.isAliveNeighbor(cur)
	if candAlive != curAlive {
		return candAlive
	}
	return cand < cur
}

func (a *Algorithm) isAliveNeighbor(id string) bool {
	st, ok := a.neighborStates[id]
	return ok && st.alive
}
