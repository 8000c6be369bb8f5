package rules

import "github.com/gofhir/kindling"

// shortestPaths runs a breadth-first search from every generation over the
// declared hops. Neighbours are visited in generation order, so among
// several shortest paths the one through the earliest generations wins.
func shortestPaths(gens *kindling.GenerationSet, hops []kindling.Hop) map[kindling.Hop][]kindling.Generation {
	all := gens.All()
	adj := make([][]int, len(all))
	for _, h := range hops {
		from, to := gens.Index(h.From), gens.Index(h.To)
		adj[from] = append(adj[from], to)
	}

	paths := make(map[kindling.Hop][]kindling.Generation)
	for src := range all {
		parent := make([]int, len(all))
		for i := range parent {
			parent[i] = -1
		}
		parent[src] = src
		queue := []int{src}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, next := range adj[n] {
				if parent[next] != -1 {
					continue
				}
				parent[next] = n
				queue = append(queue, next)
			}
		}
		for dst := range all {
			if dst == src || parent[dst] == -1 {
				continue
			}
			var rev []kindling.Generation
			for n := dst; n != src; n = parent[n] {
				rev = append(rev, all[n])
			}
			rev = append(rev, all[src])
			path := make([]kindling.Generation, len(rev))
			for i, g := range rev {
				path[len(rev)-1-i] = g
			}
			paths[kindling.Hop{From: all[src], To: all[dst]}] = path
		}
	}
	return paths
}
