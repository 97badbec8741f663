package multicut

import (
	"fmt"
	"sort"

	"pmapcut/pkg/rag"
)

// improveEps is the minimum energy decrease for a move to count as a
// strict improvement; it keeps floating-point noise from cycling the
// local search.
const improveEps = 1e-12

// Solution is the result of one multicut solve.
type Solution struct {
	// NodeLabels maps each superpixel label to its final segment id.
	// Segment ids are compact, start at 1, and are assigned in ascending
	// node order.
	NodeLabels map[uint32]uint32

	// NumSegments is the number of distinct segment ids.
	NumSegments int

	// Energy is the sum of costs over joined edges in the final
	// partition. The all-singleton partition has energy 0, so any
	// accepted solution has Energy <= 0.
	Energy float64

	// Passes is the number of local-search passes that ran.
	Passes int

	// Converged reports whether the search reached a fixed point before
	// the pass cap. When false the best partition found is still
	// returned; the result may be suboptimal.
	Converged bool
}

// Solve partitions the graph by greedy local search over node moves and
// cluster-pair merges, Kernighan-Lin style. Starting from the
// all-singleton partition, each pass sweeps the nodes in ascending label
// order, moving a node to the adjacent cluster (or detaching it into a
// new singleton) whenever that strictly decreases the energy, then
// merges every adjacent cluster pair whose inter-cluster cost sum is
// negative. The search stops at the first pass that changes nothing, or
// after maxPasses passes.
//
// costs must parallel g.Edges(). The search is strictly sequential:
// every accepted move changes partition state read by the next move
// evaluation, so this loop must never be parallelised.
func Solve(g *rag.Graph, costs []float64, maxPasses int) (*Solution, error) {
	edges := g.Edges()
	if len(costs) != len(edges) {
		return nil, fmt.Errorf("got %d costs for %d edges", len(costs), len(edges))
	}
	if maxPasses < 1 {
		return nil, fmt.Errorf("pass cap must be at least 1, got %d", maxPasses)
	}

	nodes := g.Labels()
	n := len(nodes)
	index := make(map[uint32]int, n)
	for i, label := range nodes {
		index[label] = i
	}

	type arc struct {
		to   int
		cost float64
	}
	adj := make([][]arc, n)
	type flatEdge struct {
		u, v int
		cost float64
	}
	flat := make([]flatEdge, len(edges))
	for i, e := range edges {
		u, v := index[e.U], index[e.V]
		adj[u] = append(adj[u], arc{v, costs[i]})
		adj[v] = append(adj[v], arc{u, costs[i]})
		flat[i] = flatEdge{u, v, costs[i]}
	}

	cluster := make([]int, n)
	size := make(map[int]int, n)
	for i := range cluster {
		cluster[i] = i
		size[i] = 1
	}
	nextID := n

	energy := 0.0
	passes := 0
	converged := false

	for passes < maxPasses {
		passes++
		changed := 0

		// Single-node moves, ascending node order. For each node, sum
		// the incident costs per adjacent cluster; moving from A to B
		// changes the energy by sum(B) - sum(A).
		for u := 0; u < n; u++ {
			if len(adj[u]) == 0 {
				continue
			}
			a := cluster[u]
			sums := make(map[int]float64)
			for _, ac := range adj[u] {
				sums[cluster[ac.to]] += ac.cost
			}
			sumA := sums[a]

			targets := make([]int, 0, len(sums))
			for c := range sums {
				if c != a {
					targets = append(targets, c)
				}
			}
			sort.Ints(targets)

			best := -1
			bestDelta := 0.0
			for _, b := range targets {
				delta := sums[b] - sumA
				if delta < bestDelta-improveEps {
					best = b
					bestDelta = delta
				}
			}
			// Detaching into a fresh singleton cuts all of u's joined
			// edges; only worthwhile when u is not already alone.
			if size[a] > 1 && -sumA < bestDelta-improveEps {
				best = nextID
				bestDelta = -sumA
			}
			if best < 0 {
				continue
			}
			if best == nextID {
				nextID++
			}
			size[a]--
			if size[a] == 0 {
				delete(size, a)
			}
			size[best]++
			cluster[u] = best
			energy += bestDelta
			changed++
		}

		// Cluster-pair merges: joining two clusters adds their
		// inter-cluster cost sum to the energy, so merge every pair
		// whose sum is negative. Pairs whose clusters were already
		// merged this pass are skipped; their sums go stale.
		inter := make(map[[2]int]float64)
		for _, e := range flat {
			cu, cv := cluster[e.u], cluster[e.v]
			if cu == cv {
				continue
			}
			k := [2]int{cu, cv}
			if cv < cu {
				k = [2]int{cv, cu}
			}
			inter[k] += e.cost
		}
		pairs := make([][2]int, 0, len(inter))
		for k := range inter {
			pairs = append(pairs, k)
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i][0] != pairs[j][0] {
				return pairs[i][0] < pairs[j][0]
			}
			return pairs[i][1] < pairs[j][1]
		})
		touched := make(map[int]bool)
		for _, k := range pairs {
			sum := inter[k]
			if sum >= -improveEps || touched[k[0]] || touched[k[1]] {
				continue
			}
			for i := range cluster {
				if cluster[i] == k[1] {
					cluster[i] = k[0]
				}
			}
			size[k[0]] += size[k[1]]
			delete(size, k[1])
			touched[k[0]] = true
			touched[k[1]] = true
			energy += sum
			changed++
		}

		if changed == 0 {
			converged = true
			break
		}
	}

	// Compact segment ids, assigned by first occurrence in ascending
	// node order so the labelling is deterministic.
	remap := make(map[int]uint32)
	labels := make(map[uint32]uint32, n)
	var next uint32
	for i, label := range nodes {
		id, ok := remap[cluster[i]]
		if !ok {
			next++
			id = next
			remap[cluster[i]] = id
		}
		labels[label] = id
	}

	return &Solution{
		NodeLabels:  labels,
		NumSegments: int(next),
		Energy:      energy,
		Passes:      passes,
		Converged:   converged,
	}, nil
}

// Energy computes the multicut energy of an arbitrary labelling: the sum
// of costs over edges whose endpoints share a segment. costs must
// parallel g.Edges().
func Energy(g *rag.Graph, costs []float64, nodeLabels map[uint32]uint32) (float64, error) {
	edges := g.Edges()
	if len(costs) != len(edges) {
		return 0, fmt.Errorf("got %d costs for %d edges", len(costs), len(edges))
	}
	total := 0.0
	for i, e := range edges {
		if nodeLabels[e.U] == nodeLabels[e.V] {
			total += costs[i]
		}
	}
	return total, nil
}
