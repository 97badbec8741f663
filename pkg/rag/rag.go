// Package rag builds the region adjacency graph over a superpixel map.
// Nodes are superpixel labels; an edge exists wherever two superpixels
// share at least one voxel face. Each edge carries streaming boundary
// statistics (mean probability and boundary length) accumulated from the
// originating probability volume.
package rag

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph/simple"

	"pmapcut/pkg/volume"
)

// Stat holds the streaming boundary statistics of one edge. The mean is
// kept as sum/count so accumulation is exact and order-independent.
type Stat struct {
	Sum   float64
	Count float64
}

// Mean returns the mean boundary probability along the edge.
func (s Stat) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / s.Count
}

// EdgeFeature is one RAG edge with its aggregated boundary statistics.
// U < V always holds.
type EdgeFeature struct {
	U, V   uint32
	Mean   float64
	Length float64
}

// Graph is the region adjacency graph plus per-edge boundary features.
// The underlying structure is a gonum undirected graph whose node IDs are
// the superpixel labels.
type Graph struct {
	// UG is the adjacency structure; node IDs equal superpixel labels.
	UG *simple.UndirectedGraph

	// MaxLabel is the largest superpixel label present.
	MaxLabel uint32

	// NumNodes is the number of distinct superpixel labels.
	NumNodes int

	stats map[[2]uint32]*Stat
}

type edgeKey = [2]uint32

// Build scans the superpixel map against the probability volume and
// produces the region adjacency graph with edge features in one pass.
// The three axis-aligned scan directions are accumulated on separate
// goroutines (capped by workers) and merged by sum/count reduction, so
// the result is independent of traversal order. Voxels labelled 0 are
// ignored.
func Build(labels *volume.Labels, pmaps *volume.Volume, workers int) (*Graph, error) {
	if !volume.SameShape(pmaps, labels) {
		return nil, fmt.Errorf("superpixel map %dx%dx%d does not match probability volume %dx%dx%d",
			labels.Depth, labels.Height, labels.Width, pmaps.Depth, pmaps.Height, pmaps.Width)
	}
	if workers < 1 {
		workers = 1
	}

	// One accumulator per scan direction; merged below. Direction strides
	// are flat-index offsets for the +z, +y and +x neighbours.
	strides := []int{labels.Height * labels.Width, labels.Width, 1}
	partial := make([]map[edgeKey]*Stat, len(strides))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for d, stride := range strides {
		wg.Add(1)
		go func(d, stride int) {
			defer wg.Done()
			sem <- struct{}{}
			partial[d] = accumulateDirection(labels, pmaps, d, stride)
			<-sem
		}(d, stride)
	}
	wg.Wait()

	g := &Graph{
		UG:    simple.NewUndirectedGraph(),
		stats: make(map[edgeKey]*Stat),
	}
	for _, m := range partial {
		for k, s := range m {
			if have, ok := g.stats[k]; ok {
				have.Sum += s.Sum
				have.Count += s.Count
			} else {
				g.stats[k] = s
			}
		}
	}

	seen := make(map[uint32]bool)
	for _, label := range labels.Data {
		if label == 0 || seen[label] {
			continue
		}
		seen[label] = true
		g.UG.AddNode(simple.Node(label))
		if label > g.MaxLabel {
			g.MaxLabel = label
		}
	}
	g.NumNodes = len(seen)

	for k := range g.stats {
		g.UG.SetEdge(g.UG.NewEdge(simple.Node(k[0]), simple.Node(k[1])))
	}
	return g, nil
}

// accumulateDirection registers every label change between a voxel and its
// neighbour at the given stride, averaging the probability values of the
// two voxels across the face.
func accumulateDirection(labels *volume.Labels, pmaps *volume.Volume, direction, stride int) map[edgeKey]*Stat {
	stats := make(map[edgeKey]*Stat)
	d, h, w := labels.Depth, labels.Height, labels.Width

	// Iterate all voxels that have an in-bounds neighbour along the
	// direction. Extents along the scan axis are shortened by one.
	zMax, yMax, xMax := d, h, w
	switch direction {
	case 0:
		zMax--
	case 1:
		yMax--
	case 2:
		xMax--
	}

	for z := 0; z < zMax; z++ {
		for y := 0; y < yMax; y++ {
			base := (z*h + y) * w
			for x := 0; x < xMax; x++ {
				i := base + x
				a := labels.Data[i]
				b := labels.Data[i+stride]
				if a == b || a == 0 || b == 0 {
					continue
				}
				k := edgeKey{a, b}
				if b < a {
					k = edgeKey{b, a}
				}
				value := (pmaps.Data[i] + pmaps.Data[i+stride]) / 2
				if s, ok := stats[k]; ok {
					s.Sum += value
					s.Count++
				} else {
					stats[k] = &Stat{Sum: value, Count: 1}
				}
			}
		}
	}
	return stats
}

// NumEdges returns the number of edges in the graph.
func (g *Graph) NumEdges() int {
	return len(g.stats)
}

// Feature returns the boundary statistics for edge (u, v) and whether the
// edge exists. Argument order does not matter.
func (g *Graph) Feature(u, v uint32) (Stat, bool) {
	if v < u {
		u, v = v, u
	}
	s, ok := g.stats[edgeKey{u, v}]
	if !ok {
		return Stat{}, false
	}
	return *s, true
}

// Edges returns all edges with their features, sorted by (U, V) so that
// downstream consumers see a deterministic order.
func (g *Graph) Edges() []EdgeFeature {
	edges := make([]EdgeFeature, 0, len(g.stats))
	for k, s := range g.stats {
		edges = append(edges, EdgeFeature{U: k[0], V: k[1], Mean: s.Mean(), Length: s.Count})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].U != edges[j].U {
			return edges[i].U < edges[j].U
		}
		return edges[i].V < edges[j].V
	})
	return edges
}

// Neighbors returns the labels adjacent to u in ascending order.
func (g *Graph) Neighbors(u uint32) []uint32 {
	it := g.UG.From(int64(u))
	var out []uint32
	for it.Next() {
		out = append(out, uint32(it.Node().ID()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Labels returns all node labels in ascending order.
func (g *Graph) Labels() []uint32 {
	it := g.UG.Nodes()
	out := make([]uint32, 0, g.NumNodes)
	for it.Next() {
		out = append(out, uint32(it.Node().ID()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
