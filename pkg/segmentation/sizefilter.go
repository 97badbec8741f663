package segmentation

import (
	"sort"

	"pmapcut/pkg/rag"
	"pmapcut/pkg/volume"
)

// applySizeFilter merges every segment smaller than minSize into the
// neighbouring segment sharing the largest boundary surface (ties broken
// by the lower segment id), repeating until no segment is below the
// threshold or no eligible merge remains. Isolated undersized segments
// are left as-is. Labels are compacted to 1..n afterwards.
func applySizeFilter(labels *volume.Labels, pmaps *volume.Volume, minSize, workers int) error {
	for {
		graph, err := rag.Build(labels, pmaps, workers)
		if err != nil {
			return err
		}

		sizes := make(map[uint32]int)
		for _, label := range labels.Data {
			sizes[label]++
		}

		var small []uint32
		for _, label := range graph.Labels() {
			if sizes[label] < minSize {
				small = append(small, label)
			}
		}
		sort.Slice(small, func(i, j int) bool { return small[i] < small[j] })
		if len(small) == 0 {
			labels.Compact()
			return nil
		}

		parent := make(map[uint32]uint32)
		var find func(uint32) uint32
		find = func(u uint32) uint32 {
			p, ok := parent[u]
			if !ok || p == u {
				return u
			}
			root := find(p)
			parent[u] = root
			return root
		}

		merged := 0
		for _, u := range small {
			best := uint32(0)
			bestLength := 0.0
			for _, v := range graph.Neighbors(u) {
				if find(v) == find(u) {
					continue
				}
				stat, ok := graph.Feature(u, v)
				if !ok {
					continue
				}
				if stat.Count > bestLength || (stat.Count == bestLength && best != 0 && v < best) {
					best = v
					bestLength = stat.Count
				}
			}
			if best == 0 {
				// Isolated segment, nothing to merge into.
				continue
			}
			ru, rv := find(u), find(best)
			if ru == rv {
				continue
			}
			if rv < ru {
				ru, rv = rv, ru
			}
			parent[rv] = ru
			merged++
		}
		if merged == 0 {
			labels.Compact()
			return nil
		}
		for i, label := range labels.Data {
			labels.Data[i] = find(label)
		}
	}
}
