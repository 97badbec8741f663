// Package watershed generates the initial over-segmentation of a boundary
// probability volume using a distance-transform watershed: the smoothed
// volume is thresholded into a boundary mask, a Euclidean distance
// transform is computed away from the boundary, and basins are flooded
// outward from the local maxima of that transform. Regions smaller than a
// minimum size are merged into their most similar neighbour afterwards.
//
// The watershed runs either over the full 3D volume or independently per
// z-slice; slice mode stitches per-slice labels into a globally unique
// label space with a running offset and deliberately performs no
// cross-slice merging (the multicut stage joins slice-wise superpixels
// through the adjacency edges that span slice boundaries).
package watershed

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"pmapcut/pkg/filter"
	"pmapcut/pkg/rag"
	"pmapcut/pkg/volume"
)

// Params configures the distance-transform watershed.
type Params struct {
	// Threshold is the probability above which a voxel counts as boundary
	// when seeding basins. Must lie in [0, 1].
	Threshold float64

	// MinSize is the minimum voxel count of a superpixel; smaller regions
	// are merged into the neighbour with the lowest mean boundary
	// probability. Must be non-negative.
	MinSize int

	// Sigma is the Gaussian scale used to smooth the volume before
	// thresholding and seeding. Must be non-negative.
	Sigma float64

	// WeightSigma optionally smooths the flooding height map with a
	// separate Gaussian scale. Zero means the Sigma-smoothed volume is
	// used directly. Must be non-negative.
	WeightSigma float64
}

// Validate rejects parameters outside their stated domains.
func (p Params) Validate() error {
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("watershed threshold must be in [0, 1], got %g", p.Threshold)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("watershed min size must be non-negative, got %d", p.MinSize)
	}
	if p.Sigma < 0 {
		return fmt.Errorf("watershed sigma must be non-negative, got %g", p.Sigma)
	}
	if p.WeightSigma < 0 {
		return fmt.Errorf("watershed weight sigma must be non-negative, got %g", p.WeightSigma)
	}
	return nil
}

// Run3D applies a single distance-transform watershed over the whole
// volume and returns the superpixel map. Labels are contiguous starting
// at 1; label 0 never appears in the result.
func Run3D(pmaps *volume.Volume, p Params) (*volume.Labels, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	smoothed, err := filter.Gaussian(pmaps, p.Sigma)
	if err != nil {
		return nil, err
	}

	height := smoothed
	if p.WeightSigma > 0 {
		height, err = filter.Gaussian(pmaps, p.WeightSigma)
		if err != nil {
			return nil, err
		}
	}

	boundary := make([]bool, smoothed.Len())
	numBoundary := 0
	for i, v := range smoothed.Data {
		if v > p.Threshold {
			boundary[i] = true
			numBoundary++
		}
	}

	labels, err := volume.NewLabels(pmaps.Depth, pmaps.Height, pmaps.Width)
	if err != nil {
		return nil, err
	}

	// With no boundary evidence at all, or nothing but boundary, there is
	// exactly one basin.
	if numBoundary == 0 || numBoundary == labels.Len() {
		for i := range labels.Data {
			labels.Data[i] = 1
		}
		return labels, nil
	}

	dist := squaredDistanceTransform(boundary, pmaps.Depth, pmaps.Height, pmaps.Width)
	numSeeds := seedFromMaxima(dist, labels)
	if numSeeds == 0 {
		for i := range labels.Data {
			labels.Data[i] = 1
		}
		return labels, nil
	}

	flood(height, labels)

	if p.MinSize > 1 {
		if err := mergeSmallRegions(labels, pmaps, p.MinSize); err != nil {
			return nil, err
		}
	}
	return labels, nil
}

// sliceResult carries one slice's watershed output back to the stitching
// fold in RunSlices.
type sliceResult struct {
	z        int
	labels   *volume.Labels
	maxLabel uint32
	err      error
}

// RunSlices applies the 2D watershed independently to every z-slice on up
// to workers goroutines, then stitches the slices together sequentially,
// adding to each slice's labels a running offset equal to the maximum
// label emitted so far. Superpixels never span slices; joining them is
// the multicut stage's job.
func RunSlices(pmaps *volume.Volume, p Params, workers int) (*volume.Labels, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]sliceResult, pmaps.Depth)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for z := 0; z < pmaps.Depth; z++ {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			slice, err := pmaps.ZSlice(z)
			if err != nil {
				results[z] = sliceResult{z: z, err: err}
				return
			}
			labels, err := Run3D(slice, p)
			if err != nil {
				results[z] = sliceResult{z: z, err: err}
				return
			}
			results[z] = sliceResult{z: z, labels: labels, maxLabel: labels.Max()}
		}(z)
	}
	wg.Wait()

	// Fold: thread the running label offset through the slices in order.
	out, err := volume.NewLabels(pmaps.Depth, pmaps.Height, pmaps.Width)
	if err != nil {
		return nil, err
	}
	var offset uint32
	for z := 0; z < pmaps.Depth; z++ {
		res := results[z]
		if res.err != nil {
			return nil, fmt.Errorf("watershed failed on slice %d: %w", z, res.err)
		}
		if err := out.SetZSlice(z, res.labels, offset); err != nil {
			return nil, err
		}
		offset += res.maxLabel
	}
	return out, nil
}

const inf = 1e20

// squaredDistanceTransform computes the exact squared Euclidean distance
// from every voxel to the nearest boundary voxel, using the separable
// lower-envelope transform applied along each axis in turn.
func squaredDistanceTransform(boundary []bool, depth, height, width int) []float64 {
	dist := make([]float64, len(boundary))
	for i, b := range boundary {
		if b {
			dist[i] = 0
		} else {
			dist[i] = inf
		}
	}

	type axis struct{ extent, stride int }
	axes := []axis{
		{width, 1},
		{height, width},
		{depth, height * width},
	}

	f := make([]float64, maxInt(width, maxInt(height, depth)))
	d := make([]float64, len(f))
	vtx := make([]int, len(f))
	z := make([]float64, len(f)+1)

	for _, ax := range axes {
		if ax.extent == 1 {
			continue
		}
		forEachLineIdx(depth, height, width, ax.extent, ax.stride, func(base int) {
			for i := 0; i < ax.extent; i++ {
				f[i] = dist[base+i*ax.stride]
			}
			transform1D(f[:ax.extent], d[:ax.extent], vtx, z)
			for i := 0; i < ax.extent; i++ {
				dist[base+i*ax.stride] = d[i]
			}
		})
	}
	return dist
}

// transform1D is the 1D squared distance transform of Felzenszwalb and
// Huttenlocher: the lower envelope of parabolas rooted at (i, f[i]).
func transform1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = -inf
	z[1] = inf
	for q := 1; q < n; q++ {
		var s float64
		for {
			p := v[k]
			s = ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
			if s > z[k] {
				break
			}
			k--
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = inf
	}
	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// forEachLineIdx invokes fn with the base flat index of every line of the
// given extent and stride through a depth*height*width grid.
func forEachLineIdx(depth, height, width, extent, stride int, fn func(base int)) {
	switch stride {
	case 1:
		for z := 0; z < depth; z++ {
			for y := 0; y < height; y++ {
				fn((z*height + y) * width)
			}
		}
	case width:
		for z := 0; z < depth; z++ {
			for x := 0; x < width; x++ {
				fn(z*height*width + x)
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				fn(y*width + x)
			}
		}
	}
}

// seedFromMaxima marks the local maxima of the distance transform
// (26-neighbourhood, plateau tolerant) and labels their connected
// components 1..n by breadth-first search in ascending voxel order.
// It returns the number of seed components.
func seedFromMaxima(dist []float64, labels *volume.Labels) int {
	d, h, w := labels.Depth, labels.Height, labels.Width

	isMax := make([]bool, len(dist))
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := (z*h+y)*w + x
				if dist[i] <= 0 {
					continue
				}
				max := true
			scan:
				for dz := -1; dz <= 1; dz++ {
					for dy := -1; dy <= 1; dy++ {
						for dx := -1; dx <= 1; dx++ {
							if dz == 0 && dy == 0 && dx == 0 {
								continue
							}
							nz, ny, nx := z+dz, y+dy, x+dx
							if nz < 0 || nz >= d || ny < 0 || ny >= h || nx < 0 || nx >= w {
								continue
							}
							if dist[(nz*h+ny)*w+nx] > dist[i] {
								max = false
								break scan
							}
						}
					}
				}
				isMax[i] = max
			}
		}
	}

	var next uint32
	queue := make([]int, 0, 256)
	for start := range isMax {
		if !isMax[start] || labels.Data[start] != 0 {
			continue
		}
		next++
		labels.Data[start] = next
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			z := i / (h * w)
			y := (i / w) % h
			x := i % w
			for dz := -1; dz <= 1; dz++ {
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nz, ny, nx := z+dz, y+dy, x+dx
						if nz < 0 || nz >= d || ny < 0 || ny >= h || nx < 0 || nx >= w {
							continue
						}
						n := (nz*h+ny)*w + nx
						if isMax[n] && labels.Data[n] == 0 {
							labels.Data[n] = next
							queue = append(queue, n)
						}
					}
				}
			}
		}
	}
	return int(next)
}

// floodItem is one candidate voxel in the flooding queue.
type floodItem struct {
	height float64
	idx    int
	label  uint32
}

// floodQueue is a min-heap ordered by height, with the flat voxel index
// and then the label as deterministic tie-breaks.
type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].height != q[j].height {
		return q[i].height < q[j].height
	}
	if q[i].idx != q[j].idx {
		return q[i].idx < q[j].idx
	}
	return q[i].label < q[j].label
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }

func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// flood grows the seed labels outward over the height map until every
// voxel is assigned, visiting lower values first. Growth uses face
// (6-way) connectivity so that region adjacency matches the RAG scan.
func flood(height *volume.Volume, labels *volume.Labels) {
	d, h, w := labels.Depth, labels.Height, labels.Width
	q := make(floodQueue, 0, 1024)

	pushNeighbors := func(i int, label uint32) {
		z := i / (h * w)
		y := (i / w) % h
		x := i % w
		if z > 0 && labels.Data[i-h*w] == 0 {
			heap.Push(&q, floodItem{height.Data[i-h*w], i - h*w, label})
		}
		if z < d-1 && labels.Data[i+h*w] == 0 {
			heap.Push(&q, floodItem{height.Data[i+h*w], i + h*w, label})
		}
		if y > 0 && labels.Data[i-w] == 0 {
			heap.Push(&q, floodItem{height.Data[i-w], i - w, label})
		}
		if y < h-1 && labels.Data[i+w] == 0 {
			heap.Push(&q, floodItem{height.Data[i+w], i + w, label})
		}
		if x > 0 && labels.Data[i-1] == 0 {
			heap.Push(&q, floodItem{height.Data[i-1], i - 1, label})
		}
		if x < w-1 && labels.Data[i+1] == 0 {
			heap.Push(&q, floodItem{height.Data[i+1], i + 1, label})
		}
	}

	for i, label := range labels.Data {
		if label != 0 {
			pushNeighbors(i, label)
		}
	}
	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		if labels.Data[item.idx] != 0 {
			continue
		}
		labels.Data[item.idx] = item.label
		pushNeighbors(item.idx, item.label)
	}
}

// mergeSmallRegions repeatedly merges every region smaller than minSize
// into the adjacent region with the lowest mean boundary probability
// (ties to the lower label), then compacts labels to 1..n. Regions with
// no neighbours are left alone.
func mergeSmallRegions(labels *volume.Labels, pmaps *volume.Volume, minSize int) error {
	for {
		graph, err := rag.Build(labels, pmaps, 1)
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
			bestMean := 0.0
			for _, v := range graph.Neighbors(u) {
				if find(v) == find(u) {
					continue
				}
				stat, ok := graph.Feature(u, v)
				if !ok {
					continue
				}
				if best == 0 || stat.Mean() < bestMean || (stat.Mean() == bestMean && v < best) {
					best = v
					bestMean = stat.Mean()
				}
			}
			if best == 0 {
				continue
			}
			ru, rv := find(u), find(best)
			if ru == rv {
				continue
			}
			// Keep the lower root so repeated merges stay deterministic.
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
			if label != 0 {
				labels.Data[i] = find(label)
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
