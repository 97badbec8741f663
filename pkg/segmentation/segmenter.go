// Package segmentation wires the pipeline stages together: watershed
// superpixels, region adjacency graph, cost transform, multicut solve,
// label projection and the size-based post-filter. The package owns no
// I/O; it consumes a decoded probability volume and hands a label volume
// back to the caller for persistence.
package segmentation

import (
	"runtime"
	"time"

	"gonum.org/v1/gonum/stat"

	"pmapcut/pkg/multicut"
	"pmapcut/pkg/rag"
	"pmapcut/pkg/volume"
	"pmapcut/pkg/watershed"
)

// Params holds the full pipeline configuration.
type Params struct {
	// Beta biases the multicut toward over- (beta near 1) or under-
	// segmentation (beta near 0). Must lie strictly between 0 and 1.
	Beta float64

	// RunWatershed selects whether Segment generates superpixels itself.
	// When false the caller must provide a precomputed superpixel map via
	// SegmentWithSuperpixels.
	RunWatershed bool

	// SliceBySlice runs the watershed independently per z-slice instead
	// of over the full volume. Useful when z resolution is coarse
	// relative to xy.
	SliceBySlice bool

	// Threshold, MinSize, Sigma and WeightSigma configure the watershed;
	// see watershed.Params.
	Threshold   float64
	MinSize     int
	Sigma       float64
	WeightSigma float64

	// PostMinSize is the minimum segment size enforced after multicut.
	// Values at or below MinSize make the post-filter a no-op, since the
	// watershed already guaranteed the looser bound.
	PostMinSize int

	// MaxIterations caps the solver's local-search passes.
	MaxIterations int

	// Workers bounds the goroutines used by the parallel stages
	// (per-slice watershed and edge-feature accumulation). The solver
	// itself is always single-threaded.
	Workers int
}

// DefaultParams returns the documented default configuration.
func DefaultParams() Params {
	return Params{
		Beta:          0.5,
		RunWatershed:  true,
		SliceBySlice:  true,
		Threshold:     0.5,
		MinSize:       50,
		Sigma:         2.0,
		WeightSigma:   0,
		PostMinSize:   50,
		MaxIterations: 100,
		Workers:       runtime.NumCPU(),
	}
}

// Validate rejects any parameter outside its stated domain.
func (p Params) Validate() error {
	if p.Beta <= 0 || p.Beta >= 1 {
		return &ConfigError{Param: "beta", Value: p.Beta, Reason: "must lie strictly between 0 and 1"}
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return &ConfigError{Param: "threshold", Value: p.Threshold, Reason: "must lie in [0, 1]"}
	}
	if p.MinSize < 0 {
		return &ConfigError{Param: "minSize", Value: p.MinSize, Reason: "must be non-negative"}
	}
	if p.Sigma < 0 {
		return &ConfigError{Param: "smoothingSigma", Value: p.Sigma, Reason: "must be non-negative"}
	}
	if p.WeightSigma < 0 {
		return &ConfigError{Param: "weightSmoothingSigma", Value: p.WeightSigma, Reason: "must be non-negative"}
	}
	if p.PostMinSize < 0 {
		return &ConfigError{Param: "postMinSize", Value: p.PostMinSize, Reason: "must be non-negative"}
	}
	if p.MaxIterations < 1 {
		return &ConfigError{Param: "maxIterations", Value: p.MaxIterations, Reason: "must be at least 1"}
	}
	if p.Workers < 1 {
		return &ConfigError{Param: "workers", Value: p.Workers, Reason: "must be at least 1"}
	}
	return nil
}

// Stats records what one segmentation run did. Degenerate graphs and
// solver non-convergence are reported here rather than as errors: the
// returned segmentation is valid either way.
type Stats struct {
	NumSuperpixels  int
	NumEdges        int
	NumSegments     int
	MeanSegmentSize float64

	// SolverPasses counts local-search passes; Converged is false when
	// the pass cap was hit before a fixed point, in which case the best
	// partition found was used.
	SolverPasses int
	Converged    bool

	// Degenerate is set when the superpixel map gave the solver nothing
	// to decide (no superpixels or no adjacency edges).
	Degenerate bool

	WatershedTime time.Duration
	GraphTime     time.Duration
	SolveTime     time.Duration
	FilterTime    time.Duration
	Total         time.Duration
}

// Segmenter runs the multicut segmentation pipeline. It is stateless per
// call; the same instance may segment any number of volumes.
type Segmenter struct {
	params Params
}

// NewSegmenter validates the configuration and returns a segmenter.
func NewSegmenter(params Params) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{params: params}, nil
}

// Params returns the segmenter's configuration.
func (s *Segmenter) Params() Params {
	return s.params
}

// Segment converts a boundary probability volume into an instance
// segmentation: watershed superpixels, RAG with edge features, costs,
// multicut, projection and size filtering. Values are expected in
// [0, 1]; the caller handles any decoding and normalisation beforehand.
func (s *Segmenter) Segment(pmaps *volume.Volume) (*volume.Labels, *Stats, error) {
	if err := checkVolume(pmaps); err != nil {
		return nil, nil, err
	}
	if !s.params.RunWatershed {
		return nil, nil, &ConfigError{
			Param: "runWatershed", Value: false,
			Reason: "Segment generates superpixels; use SegmentWithSuperpixels to supply them",
		}
	}

	start := time.Now()
	wp := watershed.Params{
		Threshold:   s.params.Threshold,
		MinSize:     s.params.MinSize,
		Sigma:       s.params.Sigma,
		WeightSigma: s.params.WeightSigma,
	}

	var superpixels *volume.Labels
	var err error
	if s.params.SliceBySlice {
		superpixels, err = watershed.RunSlices(pmaps, wp, s.params.Workers)
	} else {
		superpixels, err = watershed.Run3D(pmaps, wp)
	}
	if err != nil {
		return nil, nil, err
	}
	wsTime := time.Since(start)

	labels, stats, err := s.SegmentWithSuperpixels(pmaps, superpixels)
	if err != nil {
		return nil, nil, err
	}
	stats.WatershedTime = wsTime
	stats.Total = time.Since(start)
	return labels, stats, nil
}

// SegmentWithSuperpixels runs the graph stages of the pipeline on a
// precomputed superpixel map. The map must cover every voxel with a
// non-zero label; an all-zero map counts as the zero-superpixel
// degenerate case and yields a single-segment result.
func (s *Segmenter) SegmentWithSuperpixels(pmaps *volume.Volume, superpixels *volume.Labels) (*volume.Labels, *Stats, error) {
	if err := checkVolume(pmaps); err != nil {
		return nil, nil, err
	}
	if !volume.SameShape(pmaps, superpixels) {
		return nil, nil, &ShapeError{Reason: "superpixel map does not match probability volume"}
	}

	start := time.Now()
	stats := &Stats{Converged: true}

	unassigned := 0
	for _, label := range superpixels.Data {
		if label == 0 {
			unassigned++
		}
	}
	if unassigned == superpixels.Len() {
		out, err := volume.NewLabels(pmaps.Depth, pmaps.Height, pmaps.Width)
		if err != nil {
			return nil, nil, err
		}
		for i := range out.Data {
			out.Data[i] = 1
		}
		stats.Degenerate = true
		stats.NumSegments = 1
		stats.MeanSegmentSize = float64(out.Len())
		stats.Total = time.Since(start)
		return out, stats, nil
	}
	if unassigned > 0 {
		return nil, nil, &ShapeError{Reason: "superpixel map contains unassigned (zero) voxels"}
	}

	graphStart := time.Now()
	graph, err := rag.Build(superpixels, pmaps, s.params.Workers)
	if err != nil {
		return nil, nil, err
	}
	stats.GraphTime = time.Since(graphStart)
	stats.NumSuperpixels = graph.NumNodes
	stats.NumEdges = graph.NumEdges()

	costs, err := multicut.TransformProbabilitiesToCosts(graph.Edges(), s.params.Beta)
	if err != nil {
		return nil, nil, err
	}

	solveStart := time.Now()
	solution, err := multicut.Solve(graph, costs, s.params.MaxIterations)
	if err != nil {
		return nil, nil, err
	}
	stats.SolveTime = time.Since(solveStart)
	stats.SolverPasses = solution.Passes
	stats.Converged = solution.Converged
	if stats.NumEdges == 0 {
		stats.Degenerate = true
	}

	out, err := project(superpixels, solution.NodeLabels)
	if err != nil {
		return nil, nil, err
	}

	filterStart := time.Now()
	if s.params.PostMinSize > s.params.MinSize {
		if err := applySizeFilter(out, pmaps, s.params.PostMinSize, s.params.Workers); err != nil {
			return nil, nil, err
		}
	}
	stats.FilterTime = time.Since(filterStart)

	finalizeStats(out, stats)
	stats.Total = time.Since(start)
	return out, stats, nil
}

// project substitutes each superpixel label with its node-labelling
// value, producing the voxel-level segmentation.
func project(superpixels *volume.Labels, nodeLabels map[uint32]uint32) (*volume.Labels, error) {
	out, err := volume.NewLabels(superpixels.Depth, superpixels.Height, superpixels.Width)
	if err != nil {
		return nil, err
	}
	for i, label := range superpixels.Data {
		out.Data[i] = nodeLabels[label]
	}
	return out, nil
}

// finalizeStats fills the segment-count statistics from the finished
// label volume.
func finalizeStats(labels *volume.Labels, stats *Stats) {
	sizes := make(map[uint32]int)
	for _, label := range labels.Data {
		sizes[label]++
	}
	stats.NumSegments = len(sizes)
	values := make([]float64, 0, len(sizes))
	for _, n := range sizes {
		values = append(values, float64(n))
	}
	if len(values) > 0 {
		stats.MeanSegmentSize = stat.Mean(values, nil)
	}
}

// checkVolume rejects volumes the pipeline cannot process.
func checkVolume(pmaps *volume.Volume) error {
	if pmaps == nil || len(pmaps.Data) == 0 {
		return &ShapeError{Reason: "probability volume is empty"}
	}
	if pmaps.Depth <= 0 || pmaps.Height <= 0 || pmaps.Width <= 0 {
		return &ShapeError{Reason: "probability volume dimensions must be positive"}
	}
	if len(pmaps.Data) != pmaps.Len() {
		return &ShapeError{Reason: "probability volume data does not match its dimensions"}
	}
	return nil
}
