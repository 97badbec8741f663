// Package multicut turns per-edge boundary evidence into signed cut costs
// and partitions the region adjacency graph by minimising the cost of the
// resulting multicut with a Kernighan-Lin style local search.
package multicut

import (
	"fmt"
	"math"

	"pmapcut/pkg/rag"
)

// probClip keeps probabilities away from 0 and 1 so the log-odds stay
// finite.
const probClip = 1e-3

// TransformProbabilitiesToCosts converts edge features into one signed
// cost per edge, in the same order as the input. The cost is the log-odds
// of the mean boundary probability re-centred at beta:
//
//	cost = w * (log(p/(1-p)) - log(beta/(1-beta)))
//
// so an edge whose mean probability equals beta costs exactly 0, higher
// probabilities give positive (cut-favouring) costs and lower ones give
// negative (merge-favouring) costs. Both p and beta are clipped to
// [1e-3, 1-1e-3] so the log-odds stay finite and the zero-cost point
// holds at the extremes. The weight w is the edge's boundary length
// divided by the largest boundary length in the graph, so small noisy
// boundaries cannot dominate the objective.
func TransformProbabilitiesToCosts(edges []rag.EdgeFeature, beta float64) ([]float64, error) {
	if beta <= 0 || beta >= 1 {
		return nil, fmt.Errorf("beta must lie strictly between 0 and 1, got %g", beta)
	}
	costs := make([]float64, len(edges))
	if len(edges) == 0 {
		return costs, nil
	}

	maxLength := 0.0
	for _, e := range edges {
		if e.Length > maxLength {
			maxLength = e.Length
		}
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("edge boundary lengths must be positive")
	}

	b := beta
	if b < probClip {
		b = probClip
	}
	if b > 1-probClip {
		b = 1 - probClip
	}
	betaOdds := math.Log(b / (1 - b))
	for i, e := range edges {
		p := e.Mean
		if p < probClip {
			p = probClip
		}
		if p > 1-probClip {
			p = 1 - probClip
		}
		costs[i] = (e.Length / maxLength) * (math.Log(p/(1-p)) - betaOdds)
	}
	return costs, nil
}
