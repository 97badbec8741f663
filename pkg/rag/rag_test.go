package rag

import (
	"testing"

	"pmapcut/pkg/volume"
)

// twoRegionFixture builds a 2x3x4 volume split into labels 1 (x < 2) and
// 2 (x >= 2), with a constant probability value.
func twoRegionFixture(t *testing.T, prob float64) (*volume.Labels, *volume.Volume) {
	t.Helper()
	labels, err := volume.NewLabels(2, 3, 4)
	if err != nil {
		t.Fatalf("NewLabels failed: %v", err)
	}
	pmaps, err := volume.New(2, 3, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				label := uint32(1)
				if x >= 2 {
					label = 2
				}
				labels.Set(z, y, x, label)
				pmaps.Set(z, y, x, prob)
			}
		}
	}
	return labels, pmaps
}

func TestTwoRegionsOneEdge(t *testing.T) {
	labels, pmaps := twoRegionFixture(t, 0.8)

	g, err := Build(labels, pmaps, 2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if g.NumNodes != 2 {
		t.Errorf("NumNodes = %d, want 2", g.NumNodes)
	}
	if g.NumEdges() != 1 {
		t.Fatalf("NumEdges = %d, want 1", g.NumEdges())
	}

	// The shared boundary is the x=1|x=2 plane: 2 slices x 3 rows.
	stat, ok := g.Feature(1, 2)
	if !ok {
		t.Fatal("edge (1,2) missing")
	}
	if stat.Count != 6 {
		t.Errorf("boundaryLength = %g, want 6", stat.Count)
	}
	if diff := stat.Mean() - 0.8; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("mean = %g, want 0.8", stat.Mean())
	}

	// Argument order must not matter.
	if _, ok := g.Feature(2, 1); !ok {
		t.Error("Feature(2,1) should find the same edge")
	}
}

func TestShapeMismatch(t *testing.T) {
	labels, _ := volume.NewLabels(1, 2, 2)
	pmaps, _ := volume.New(1, 3, 2)
	if _, err := Build(labels, pmaps, 1); err == nil {
		t.Error("expected error for mismatched shapes")
	}
}

func TestZeroLabelsIgnored(t *testing.T) {
	labels, _ := volume.NewLabels(1, 1, 4)
	copy(labels.Data, []uint32{1, 0, 0, 2})
	pmaps, _ := volume.New(1, 1, 4)

	g, err := Build(labels, pmaps, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if g.NumNodes != 2 {
		t.Errorf("NumNodes = %d, want 2", g.NumNodes)
	}
	// Regions 1 and 2 only touch unassigned voxels, never each other.
	if g.NumEdges() != 0 {
		t.Errorf("NumEdges = %d, want 0", g.NumEdges())
	}
}

func TestThreeRegionAdjacency(t *testing.T) {
	// 1 1 2 2
	// 3 3 2 2
	labels, _ := volume.NewLabels(1, 2, 4)
	copy(labels.Data, []uint32{1, 1, 2, 2, 3, 3, 2, 2})
	pmaps, _ := volume.New(1, 2, 4)
	for i := range pmaps.Data {
		pmaps.Data[i] = 0.5
	}

	g, err := Build(labels, pmaps, 3)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if g.NumEdges() != 3 {
		t.Fatalf("NumEdges = %d, want 3", g.NumEdges())
	}

	if got := g.Neighbors(2); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Neighbors(2) = %v, want [1 3]", got)
	}

	// Label 1 touches label 2 across one face and label 3 across two.
	if stat, _ := g.Feature(1, 2); stat.Count != 1 {
		t.Errorf("boundary (1,2) length = %g, want 1", stat.Count)
	}
	if stat, _ := g.Feature(1, 3); stat.Count != 2 {
		t.Errorf("boundary (1,3) length = %g, want 2", stat.Count)
	}
}

func TestEdgeValueAveragesFace(t *testing.T) {
	labels, _ := volume.NewLabels(1, 1, 2)
	copy(labels.Data, []uint32{1, 2})
	pmaps, _ := volume.New(1, 1, 2)
	copy(pmaps.Data, []float64{0.2, 0.6})

	g, err := Build(labels, pmaps, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	stat, ok := g.Feature(1, 2)
	if !ok {
		t.Fatal("edge (1,2) missing")
	}
	if diff := stat.Mean() - 0.4; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("mean = %g, want 0.4 (face average)", stat.Mean())
	}
}

func TestBuildDeterminism(t *testing.T) {
	labels, pmaps := twoRegionFixture(t, 0.3)
	// Perturb so edge means are not all equal.
	pmaps.Set(0, 1, 1, 0.9)
	pmaps.Set(1, 2, 2, 0.1)

	first, err := Build(labels, pmaps, 3)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := Build(labels, pmaps, 3)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		a, b := first.Edges(), again.Edges()
		if len(a) != len(b) {
			t.Fatalf("edge count changed between runs: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("edge %d differs between runs: %+v vs %+v", i, a[i], b[i])
			}
		}
	}
}

func TestLabelsSorted(t *testing.T) {
	labels, _ := volume.NewLabels(1, 1, 3)
	copy(labels.Data, []uint32{9, 4, 7})
	pmaps, _ := volume.New(1, 1, 3)

	g, err := Build(labels, pmaps, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got := g.Labels()
	want := []uint32{4, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("Labels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Labels = %v, want %v", got, want)
		}
	}
	if g.MaxLabel != 9 {
		t.Errorf("MaxLabel = %d, want 9", g.MaxLabel)
	}
}
