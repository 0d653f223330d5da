package kde

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"
)

// bruteKNN returns the distance from every point to its k-th nearest other
// point.
func bruteKNN(points [][]float64, k int, metric DistanceMetric) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		var ds []float64
		for j, q := range points {
			if j != i {
				ds = append(ds, metric.Distance(p, q))
			}
		}
		sort.Float64s(ds)
		out[i] = ds[k-1]
	}
	return out
}

func TestKNNBandwidths_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(81, 82))
	pts := randomPoints(rng, 300, 3, 10)
	for _, kind := range []TreeKind{KDTree, BallTree} {
		for _, metric := range []DistanceMetric{EuclideanMetric{}, ManhattanMetric{}} {
			ref := mustTree(t, pts, TreeConfig{Kind: kind, LeafSize: 7, Metric: metric})
			for _, k := range []int{1, 4, 20} {
				got, err := KNNBandwidths(ref, k)
				if err != nil {
					t.Fatalf("%s k=%d: %v", kind, k, err)
				}
				want := bruteKNN(pts, k, metric)
				for i := range want {
					if !almostEqual(got[i], want[i], floatTol) {
						t.Fatalf("%s/%T k=%d: point %d: %v, want %v", kind, metric, k, i, got[i], want[i])
					}
				}
			}
		}
	}
}

func TestKNNBandwidths_SmallTree(t *testing.T) {
	pts := [][]float64{{0}, {1}, {3}, {7}}
	ref := mustTree(t, pts, TreeConfig{LeafSize: 1})
	got, err := KNNBandwidths(ref, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{3, 2, 3, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d: %v, want %v", i, got[i], want[i])
		}
	}
}

func TestKNNBandwidths_Errors(t *testing.T) {
	ref := mustTree(t, [][]float64{{0}, {1}, {2}}, TreeConfig{})
	dup := mustTree(t, [][]float64{{0}, {0}, {5}, {6}}, TreeConfig{})
	tests := []struct {
		name string
		tree *Tree
		k    int
		want error
	}{
		{"nil tree", nil, 1, ErrInvalidInput},
		{"zero k", ref, 0, ErrConfiguration},
		{"negative k", ref, -2, ErrConfiguration},
		{"k equals n", ref, 3, ErrInvalidInput},
		{"duplicate point", dup, 1, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := KNNBandwidths(tt.tree, tt.k); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := KNNBandwidths(dup, 2); err != nil {
		t.Errorf("k past the duplicates: %v", err)
	}
}
