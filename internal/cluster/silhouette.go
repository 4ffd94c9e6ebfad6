package cluster

import (
	"math"

	"github.com/thebtf/topica/pkg/vecmath"
)

// Silhouette computes the mean silhouette coefficient over non-outlier
// points using cosine distance. It returns 0 when fewer than two non-trivial
// clusters exist or when every point sits in its own cluster, mirroring the
// cases where the metric is undefined.
func Silhouette(vs [][]float32, labels []int) float64 {
	// Collect non-outlier points per cluster.
	byCluster := make(map[int][]int)
	var points []int
	for i, l := range labels {
		if l == Outlier {
			continue
		}
		byCluster[l] = append(byCluster[l], i)
		points = append(points, i)
	}
	if len(byCluster) < 2 || len(points) <= len(byCluster) {
		return 0
	}

	var total float64
	var counted int
	for _, i := range points {
		own := byCluster[labels[i]]
		if len(own) == 1 {
			// Singleton clusters contribute 0 by convention.
			counted++
			continue
		}

		// a: mean distance to own cluster, excluding self.
		var a float64
		for _, j := range own {
			if j != i {
				a += vecmath.CosineDistance(vs[i], vs[j])
			}
		}
		a /= float64(len(own) - 1)

		// b: mean distance to the nearest other cluster.
		b := math.Inf(1)
		for l, members := range byCluster {
			if l == labels[i] {
				continue
			}
			var d float64
			for _, j := range members {
				d += vecmath.CosineDistance(vs[i], vs[j])
			}
			d /= float64(len(members))
			if d < b {
				b = d
			}
		}

		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
		counted++
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}
