// Package cluster implements the daily batch clusterer: it partitions a
// day's embedded articles into topics, computes centroids and quality, and
// persists an atomic replacement of the date's topic set.
package cluster

import (
	"math/rand"

	"github.com/thebtf/topica/pkg/vecmath"
)

// Outlier is the reserved label for points no cluster claims. Only the
// density-based algorithm produces it.
const Outlier = -1

// kmeansSeed fixes the k-means initialization so repeated runs over the same
// articles produce the same partition.
const kmeansSeed = 42

// kmeansMaxIter bounds the refinement loop; spherical k-means on a few
// hundred points converges long before this.
const kmeansMaxIter = 100

// KMeans partitions unit-normalized vectors into k clusters using spherical
// k-means (cosine geometry) with k-means++ seeding from a fixed seed. k is
// clamped to the number of points.
func KMeans(vs [][]float32, k int) []int {
	n := len(vs)
	if n == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(kmeansSeed))
	centers := seedCenters(vs, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, v := range vs {
			best, bestSim := 0, vecmath.Dot(v, centers[0])
			for c := 1; c < k; c++ {
				if sim := vecmath.Dot(v, centers[c]); sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centers as re-normalized means. An emptied cluster keeps
		// its previous center rather than collapsing to zero.
		for c := 0; c < k; c++ {
			var members [][]float32
			for i, l := range labels {
				if l == c {
					members = append(members, vs[i])
				}
			}
			if len(members) > 0 {
				centers[c] = vecmath.Centroid(members)
			}
		}
	}
	return labels
}

// seedCenters picks k initial centers with k-means++ weighting: the first
// uniformly, the rest proportional to squared cosine distance from the
// nearest chosen center.
func seedCenters(vs [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(vs)
	centers := make([][]float32, 0, k)
	centers = append(centers, vs[rng.Intn(n)])

	dists := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, v := range vs {
			d := vecmath.CosineDistance(v, centers[0])
			for _, c := range centers[1:] {
				if dc := vecmath.CosineDistance(v, c); dc < d {
					d = dc
				}
			}
			dists[i] = d * d
			total += dists[i]
		}

		if total == 0 {
			// All points coincide with a chosen center; any point works.
			centers = append(centers, vs[rng.Intn(n)])
			continue
		}

		target := rng.Float64() * total
		var acc float64
		picked := n - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				picked = i
				break
			}
		}
		centers = append(centers, vs[picked])
	}
	return centers
}
