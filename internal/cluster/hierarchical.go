package cluster

import (
	"math"

	"github.com/thebtf/topica/pkg/vecmath"
)

// Hierarchical runs average-linkage agglomerative clustering over cosine
// distance, merging until the closest pair of clusters is further apart than
// distanceThreshold.
func Hierarchical(vs [][]float32, distanceThreshold float64) []int {
	return agglomerate(vs, distanceThreshold, 0)
}

// HierarchicalK runs average-linkage agglomerative clustering down to
// exactly k clusters, ignoring any distance threshold. The batch clusterer
// uses this to clamp the cluster count to the configured band when the
// threshold cut lands outside it.
func HierarchicalK(vs [][]float32, k int) []int {
	if k < 1 {
		k = 1
	}
	return agglomerate(vs, math.Inf(1), k)
}

// agglomerate merges clusters bottom-up. With targetK == 0 it stops when the
// minimum pairwise distance exceeds maxDistance; otherwise it merges until
// exactly targetK clusters remain. Average linkage is maintained with the
// Lance-Williams update so merged distances stay exact without rescanning
// members.
func agglomerate(vs [][]float32, maxDistance float64, targetK int) []int {
	n := len(vs)
	if n == 0 {
		return nil
	}

	labels := make([]int, n)
	sizes := make([]int, n)
	active := make([]bool, n)
	for i := range vs {
		labels[i] = i
		sizes[i] = 1
		active[i] = true
	}
	remaining := n

	// Pairwise average-linkage distances, dist[i][j] valid for i < j.
	dist := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		for j := i + 1; j < n; j++ {
			dist[i][j] = vecmath.CosineDistance(vs[i], vs[j])
		}
	}

	get := func(i, j int) float64 {
		if i > j {
			i, j = j, i
		}
		return dist[i][j]
	}
	set := func(i, j int, d float64) {
		if i > j {
			i, j = j, i
		}
		dist[i][j] = d
	}

	for remaining > 1 {
		if targetK > 0 && remaining <= targetK {
			break
		}

		// Closest active pair.
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if d := get(i, j); d < best {
					bi, bj, best = i, j, d
				}
			}
		}
		if bi < 0 || (targetK == 0 && best > maxDistance) {
			break
		}

		// Merge bj into bi; average linkage weights by member counts.
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			merged := (get(bi, k)*float64(sizes[bi]) + get(bj, k)*float64(sizes[bj])) /
				float64(sizes[bi]+sizes[bj])
			set(bi, k, merged)
		}
		sizes[bi] += sizes[bj]
		active[bj] = false
		remaining--
		for i := range labels {
			if labels[i] == bj {
				labels[i] = bi
			}
		}
	}

	return compactLabels(labels)
}

// compactLabels renumbers arbitrary cluster ids to 0..k-1 in first-seen
// order, leaving Outlier labels untouched.
func compactLabels(labels []int) []int {
	out := make([]int, len(labels))
	seen := make(map[int]int)
	for i, l := range labels {
		if l == Outlier {
			out[i] = Outlier
			continue
		}
		id, ok := seen[l]
		if !ok {
			id = len(seen)
			seen[l] = id
		}
		out[i] = id
	}
	return out
}

// countClusters returns the number of distinct non-outlier labels.
func countClusters(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l != Outlier {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}
