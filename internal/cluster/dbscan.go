package cluster

import "github.com/thebtf/topica/pkg/vecmath"

// DBSCAN clusters unit-normalized vectors by density: points with at least
// minMembers neighbors within eps cosine distance grow clusters, everything
// unreachable gets the Outlier label and is excluded from all topics.
func DBSCAN(vs [][]float32, eps float64, minMembers int) []int {
	n := len(vs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Outlier
	}
	if n == 0 {
		return labels
	}
	if minMembers < 1 {
		minMembers = 1
	}

	visited := make([]bool, n)
	next := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(vs, i, eps)
		if len(neighbors) < minMembers {
			continue // stays an outlier unless a later cluster reaches it
		}

		labels[i] = next
		// Expand the cluster breadth-first over density-reachable points.
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if !visited[j] {
				visited[j] = true
				if jn := regionQuery(vs, j, eps); len(jn) >= minMembers {
					neighbors = append(neighbors, jn...)
				}
			}
			if labels[j] == Outlier {
				labels[j] = next
			}
		}
		next++
	}
	return labels
}

// regionQuery returns the indexes within eps cosine distance of point i,
// including i itself.
func regionQuery(vs [][]float32, i int, eps float64) []int {
	var out []int
	for j := range vs {
		if vecmath.CosineDistance(vs[i], vs[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}
