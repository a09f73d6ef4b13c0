// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// clusterName formats a zero-based cluster index as the categorical
// label used everywhere downstream ("C1", "C2", ...).
func clusterName(k int) string { return fmt.Sprintf("C%d", k+1) }

// argmaxCluster returns the index of the largest coefficient; ties go
// to the lowest index so assignment is stable.
func argmaxCluster(col []float64) int {
	best := 0
	for k, v := range col {
		if v > col[best] {
			best = k
		}
	}
	return best
}

// silhouetteWidths returns the silhouette width of every point:
// (b-a)/max(a,b) where a is the mean distance to the point's own
// cluster and b the smallest mean distance to any other cluster.
// Points in singleton clusters score 0, the usual convention.
func silhouetteWidths(coords [][]float64, cluster []int, k int) []float64 {
	n := len(coords)
	size := make([]int, k)
	for _, c := range cluster {
		size[c]++
	}
	out := make([]float64, n)
	sum := make([]float64, k)
	for i := 0; i < n; i++ {
		if size[cluster[i]] < 2 {
			continue
		}
		for c := range sum {
			sum[c] = 0
		}
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			sum[cluster[j]] += floats.Distance(coords[i], coords[j], 2)
		}
		own := cluster[i]
		a := sum[own] / float64(size[own]-1)
		b := 0.0
		haveB := false
		for c := 0; c < k; c++ {
			if c == own || size[c] == 0 {
				continue
			}
			mean := sum[c] / float64(size[c])
			if !haveB || mean < b {
				b = mean
				haveB = true
			}
		}
		if !haveB {
			// No other non-empty cluster.
			continue
		}
		switch {
		case a > b:
			out[i] = (b - a) / a
		case a < b:
			out[i] = (b - a) / b
		}
	}
	return out
}
