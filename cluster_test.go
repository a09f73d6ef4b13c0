// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"gopkg.in/check.v1"
)

type clusterSuite struct{}

var _ = check.Suite(&clusterSuite{})

func (s *clusterSuite) TestArgmaxCluster(c *check.C) {
	c.Check(argmaxCluster([]float64{0.1, 0.7, 0.2}), check.Equals, 1)
	// Ties go to the lowest index.
	c.Check(argmaxCluster([]float64{0.5, 0.5, 0.1}), check.Equals, 0)
	c.Check(argmaxCluster([]float64{0, 0, 0}), check.Equals, 0)
}

func (s *clusterSuite) TestClusterName(c *check.C) {
	c.Check(clusterName(0), check.Equals, "C1")
	c.Check(clusterName(3), check.Equals, "C4")
}

func (s *clusterSuite) TestSilhouetteWidths(c *check.C) {
	// Two tight, well-separated clusters: every width close to 1.
	coords := [][]float64{
		{0, 0}, {0, 0.1}, {0.1, 0},
		{10, 10}, {10, 10.1}, {10.1, 10},
	}
	cluster := []int{0, 0, 0, 1, 1, 1}
	widths := silhouetteWidths(coords, cluster, 2)
	for i, w := range widths {
		c.Check(w > 0.9, check.Equals, true, check.Commentf("i=%d w=%v", i, w))
	}

	// A point sitting midway scores near 0.
	coords = append(coords, []float64{5, 5})
	cluster = append(cluster, 0)
	widths = silhouetteWidths(coords, cluster, 2)
	c.Check(widths[6] < 0.5, check.Equals, true)
	c.Check(widths[6] > -0.5, check.Equals, true)
}

func (s *clusterSuite) TestSilhouetteCoincidentPoint(c *check.C) {
	// A point sitting exactly on another cluster (mean distance 0 to
	// it) is maximally misplaced: width -1, not 0.
	coords := [][]float64{{5, 5}, {0, 0}, {5, 5}, {5, 5}}
	widths := silhouetteWidths(coords, []int{0, 0, 1, 1}, 2)
	c.Check(widths[0], check.Equals, -1.0)
}

func (s *clusterSuite) TestSilhouetteSingleton(c *check.C) {
	coords := [][]float64{{0, 0}, {1, 1}, {1, 1.1}}
	widths := silhouetteWidths(coords, []int{0, 1, 1}, 2)
	c.Check(widths[0], check.Equals, 0.0)
	c.Check(widths[1] > 0.9, check.Equals, true)
}
