// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"math"

	"gopkg.in/check.v1"
)

type consensusSuite struct{}

var _ = check.Suite(&consensusSuite{})

func (s *consensusSuite) TestRanks(c *check.C) {
	c.Check(ranks([]float64{3, 1, 1, 2}), check.DeepEquals, []float64{3, 0.5, 0.5, 2})
	c.Check(ranks([]float64{5}), check.DeepEquals, []float64{0})
	c.Check(ranks([]float64{7, 7, 7}), check.DeepEquals, []float64{1, 1, 1})
}

func consensusFixture() (*Dataset, *SubtypeModel) {
	// Patient PA follows centroid one exactly. Patient PB's rank
	// pattern is chosen to have zero Spearman correlation with both
	// centroids, so its class probabilities come out exactly even.
	ds := &Dataset{
		Patients: []Patient{{CaseID: "PA"}, {CaseID: "PB"}},
		Genes: []Gene{
			{EnsemblID: "g1", EntrezID: 11},
			{EnsemblID: "g2", EntrezID: 22},
			{EnsemblID: "g3", EntrezID: 33},
			{EnsemblID: "g4", EntrezID: 44},
		},
		Counts: []int32{
			10, 20,
			20, 40,
			30, 10,
			40, 30,
		},
	}
	sm := &SubtypeModel{
		Labels:    []string{"differentiated", "mesenchymal"},
		EntrezIDs: []int{11, 22, 33, 44},
		Centroids: [][]float64{
			{1, 2, 3, 4},
			{4, 3, 2, 1},
		},
	}
	return ds, sm
}

func (s *consensusSuite) TestClassify(c *check.C) {
	ds, sm := consensusFixture()
	c.Assert(ds.Check(), check.IsNil)
	c.Assert(sm.Check(), check.IsNil)

	cs, err := classify(ds, sm)
	c.Assert(err, check.IsNil)
	c.Assert(cs.Calls, check.HasLen, 2)

	pa := cs.Calls[0]
	c.Check(pa.PatientID, check.Equals, "PA")
	c.Check(pa.Label, check.Equals, "differentiated")
	c.Check(math.Abs(pa.Probs[0]-1) < 1e-9, check.Equals, true)
	c.Check(pa.Probs[1] < 1e-9, check.Equals, true)

	pb := cs.Calls[1]
	c.Check(pb.PatientID, check.Equals, "PB")
	c.Check(math.Abs(pb.Probs[0]-0.5) < 1e-9, check.Equals, true)
	c.Check(math.Abs(pb.Probs[1]-0.5) < 1e-9, check.Equals, true)
}

func (s *consensusSuite) TestConfidenceBoundary(c *check.C) {
	cs := &CallSet{
		Labels: []string{"a", "b"},
		Calls: []SubtypeCall{
			{PatientID: "p1", Label: "a", Probs: []float64{0.9, 0.1}},
			{PatientID: "p2", Label: "a", Probs: []float64{0.5, 0.5}},
			{PatientID: "p3", Label: "b", Probs: []float64{0.4999, 0.4999}},
		},
	}
	// Exactly the threshold counts as confident.
	n := applyConfidence(cs, 0.5)
	c.Check(n, check.Equals, 2)
	c.Check(cs.Confident, check.DeepEquals, []bool{true, true, false})
	c.Check(cs.MinProb, check.Equals, 0.5)
}

func (s *consensusSuite) TestClassifyNoSharedGenes(c *check.C) {
	ds, sm := consensusFixture()
	for i := range ds.Genes {
		ds.Genes[i].EntrezID = 0
	}
	_, err := classify(ds, sm)
	c.Check(err, check.ErrorMatches, `only 0 model genes present in dataset`)
}

func (s *consensusSuite) TestSubtypeModelCheck(c *check.C) {
	sm := &SubtypeModel{Labels: []string{"one"}}
	c.Check(sm.Check(), check.ErrorMatches, `subtype model has 1 labels`)
	sm = &SubtypeModel{
		Labels:    []string{"a", "b"},
		EntrezIDs: []int{1, 2},
		Centroids: [][]float64{{1, 2}},
	}
	c.Check(sm.Check(), check.ErrorMatches, `subtype model has 1 centroids for 2 labels`)
	sm.Centroids = append(sm.Centroids, []float64{1})
	c.Check(sm.Check(), check.ErrorMatches, `centroid b has 1 entries for 2 genes`)
}
