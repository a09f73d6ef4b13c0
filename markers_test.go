// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"math"

	"gopkg.in/check.v1"
)

type markersSuite struct{}

var _ = check.Suite(&markersSuite{})

// markerFixture returns an 8-patient, 3-gene dataset with two obvious
// expression blocks (patients 1-4 vs 5-8) and an NMF model assigning
// exactly those blocks to C1 and C2. The design is symmetric between
// the groups so the housekeeping gene has identical group means.
func markerFixture() (*Dataset, *Model) {
	ds := &Dataset{
		Genes: []Gene{
			{EnsemblID: "ENSG00000000101", EntrezID: 101, Symbol: "MKA"},
			{EnsemblID: "ENSG00000000102", EntrezID: 102, Symbol: "MKB"},
			{EnsemblID: "ENSG00000000103", EntrezID: 103, Symbol: "HOUSE"},
		},
		Counts: []int32{
			50, 60, 55, 5, 8, 45, 10, 12,
			8, 45, 10, 12, 50, 60, 55, 5,
			20, 20, 20, 20, 20, 20, 20, 20,
		},
	}
	model := &Model{Rank: 2}
	for p := 0; p < 8; p++ {
		id := clusterName(p)
		ds.Patients = append(ds.Patients, Patient{CaseID: id})
		model.PatientIDs = append(model.PatientIDs, id)
		if p < 4 {
			model.Labels = append(model.Labels, "C1")
		} else {
			model.Labels = append(model.Labels, "C2")
		}
		model.Retained = append(model.Retained, true)
		model.Silhouette = append(model.Silhouette, 0.8)
	}
	return ds, model
}

func (s *markersSuite) TestFindMarkers(c *check.C) {
	ds, model := markerFixture()
	c.Assert(ds.Check(), check.IsNil)
	rename := map[string]string{"C1": "differentiated", "C2": "proliferative"}
	ms, err := findMarkers(ds, model, 5, rename)
	c.Assert(err, check.IsNil)
	c.Check(ms.Clusters, check.DeepEquals, []string{"differentiated", "proliferative"})

	byCluster := map[string][]Marker{}
	for _, m := range ms.Markers {
		byCluster[m.Cluster] = append(byCluster[m.Cluster], m)
	}
	// MKA is up in C1, MKB in C2. HOUSE has identical group means so
	// its fold change is zero and it never qualifies; each cluster's
	// candidate list reduces to its one real marker.
	c.Assert(byCluster["differentiated"], check.HasLen, 1)
	c.Check(byCluster["differentiated"][0].Symbol, check.Equals, "MKA")
	c.Check(byCluster["differentiated"][0].Log2FC > 0, check.Equals, true)
	c.Assert(byCluster["proliferative"], check.HasLen, 1)
	c.Check(byCluster["proliferative"][0].Symbol, check.Equals, "MKB")
	c.Check(byCluster["proliferative"][0].Log2FC > 0, check.Equals, true)
}

func (s *markersSuite) TestFindMarkersSkipsUnretained(c *check.C) {
	ds, model := markerFixture()
	for p := range model.Retained {
		model.Retained[p] = false
	}
	_, err := findMarkers(ds, model, 5, nil)
	c.Check(err, check.ErrorMatches, `only 0 retained patients present in dataset`)
}

func (s *markersSuite) TestMarkerSetGeneIDs(c *check.C) {
	ms := &MarkerSet{Markers: []Marker{
		{Cluster: "C1", EnsemblID: "g2"},
		{Cluster: "C1", EnsemblID: "g1"},
		{Cluster: "C2", EnsemblID: "g2"},
	}}
	c.Check(ms.GeneIDs(), check.DeepEquals, []string{"g2", "g1"})
}

func (s *markersSuite) TestBHAdjust(c *check.C) {
	adj := bhAdjust([]float64{0.01, 0.04})
	c.Check(adj, check.DeepEquals, []float64{0.02, 0.04})

	adj = bhAdjust([]float64{0.03, 0.01, math.NaN(), 0.02})
	c.Check(adj[0], check.Equals, 0.03)
	c.Check(adj[1], check.Equals, 0.03)
	c.Check(math.IsNaN(adj[2]), check.Equals, true)
	c.Check(adj[3], check.Equals, 0.03)
}

func (s *markersSuite) TestParseSubtypes(c *check.C) {
	rename, err := parseSubtypes("C1=differentiated, C2=proliferative")
	c.Assert(err, check.IsNil)
	c.Check(rename, check.DeepEquals, map[string]string{
		"C1": "differentiated",
		"C2": "proliferative",
	})

	rename, err = parseSubtypes("")
	c.Assert(err, check.IsNil)
	c.Check(rename, check.HasLen, 0)

	_, err = parseSubtypes("C1")
	c.Check(err, check.ErrorMatches, `bad -subtypes entry "C1"`)
	_, err = parseSubtypes("=x")
	c.Check(err, check.NotNil)
}
