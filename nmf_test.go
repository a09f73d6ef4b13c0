// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type nmfSuite struct{}

var _ = check.Suite(&nmfSuite{})

// blockMatrix is rank 2 by construction: genes 0-2 express in
// patients 0-3, genes 3-5 in patients 4-7.
func blockMatrix() *mat.Dense {
	data := make([]float64, 6*8)
	for g := 0; g < 3; g++ {
		for p := 0; p < 4; p++ {
			data[g*8+p] = 10
		}
	}
	for g := 3; g < 6; g++ {
		for p := 4; p < 8; p++ {
			data[g*8+p] = 10
		}
	}
	return mat.NewDense(6, 8, data)
}

func (s *nmfSuite) TestFactorize(c *check.C) {
	v := blockMatrix()
	rng := rand.New(rand.NewSource(42))
	w, h, obj := factorize(v, 2, 500, rng)

	for _, x := range w.RawMatrix().Data {
		c.Assert(x >= 0, check.Equals, true)
	}
	for _, x := range h.RawMatrix().Data {
		c.Assert(x >= 0, check.Equals, true)
	}
	// An exactly rank-2 matrix should be reconstructed closely
	// (‖V‖ here is ~49, so a residual below 1 is a near-exact fit).
	c.Check(obj < 1.0, check.Equals, true, check.Commentf("residual %v", obj))
	var wh mat.Dense
	wh.Mul(w, h)
	c.Check(math.Abs(wh.At(0, 0)-10) < 0.5, check.Equals, true)
	c.Check(math.Abs(wh.At(0, 7)) < 0.5, check.Equals, true)
}

func (s *nmfSuite) TestBestFactorizationDeterministic(c *check.C) {
	v := blockMatrix()
	_, h1, obj1 := bestFactorization(v, 2, 100, 5, 7, 2)
	_, h2, obj2 := bestFactorization(v, 2, 100, 5, 7, 2)
	c.Check(obj1, check.Equals, obj2)
	c.Check(h1.RawMatrix().Data, check.DeepEquals, h2.RawMatrix().Data)
}

func (s *nmfSuite) TestFactorizationSeparatesBlocks(c *check.C) {
	v := blockMatrix()
	_, h, _ := bestFactorization(v, 2, 300, 10, 1, 2)
	var first []int
	for p := 0; p < 8; p++ {
		col := []float64{h.At(0, p), h.At(1, p)}
		first = append(first, argmaxCluster(col))
	}
	// Patients 0-3 land in one cluster, 4-7 in the other.
	for p := 1; p < 4; p++ {
		c.Check(first[p], check.Equals, first[0])
	}
	for p := 5; p < 8; p++ {
		c.Check(first[p], check.Equals, first[4])
	}
	c.Check(first[0] == first[4], check.Equals, false)
}

func (s *nmfSuite) TestRetainBySilhouette(c *check.C) {
	got := retainBySilhouette([]float64{0.3, 0.2999, 0.9, -0.1, 0.30001}, 0.3)
	c.Check(got, check.DeepEquals, []bool{true, false, true, false, true})
}
