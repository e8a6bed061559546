// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"math"

	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type glmSuite struct{}

var _ = check.Suite(&glmSuite{})

func lrtCohort(seed uint64, n int, binary bool) LRTInput {
	geno := randomGenotypes(seed, n, 5)
	target := randomGenotypes(seed+1, n, 1).Data
	abar := Target{Raw: target}.Binary(Dominant)
	rng := rand.New(rand.NewSource(seed + 2))
	y := make([]float64, n)
	for i := range y {
		lin := 2*float64(geno.At(i, 1))*abar[i] - 1 + 0.5*abar[i]
		if binary {
			if rng.Float64() < 1/(1+math.Exp(-lin)) {
				y[i] = 1
			}
		} else {
			y[i] = lin + rng.NormFloat64()
		}
	}
	return LRTInput{Target: target, X: geno, Phenotype: y}
}

func (s *glmSuite) TestContinuous(c *check.C) {
	in := lrtCohort(1, 300, false)
	p, err := InteractionLRT(context.Background(), in, Dominant, 4)
	c.Assert(err, check.IsNil)
	c.Assert(p, check.HasLen, 5)
	c.Check(p[1] < 1e-6, check.Equals, true, check.Commentf("%v", p))
	for j, v := range p {
		c.Check(v >= 0 && v <= 1, check.Equals, true, check.Commentf("variant %d p=%v", j, v))
	}
}

func (s *glmSuite) TestBinaryWithPCs(c *check.C) {
	in := lrtCohort(2, 400, true)
	pcs, err := PCACovariates(in.X, 2)
	c.Assert(err, check.IsNil)
	rows, cols := pcs.Dims()
	c.Check(rows, check.Equals, 400)
	c.Check(cols, check.Equals, 2)
	in.Covariates = pcs
	p, err := InteractionLRT(context.Background(), in, Dominant, 2)
	c.Assert(err, check.IsNil)
	c.Check(p[1] < 1e-3, check.Equals, true, check.Commentf("%v", p))
}

func (s *glmSuite) TestPreconditions(c *check.C) {
	in := lrtCohort(3, 20, false)
	in.Phenotype = in.Phenotype[1:]
	_, err := InteractionLRT(context.Background(), in, Dominant, 1)
	c.Check(err, check.ErrorMatches, `invalid lrt input \(rows\).*`)

	_, err = PCACovariates(in.X, 6)
	c.Check(err, check.ErrorMatches, `invalid pca \(components\).*`)
}

func (s *glmSuite) TestGaussianLogLike(c *check.C) {
	y := []float64{1, 2, 3, 5}
	l0, err := gaussianLogLike(y, [][]float64{ones(4)})
	c.Assert(err, check.IsNil)
	// RSS around the mean 2.75 is 8.75
	c.Check(math.Abs(l0-(-2*math.Log(8.75/4))) < 1e-9, check.Equals, true, check.Commentf("%v", l0))
	l1, err := gaussianLogLike(y, [][]float64{ones(4), {0, 1, 2, 3}})
	c.Assert(err, check.IsNil)
	c.Check(l1 > l0, check.Equals, true)
	// residuals 0.2, -0.1, -0.4, 0.3 around 0.8 + 1.3x
	c.Check(math.Abs(l1-(-2*math.Log(0.3/4))) < 1e-9, check.Equals, true, check.Commentf("%v", l1))
	_, err = gaussianLogLike([]float64{1, 2}, [][]float64{ones(2), {0, 1}})
	c.Check(err, check.NotNil)
}
