// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"

	"github.com/episcan/episcan/hmm"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type detectSuite struct{}

var _ = check.Suite(&detectSuite{})

func uniformPropensity(n int) *mat.Dense {
	ps := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		ps.Set(i, 0, 0.5)
		ps.Set(i, 1, 0.5)
	}
	return ps
}

// interactionCohort returns 50 samples x 10 variants plus a target
// whose phenotype is a noiseless interaction with variant 3. The
// propensity is estimated with an LD-free model fitted to all 11
// columns.
func interactionCohort(c *check.C) DetectInput {
	full := randomGenotypes(1001, 50, 11)
	model, err := hmm.IndependentFitter{Pseudocount: 1}.Fit(context.Background(), full.Data, full.Rows, full.Cols)
	c.Assert(err, check.IsNil)
	est, err := EstimatePropensity(context.Background(), model, full, 10, Dominant, 2)
	c.Assert(err, check.IsNil)

	target := full.Column(10)
	sym := Target{Raw: target}.Symmetric(Dominant)
	x := full.WithoutColumn(10)
	y := make([]float64, x.Rows)
	for i := range y {
		y[i] = float64(x.At(i, 3)) * sym[i]
	}
	return DetectInput{Target: target, X: x, Phenotype: y, Propensity: est.Binary}
}

func (s *detectSuite) TestInteractionRankedFirst(c *check.C) {
	in := interactionCohort(c)
	cfg := DefaultDetectConfig()
	cfg.Methods = []Method{RobustModifiedOutcome}
	cfg.Stability.ResampleCount = 50
	scores, err := DetectEpistasis(context.Background(), in, cfg)
	c.Assert(err, check.IsNil)
	c.Assert(scores[RobustModifiedOutcome], check.HasLen, 10)
	robust := scores[RobustModifiedOutcome]
	c.Logf("robust scores: %v", robust)
	for j, v := range robust {
		if j != 3 {
			c.Check(robust[3] > v, check.Equals, true, check.Commentf("variant %d score %v >= variant 3 score %v", j, v, robust[3]))
		}
	}
}

func (s *detectSuite) TestAllMethods(c *check.C) {
	in := interactionCohort(c)
	cfg := DefaultDetectConfig()
	cfg.Stability.ResampleCount = 30
	scores, err := DetectEpistasis(context.Background(), in, cfg)
	c.Assert(err, check.IsNil)
	c.Check(scores, check.HasLen, len(AllMethods))
	for _, m := range AllMethods {
		c.Assert(scores[m], check.HasLen, 10, check.Commentf("%s", m))
		for j, v := range scores[m] {
			c.Check(v >= 0 && v <= 1, check.Equals, true, check.Commentf("%s variant %d score %v", m, j, v))
		}
	}

	again, err := DetectEpistasis(context.Background(), in, cfg)
	c.Assert(err, check.IsNil)
	c.Check(again, check.DeepEquals, scores)
}

func (s *detectSuite) TestUniformPropensity(c *check.C) {
	in := interactionCohort(c)
	in.Propensity = uniformPropensity(in.X.Rows)
	cfg := DefaultDetectConfig()
	cfg.Methods = []Method{ModifiedOutcome, RobustModifiedOutcome}
	cfg.Stability.ResampleCount = 50
	scores, err := DetectEpistasis(context.Background(), in, cfg)
	c.Assert(err, check.IsNil)
	c.Check(scores[ModifiedOutcome][3], check.Equals, 1.0)
}

func (s *detectSuite) TestPreconditions(c *check.C) {
	ctx := context.Background()
	cfg := DefaultDetectConfig()

	in := interactionCohort(c)
	in.Phenotype = in.Phenotype[:49]
	_, err := DetectEpistasis(ctx, in, cfg)
	c.Check(err, check.ErrorMatches, `invalid phenotype \(rows\): 49 values, genotype matrix has 50 rows`)

	in = interactionCohort(c)
	in.Target[7] = 3
	_, err = DetectEpistasis(ctx, in, cfg)
	c.Check(err, check.ErrorMatches, `invalid target \(values\): value 3 at row 7 .*`)

	in = interactionCohort(c)
	in.Propensity = mat.NewDense(50, 2, nil)
	_, err = DetectEpistasis(ctx, in, cfg)
	c.Check(err, check.ErrorMatches, `invalid propensity scores \(values\): row 0 .*`)

	in = interactionCohort(c)
	bad := cfg
	bad.Methods = []Method{Method(9)}
	_, err = DetectEpistasis(ctx, in, bad)
	c.Check(err, check.ErrorMatches, `invalid method: unknown method 9`)

	bad = cfg
	bad.Methods = nil
	_, err = DetectEpistasis(ctx, in, bad)
	c.Check(IsPrecondition(err), check.Equals, true)

	bad = cfg
	bad.Transform.Epsilon = -1
	_, err = DetectEpistasis(ctx, in, bad)
	c.Check(err, check.ErrorMatches, `invalid transform config \(epsilon\).*`)
}
