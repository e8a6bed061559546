// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"math"

	"gopkg.in/check.v1"
)

type simulateSuite struct{}

var _ = check.Suite(&simulateSuite{})

func (s *simulateSuite) TestCohort(c *check.C) {
	cfg := DefaultSimulateConfig()
	cfg.Samples = 60
	cfg.Variants = 12
	cfg.BlockSize = 4
	cohort, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	c.Check(cohort.Genotypes.Validate(), check.IsNil)
	c.Check(cohort.Genotypes.Rows, check.Equals, 60)
	c.Check(cohort.TargetCol, check.Equals, 6)
	c.Check(cohort.Causal, check.HasLen, 2)
	for _, j := range cohort.Causal {
		c.Check(j, check.Not(check.Equals), cohort.TargetCol)
	}
	c.Check(cohort.Phenotype, check.HasLen, 60)
	c.Check(cohort.Model.Validate(), check.IsNil)
	c.Check(cohort.Model.Positions(), check.Equals, 12)

	again, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	c.Check(again.Genotypes.Data, check.DeepEquals, cohort.Genotypes.Data)
	c.Check(again.Phenotype, check.DeepEquals, cohort.Phenotype)

	in, err := cohort.DetectInput(context.Background(), Dominant, 2)
	c.Assert(err, check.IsNil)
	c.Check(in.X.Cols, check.Equals, 11)
	c.Check(ValidatePropensity(in.Propensity, 60), check.IsNil)
	for k, j := range cohort.CausalInX() {
		c.Check(in.X.Names[j], check.Equals, cohort.Genotypes.Names[cohort.Causal[k]])
	}
}

func (s *simulateSuite) TestBinaryPhenotype(c *check.C) {
	cfg := DefaultSimulateConfig()
	cfg.Binary = true
	cohort, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	c.Check(Phenotypes{Values: cohort.Phenotype}.Binary(), check.Equals, true)
}

func (s *simulateSuite) TestNoLD(c *check.C) {
	// Without copying every position is independent, so the
	// target's propensity is the same for every sample.
	cfg := DefaultSimulateConfig()
	cfg.Samples = 30
	cfg.Variants = 6
	cfg.Copy = 0
	cohort, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	in, err := cohort.DetectInput(context.Background(), Recessive, 1)
	c.Assert(err, check.IsNil)
	for i := 1; i < 30; i++ {
		c.Check(math.Abs(in.Propensity.At(i, 1)-in.Propensity.At(0, 1)) < 1e-12, check.Equals, true)
	}
}

func (s *simulateSuite) TestLDPropensityVaries(c *check.C) {
	cfg := DefaultSimulateConfig()
	cfg.Samples = 40
	cfg.Variants = 10
	cfg.Copy = 0.9
	cohort, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	in, err := cohort.DetectInput(context.Background(), Dominant, 1)
	c.Assert(err, check.IsNil)
	lo, hi := 1.0, 0.0
	for i := 0; i < 40; i++ {
		lo = math.Min(lo, in.Propensity.At(i, 1))
		hi = math.Max(hi, in.Propensity.At(i, 1))
	}
	c.Check(hi-lo > 0.1, check.Equals, true, check.Commentf("propensity range %v..%v", lo, hi))
}

func (s *simulateSuite) TestDetectSimulated(c *check.C) {
	cfg := DefaultSimulateConfig()
	cfg.Samples = 300
	cfg.Variants = 20
	cfg.Copy = 0.3
	cfg.MinFreq = 0.3
	cfg.Target = 5
	cfg.Causal = []int{15}
	cfg.Effect = 2
	cfg.Noise = 0.1
	cohort, err := Simulate(cfg)
	c.Assert(err, check.IsNil)
	in, err := cohort.DetectInput(context.Background(), Dominant, 2)
	c.Assert(err, check.IsNil)
	dcfg := DefaultDetectConfig()
	dcfg.Methods = []Method{RobustModifiedOutcome}
	dcfg.Stability.ResampleCount = 50
	scores, err := DetectEpistasis(context.Background(), in, dcfg)
	c.Assert(err, check.IsNil)
	robust := scores[RobustModifiedOutcome]
	causal := cohort.CausalInX()[0]
	c.Check(causal, check.Equals, 14)
	for j, v := range robust {
		c.Check(robust[causal] >= v, check.Equals, true, check.Commentf("variant %d score %v > causal score %v", j, v, robust[causal]))
	}
}

func (s *simulateSuite) TestPreconditions(c *check.C) {
	cfg := DefaultSimulateConfig()
	cfg.Causal = []int{cfg.Variants / 2}
	_, err := Simulate(cfg)
	c.Check(err, check.ErrorMatches, `invalid simulation \(causal\): column 25 is the target`)

	cfg = DefaultSimulateConfig()
	cfg.MaxFreq = 1
	_, err = Simulate(cfg)
	c.Check(IsPrecondition(err), check.Equals, true)
}

func (s *simulateSuite) TestMergeLDClusters(c *check.C) {
	g := NewGenotypes([]int8{
		0, 0, 0, 2, 1,
		1, 1, 0, 2, 1,
		2, 2, 1, 1, 1,
		0, 0, 1, 1, 1,
		1, 1, 2, 0, 1,
		2, 2, 2, 0, 1,
	}, 6, 5)
	c.Check(MergeLDClusters(g, []int{0, 3}, 0.9), check.DeepEquals, [][]int{{0, 1}, {2, 3}})
	c.Check(MergeLDClusters(g, []int{0, 3}, 0.4), check.DeepEquals, [][]int{{0, 1, 2, 3}})
	c.Check(MergeLDClusters(g, []int{4}, 0.9), check.DeepEquals, [][]int{{4}})
}
