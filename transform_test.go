// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"errors"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type transformSuite struct{}

var _ = check.Suite(&transformSuite{})

type transformFixture struct {
	y      []float64
	target Target
	ps     *mat.Dense
	x      *mat.Dense
}

func newTransformFixture(seed uint64, n int) transformFixture {
	rng := rand.New(rand.NewSource(seed))
	geno := randomGenotypes(seed, n, 4)
	f := transformFixture{
		y:      make([]float64, n),
		target: Target{Raw: make([]int8, n)},
		ps:     mat.NewDense(n, 2, nil),
		x:      geno.Dense(),
	}
	for i := 0; i < n; i++ {
		f.y[i] = rng.NormFloat64() + float64(geno.At(i, 0))
		f.target.Raw[i] = int8(rng.Intn(3))
		p1 := 0.05 + 0.9*rng.Float64()
		f.ps.Set(i, 0, 1-p1)
		f.ps.Set(i, 1, p1)
	}
	return f
}

func (s *transformSuite) TestParseMethod(c *check.C) {
	for _, m := range AllMethods {
		got, err := ParseMethod(m.String())
		c.Check(err, check.IsNil)
		c.Check(got, check.Equals, m)
	}
	m, err := ParseMethod(" Robust-MO ")
	c.Check(err, check.IsNil)
	c.Check(m, check.Equals, RobustModifiedOutcome)
	_, err = ParseMethod("lasso")
	c.Check(err, check.ErrorMatches, `invalid method: unknown method "lasso"`)

	ms, err := ParseMethods("all")
	c.Check(err, check.IsNil)
	c.Check(ms, check.DeepEquals, AllMethods)
	ms, err = ParseMethods("robust,owl,robust")
	c.Check(err, check.IsNil)
	c.Check(ms, check.DeepEquals, []Method{RobustModifiedOutcome, OWL})
	_, err = ParseMethods(",")
	c.Check(IsPrecondition(err), check.Equals, true)
}

func (s *transformSuite) TestFinite(c *check.C) {
	f := newTransformFixture(1, 40)
	// propensities at the boundary
	f.ps.Set(0, 0, 0)
	f.ps.Set(0, 1, 1)
	f.ps.Set(1, 0, 1)
	f.ps.Set(1, 1, 0)
	f.target.Raw[0], f.target.Raw[1] = 0, 2
	tr := Transformer{Config: DefaultTransformConfig()}
	for _, m := range AllMethods {
		for _, rule := range []Binarization{Dominant, Recessive} {
			in, err := tr.Transform(m, f.y, f.target, rule, f.ps, f.x)
			c.Assert(err, check.IsNil)
			c.Check(in.Len(), check.Equals, 40)
			c.Check(in.Classification(), check.Equals, m.Classification())
			for _, vs := range [][]float64{in.Outcome, in.Label, in.Weight} {
				for i, v := range vs {
					c.Check(math.IsNaN(v) || math.IsInf(v, 0), check.Equals, false, check.Commentf("%s row %d", m, i))
				}
			}
		}
	}
}

func (s *transformSuite) TestModifiedOutcome(c *check.C) {
	ps := mat.NewDense(2, 2, []float64{0.75, 0.25, 0.5, 0.5})
	tr := Transformer{Config: DefaultTransformConfig()}
	in, err := tr.Transform(ModifiedOutcome, []float64{2, 3}, Target{Raw: []int8{1, 0}}, Dominant, ps, nil)
	c.Assert(err, check.IsNil)
	c.Check(in.Outcome, check.DeepEquals, []float64{8, -6})

	tr.Config.Shift = 0.25
	in, err = tr.Transform(ShiftedModifiedOutcome, []float64{2, 3}, Target{Raw: []int8{1, 0}}, Dominant, ps, nil)
	c.Assert(err, check.IsNil)
	c.Check(in.Outcome, check.DeepEquals, []float64{4, -4})
}

func (s *transformSuite) TestOWL(c *check.C) {
	ps := mat.NewDense(3, 2, []float64{0.75, 0.25, 0.25, 0.75, 0.5, 0.5})
	tr := Transformer{Config: DefaultTransformConfig()}
	in, err := tr.Transform(OWL, []float64{2, 3, -1}, Target{Raw: []int8{2, 0, 1}}, Dominant, ps, nil)
	c.Assert(err, check.IsNil)
	c.Check(in.Outcome, check.IsNil)
	c.Check(in.Weight, check.DeepEquals, []float64{8, 12, 2})
	// negative outcome flips the label
	c.Check(in.Label, check.DeepEquals, []float64{1, -1, -1})
}

func (s *transformSuite) TestNormalizedRescaleInvariant(c *check.C) {
	f := newTransformFixture(2, 30)
	scaled := mat.DenseCopyOf(f.ps)
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 30; i++ {
		k := 0.1 + 5*rng.Float64()
		scaled.Set(i, 0, k*f.ps.At(i, 0))
		scaled.Set(i, 1, k*f.ps.At(i, 1))
	}
	tr := Transformer{Config: DefaultTransformConfig()}
	a, err := tr.Transform(NormalizedModifiedOutcome, f.y, f.target, Dominant, f.ps, nil)
	c.Assert(err, check.IsNil)
	b, err := tr.Transform(NormalizedModifiedOutcome, f.y, f.target, Dominant, scaled, nil)
	c.Assert(err, check.IsNil)
	for i := range a.Outcome {
		c.Check(math.Abs(a.Outcome[i]-b.Outcome[i]) < 1e-9*math.Max(1, math.Abs(a.Outcome[i])), check.Equals, true, check.Commentf("row %d: %v != %v", i, a.Outcome[i], b.Outcome[i]))
	}
}

func (s *transformSuite) TestNormalizedMass(c *check.C) {
	f := newTransformFixture(3, 25)
	ones := make([]float64, 25)
	for i := range ones {
		ones[i] = 1
	}
	tr := Transformer{Config: DefaultTransformConfig()}
	in, err := tr.Transform(NormalizedModifiedOutcome, ones, f.target, Dominant, f.ps, nil)
	c.Assert(err, check.IsNil)
	abar := f.target.Binary(Dominant)
	var pos, neg float64
	for i, v := range in.Outcome {
		if abar[i] == 1 {
			pos += v
		} else {
			neg -= v
		}
	}
	c.Check(math.Abs(pos-25) < 1e-9, check.Equals, true, check.Commentf("%v", pos))
	c.Check(math.Abs(neg-25) < 1e-9, check.Equals, true, check.Commentf("%v", neg))
}

func (s *transformSuite) TestRobustZeroNuisance(c *check.C) {
	f := newTransformFixture(4, 35)
	tr := Transformer{Config: DefaultTransformConfig(), Nuisance: ZeroNuisance{}}
	for _, rule := range []Binarization{Dominant, Recessive} {
		mo, err := tr.Transform(ModifiedOutcome, f.y, f.target, rule, f.ps, f.x)
		c.Assert(err, check.IsNil)
		robust, err := tr.Transform(RobustModifiedOutcome, f.y, f.target, rule, f.ps, f.x)
		c.Assert(err, check.IsNil)
		c.Check(robust.Outcome, check.DeepEquals, mo.Outcome)
	}
}

func (s *transformSuite) TestRobustNuisance(c *check.C) {
	f := newTransformFixture(5, 60)
	for _, arm := range []bool{false, true} {
		cfg := DefaultTransformConfig()
		cfg.ArmSpecificNuisance = arm
		tr := Transformer{Config: cfg}
		in, err := tr.Transform(RobustModifiedOutcome, f.y, f.target, Dominant, f.ps, f.x)
		c.Assert(err, check.IsNil)
		mo, err := tr.Transform(ModifiedOutcome, f.y, f.target, Dominant, f.ps, f.x)
		c.Assert(err, check.IsNil)
		c.Check(in.Outcome, check.Not(check.DeepEquals), mo.Outcome)
	}
	_, err := (&Transformer{Config: DefaultTransformConfig()}).Transform(RobustModifiedOutcome, f.y, f.target, Dominant, f.ps, nil)
	c.Check(err, check.ErrorMatches, `invalid covariate matrix: required by robust method`)
}

type failingNuisance struct{}

func (failingNuisance) Fit(x mat.Matrix, y, abar []float64) ([]float64, []float64, error) {
	return nil, nil, errors.New("no fit")
}

func (s *transformSuite) TestRobustNuisanceFailure(c *check.C) {
	f := newTransformFixture(6, 20)
	tr := Transformer{Config: DefaultTransformConfig(), Nuisance: failingNuisance{}}
	robust, err := tr.Transform(RobustModifiedOutcome, f.y, f.target, Dominant, f.ps, f.x)
	c.Assert(err, check.IsNil)
	mo, err := tr.Transform(ModifiedOutcome, f.y, f.target, Dominant, f.ps, f.x)
	c.Assert(err, check.IsNil)
	c.Check(robust.Outcome, check.DeepEquals, mo.Outcome)
}

func (s *transformSuite) TestUniformPropensity(c *check.C) {
	n := 20
	y := make([]float64, n)
	target := Target{Raw: make([]int8, n)}
	ps := mat.NewDense(n, 2, nil)
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < n; i++ {
		y[i] = rng.NormFloat64()
		// balanced: half present under the dominant rule
		target.Raw[i] = int8(i % 2 * (1 + i%4/2))
		ps.Set(i, 0, 0.5)
		ps.Set(i, 1, 0.5)
	}
	cfg := DefaultTransformConfig()
	cfg.Shift = 0
	tr := Transformer{Config: cfg}
	var outcomes [][]float64
	for _, m := range []Method{ModifiedOutcome, ShiftedModifiedOutcome, NormalizedModifiedOutcome} {
		in, err := tr.Transform(m, y, target, Dominant, ps, nil)
		c.Assert(err, check.IsNil)
		outcomes = append(outcomes, in.Outcome)
	}
	for i := 0; i < n; i++ {
		c.Check(outcomes[1][i], check.Equals, outcomes[0][i])
		c.Check(math.Abs(outcomes[2][i]-outcomes[0][i]) < 1e-12, check.Equals, true, check.Commentf("row %d", i))
	}
}

func (s *transformSuite) TestPreconditions(c *check.C) {
	f := newTransformFixture(7, 10)
	tr := Transformer{Config: DefaultTransformConfig()}
	_, err := tr.Transform(ModifiedOutcome, f.y[:9], f.target, Dominant, f.ps, nil)
	c.Check(err, check.ErrorMatches, `invalid target \(rows\): 10 values, phenotype has 9`)
	_, err = tr.Transform(Method(42), f.y, f.target, Dominant, f.ps, nil)
	c.Check(err, check.ErrorMatches, `invalid method: unknown method 42`)
	tr.Config.Epsilon = 0
	_, err = tr.Transform(ModifiedOutcome, f.y, f.target, Dominant, f.ps, nil)
	c.Check(err, check.ErrorMatches, `invalid transform config \(epsilon\).*`)
}
