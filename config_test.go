// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestLoad(c *check.C) {
	fnm := c.MkDir() + "/episcan.toml"
	err := ioutil.WriteFile(fnm, []byte(`
methods = ["robust", "owl"]
binarization = "recessive"

[transform]
shift = 0.05

[stability]
resample_count = 75
aggregate = "area"
`), 0644)
	c.Assert(err, check.IsNil)
	cfg, err := LoadAnalysisConfig(fnm)
	c.Assert(err, check.IsNil)
	dcfg, err := cfg.DetectConfig()
	c.Assert(err, check.IsNil)
	c.Check(dcfg.Methods, check.DeepEquals, []Method{RobustModifiedOutcome, OWL})
	c.Check(dcfg.Binarization, check.Equals, Recessive)
	c.Check(dcfg.Transform.Shift, check.Equals, 0.05)
	c.Check(dcfg.Transform.Epsilon, check.Equals, 1e-8)
	c.Check(dcfg.Stability.ResampleCount, check.Equals, 75)
	c.Check(dcfg.Stability.Fraction, check.Equals, 0.5)
	c.Check(dcfg.Stability.Aggregate, check.Equals, AggregateArea)
}

func (s *configSuite) TestDefaults(c *check.C) {
	cfg, err := LoadAnalysisConfig("")
	c.Assert(err, check.IsNil)
	dcfg, err := cfg.DetectConfig()
	c.Assert(err, check.IsNil)
	def := DefaultDetectConfig()
	c.Check(dcfg.Methods, check.DeepEquals, def.Methods)
	c.Check(dcfg.Stability, check.DeepEquals, def.Stability)
	c.Check(dcfg.Transform, check.DeepEquals, def.Transform)
}

func (s *configSuite) TestUnknownKey(c *check.C) {
	fnm := c.MkDir() + "/bad.toml"
	c.Assert(ioutil.WriteFile(fnm, []byte("[stability]\nresamples = 3\n"), 0644), check.IsNil)
	_, err := LoadAnalysisConfig(fnm)
	c.Check(err, check.ErrorMatches, `.*unknown keys: stability.resamples`)
}

func (s *configSuite) TestPhenotypes(c *check.C) {
	fnm := c.MkDir() + "/pheno.csv"
	var buf bytes.Buffer
	c.Assert(WritePhenotypes(&buf, Phenotypes{SampleIDs: []string{"a", "b"}, Values: []float64{1.5, -2}}), check.IsNil)
	c.Check(buf.String(), check.Equals, "SampleID,Phenotype\na,1.5\nb,-2\n")
	c.Assert(ioutil.WriteFile(fnm, buf.Bytes(), 0644), check.IsNil)
	p, err := ReadPhenotypes(fnm)
	c.Assert(err, check.IsNil)
	c.Check(p.SampleIDs, check.DeepEquals, []string{"a", "b"})
	c.Check(p.Values, check.DeepEquals, []float64{1.5, -2})
	c.Check(p.Binary(), check.Equals, false)
}

func (s *configSuite) TestScores(c *check.C) {
	scores := map[Method][]float64{
		OWL:                   {0, 0.25},
		RobustModifiedOutcome: {1, 0.5},
	}
	var buf bytes.Buffer
	c.Assert(WriteScores(&buf, []string{"v0", "v1"}, []Method{RobustModifiedOutcome, OWL}, scores), check.IsNil)
	c.Check(buf.String(), check.Equals, "index,variant,method,score\n0,v0,robust,1\n1,v1,robust,0.5\n0,v0,owl,0\n1,v1,owl,0.25\n")
	got, err := ReadScores(&buf)
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, scores)
}

func (s *configSuite) TestPhenotypeErrors(c *check.C) {
	tmpdir := c.MkDir()
	for i, trial := range []struct {
		content string
		err     string
	}{
		{"SampleID,Phenotype\ns0,1.5\ns1,\ns2,2\n", `.*sample "s1" \(row 2\): missing or non-finite phenotype ""`},
		{"id,pheno\ns0,1.5\ns1,3\ns2,2\n", `.*header has no "SampleID" column.*`},
		{"SampleID,pheno\ns0,1.5\n", `.*header has no "Phenotype" column.*`},
		{"SampleID,Phenotype\ns0,NA\n", `.*missing or non-finite phenotype "NA"`},
		{"SampleID,Phenotype\ns0,1\ns0,3\n", `.*sample "s0" appears in rows 1 and 2`},
		{"SampleID,Phenotype\n,1\n", `.*row 1: empty SampleID`},
		{"SampleID,Phenotype\n", `.*no data rows`},
	} {
		fnm := fmt.Sprintf("%s/%d.csv", tmpdir, i)
		c.Assert(ioutil.WriteFile(fnm, []byte(trial.content), 0644), check.IsNil)
		p, err := ReadPhenotypes(fnm)
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%q got %v", trial.content, p.Values))
	}
}

func (s *configSuite) TestSampleOrder(c *check.C) {
	p := Phenotypes{SampleIDs: []string{"a", "b", "c"}, Values: []float64{1, 2, 3}}
	got, err := p.InSampleOrder([]string{"c", "a"})
	c.Assert(err, check.IsNil)
	c.Check(got.SampleIDs, check.DeepEquals, []string{"c", "a"})
	c.Check(got.Values, check.DeepEquals, []float64{3, 1})

	_, err = p.InSampleOrder([]string{"a", "d"})
	c.Check(err, check.ErrorMatches, `invalid phenotype \(samples\): no phenotype for sample "d" \(genotype row 1\)`)
	_, err = p.InSampleOrder([]string{"a", "a"})
	c.Check(err, check.ErrorMatches, `invalid sample list \(samples\): sample "a" listed twice`)

	var buf bytes.Buffer
	c.Assert(WriteSampleIDs(&buf, []string{"c", "a"}), check.IsNil)
	c.Check(buf.String(), check.Equals, "SampleID\nc\na\n")
	fnm := c.MkDir() + "/samples.csv"
	c.Assert(ioutil.WriteFile(fnm, buf.Bytes(), 0644), check.IsNil)
	ids, err := ReadSampleIDs(fnm)
	c.Assert(err, check.IsNil)
	c.Check(ids, check.DeepEquals, []string{"c", "a"})
}
