// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// DetectInput holds the data for one analysis. X excludes the
// target variant.
type DetectInput struct {
	Target     []int8
	X          Genotypes
	Phenotype  []float64
	Propensity *mat.Dense // n x 2, see EstimatePropensity
}

// DetectConfig selects methods and numerical settings.
type DetectConfig struct {
	Methods      []Method
	Binarization Binarization
	Transform    TransformConfig
	Stability    StabilityConfig
	// Main-effect model for the robust method. Nil means ridge
	// regression configured by Transform.
	Nuisance Nuisance
}

// DefaultDetectConfig runs every method with default settings.
func DefaultDetectConfig() DetectConfig {
	return DetectConfig{
		Methods:      append([]Method(nil), AllMethods...),
		Binarization: Dominant,
		Transform:    DefaultTransformConfig(),
		Stability:    DefaultStabilityConfig(),
	}
}

func (in DetectInput) validate() error {
	if err := in.X.Validate(); err != nil {
		return err
	}
	n := in.X.Rows
	target := Target{Raw: in.Target}
	if err := target.Validate(); err != nil {
		return err
	}
	if len(in.Target) != n {
		return precondition("target", "rows", "%d values, genotype matrix has %d rows", len(in.Target), n)
	}
	if len(in.Phenotype) != n {
		return precondition("phenotype", "rows", "%d values, genotype matrix has %d rows", len(in.Phenotype), n)
	}
	for i, v := range in.Phenotype {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return precondition("phenotype", "values", "non-finite value %v at row %d", v, i)
		}
	}
	return ValidatePropensity(in.Propensity, n)
}

// DetectEpistasis scores every column of in.X for interaction with
// the target, once per requested method. All inputs are validated
// before any fit is dispatched. Every method uses the same
// subsamples.
func DetectEpistasis(ctx context.Context, in DetectInput, cfg DetectConfig) (map[Method][]float64, error) {
	if len(cfg.Methods) == 0 {
		return nil, precondition("method", "", "no methods specified")
	}
	for _, m := range cfg.Methods {
		if _, ok := methodNames[m]; !ok {
			return nil, precondition("method", "", "unknown method %d", int(m))
		}
	}
	if cfg.Binarization != Dominant && cfg.Binarization != Recessive {
		return nil, precondition("binarization", "", "unknown rule %d", int(cfg.Binarization))
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Transform.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Stability.validate(in.X.Rows); err != nil {
		return nil, err
	}

	x := in.X.Dense()
	target := Target{Raw: in.Target}
	tr := Transformer{Config: cfg.Transform, Nuisance: cfg.Nuisance}
	inputs := make([]RegressionInput, len(cfg.Methods))
	for k, m := range cfg.Methods {
		ri, err := tr.Transform(m, in.Phenotype, target, cfg.Binarization, in.Propensity, x)
		if err != nil {
			return nil, err
		}
		inputs[k] = ri
		log.WithField("method", m).Debug("transformed outcome")
	}

	scores, err := stabilitySelection(ctx, x, inputs, cfg.Stability, Subsamples(in.X.Rows, cfg.Stability))
	if err != nil {
		return nil, err
	}
	out := make(map[Method][]float64, len(cfg.Methods))
	for k, m := range cfg.Methods {
		out[m] = scores[k]
	}
	return out, nil
}
