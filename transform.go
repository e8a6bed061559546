// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Method is an interaction detection method. Each method transforms
// (phenotype, target, propensity) into a regression input for the
// stability selection engine.
type Method int

const (
	// OWL is outcome weighted learning: propensity-weighted
	// classification of the target.
	OWL Method = iota
	// ModifiedOutcome regresses Y(Abar/pi1 - (1-Abar)/pi0) on X.
	ModifiedOutcome
	// ShiftedModifiedOutcome adds a constant to each propensity
	// before inversion.
	ShiftedModifiedOutcome
	// NormalizedModifiedOutcome rescales each arm's inverse
	// propensity weights to a fixed total mass.
	NormalizedModifiedOutcome
	// RobustModifiedOutcome is the doubly robust (augmented)
	// modified outcome.
	RobustModifiedOutcome
)

// AllMethods lists every method in output order.
var AllMethods = []Method{OWL, ModifiedOutcome, ShiftedModifiedOutcome, NormalizedModifiedOutcome, RobustModifiedOutcome}

var methodNames = map[Method]string{
	OWL:                       "owl",
	ModifiedOutcome:           "mo",
	ShiftedModifiedOutcome:    "shifted",
	NormalizedModifiedOutcome: "normalized",
	RobustModifiedOutcome:     "robust",
}

var methodAliases = map[string]Method{
	"modified-outcome": ModifiedOutcome,
	"shifted-mo":       ShiftedModifiedOutcome,
	"normalized-mo":    NormalizedModifiedOutcome,
	"robust-mo":        RobustModifiedOutcome,
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Classification reports whether the method produces a weighted
// classification problem rather than a continuous outcome.
func (m Method) Classification() bool { return m == OWL }

// ParseMethod accepts a method name or alias.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	if m, ok := methodAliases[s]; ok {
		return m, nil
	}
	return 0, precondition("method", "", "unknown method %q", s)
}

// ParseMethods parses a comma-separated list. "all" selects every
// method.
func ParseMethods(s string) ([]Method, error) {
	if strings.TrimSpace(s) == "all" {
		return append([]Method(nil), AllMethods...), nil
	}
	var methods []Method
	seen := map[Method]bool{}
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseMethod(name)
		if err != nil {
			return nil, err
		}
		if !seen[m] {
			methods = append(methods, m)
			seen[m] = true
		}
	}
	if len(methods) == 0 {
		return nil, precondition("method", "", "no methods specified")
	}
	return methods, nil
}

// TransformConfig holds the numerical constants of the outcome
// transformations.
type TransformConfig struct {
	// Floor applied to propensity denominators so transformed
	// values stay finite.
	Epsilon float64 `toml:"epsilon"`
	// Added to each propensity before inversion by the shifted
	// method. Zero makes it identical to the modified outcome.
	Shift float64 `toml:"shift"`
	// Ridge penalty of the default main-effect nuisance model.
	RidgeAlpha float64 `toml:"ridge_alpha"`
	// Fit the nuisance model separately in each target arm.
	ArmSpecificNuisance bool `toml:"arm_specific_nuisance"`
}

// DefaultTransformConfig returns the defaults used by the command
// line tools.
func DefaultTransformConfig() TransformConfig {
	return TransformConfig{
		Epsilon:    1e-8,
		Shift:      0.1,
		RidgeAlpha: 1,
	}
}

func (cfg TransformConfig) validate() error {
	if !(cfg.Epsilon > 0) {
		return precondition("transform config", "epsilon", "must be > 0, got %v", cfg.Epsilon)
	}
	if cfg.Shift < 0 || math.IsNaN(cfg.Shift) {
		return precondition("transform config", "shift", "must be >= 0, got %v", cfg.Shift)
	}
	if cfg.RidgeAlpha < 0 || math.IsNaN(cfg.RidgeAlpha) {
		return precondition("transform config", "ridge_alpha", "must be >= 0, got %v", cfg.RidgeAlpha)
	}
	return nil
}

// RegressionInput is the method-specific input to the stability
// selection engine. Exactly one shape is populated: Outcome for
// least-squares methods, or Label and Weight for classification.
type RegressionInput struct {
	Outcome []float64
	// Label is in {-1,+1}
	Label  []float64
	Weight []float64
}

// Classification reports whether in is a weighted classification
// problem.
func (in RegressionInput) Classification() bool { return in.Label != nil }

// Len returns the number of samples.
func (in RegressionInput) Len() int {
	if in.Label != nil {
		return len(in.Label)
	}
	return len(in.Outcome)
}

// Transformer computes method-specific regression inputs.
type Transformer struct {
	Config TransformConfig
	// Nuisance is the main-effect model used by the robust method.
	// If nil, a ridge model is built from Config.
	Nuisance Nuisance
}

func (t *Transformer) nuisance() Nuisance {
	if t.Nuisance != nil {
		return t.Nuisance
	}
	if t.Config.ArmSpecificNuisance {
		return ArmRidgeNuisance{Alpha: t.Config.RidgeAlpha}
	}
	return RidgeNuisance{Alpha: t.Config.RidgeAlpha}
}

// Transform returns the regression input for method. x holds the
// covariates (target excluded) and is used only by the robust
// method's nuisance model; it may be nil for the other methods.
func (t *Transformer) Transform(method Method, y []float64, target Target, rule Binarization, ps mat.Matrix, x mat.Matrix) (RegressionInput, error) {
	if err := t.Config.validate(); err != nil {
		return RegressionInput{}, err
	}
	n := len(y)
	if len(target.Raw) != n {
		return RegressionInput{}, precondition("target", "rows", "%d values, phenotype has %d", len(target.Raw), n)
	}
	if err := checkPropensity(ps, n, false); err != nil {
		return RegressionInput{}, err
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RegressionInput{}, precondition("phenotype", "values", "non-finite value %v at row %d", v, i)
		}
	}
	abar := target.Binary(rule)
	eps := t.Config.Epsilon

	switch method {
	case OWL:
		return owl(y, abar, target.Symmetric(rule), ps, eps), nil
	case ModifiedOutcome:
		return modifiedOutcome(y, abar, ps, 0, eps, nil, nil), nil
	case ShiftedModifiedOutcome:
		return modifiedOutcome(y, abar, ps, t.Config.Shift, eps, nil, nil), nil
	case NormalizedModifiedOutcome:
		return normalizedModifiedOutcome(y, abar, ps, eps), nil
	case RobustModifiedOutcome:
		if x == nil {
			return RegressionInput{}, precondition("covariate matrix", "", "required by robust method")
		}
		if r, _ := x.Dims(); r != n {
			return RegressionInput{}, precondition("covariate matrix", "rows", "%d rows, phenotype has %d", r, n)
		}
		mu1, mu0, err := t.nuisance().Fit(x, y, abar)
		if err != nil {
			// Without a usable main-effect fit the augmentation
			// term is zero and this is the plain modified outcome.
			log.WithError(err).Warn("nuisance model fit failed, using zero main effect")
			mu1, mu0 = nil, nil
		}
		return modifiedOutcome(y, abar, ps, 0, eps, mu1, mu0), nil
	default:
		return RegressionInput{}, precondition("method", "", "unknown method %d", int(method))
	}
}

func floor(p, eps float64) float64 {
	if p < eps {
		return eps
	}
	return p
}

// owl returns weights Y/P(observed arm) and symmetric labels. A
// negative weight is replaced by its absolute value with the label
// flipped, which leaves the weighted classification risk unchanged
// up to a constant.
func owl(y, abar, sym []float64, ps mat.Matrix, eps float64) RegressionInput {
	n := len(y)
	in := RegressionInput{
		Label:  make([]float64, n),
		Weight: make([]float64, n),
	}
	for i := range y {
		pobs := ps.At(i, 0)
		if abar[i] == 1 {
			pobs = ps.At(i, 1)
		}
		w := y[i] / floor(pobs, eps)
		label := sym[i]
		if w < 0 {
			w, label = -w, -label
		}
		in.Weight[i] = w
		in.Label[i] = label
	}
	return in
}

// augmented is the doubly robust contrast for one sample. With
// mu1 == mu0 == 0 it is the plain modified outcome.
func augmented(y, abar, d1, d0, mu1, mu0 float64) float64 {
	return abar*(y-mu1)/d1 - (1-abar)*(y-mu0)/d0 + (mu1 - mu0)
}

// modifiedOutcome covers the plain, shifted and robust methods. nil
// mu1/mu0 mean a zero main effect.
func modifiedOutcome(y, abar []float64, ps mat.Matrix, shift, eps float64, mu1, mu0 []float64) RegressionInput {
	out := make([]float64, len(y))
	for i := range y {
		d1 := floor(ps.At(i, 1)+shift, eps)
		d0 := floor(ps.At(i, 0)+shift, eps)
		var m1, m0 float64
		if mu1 != nil {
			m1, m0 = mu1[i], mu0[i]
		}
		out[i] = augmented(y[i], abar[i], d1, d0, m1, m0)
	}
	return RegressionInput{Outcome: out}
}

// normalizedModifiedOutcome divides each arm's inverse propensity
// weights by their sum and scales them to total mass n (Hajek
// normalization). Propensity rows are normalized to sum to 1 first.
func normalizedModifiedOutcome(y, abar []float64, ps mat.Matrix, eps float64) RegressionInput {
	n := len(y)
	w1 := make([]float64, n)
	w0 := make([]float64, n)
	var s1, s0 float64
	for i := range y {
		p0, p1 := ps.At(i, 0), ps.At(i, 1)
		tot := p0 + p1
		w1[i] = abar[i] / floor(p1/tot, eps)
		w0[i] = (1 - abar[i]) / floor(p0/tot, eps)
		s1 += w1[i]
		s0 += w0[i]
	}
	out := make([]float64, n)
	for i := range y {
		var a, b float64
		if s1 > 0 {
			a = float64(n) * w1[i] / s1
		}
		if s0 > 0 {
			b = float64(n) * w0[i] / s0
		}
		out[i] = y[i] * (a - b)
	}
	return RegressionInput{Outcome: out}
}
