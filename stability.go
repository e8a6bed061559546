// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Aggregation reduces a variant's selection frequencies along the
// regularization path to one score.
type Aggregation int

const (
	// AggregateMax takes the maximum frequency over the path.
	AggregateMax Aggregation = iota
	// AggregateArea takes the mean frequency over the path (area
	// under the frequency curve on the normalized grid).
	AggregateArea
)

func (a Aggregation) String() string {
	switch a {
	case AggregateMax:
		return "max"
	case AggregateArea:
		return "area"
	default:
		return fmt.Sprintf("Aggregation(%d)", int(a))
	}
}

// ParseAggregation accepts "max" or "area".
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(s) {
	case "max":
		return AggregateMax, nil
	case "area":
		return AggregateArea, nil
	}
	return 0, precondition("aggregation", "", "unknown aggregation %q (expected max or area)", s)
}

// UnmarshalText lets config files spell the aggregation by name.
func (a *Aggregation) UnmarshalText(text []byte) error {
	v, err := ParseAggregation(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Aggregation) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// StabilityConfig controls resampling and the regularization path.
type StabilityConfig struct {
	ResampleCount int     `toml:"resample_count"`
	Fraction      float64 `toml:"fraction"`
	Seed          uint64  `toml:"seed"`
	// Number of subsample fits to run concurrently. Values <= 1
	// run sequentially.
	Parallel       int     `toml:"parallel"`
	NLambda        int     `toml:"nlambda"`
	LambdaMinRatio float64 `toml:"lambda_min_ratio"`
	// Stop each path once more than this many variants are
	// active. Zero means ceil(sqrt(0.8 * variants)).
	MaxSelected int         `toml:"max_selected"`
	Aggregate   Aggregation `toml:"aggregate"`
}

// DefaultStabilityConfig returns the defaults used by the command
// line tools.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		ResampleCount:  100,
		Fraction:       0.5,
		Seed:           1,
		Parallel:       runtime.NumCPU(),
		NLambda:        25,
		LambdaMinRatio: 0.05,
		Aggregate:      AggregateMax,
	}
}

func (cfg StabilityConfig) validate(n int) error {
	if cfg.ResampleCount < 1 {
		return precondition("stability config", "resample_count", "must be >= 1, got %d", cfg.ResampleCount)
	}
	if !(cfg.Fraction > 0 && cfg.Fraction < 1) {
		return precondition("stability config", "fraction", "must be in (0,1), got %v", cfg.Fraction)
	}
	if m := subsampleSize(n, cfg.Fraction); m < 2 || m >= n {
		return precondition("stability config", "fraction", "subsample size %d is unusable with %d samples", m, n)
	}
	if cfg.NLambda < 1 {
		return precondition("stability config", "nlambda", "must be >= 1, got %d", cfg.NLambda)
	}
	if !(cfg.LambdaMinRatio > 0 && cfg.LambdaMinRatio < 1) {
		return precondition("stability config", "lambda_min_ratio", "must be in (0,1), got %v", cfg.LambdaMinRatio)
	}
	if cfg.MaxSelected < 0 {
		return precondition("stability config", "max_selected", "must be >= 0, got %d", cfg.MaxSelected)
	}
	if cfg.Aggregate != AggregateMax && cfg.Aggregate != AggregateArea {
		return precondition("stability config", "aggregate", "unknown aggregation %d", int(cfg.Aggregate))
	}
	return nil
}

func subsampleSize(n int, fraction float64) int {
	return int(math.Floor(fraction * float64(n)))
}

func (cfg StabilityConfig) pathConfig(p int) pathConfig {
	q := cfg.MaxSelected
	if q == 0 {
		q = int(math.Ceil(math.Sqrt(0.8 * float64(p))))
	}
	return pathConfig{
		NLambda:        cfg.NLambda,
		LambdaMinRatio: cfg.LambdaMinRatio,
		MaxSelected:    q,
		MaxIter:        1000,
		Tol:            1e-7,
	}
}

// Subsamples draws cfg.ResampleCount sorted index sets of size
// floor(cfg.Fraction*n) without replacement. The result depends only
// on n and cfg.
func Subsamples(n int, cfg StabilityConfig) [][]int {
	rng := rand.New(rand.NewSource(cfg.Seed))
	m := subsampleSize(n, cfg.Fraction)
	out := make([][]int, cfg.ResampleCount)
	for b := range out {
		idx := rng.Perm(n)[:m]
		sort.Ints(idx)
		out[b] = idx
	}
	return out
}

// StabilitySelection returns one stability score in [0,1] per column
// of x. If subsamples is nil they are drawn with Subsamples.
func StabilitySelection(ctx context.Context, x mat.Matrix, in RegressionInput, cfg StabilityConfig, subsamples [][]int) ([]float64, error) {
	scores, err := stabilitySelection(ctx, x, []RegressionInput{in}, cfg, subsamples)
	if err != nil {
		return nil, err
	}
	return scores[0], nil
}

func checkRegressionInput(in RegressionInput, n int) error {
	if in.Len() != n {
		return precondition("regression input", "rows", "%d values, covariate matrix has %d rows", in.Len(), n)
	}
	if in.Classification() && len(in.Weight) != n {
		return precondition("regression input", "weights", "%d weights for %d labels", len(in.Weight), n)
	}
	for _, vs := range [][]float64{in.Outcome, in.Label, in.Weight} {
		for i, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return precondition("regression input", "values", "non-finite value %v at row %d", v, i)
			}
		}
	}
	for i, w := range in.Weight {
		if w < 0 {
			return precondition("regression input", "weights", "negative weight %v at row %d", w, i)
		}
	}
	return nil
}

// stabilitySelection runs one unit per (subsample, input) pair on a
// shared worker gate and aggregates each input's selection events.
func stabilitySelection(ctx context.Context, x mat.Matrix, inputs []RegressionInput, cfg StabilityConfig, subsamples [][]int) ([][]float64, error) {
	n, p := x.Dims()
	if err := cfg.validate(n); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if err := checkRegressionInput(in, n); err != nil {
			return nil, err
		}
	}
	if subsamples == nil {
		subsamples = Subsamples(n, cfg)
	}
	for b, rows := range subsamples {
		for _, i := range rows {
			if i < 0 || i >= n {
				return nil, precondition("subsample", "rows", "subsample %d has row %d outside [0,%d)", b, i, n)
			}
		}
	}

	parallel := cfg.Parallel
	if parallel > 1 && runtime.NumCPU() < 2 {
		log.Warnf("parallel=%d requested but only one CPU is available, running subsample fits sequentially", parallel)
		parallel = 1
	}
	if parallel < 1 {
		parallel = 1
	}
	pcfg := cfg.pathConfig(p)
	log.WithFields(log.Fields{
		"inputs":      len(inputs),
		"subsamples":  len(subsamples),
		"variants":    p,
		"nlambda":     pcfg.NLambda,
		"maxSelected": pcfg.MaxSelected,
		"parallel":    parallel,
	}).Info("running stability selection")

	// entries[m][b] is nil for a degenerate fit
	entries := make([][][]int, len(inputs))
	for m := range entries {
		entries[m] = make([][]int, len(subsamples))
	}
	gate := throttle{Max: parallel}
	for m := range inputs {
		for b := range subsamples {
			if ctx.Err() != nil {
				break
			}
			m, b := m, b
			gate.Go(func() error {
				entry, err := lassoPath(x, subsamples[b], inputs[m], pcfg)
				if err != nil {
					log.WithFields(log.Fields{"input": m, "subsample": b}).Debugf("no contribution: %s", err)
					return nil
				}
				entries[m][b] = entry
				return nil
			})
		}
	}
	gate.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make([][]float64, len(inputs))
	for m := range inputs {
		freq := selectionFrequencies(entries[m], p, pcfg.NLambda)
		scores[m] = aggregate(freq, cfg.Aggregate)
		degenerate := 0
		for _, e := range entries[m] {
			if e == nil {
				degenerate++
			}
		}
		if degenerate > 0 {
			log.Warnf("%d of %d subsample fits selected nothing and contribute zero", degenerate, len(subsamples))
		}
	}
	return scores, nil
}

// selectionFrequencies returns freq[k][j], the fraction of subsamples
// in which variant j is active at grid index k or earlier.
func selectionFrequencies(entries [][]int, p, nlambda int) [][]float64 {
	freq := make([][]float64, nlambda)
	for k := range freq {
		freq[k] = make([]float64, p)
	}
	if len(entries) == 0 {
		return freq
	}
	for _, entry := range entries {
		for j, k := range entry {
			if k >= 0 {
				freq[k][j]++
			}
		}
	}
	for k := range freq {
		for j := range freq[k] {
			if k > 0 {
				freq[k][j] += freq[k-1][j]
			}
		}
	}
	for k := range freq {
		for j := range freq[k] {
			freq[k][j] /= float64(len(entries))
		}
	}
	return freq
}

func aggregate(freq [][]float64, how Aggregation) []float64 {
	if len(freq) == 0 {
		return nil
	}
	scores := make([]float64, len(freq[0]))
	for _, row := range freq {
		for j, f := range row {
			if how == AggregateArea {
				scores[j] += f / float64(len(freq))
			} else if f > scores[j] {
				scores[j] = f
			}
		}
	}
	return scores
}
