// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var targetValues = []int8{0, 1, 2}

// PropensityEstimate holds per-sample target probabilities given the
// rest of the genotype.
type PropensityEstimate struct {
	// Triple[i][v] = P(A=v | X) for v in {0,1,2}
	Triple *mat.Dense
	// Binary[i] = (P(Abar=0 | X), P(Abar=1 | X)) under Rule
	Binary *mat.Dense
	Rule   Binarization
}

// EstimatePropensity evaluates model on every genotype row with the
// target column set to each of 0, 1 and 2, and normalizes the three
// joint likelihoods into conditional probabilities of the target.
//
// geno must include the target column and have one column per model
// position. The model is validated before any row is evaluated.
func EstimatePropensity(ctx context.Context, model *hmm.Model, geno Genotypes, targetCol int, rule Binarization, workers int) (*PropensityEstimate, error) {
	if err := model.Validate(); err != nil {
		return nil, &PreconditionError{Input: "propensity model", Detail: err.Error()}
	}
	if err := geno.Validate(); err != nil {
		return nil, err
	}
	if geno.Cols != model.Positions() {
		return nil, precondition("genotype matrix", "columns", "%d columns, propensity model has %d positions", geno.Cols, model.Positions())
	}
	if targetCol < 0 || targetCol >= geno.Cols {
		return nil, precondition("target", "column", "column %d out of range [0,%d)", targetCol, geno.Cols)
	}
	if rule != Dominant && rule != Recessive {
		return nil, precondition("binarization", "", "unknown rule %d", int(rule))
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	log.WithFields(log.Fields{
		"samples":   geno.Rows,
		"positions": geno.Cols,
		"states":    model.States(),
		"target":    geno.Names[targetCol],
		"workers":   workers,
	}).Info("estimating propensity scores")

	triple := mat.NewDense(geno.Rows, len(targetValues), nil)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (geno.Rows + workers*4 - 1) / (workers * 4)
	for start := 0; start < geno.Rows; start += chunk {
		start, end := start, start+chunk
		if end > geno.Rows {
			end = geno.Rows
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				lj, err := model.LogJointVariants(geno.Row(i), targetCol, targetValues)
				if err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
				lse := hmm.LogSumExp(lj)
				if math.IsInf(lse, -1) {
					return precondition("genotype matrix", "rows", "row %d has zero probability under the propensity model for every target value", i)
				}
				// Each row owns its slot in triple.
				for v, l := range lj {
					triple.Set(i, v, math.Exp(l-lse))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &PropensityEstimate{
		Triple: triple,
		Binary: CollapsePropensity(triple, rule),
		Rule:   rule,
	}, nil
}

// CollapsePropensity merges three-class target probabilities into
// two classes: under Dominant, {1,2} is the present class; under
// Recessive, {0,1} is the absent class.
func CollapsePropensity(triple *mat.Dense, rule Binarization) *mat.Dense {
	n, _ := triple.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p0, p1, p2 := triple.At(i, 0), triple.At(i, 1), triple.At(i, 2)
		if rule == Recessive {
			out.Set(i, 0, p0+p1)
			out.Set(i, 1, p2)
		} else {
			out.Set(i, 0, p0)
			out.Set(i, 1, p1+p2)
		}
	}
	return out
}

// ValidatePropensity checks a caller-supplied n x 2 propensity
// matrix: probabilities in [0,1] and rows summing to 1.
func ValidatePropensity(ps mat.Matrix, n int) error {
	return checkPropensity(ps, n, true)
}

// checkPropensity checks shape and values. Unless normalized is
// true, rows only need non-negative entries with a positive sum.
func checkPropensity(ps mat.Matrix, n int, normalized bool) error {
	if ps == nil {
		return precondition("propensity scores", "", "missing")
	}
	r, c := ps.Dims()
	if r != n || c != 2 {
		return precondition("propensity scores", "shape", "%d x %d, expected %d x 2", r, c, n)
	}
	for i := 0; i < r; i++ {
		p0, p1 := ps.At(i, 0), ps.At(i, 1)
		if p0 < 0 || p1 < 0 || math.IsNaN(p0) || math.IsNaN(p1) || math.IsInf(p0, 0) || math.IsInf(p1, 0) {
			return precondition("propensity scores", "values", "row %d (%v, %v) is not a valid probability", i, p0, p1)
		}
		if !normalized {
			if p0+p1 <= 0 {
				return precondition("propensity scores", "values", "row %d sums to %v", i, p0+p1)
			}
			continue
		}
		if p0 > 1 || p1 > 1 || math.Abs(p0+p1-1) > hmm.Tolerance {
			return precondition("propensity scores", "values", "row %d (%v, %v) does not sum to 1", i, p0, p1)
		}
	}
	return nil
}
