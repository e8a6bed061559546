// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errDegenerate = errors.New("degenerate subsample: nothing to select")

// pathConfig controls one regularization path fit.
type pathConfig struct {
	NLambda        int
	LambdaMinRatio float64
	// Stop the path when more than this many variables are
	// active. Zero means no limit.
	MaxSelected int
	MaxIter     int
	Tol         float64
}

// design is a standardized, column-major copy of the covariates for
// one subsample.
type design struct {
	cols [][]float64 // nil for constant columns
	n    int
}

func newDesign(x mat.Matrix, rows []int, w []float64) design {
	_, p := x.Dims()
	d := design{cols: make([][]float64, p), n: len(rows)}
	for j := 0; j < p; j++ {
		col := make([]float64, len(rows))
		for k, i := range rows {
			col[k] = x.At(i, j)
		}
		mean := floats.Dot(col, w)
		floats.AddConst(-mean, col)
		ss := 0.0
		for k, v := range col {
			ss += w[k] * v * v
		}
		if ss < 1e-12 {
			continue
		}
		floats.Scale(1/math.Sqrt(ss), col)
		d.cols[j] = col
	}
	return d
}

func softThreshold(z, gamma float64) float64 {
	switch {
	case z > gamma:
		return z - gamma
	case z < -gamma:
		return z + gamma
	default:
		return 0
	}
}

func lambdaGrid(lambdaMax float64, cfg pathConfig) []float64 {
	grid := make([]float64, cfg.NLambda)
	for k := range grid {
		if cfg.NLambda == 1 {
			grid[k] = lambdaMax
			continue
		}
		grid[k] = lambdaMax * math.Pow(cfg.LambdaMinRatio, float64(k)/float64(cfg.NLambda-1))
	}
	return grid
}

// lassoPath fits a penalized regression path on the given rows and
// returns, for each column, the index of the first grid point at
// which its coefficient is non-zero, or -1.
func lassoPath(x mat.Matrix, rows []int, in RegressionInput, cfg pathConfig) ([]int, error) {
	if in.Classification() {
		return logisticPath(x, rows, in, cfg)
	}
	return gaussianPath(x, rows, in, cfg)
}

func newEntry(p int) []int {
	entry := make([]int, p)
	for j := range entry {
		entry[j] = -1
	}
	return entry
}

// record notes newly active coefficients at grid index k. It returns
// false, leaving entry unchanged for k, if that would make more than
// max variables active.
func record(entry []int, beta []float64, k, max int) bool {
	active := 0
	for j, b := range beta {
		if b != 0 || entry[j] >= 0 {
			active++
		}
	}
	if max > 0 && active > max {
		return false
	}
	for j, b := range beta {
		if b != 0 && entry[j] < 0 {
			entry[j] = k
		}
	}
	return true
}

func gaussianPath(x mat.Matrix, rows []int, in RegressionInput, cfg pathConfig) ([]int, error) {
	_, p := x.Dims()
	n := len(rows)
	w := make([]float64, n)
	for k := range w {
		w[k] = 1 / float64(n)
	}
	d := newDesign(x, rows, w)
	r := make([]float64, n)
	for k, i := range rows {
		r[k] = in.Outcome[i]
	}
	floats.AddConst(-floats.Dot(r, w), r)

	lambdaMax := 0.0
	for _, col := range d.cols {
		if col != nil {
			lambdaMax = math.Max(lambdaMax, math.Abs(dotw(col, r, w)))
		}
	}
	if !(lambdaMax > 1e-12) || math.IsInf(lambdaMax, 0) {
		return nil, errDegenerate
	}

	entry := newEntry(p)
	beta := make([]float64, p)
	for k, lambda := range lambdaGrid(lambdaMax, cfg) {
		for iter := 0; iter < cfg.MaxIter; iter++ {
			maxDelta := 0.0
			for j, col := range d.cols {
				if col == nil {
					continue
				}
				z := dotw(col, r, w) + beta[j]
				b := softThreshold(z, lambda)
				if delta := b - beta[j]; delta != 0 {
					floats.AddScaled(r, -delta, col)
					beta[j] = b
					maxDelta = math.Max(maxDelta, math.Abs(delta))
				}
			}
			if maxDelta < cfg.Tol {
				break
			}
		}
		if !record(entry, beta, k, cfg.MaxSelected) {
			break
		}
	}
	return entry, nil
}

func dotw(a, b, w []float64) float64 {
	s := 0.0
	for i := range a {
		s += w[i] * a[i] * b[i]
	}
	return s
}

func sigmoid(eta float64) float64 {
	return 1 / (1 + math.Exp(-eta))
}

// logisticPath fits a weighted L1-penalized logistic regression path
// by iteratively reweighted least squares with coordinate descent on
// each quadratic approximation.
func logisticPath(x mat.Matrix, rows []int, in RegressionInput, cfg pathConfig) ([]int, error) {
	_, p := x.Dims()
	n := len(rows)
	w := make([]float64, n)
	t := make([]float64, n)
	for k, i := range rows {
		w[k] = in.Weight[i]
		if in.Label[i] > 0 {
			t[k] = 1
		}
	}
	wsum := floats.Sum(w)
	if !(wsum > 0) || math.IsInf(wsum, 0) {
		return nil, errDegenerate
	}
	floats.Scale(1/wsum, w)
	tbar := floats.Dot(w, t)
	if tbar <= 1e-10 || tbar >= 1-1e-10 {
		return nil, errDegenerate
	}
	d := newDesign(x, rows, w)

	lambdaMax := 0.0
	resid := make([]float64, n)
	for k := range resid {
		resid[k] = t[k] - tbar
	}
	for _, col := range d.cols {
		if col != nil {
			lambdaMax = math.Max(lambdaMax, math.Abs(dotw(col, resid, w)))
		}
	}
	if !(lambdaMax > 1e-12) {
		return nil, errDegenerate
	}

	entry := newEntry(p)
	beta := make([]float64, p)
	b0 := math.Log(tbar / (1 - tbar))
	eta := make([]float64, n)
	v := make([]float64, n)
	z := make([]float64, n)
	r := make([]float64, n)
	for k, lambda := range lambdaGrid(lambdaMax, cfg) {
		for outer := 0; outer < 25; outer++ {
			// quadratic approximation at the current estimate
			for i := range eta {
				eta[i] = b0
			}
			for j, col := range d.cols {
				if col != nil && beta[j] != 0 {
					floats.AddScaled(eta, beta[j], col)
				}
			}
			for i := range eta {
				pr := sigmoid(eta[i])
				vr := pr * (1 - pr)
				if vr < 1e-5 {
					vr = 1e-5
				}
				v[i] = w[i] * vr
				z[i] = eta[i] + (t[i]-pr)/vr
				r[i] = z[i] - eta[i]
			}
			vsum := floats.Sum(v)
			maxDelta := 0.0
			for iter := 0; iter < cfg.MaxIter; iter++ {
				inner := 0.0
				for j, col := range d.cols {
					if col == nil {
						continue
					}
					xvx := dotw(col, col, v)
					if xvx <= 0 {
						continue
					}
					zj := dotw(col, r, v) + beta[j]*xvx
					b := softThreshold(zj, lambda) / xvx
					if delta := b - beta[j]; delta != 0 {
						floats.AddScaled(r, -delta, col)
						beta[j] = b
						inner = math.Max(inner, math.Abs(delta))
					}
				}
				delta0 := floats.Dot(v, r) / vsum
				b0 += delta0
				floats.AddConst(-delta0, r)
				inner = math.Max(inner, math.Abs(delta0))
				maxDelta = math.Max(maxDelta, inner)
				if inner < cfg.Tol {
					break
				}
			}
			if maxDelta < cfg.Tol {
				break
			}
		}
		if !record(entry, beta, k, cfg.MaxSelected) {
			break
		}
	}
	return entry, nil
}
