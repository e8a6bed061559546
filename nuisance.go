// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Nuisance fits the main-effect surface used by the robust modified
// outcome. It returns fitted phenotype values for each sample as if
// the target were present (mu1) and absent (mu0).
type Nuisance interface {
	Fit(x mat.Matrix, y, abar []float64) (mu1, mu0 []float64, err error)
}

// ZeroNuisance always returns a zero main effect, which makes the
// robust method identical to the plain modified outcome.
type ZeroNuisance struct{}

func (ZeroNuisance) Fit(x mat.Matrix, y, abar []float64) ([]float64, []float64, error) {
	return make([]float64, len(y)), make([]float64, len(y)), nil
}

// RidgeNuisance regresses Y on X with an L2 penalty, ignoring the
// target, so mu1 == mu0.
type RidgeNuisance struct {
	Alpha float64
}

func (r RidgeNuisance) Fit(x mat.Matrix, y, abar []float64) ([]float64, []float64, error) {
	n, _ := x.Dims()
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	fitted, err := ridgePredict(x, y, all, r.Alpha)
	if err != nil {
		return nil, nil, err
	}
	return fitted, fitted, nil
}

// ArmRidgeNuisance fits one ridge regression per target arm. If an
// arm has fewer than two samples, the pooled fit is used for it.
type ArmRidgeNuisance struct {
	Alpha float64
}

func (r ArmRidgeNuisance) Fit(x mat.Matrix, y, abar []float64) ([]float64, []float64, error) {
	var arm [2][]int
	for i, a := range abar {
		arm[int(a)] = append(arm[int(a)], i)
	}
	var pooled []float64
	var mu [2][]float64
	for a := range arm {
		if len(arm[a]) >= 2 {
			fitted, err := ridgePredict(x, y, arm[a], r.Alpha)
			if err == nil {
				mu[a] = fitted
				continue
			}
			log.WithError(err).Warnf("arm %d nuisance fit failed, using pooled fit", a)
		}
		if pooled == nil {
			var err error
			pooled, _, err = RidgeNuisance{Alpha: r.Alpha}.Fit(x, y, abar)
			if err != nil {
				return nil, nil, err
			}
		}
		mu[a] = pooled
	}
	return mu[1], mu[0], nil
}

// ridgePredict fits y on x using the given rows (centered, with an
// unpenalized intercept) and returns predictions for every row of x.
func ridgePredict(x mat.Matrix, y []float64, rows []int, alpha float64) ([]float64, error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("ridge: %d outcomes for %d rows", len(y), n)
	}
	m := len(rows)
	if m == 0 {
		return nil, errors.New("ridge: no rows")
	}
	xs := mat.NewDense(m, p, nil)
	ys := make([]float64, m)
	for k, i := range rows {
		for j := 0; j < p; j++ {
			xs.Set(k, j, x.At(i, j))
		}
		ys[k] = y[i]
	}
	means := make([]float64, p)
	col := make([]float64, m)
	for j := 0; j < p; j++ {
		mat.Col(col, j, xs)
		means[j] = stat.Mean(col, nil)
		for k := range col {
			xs.Set(k, j, col[k]-means[j])
		}
	}
	ymean := stat.Mean(ys, nil)
	yc := mat.NewVecDense(m, nil)
	for k, v := range ys {
		yc.SetVec(k, v-ymean)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, xs.T())
	for j := 0; j < p; j++ {
		// a tiny ridge keeps constant columns from making the
		// system singular even when alpha is 0
		xtx.SetSym(j, j, xtx.At(j, j)+alpha+1e-10)
	}
	var xty mat.VecDense
	xty.MulVec(xs.T(), yc)
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, errors.New("ridge: normal equations not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("ridge: %w", err)
	}

	fitted := make([]float64, n)
	for i := 0; i < n; i++ {
		v := ymean
		for j := 0; j < p; j++ {
			v += (x.At(i, j) - means[j]) * beta.AtVec(j)
		}
		fitted[i] = v
	}
	return fitted, nil
}
