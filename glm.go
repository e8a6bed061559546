// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

var gaussianConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	if std == 0 {
		return
	}
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// LRTInput is the data for the classical interaction test.
type LRTInput struct {
	Target    []int8
	X         Genotypes
	Phenotype []float64
	// Optional n x k covariates, e.g., from PCACovariates.
	Covariates mat.Matrix
}

// InteractionLRT tests each column j of in.X for interaction with the
// target by comparing
//
//	Y ~ 1 + Abar + X_j + covariates + Abar*X_j
//
// against the same model without the product term. The p-value is
// the chi-squared(1) survival of twice the log-likelihood gain.
// Binary phenotypes use logistic regression, others least squares. A
// fit that fails yields NaN for that variant.
func InteractionLRT(ctx context.Context, in LRTInput, rule Binarization, workers int) ([]float64, error) {
	if err := in.X.Validate(); err != nil {
		return nil, err
	}
	n := in.X.Rows
	if err := (Target{Raw: in.Target}).Validate(); err != nil {
		return nil, err
	}
	if len(in.Target) != n || len(in.Phenotype) != n {
		return nil, precondition("lrt input", "rows", "target %d, phenotype %d, genotype matrix %d", len(in.Target), len(in.Phenotype), n)
	}
	var ncov int
	if in.Covariates != nil {
		var r int
		r, ncov = in.Covariates.Dims()
		if r != n {
			return nil, precondition("covariate matrix", "rows", "%d rows, genotype matrix has %d", r, n)
		}
	}
	binary := Phenotypes{Values: in.Phenotype}.Binary()

	abar := Target{Raw: in.Target}.Binary(rule)
	base := [][]float64{ones(n), abar}
	for k := 0; k < ncov; k++ {
		col := mat.Col(nil, k, in.Covariates)
		normalize(col)
		base = append(base, col)
	}

	fit := gaussianLogLike
	if binary {
		fit = logisticLogLike
	}
	pvalues := make([]float64, in.X.Cols)
	gate := throttle{Max: workers}
	for j := 0; j < in.X.Cols; j++ {
		if ctx.Err() != nil {
			break
		}
		j := j
		gate.Go(func() error {
			xj := make([]float64, n)
			prod := make([]float64, n)
			for i := range xj {
				xj[i] = float64(in.X.At(i, j))
				prod[i] = xj[i] * abar[i]
			}
			null := append(append([][]float64(nil), base...), xj)
			alt := append(append([][]float64(nil), null...), prod)
			pvalues[j] = lrtPvalue(fit, in.Phenotype, null, alt)
			return nil
		})
	}
	gate.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Infof("interaction lrt: %d variants, binary=%v, covariates=%d", in.X.Cols, binary, ncov)
	return pvalues, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

type logLikeFunc func(y []float64, cols [][]float64) (float64, error)

func lrtPvalue(fit logLikeFunc, y []float64, null, alt [][]float64) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()
	l0, err := fit(y, null)
	if err != nil {
		return math.NaN()
	}
	l1, err := fit(y, alt)
	if err != nil {
		return math.NaN()
	}
	chi2 := 2 * (l1 - l0)
	if chi2 < 0 {
		chi2 = 0
	}
	return distuv.ChiSquared{K: 1}.Survival(chi2)
}

// logisticLogLike fits a logistic regression of y on cols (which
// must include the intercept column) and returns its log-likelihood.
func logisticLogLike(y []float64, cols [][]float64) (float64, error) {
	model, err := newGLM(y, cols, glmConfig)
	if err != nil {
		return 0, err
	}
	return model.Fit().LogLike(), nil
}

func newGLM(y []float64, cols [][]float64, cfg *glm.Config) (*glm.GLM, error) {
	data := [][]statmodel.Dtype{y}
	names := []string{"outcome"}
	for k, col := range cols {
		data = append(data, col)
		names = append(names, fmt.Sprintf("x%d", k))
	}
	dataset := statmodel.NewDataset(data, names)
	return glm.NewGLM(dataset, "outcome", names[1:], cfg)
}

// gaussianLogLike fits a least squares regression of y on cols
// (which must include the intercept column) and returns the Gaussian
// profile log-likelihood -n/2 log(RSS/n), up to a constant that
// cancels in the likelihood ratio.
func gaussianLogLike(y []float64, cols [][]float64) (float64, error) {
	n := len(y)
	if n <= len(cols) {
		return 0, fmt.Errorf("gaussian glm: %d rows, %d columns", n, len(cols))
	}
	model, err := newGLM(y, cols, gaussianConfig)
	if err != nil {
		return 0, err
	}
	rss := 0.0
	for _, r := range model.Fit().Resid(nil) {
		rss += r * r
	}
	if rss <= 0 {
		return math.Inf(1), nil
	}
	return -float64(n) / 2 * math.Log(rss/float64(n)), nil
}
