// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// PCACovariates returns the first k principal components of g's
// dosages, one row per sample. They serve as ancestry covariates for
// the likelihood ratio test.
func PCACovariates(g Genotypes, k int) (*mat.Dense, error) {
	if k < 1 || k > g.Rows || k > g.Cols {
		return nil, precondition("pca", "components", "%d components for %d x %d genotype matrix", k, g.Rows, g.Cols)
	}
	var mtx mat.Matrix = g.Dense().T()

	log.Printf("fitting pca: %d components, %d rows, %d cols", k, g.Rows, g.Cols)
	transformer := nlp.NewPCA(k)
	transformer.Fit(mtx)
	mtx, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	mtx = mtx.T()

	rows, cols := mtx.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Copy(mtx)
	return out, nil
}
