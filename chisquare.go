// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

func pvalue(x, y []bool) float64 {
	var (
		obs, exp [2]float64
		sum      float64
		sz       = float64(len(y))
	)
	for i, yi := range y {
		if x[i] {
			if yi {
				obs[0]++
			} else {
				obs[1]++
			}
		}
		if yi {
			exp[0]++
		} else {
			exp[1]++
		}
	}
	if exp[0] == 0 || exp[1] == 0 || obs[0]+obs[1] == 0 {
		return 1
	}
	exp[0] = (obs[0] + obs[1]) * exp[0] / sz
	exp[1] = (obs[0] + obs[1]) * exp[1] / sz
	for i := range exp {
		d := obs[i] - exp[i]
		sum += d * d / exp[i]
	}
	return 1 - chisquared.CDF(sum)
}

// MarginalScreen returns, for each column of g, the chi-squared
// p-value for association between carrying the variant under rule
// and a 0/1 phenotype. It returns nil for non-binary phenotypes.
func MarginalScreen(g Genotypes, y []float64, rule Binarization) []float64 {
	if !(Phenotypes{Values: y}).Binary() {
		return nil
	}
	cases := make([]bool, len(y))
	for i, v := range y {
		cases[i] = v == 1
	}
	out := make([]float64, g.Cols)
	carrier := make([]bool, g.Rows)
	for j := range out {
		for i := range carrier {
			if rule == Recessive {
				carrier[i] = g.At(i, j) == 2
			} else {
				carrier[i] = g.At(i, j) >= 1
			}
		}
		out[j] = pvalue(carrier, cases)
	}
	return out
}
