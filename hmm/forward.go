// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hmm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// LogSumExp returns log(sum(exp(x))). If every element is -Inf the
// result is -Inf (not NaN).
func LogSumExp(x []float64) float64 {
	return floats.LogSumExp(x)
}

// forward holds per-goroutine workspace for the forward recursion.
type forward struct {
	m     *Model
	k     int
	alpha []float64
	next  []float64
	work  []float64
}

func (m *Model) newForward() *forward {
	m.logTables()
	k := len(m.Init)
	return &forward{
		m:     m,
		k:     k,
		alpha: make([]float64, k),
		next:  make([]float64, k),
		work:  make([]float64, k),
	}
}

// start sets alpha to the log forward vector at position 0.
func (f *forward) start(v int8) {
	le := f.m.logEmit[0][int(v)*f.k:]
	for s, li := range f.m.logInit {
		f.alpha[s] = li + le[s]
	}
}

// step advances alpha from position i-1 to position i, where v is the
// value observed at position i.
func (f *forward) step(i int, v int8) {
	k := f.k
	lt := f.m.logTrans[i-1]
	le := f.m.logEmit[i][int(v)*k:]
	for t := 0; t < k; t++ {
		for s := 0; s < k; s++ {
			f.work[s] = f.alpha[s] + lt[s*k+t]
		}
		f.next[t] = LogSumExp(f.work) + le[t]
	}
	f.alpha, f.next = f.next, f.alpha
}

// run advances alpha through positions [from, len(row)).
func (f *forward) run(row []int8, from int) {
	for i := from; i < len(row); i++ {
		f.step(i, row[i])
	}
}

func checkRow(m *Model, row []int8) error {
	if len(row) != len(m.Emit) {
		return fmt.Errorf("%w: row has %d values, model has %d positions", ErrRowLength, len(row), len(m.Emit))
	}
	for i, v := range row {
		if v < 0 || v >= Values {
			return fmt.Errorf("%w: value %d at position %d", ErrValue, v, i)
		}
	}
	return nil
}

// LogJoint returns the log probability of the genotype row under the
// model, marginalized over latent states. The row must have one value
// per model position.
func (m *Model) LogJoint(row []int8) (float64, error) {
	if err := checkRow(m, row); err != nil {
		return 0, err
	}
	f := m.newForward()
	f.start(row[0])
	f.run(row, 1)
	return LogSumExp(f.alpha), nil
}

// LogJointVariants returns, for each v in values, the log joint
// probability of row with position pos overwritten by v. row itself
// is not modified; its value at pos is ignored. The forward prefix
// before pos is computed once and shared.
func (m *Model) LogJointVariants(row []int8, pos int, values []int8) ([]float64, error) {
	if pos < 0 || pos >= len(row) {
		return nil, fmt.Errorf("%w: position %d out of range [0,%d)", ErrRowLength, pos, len(row))
	}
	masked := append([]int8(nil), row...)
	masked[pos] = 0
	if err := checkRow(m, masked); err != nil {
		return nil, err
	}
	for _, v := range values {
		if v < 0 || v >= Values {
			return nil, fmt.Errorf("%w: substituted value %d", ErrValue, v)
		}
	}

	f := m.newForward()
	prefix := make([]float64, f.k)
	if pos > 0 {
		f.start(row[0])
		f.run(row[:pos], 1)
		copy(prefix, f.alpha)
	}
	out := make([]float64, len(values))
	for j, v := range values {
		if pos == 0 {
			f.start(v)
		} else {
			copy(f.alpha, prefix)
			f.step(pos, v)
		}
		f.run(row, pos+1)
		out[j] = LogSumExp(f.alpha)
	}
	return out, nil
}
