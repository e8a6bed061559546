// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package hmm evaluates fitted genotype hidden Markov models.
//
// A Model describes a chain of latent states running along an ordered
// set of variant positions. At each position the chain emits an
// allele dosage in {0,1,2}. The package does not estimate model
// parameters; models come from a Fitter or from a model file.
package hmm

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/pgzip"
)

// Values is the number of distinct observed genotype values.
const Values = 3

// Tolerance for row/column sums of stochastic tensors.
const Tolerance = 1e-6

var (
	ErrDimension     = errors.New("model dimension mismatch")
	ErrNotStochastic = errors.New("probabilities do not sum to 1")
	ErrRowLength     = errors.New("genotype row length does not match model positions")
	ErrValue         = errors.New("genotype value outside {0,1,2}")
)

// Model holds fitted HMM parameters.
//
// Trans[i][s][t] is the probability of moving from state s at
// position i to state t at position i+1, so len(Trans) is one less
// than the number of positions. Emit[i][v][s] is the probability of
// observing value v at position i given state s.
type Model struct {
	Init  []float64
	Trans [][][]float64
	Emit  [][][]float64

	logOnce sync.Once
	logInit []float64
	// flattened, logTrans[i][s*K+t]
	logTrans [][]float64
	// flattened, logEmit[i][v*K+s]
	logEmit [][]float64
}

// States returns the number of latent states.
func (m *Model) States() int { return len(m.Init) }

// Positions returns the number of variant positions covered by the
// model.
func (m *Model) Positions() int { return len(m.Emit) }

// Validate checks tensor shapes and stochasticity. It is cheap
// relative to evaluating even a single row and should be called
// before any work is dispatched.
func (m *Model) Validate() error {
	k := len(m.Init)
	if k == 0 {
		return fmt.Errorf("%w: no states in initial distribution", ErrDimension)
	}
	p := len(m.Emit)
	if p == 0 {
		return fmt.Errorf("%w: no positions in emission tensor", ErrDimension)
	}
	if len(m.Trans) != p-1 {
		return fmt.Errorf("%w: transition tensor has %d positions, expected %d (emission positions - 1)", ErrDimension, len(m.Trans), p-1)
	}
	if err := checkDistribution(m.Init); err != nil {
		return fmt.Errorf("initial distribution: %w", err)
	}
	for i, tr := range m.Trans {
		if len(tr) != k {
			return fmt.Errorf("%w: transition position %d has %d source states, expected %d", ErrDimension, i, len(tr), k)
		}
		for s, row := range tr {
			if len(row) != k {
				return fmt.Errorf("%w: transition position %d state %d has %d destination states, expected %d", ErrDimension, i, s, len(row), k)
			}
			if err := checkDistribution(row); err != nil {
				return fmt.Errorf("transition position %d state %d: %w", i, s, err)
			}
		}
	}
	col := make([]float64, Values)
	for i, em := range m.Emit {
		if len(em) != Values {
			return fmt.Errorf("%w: emission position %d has %d values, expected %d", ErrDimension, i, len(em), Values)
		}
		for v := range em {
			if len(em[v]) != k {
				return fmt.Errorf("%w: emission position %d value %d has %d states, expected %d", ErrDimension, i, v, len(em[v]), k)
			}
		}
		for s := 0; s < k; s++ {
			for v := range em {
				col[v] = em[v][s]
			}
			if err := checkDistribution(col); err != nil {
				return fmt.Errorf("emission position %d state %d: %w", i, s, err)
			}
		}
	}
	return nil
}

func checkDistribution(p []float64) error {
	sum := 0.0
	for _, x := range p {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: invalid probability %v", ErrNotStochastic, x)
		}
		sum += x
	}
	if math.Abs(sum-1) > Tolerance {
		return fmt.Errorf("%w: sum is %v", ErrNotStochastic, sum)
	}
	return nil
}

// logTables fills the log-probability tables on first use. The model
// must not be modified afterwards.
func (m *Model) logTables() {
	m.logOnce.Do(func() {
		k := len(m.Init)
		m.logInit = make([]float64, k)
		for s, x := range m.Init {
			m.logInit[s] = math.Log(x)
		}
		m.logTrans = make([][]float64, len(m.Trans))
		for i, tr := range m.Trans {
			lt := make([]float64, k*k)
			for s := range tr {
				for t, x := range tr[s] {
					lt[s*k+t] = math.Log(x)
				}
			}
			m.logTrans[i] = lt
		}
		m.logEmit = make([][]float64, len(m.Emit))
		for i, em := range m.Emit {
			le := make([]float64, Values*k)
			for v := range em {
				for s, x := range em[v] {
					le[v*k+s] = math.Log(x)
				}
			}
			m.logEmit[i] = le
		}
	})
}

type modelFile struct {
	Init  []float64     `json:"init"`
	Trans [][][]float64 `json:"transition"`
	Emit  [][][]float64 `json:"emission"`
}

// ReadModel decodes a JSON model. The caller should Validate the
// result.
func ReadModel(r io.Reader) (*Model, error) {
	var mf modelFile
	err := json.NewDecoder(r).Decode(&mf)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return &Model{Init: mf.Init, Trans: mf.Trans, Emit: mf.Emit}, nil
}

// WriteModel encodes m as JSON.
func WriteModel(w io.Writer, m *Model) error {
	return json.NewEncoder(w).Encode(modelFile{Init: m.Init, Trans: m.Trans, Emit: m.Emit})
}

// LoadModel reads a model file, gunzipping if the name ends in ".gz".
func LoadModel(fnm string) (*Model, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rdr io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(fnm, ".gz") {
		gz, err := pgzip.NewReader(rdr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		defer gz.Close()
		rdr = gz
	}
	m, err := ReadModel(rdr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return m, nil
}

// SaveModel writes a model file, gzipping if the name ends in ".gz".
func SaveModel(fnm string, m *Model) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	var w io.Writer = bufw
	var gz *pgzip.Writer
	if strings.HasSuffix(fnm, ".gz") {
		gz = pgzip.NewWriter(bufw)
		w = gz
	}
	err = WriteModel(w, m)
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return fmt.Errorf("write %s: %w", fnm, err)
		}
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}
