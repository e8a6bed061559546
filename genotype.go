// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PreconditionError reports an input that violates a contract of
// the analysis. It is returned before any work is dispatched.
type PreconditionError struct {
	Input     string // which input, e.g., "phenotype"
	Dimension string // which dimension or property, e.g., "rows"
	Detail    string
}

func (e *PreconditionError) Error() string {
	if e.Dimension == "" {
		return fmt.Sprintf("invalid %s: %s", e.Input, e.Detail)
	}
	return fmt.Sprintf("invalid %s (%s): %s", e.Input, e.Dimension, e.Detail)
}

func precondition(input, dimension, format string, args ...interface{}) error {
	return &PreconditionError{Input: input, Dimension: dimension, Detail: fmt.Sprintf(format, args...)}
}

// IsPrecondition reports whether err is (or wraps) a
// PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Genotypes is a row-major samples x variants matrix of allele
// dosages in {0,1,2}.
type Genotypes struct {
	Rows  int
	Cols  int
	Data  []int8
	Names []string // column names, len == Cols
}

// NewGenotypes returns a Genotypes with default column names
// "v0", "v1", ....
func NewGenotypes(data []int8, rows, cols int) Genotypes {
	names := make([]string, cols)
	for i := range names {
		names[i] = fmt.Sprintf("v%d", i)
	}
	return Genotypes{Rows: rows, Cols: cols, Data: data, Names: names}
}

// Row returns sample i's genotypes. The returned slice shares memory
// with g.
func (g Genotypes) Row(i int) []int8 {
	return g.Data[i*g.Cols : (i+1)*g.Cols]
}

// At returns the dosage of sample i at variant j.
func (g Genotypes) At(i, j int) int8 {
	return g.Data[i*g.Cols+j]
}

// Column returns a copy of variant j's dosages.
func (g Genotypes) Column(j int) []int8 {
	col := make([]int8, g.Rows)
	for i := range col {
		col[i] = g.Data[i*g.Cols+j]
	}
	return col
}

// Validate checks shape, value range and column name uniqueness.
func (g Genotypes) Validate() error {
	if g.Rows < 1 || g.Cols < 1 {
		return precondition("genotype matrix", "shape", "%d x %d", g.Rows, g.Cols)
	}
	if len(g.Data) != g.Rows*g.Cols {
		return precondition("genotype matrix", "data", "%d values for %d x %d matrix", len(g.Data), g.Rows, g.Cols)
	}
	if len(g.Names) != g.Cols {
		return precondition("genotype matrix", "columns", "%d names for %d columns", len(g.Names), g.Cols)
	}
	seen := make(map[string]int, len(g.Names))
	for j, name := range g.Names {
		if prev, dup := seen[name]; dup {
			return precondition("genotype matrix", "columns", "duplicate column name %q (columns %d and %d)", name, prev, j)
		}
		seen[name] = j
	}
	for idx, v := range g.Data {
		if v < 0 || v > 2 {
			return precondition("genotype matrix", "values", "value %d at row %d column %d is outside {0,1,2}", v, idx/g.Cols, idx%g.Cols)
		}
	}
	return nil
}

// ColumnIndex returns the index of the named column, or -1.
func (g Genotypes) ColumnIndex(name string) int {
	for j, n := range g.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// WithoutColumn returns a copy of g with column j removed.
func (g Genotypes) WithoutColumn(j int) Genotypes {
	out := Genotypes{
		Rows:  g.Rows,
		Cols:  g.Cols - 1,
		Data:  make([]int8, 0, g.Rows*(g.Cols-1)),
		Names: make([]string, 0, g.Cols-1),
	}
	out.Names = append(append(out.Names, g.Names[:j]...), g.Names[j+1:]...)
	for i := 0; i < g.Rows; i++ {
		row := g.Row(i)
		out.Data = append(append(out.Data, row[:j]...), row[j+1:]...)
	}
	return out
}

// Dense returns g as a float64 matrix.
func (g Genotypes) Dense() *mat.Dense {
	data := make([]float64, len(g.Data))
	for i, v := range g.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(g.Rows, g.Cols, data)
}

// Binarization selects how a {0,1,2} target collapses to two
// classes.
type Binarization int

const (
	// Dominant: 1 or 2 copies means present.
	Dominant Binarization = iota
	// Recessive: only 2 copies means present.
	Recessive
)

func (b Binarization) String() string {
	switch b {
	case Dominant:
		return "dominant"
	case Recessive:
		return "recessive"
	default:
		return fmt.Sprintf("Binarization(%d)", int(b))
	}
}

// ParseBinarization accepts "dominant" or "recessive".
func ParseBinarization(s string) (Binarization, error) {
	switch s {
	case "dominant":
		return Dominant, nil
	case "recessive":
		return Recessive, nil
	}
	return 0, precondition("binarization", "", "unknown rule %q (expected dominant or recessive)", s)
}

// Target is the raw {0,1,2} coding of the target variant. The binary
// and symmetric codings are derived from it on demand.
type Target struct {
	Raw []int8
}

// Validate checks that every value is in {0,1,2}.
func (t Target) Validate() error {
	if len(t.Raw) == 0 {
		return precondition("target", "rows", "empty target vector")
	}
	for i, v := range t.Raw {
		if v < 0 || v > 2 {
			return precondition("target", "values", "value %d at row %d is outside {0,1,2}", v, i)
		}
	}
	return nil
}

func (t Target) present(i int, rule Binarization) bool {
	if rule == Recessive {
		return t.Raw[i] == 2
	}
	return t.Raw[i] >= 1
}

// Binary returns the {0,1} coding under rule.
func (t Target) Binary(rule Binarization) []float64 {
	out := make([]float64, len(t.Raw))
	for i := range out {
		if t.present(i, rule) {
			out[i] = 1
		}
	}
	return out
}

// Symmetric returns the {-1,+1} coding under rule.
func (t Target) Symmetric(rule Binarization) []float64 {
	out := make([]float64, len(t.Raw))
	for i := range out {
		if t.present(i, rule) {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}
