// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hmm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// A Fitter estimates a Model from a row-major genotype matrix with
// one row per sample and one column per position.
type Fitter interface {
	Fit(ctx context.Context, data []int8, rows, cols int) (*Model, error)
}

// IndependentFitter fits a single-state model, i.e., independent
// positions with per-position genotype frequencies. It captures no
// LD and is mainly useful as a null model.
type IndependentFitter struct {
	// Added to every genotype count so no emission is zero.
	Pseudocount float64
}

func (f IndependentFitter) Fit(ctx context.Context, data []int8, rows, cols int) (*Model, error) {
	if rows < 1 || cols < 1 || len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %d x %d matrix", ErrDimension, len(data), rows, cols)
	}
	freqs := make([][Values]float64, cols)
	for col := range freqs {
		var count [Values]float64
		for row := 0; row < rows; row++ {
			v := data[row*cols+col]
			if v < 0 || v >= Values {
				return nil, fmt.Errorf("%w: value %d at row %d col %d", ErrValue, v, row, col)
			}
			count[v]++
		}
		denom := float64(rows) + Values*f.Pseudocount
		for v := range count {
			freqs[col][v] = (count[v] + f.Pseudocount) / denom
		}
	}
	return Independent(freqs), nil
}

// Independent returns a single-state model emitting value v at
// position i with probability freqs[i][v].
func Independent(freqs [][Values]float64) *Model {
	m := &Model{
		Init:  []float64{1},
		Trans: make([][][]float64, len(freqs)-1),
		Emit:  make([][][]float64, len(freqs)),
	}
	for i := range m.Trans {
		m.Trans[i] = [][]float64{{1}}
	}
	for i, fr := range freqs {
		m.Emit[i] = [][]float64{{fr[0]}, {fr[1]}, {fr[2]}}
	}
	return m
}

// CommandFitter runs an external model-fitting program. The genotype
// matrix is written to a temporary .npy file; in Args, the strings
// "{genotypes}" and "{model}" are replaced with the path of that file
// and the path where the program must write a JSON model.
type CommandFitter struct {
	Prog   string
	Args   []string
	TmpDir string
	Stderr io.Writer
}

func (f CommandFitter) Fit(ctx context.Context, data []int8, rows, cols int) (*Model, error) {
	if f.Prog == "" {
		return nil, fmt.Errorf("fitter program not specified")
	}
	tmpdir, err := os.MkdirTemp(f.TmpDir, "episcan-fit-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpdir)
	genoFilename := filepath.Join(tmpdir, "genotypes.npy")
	modelFilename := filepath.Join(tmpdir, "model.json")
	err = writeInt8Npy(genoFilename, data, rows, cols)
	if err != nil {
		return nil, err
	}
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		a = strings.Replace(a, "{genotypes}", genoFilename, -1)
		a = strings.Replace(a, "{model}", modelFilename, -1)
		args[i] = a
	}
	var stderr bytes.Buffer
	fitcmd := exec.CommandContext(ctx, f.Prog, args...)
	fitcmd.Stdout = &stderr
	fitcmd.Stderr = &stderr
	if f.Stderr != nil {
		fitcmd.Stdout = io.MultiWriter(&stderr, f.Stderr)
		fitcmd.Stderr = fitcmd.Stdout
	}
	log.WithFields(log.Fields{
		"prog": f.Prog,
		"args": args,
		"rows": rows,
		"cols": cols,
	}).Info("running external model fitter")
	err = fitcmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%s: %w (output: %q)", f.Prog, err, lastLines(stderr.String(), 5))
	}
	return LoadModel(modelFilename)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func writeInt8Npy(fnm string, data []int8, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteInt8(data)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
