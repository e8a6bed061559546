// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// zcreate returns a writer for the given file, compressing if fnm
// ends with ".gz". The returned close func flushes everything and
// must be called.
func zcreate(fnm string) (io.Writer, func() error, error) {
	f, err := os.Create(fnm)
	if err != nil {
		return nil, nil, err
	}
	bufw := bufio.NewWriterSize(f, 1<<20)
	if !strings.HasSuffix(fnm, ".gz") {
		return bufw, func() error {
			if err := bufw.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}, nil
	}
	gz := pgzip.NewWriter(bufw)
	return gz, func() error {
		if err := gz.Close(); err != nil {
			f.Close()
			return err
		}
		if err := bufw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// ReadGenotypesNpy reads a 2-D integer .npy (or .npy.gz) file of
// dosages. Column names default to "v0", "v1", ....
func ReadGenotypesNpy(fnm string) (Genotypes, error) {
	f, err := zopen(fnm)
	if err != nil {
		return Genotypes{}, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return Genotypes{}, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npy.Shape) != 2 || npy.ColumnMajor {
		return Genotypes{}, fmt.Errorf("%s: expected a row-major 2-D array, got shape %v", fnm, npy.Shape)
	}
	rows, cols := npy.Shape[0], npy.Shape[1]
	data := make([]int8, 0, rows*cols)
	switch npy.Dtype {
	case "i1":
		var v []int8
		v, err = npy.GetInt8()
		data = append(data, v...)
	case "u1":
		var v []uint8
		v, err = npy.GetUint8()
		for _, x := range v {
			data = append(data, int8(x))
		}
	case "i2":
		var v []int16
		v, err = npy.GetInt16()
		for _, x := range v {
			data = append(data, clampDosage(int64(x)))
		}
	case "i4":
		var v []int32
		v, err = npy.GetInt32()
		for _, x := range v {
			data = append(data, clampDosage(int64(x)))
		}
	case "i8":
		var v []int64
		v, err = npy.GetInt64()
		for _, x := range v {
			data = append(data, clampDosage(x))
		}
	case "f8":
		var v []float64
		v, err = npy.GetFloat64()
		for _, x := range v {
			if x != float64(int64(x)) {
				return Genotypes{}, fmt.Errorf("%s: non-integer dosage %v", fnm, x)
			}
			data = append(data, clampDosage(int64(x)))
		}
	default:
		return Genotypes{}, fmt.Errorf("%s: unsupported dtype %q", fnm, npy.Dtype)
	}
	if err != nil {
		return Genotypes{}, fmt.Errorf("%s: %w", fnm, err)
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"dtype":    npy.Dtype,
	}).Info("read genotype matrix")
	return NewGenotypes(data, rows, cols), nil
}

// clampDosage maps out-of-range values to -1 so Validate reports
// them instead of wrapping around.
func clampDosage(x int64) int8 {
	if x < 0 || x > 2 {
		return -1
	}
	return int8(x)
}

// WriteGenotypesNpy writes g.Data as an int8 .npy file.
func WriteGenotypesNpy(fnm string, g Genotypes) error {
	w, done, err := zcreate(fnm)
	if err != nil {
		return err
	}
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		done()
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     g.Rows,
		"cols":     g.Cols,
		"bytes":    g.Rows * g.Cols,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{g.Rows, g.Cols}
	if err = npw.WriteInt8(g.Data); err != nil {
		done()
		return err
	}
	return done()
}

// ReadMatrixNpy reads a 2-D float64 .npy file.
func ReadMatrixNpy(fnm string) (*mat.Dense, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(npy.Shape) != 2 || npy.ColumnMajor {
		return nil, fmt.Errorf("%s: expected a row-major 2-D array, got shape %v", fnm, npy.Shape)
	}
	data, err := npy.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return mat.NewDense(npy.Shape[0], npy.Shape[1], data), nil
}

// WriteMatrixNpy writes m as a float64 .npy file.
func WriteMatrixNpy(fnm string, m mat.Matrix) error {
	rows, cols := m.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = m.At(i, j)
		}
	}
	w, done, err := zcreate(fnm)
	if err != nil {
		return err
	}
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		done()
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
		"bytes":    rows * cols * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	if err = npw.WriteFloat64(out); err != nil {
		done()
		return err
	}
	return done()
}
