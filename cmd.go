// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"simulate":   &simulatecmd{},
		"fit":        &fitcmd{},
		"propensity": &propensitycmd{},
		"detect":     &detectcmd{},
		"lrt":        &lrtcmd{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// targetColumn resolves a -target argument, which is either a column
// name or a 0-based column index.
func targetColumn(g Genotypes, arg string) (int, error) {
	if arg == "" {
		return 0, fmt.Errorf("target column not specified")
	}
	if j := g.ColumnIndex(arg); j >= 0 {
		return j, nil
	}
	j, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("target %q: no such column", arg)
	}
	if j < 0 || j >= g.Cols {
		return 0, precondition("target", "columns", "column %d out of range for %d columns", j, g.Cols)
	}
	return j, nil
}

// createOutput returns a writer for fnm, or stdout if fnm is "-".
func createOutput(fnm string, stdout io.Writer) (io.Writer, func() error, error) {
	if fnm == "-" {
		return stdout, func() error { return nil }, nil
	}
	return zcreate(fnm)
}

// digestFiles returns a hex blake2b-256 digest of the concatenated
// contents of the named files, skipping empty names.
func digestFiles(fnames ...string) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, fnm := range fnames {
		if fnm == "" {
			continue
		}
		f, err := os.Open(fnm)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("%s: %w", fnm, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadPhenotypes reads a phenotype file and, if samplesFilename is
// given, puts it in that sample order.
func loadPhenotypes(phenotypeFilename, samplesFilename string) (Phenotypes, error) {
	pheno, err := ReadPhenotypes(phenotypeFilename)
	if err != nil || samplesFilename == "" {
		return pheno, err
	}
	ids, err := ReadSampleIDs(samplesFilename)
	if err != nil {
		return Phenotypes{}, err
	}
	return pheno.InSampleOrder(ids)
}
