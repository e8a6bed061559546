// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type lrtcmd struct{}

func (cmd *lrtcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "genotype matrix `file` (.npy or .npy.gz)")
	phenotypeFilename := flags.String("phenotype", "", "phenotype csv `file` (SampleID,Phenotype)")
	samplesFilename := flags.String("samples", "", "csv `file` with a SampleID column giving the genotype row order; without it, phenotype rows are matched to genotype rows by position")
	targetArg := flags.String("target", "", "target column name or 0-based index")
	ruleName := flags.String("binarization", "dominant", "target binarization: dominant or recessive")
	pcaComponents := flags.Int("pcs", 0, "number of principal components to use as covariates")
	outputFilename := flags.String("o", "-", "output csv `file`")
	workers := flags.Int("workers", runtime.NumCPU(), "number of concurrent `workers`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	rule, err := ParseBinarization(*ruleName)
	if err != nil {
		return 2
	}
	geno, err := ReadGenotypesNpy(*inputFilename)
	if err != nil {
		return 1
	}
	target, err := targetColumn(geno, *targetArg)
	if err != nil {
		return 2
	}
	pheno, err := loadPhenotypes(*phenotypeFilename, *samplesFilename)
	if err != nil {
		return 1
	}
	in := LRTInput{
		Target:    geno.Column(target),
		X:         geno.WithoutColumn(target),
		Phenotype: pheno.Values,
	}
	if *pcaComponents > 0 {
		var pcs *mat.Dense
		pcs, err = PCACovariates(in.X, *pcaComponents)
		if err != nil {
			return 1
		}
		in.Covariates = pcs
	}
	pvalues, err := InteractionLRT(context.Background(), in, rule, *workers)
	if err != nil {
		return 1
	}
	marginal := MarginalScreen(in.X, in.Phenotype, rule)

	w, done, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	err = WriteLRT(w, in.X.Names, pvalues, marginal)
	if err != nil {
		done()
		return 1
	}
	if err = done(); err != nil {
		return 1
	}
	return 0
}
