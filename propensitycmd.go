// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
)

type propensitycmd struct{}

// propensityMeta is written next to a propensity .npy file (same name
// plus ".json") so later steps can check it matches their analysis.
type propensityMeta struct {
	Target       string `json:"target"`
	Binarization string `json:"binarization"`
	Samples      int    `json:"samples"`
}

func propensityMetaFilename(fnm string) string {
	return fnm + ".json"
}

func writePropensityMeta(fnm string, meta propensityMeta) error {
	w, done, err := zcreate(propensityMetaFilename(fnm))
	if err != nil {
		return err
	}
	err = json.NewEncoder(w).Encode(meta)
	if err != nil {
		done()
		return err
	}
	return done()
}

// checkPropensityMeta compares the sidecar of propensity file fnm
// with the analysis settings. A missing sidecar is only logged.
func checkPropensityMeta(fnm, target string, rule Binarization, samples int) error {
	metaFilename := propensityMetaFilename(fnm)
	buf, err := ioutil.ReadFile(metaFilename)
	if os.IsNotExist(err) {
		log.Warnf("%s not found, assuming %s was computed for target %s with %s binarization", metaFilename, fnm, target, rule)
		return nil
	} else if err != nil {
		return err
	}
	var meta propensityMeta
	if err = json.Unmarshal(buf, &meta); err != nil {
		return fmt.Errorf("%s: %w", metaFilename, err)
	}
	if meta.Binarization != rule.String() {
		return precondition("propensity scores", "binarization", "%s was computed with %s binarization, analysis uses %s", fnm, meta.Binarization, rule)
	}
	if meta.Target != target {
		return precondition("propensity scores", "target", "%s was computed for target %s, analysis target is %s", fnm, meta.Target, target)
	}
	if meta.Samples != samples {
		return precondition("propensity scores", "rows", "%s has %d samples, genotype matrix has %d", fnm, meta.Samples, samples)
	}
	return nil
}

func (cmd *propensitycmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	modelFilename := flags.String("model", "", "HMM model `file`")
	targetArg := flags.String("target", "", "target column name or 0-based index")
	ruleName := flags.String("binarization", "dominant", "target binarization: dominant or recessive")
	outputFilename := flags.String("o", "propensity.npy", "output `file` for the n x 2 binarized propensity")
	tripleFilename := flags.String("triple", "", "optional output `file` for the n x 3 genotype propensity")
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
	model, err := hmm.LoadModel(*modelFilename)
	if err != nil {
		return 1
	}
	est, err := EstimatePropensity(context.Background(), model, geno, target, rule, *workers)
	if err != nil {
		return 1
	}
	err = WriteMatrixNpy(*outputFilename, est.Binary)
	if err != nil {
		return 1
	}
	err = writePropensityMeta(*outputFilename, propensityMeta{
		Target:       geno.Names[target],
		Binarization: rule.String(),
		Samples:      geno.Rows,
	})
	if err != nil {
		return 1
	}
	if *tripleFilename != "" {
		err = WriteMatrixNpy(*tripleFilename, est.Triple)
		if err != nil {
			return 1
		}
	}
	return 0
}
