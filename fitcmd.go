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
	"strings"

	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
)

type fitcmd struct{}

func (cmd *fitcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputFilename := flags.String("o", "model.json.gz", "output model `file`")
	fitterName := flags.String("fitter", "independent", "model fitter: independent or command")
	pseudocount := flags.Float64("pseudocount", 1, "pseudocount added to each genotype count (independent fitter)")
	fitterProg := flags.String("fitter-prog", "", "external fitter `program` (command fitter)")
	fitterArgs := flags.String("fitter-args", "{genotypes} {model}", "space-separated fitter arguments; {genotypes} and {model} are replaced with file paths")
	tmpDir := flags.String("tmp", "", "temporary `directory` for the command fitter")
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

	var fitter hmm.Fitter
	switch *fitterName {
	case "independent":
		fitter = hmm.IndependentFitter{Pseudocount: *pseudocount}
	case "command":
		fitter = hmm.CommandFitter{
			Prog:   *fitterProg,
			Args:   strings.Fields(*fitterArgs),
			TmpDir: *tmpDir,
			Stderr: stderr,
		}
	default:
		err = fmt.Errorf("unknown fitter %q (expected independent or command)", *fitterName)
		return 2
	}

	geno, err := ReadGenotypesNpy(*inputFilename)
	if err != nil {
		return 1
	}
	if err = geno.Validate(); err != nil {
		return 1
	}
	model, err := fitter.Fit(context.Background(), geno.Data, geno.Rows, geno.Cols)
	if err != nil {
		return 1
	}
	if err = model.Validate(); err != nil {
		err = fmt.Errorf("fitted model: %w", err)
		return 1
	}
	if model.Positions() != geno.Cols {
		err = fmt.Errorf("fitted model has %d positions, genotype matrix has %d columns", model.Positions(), geno.Cols)
		return 1
	}
	err = hmm.SaveModel(*outputFilename, model)
	if err != nil {
		return 1
	}
	log.Infof("wrote %d-state model with %d positions to %s", model.States(), model.Positions(), *outputFilename)
	return 0
}
