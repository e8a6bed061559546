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
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"sort"
	"time"

	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type detectcmd struct{}

type rankedVariant struct {
	Index   int     `json:"index"`
	Variant string  `json:"variant"`
	Score   float64 `json:"score"`
}

type detectSummary struct {
	Inputs       map[string]string          `json:"inputs"`
	InputDigest  string                     `json:"input_digest"`
	Samples      int                        `json:"samples"`
	Variants     int                        `json:"variants"`
	Target       string                     `json:"target"`
	Binarization string                     `json:"binarization"`
	Transform    TransformConfig            `json:"transform"`
	Stability    StabilityConfig            `json:"stability"`
	Top          map[string][]rankedVariant `json:"top"`
	Elapsed      string                     `json:"elapsed"`
}

func topVariants(names []string, scores []float64, k int) []rankedVariant {
	idx := make([]int, len(scores))
	for j := range idx {
		idx[j] = j
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]rankedVariant, k)
	for r, j := range idx[:k] {
		out[r] = rankedVariant{Index: j, Variant: names[j], Score: scores[j]}
	}
	return out
}

func (cmd *detectcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	configFilename := flags.String("config", "", "analysis config `file` (toml)")
	inputFilename := flags.String("i", "", "genotype matrix `file` (.npy or .npy.gz)")
	phenotypeFilename := flags.String("phenotype", "", "phenotype csv `file` (SampleID,Phenotype)")
	samplesFilename := flags.String("samples", "", "csv `file` with a SampleID column giving the genotype row order; without it, phenotype rows are matched to genotype rows by position")
	propensityFilename := flags.String("propensity", "", "n x 2 propensity `file` written by the propensity command")
	modelFilename := flags.String("model", "", "HMM model `file`, used to compute propensity if -propensity is not given")
	targetArg := flags.String("target", "", "target column name or 0-based index")
	outputFilename := flags.String("o", "-", "output scores csv `file`")
	summaryFilename := flags.String("summary", "", "output run summary json `file`")
	topK := flags.Int("top", 10, "number of top variants per method in the summary")
	methods := flags.String("methods", "", "comma-separated methods: owl, mo, shifted, normalized, robust (overrides config)")
	ruleName := flags.String("binarization", "", "dominant or recessive (overrides config)")
	resamples := flags.Int("resamples", 0, "number of subsamples (overrides config)")
	seed := flags.Uint64("seed", 0, "subsampling seed (overrides config)")
	aggregate := flags.String("aggregate", "", "max or area (overrides config)")
	armNuisance := flags.Bool("arm-specific-nuisance", false, "fit the robust main-effect model separately per target arm (overrides config)")
	workers := flags.Int("workers", runtime.NumCPU(), "number of concurrent `workers`")
	profileDir := flags.String("profile-dir", "", "write cpu and heap profiles to `directory` every minute while running")
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

	acfg, err := LoadAnalysisConfig(*configFilename)
	if err != nil {
		return 2
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "methods":
			acfg.Methods = []string{*methods}
		case "binarization":
			acfg.Binarization = *ruleName
		case "resamples":
			acfg.Stability.ResampleCount = *resamples
		case "seed":
			acfg.Stability.Seed = *seed
		case "aggregate":
			err = acfg.Stability.Aggregate.UnmarshalText([]byte(*aggregate))
		case "arm-specific-nuisance":
			acfg.Transform.ArmSpecificNuisance = *armNuisance
		case "workers":
			acfg.Stability.Parallel = *workers
		}
	})
	if err != nil {
		return 2
	}
	cfg, err := acfg.DetectConfig()
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *profileDir != "" {
		go writeProfiles(ctx, *profileDir, time.Minute)
	}
	var ps *mat.Dense
	switch {
	case *propensityFilename != "":
		err = checkPropensityMeta(*propensityFilename, geno.Names[target], cfg.Binarization, geno.Rows)
		if err != nil {
			return 1
		}
		ps, err = ReadMatrixNpy(*propensityFilename)
		if err != nil {
			return 1
		}
	case *modelFilename != "":
		var model *hmm.Model
		model, err = hmm.LoadModel(*modelFilename)
		if err != nil {
			return 1
		}
		var est *PropensityEstimate
		est, err = EstimatePropensity(ctx, model, geno, target, cfg.Binarization, *workers)
		if err != nil {
			return 1
		}
		ps = est.Binary
	default:
		err = fmt.Errorf("one of -propensity or -model is required")
		return 2
	}

	t0 := time.Now()
	in := DetectInput{
		Target:     geno.Column(target),
		X:          geno.WithoutColumn(target),
		Phenotype:  pheno.Values,
		Propensity: ps,
	}
	scores, err := DetectEpistasis(ctx, in, cfg)
	if err != nil {
		return 1
	}

	w, done, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	err = WriteScores(w, in.X.Names, cfg.Methods, scores)
	if err != nil {
		done()
		return 1
	}
	if err = done(); err != nil {
		return 1
	}

	if *summaryFilename != "" {
		summary := detectSummary{
			Inputs: map[string]string{
				"genotypes":  *inputFilename,
				"phenotype":  *phenotypeFilename,
				"samples":    *samplesFilename,
				"propensity": *propensityFilename,
				"model":      *modelFilename,
			},
			Samples:      in.X.Rows,
			Variants:     in.X.Cols,
			Target:       geno.Names[target],
			Binarization: cfg.Binarization.String(),
			Transform:    cfg.Transform,
			Stability:    cfg.Stability,
			Top:          map[string][]rankedVariant{},
			Elapsed:      time.Since(t0).String(),
		}
		summary.InputDigest, err = digestFiles(*inputFilename, *phenotypeFilename, *samplesFilename, *propensityFilename, *modelFilename)
		if err != nil {
			return 1
		}
		for _, m := range cfg.Methods {
			summary.Top[m.String()] = topVariants(in.X.Names, scores[m], *topK)
		}
		w, done, err = createOutput(*summaryFilename, stdout)
		if err != nil {
			return 1
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(summary)
		if err != nil {
			done()
			return 1
		}
		if err = done(); err != nil {
			return 1
		}
	}
	return 0
}
