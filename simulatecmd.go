// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
)

type simulatecmd struct{}

// simulateTruth is written alongside a simulated cohort so downstream
// steps (and tests) know where the signal is.
type simulateTruth struct {
	Target     int      `json:"target"`
	TargetName string   `json:"target_name"`
	Causal     []int    `json:"causal"`
	CausalInX  []int    `json:"causal_in_x"`
	Clusters   [][]int  `json:"ld_clusters"`
	Names      []string `json:"causal_names"`
}

func (cmd *simulatecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	configFilename := flags.String("config", "", "simulation config `file` (toml)")
	outputDir := flags.String("output-dir", ".", "output `directory` for genotypes.npy, phenotype.csv, samples.csv, model.json.gz, truth.json")
	samples := flags.Int("samples", 0, "number of samples (overrides config)")
	variants := flags.Int("variants", 0, "number of variants (overrides config)")
	target := flags.Int("target", -1, "target column, -1 for the middle column (overrides config)")
	binary := flags.Bool("binary", false, "simulate a 0/1 phenotype (overrides config)")
	seed := flags.Uint64("seed", 0, "random seed (overrides config)")
	ldThreshold := flags.Float64("ld-threshold", 0.5, "correlation threshold for reporting LD clusters around causal variants")
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

	cfg := DefaultSimulateConfig()
	if *configFilename != "" {
		var md toml.MetaData
		md, err = toml.DecodeFile(*configFilename, &cfg)
		if err != nil {
			return 2
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			var keys []string
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			err = fmt.Errorf("%s: unknown keys: %s", *configFilename, strings.Join(keys, ", "))
			return 2
		}
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "samples":
			cfg.Samples = *samples
		case "variants":
			cfg.Variants = *variants
		case "target":
			cfg.Target = *target
		case "binary":
			cfg.Binary = *binary
		case "seed":
			cfg.Seed = *seed
		}
	})

	cohort, err := Simulate(cfg)
	if err != nil {
		return 1
	}
	err = WriteGenotypesNpy(*outputDir+"/genotypes.npy", cohort.Genotypes)
	if err != nil {
		return 1
	}
	w, done, err := zcreate(*outputDir + "/phenotype.csv")
	if err != nil {
		return 1
	}
	ids := make([]string, cohort.Genotypes.Rows)
	for i := range ids {
		ids[i] = fmt.Sprintf("sample%d", i)
	}
	err = WritePhenotypes(w, Phenotypes{SampleIDs: ids, Values: cohort.Phenotype})
	if err != nil {
		done()
		return 1
	}
	if err = done(); err != nil {
		return 1
	}
	w, done, err = zcreate(*outputDir + "/samples.csv")
	if err != nil {
		return 1
	}
	err = WriteSampleIDs(w, ids)
	if err != nil {
		done()
		return 1
	}
	if err = done(); err != nil {
		return 1
	}
	err = hmm.SaveModel(*outputDir+"/model.json.gz", cohort.Model)
	if err != nil {
		return 1
	}

	truth := simulateTruth{
		Target:     cohort.TargetCol,
		TargetName: cohort.Genotypes.Names[cohort.TargetCol],
		Causal:     cohort.Causal,
		CausalInX:  cohort.CausalInX(),
		Clusters:   MergeLDClusters(cohort.Genotypes, cohort.Causal, *ldThreshold),
	}
	for _, j := range cohort.Causal {
		truth.Names = append(truth.Names, cohort.Genotypes.Names[j])
	}
	w, done, err = zcreate(*outputDir + "/truth.json")
	if err != nil {
		return 1
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err = enc.Encode(truth)
	if err != nil {
		done()
		return 1
	}
	if err = done(); err != nil {
		return 1
	}
	log.WithFields(log.Fields{
		"samples":  cfg.Samples,
		"variants": cfg.Variants,
		"target":   truth.Target,
		"causal":   truth.Causal,
	}).Info("simulated cohort")
	fmt.Fprintln(stdout, *outputDir)
	return 0
}
