// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// AnalysisConfig is the on-disk (TOML) form of DetectConfig.
//
//	methods = ["robust", "mo"]
//	binarization = "recessive"
//
//	[transform]
//	shift = 0.05
//
//	[stability]
//	resample_count = 200
//	aggregate = "area"
type AnalysisConfig struct {
	Methods      []string        `toml:"methods"`
	Binarization string          `toml:"binarization"`
	Transform    TransformConfig `toml:"transform"`
	Stability    StabilityConfig `toml:"stability"`
}

// DefaultAnalysisConfig mirrors DefaultDetectConfig.
func DefaultAnalysisConfig() AnalysisConfig {
	var names []string
	for _, m := range AllMethods {
		names = append(names, m.String())
	}
	return AnalysisConfig{
		Methods:      names,
		Binarization: Dominant.String(),
		Transform:    DefaultTransformConfig(),
		Stability:    DefaultStabilityConfig(),
	}
}

// LoadAnalysisConfig reads fnm over the defaults. Keys absent from
// the file keep their default values. An empty fnm returns the
// defaults.
func LoadAnalysisConfig(fnm string) (AnalysisConfig, error) {
	cfg := DefaultAnalysisConfig()
	if fnm == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(fnm, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", fnm, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("%s: unknown keys: %s", fnm, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// DetectConfig parses method and rule names.
func (cfg AnalysisConfig) DetectConfig() (DetectConfig, error) {
	methods, err := ParseMethods(strings.Join(cfg.Methods, ","))
	if err != nil {
		return DetectConfig{}, err
	}
	rule, err := ParseBinarization(cfg.Binarization)
	if err != nil {
		return DetectConfig{}, err
	}
	return DetectConfig{
		Methods:      methods,
		Binarization: rule,
		Transform:    cfg.Transform,
		Stability:    cfg.Stability,
	}, nil
}
