// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"math"
	"sort"

	"github.com/episcan/episcan/hmm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimulateConfig describes a synthetic cohort.
//
// Each haplotype is a Markov chain along the variants: within an LD
// block, the allele at the next variant is copied from the current
// one with probability Copy and otherwise drawn from the next
// variant's allele frequency. Blocks are independent.
type SimulateConfig struct {
	Samples   int     `toml:"samples"`
	Variants  int     `toml:"variants"`
	BlockSize int     `toml:"block_size"`
	Copy      float64 `toml:"copy"`
	MinFreq   float64 `toml:"min_freq"`
	MaxFreq   float64 `toml:"max_freq"`
	// Target column, or -1 for the middle column.
	Target int `toml:"target"`
	// Causal columns interacting with the target. If empty,
	// NumCausal columns are chosen at random.
	Causal    []int   `toml:"causal"`
	NumCausal int     `toml:"num_causal"`
	Effect    float64 `toml:"effect"`
	Noise     float64 `toml:"noise"`
	// Draw a 0/1 phenotype from a logistic model instead of a
	// continuous one.
	Binary bool   `toml:"binary"`
	Seed   uint64 `toml:"seed"`
}

// DefaultSimulateConfig returns a small cohort with moderate LD.
func DefaultSimulateConfig() SimulateConfig {
	return SimulateConfig{
		Samples:   200,
		Variants:  50,
		BlockSize: 10,
		Copy:      0.8,
		MinFreq:   0.1,
		MaxFreq:   0.5,
		Target:    -1,
		NumCausal: 2,
		Effect:    1,
		Noise:     1,
		Seed:      1,
	}
}

// Cohort is a simulated dataset together with the model that
// generated its genotypes.
type Cohort struct {
	Genotypes Genotypes // includes the target column
	TargetCol int
	Causal    []int // columns of Genotypes, sorted
	Phenotype []float64
	Model     *hmm.Model
}

func (cfg SimulateConfig) validate() error {
	if cfg.Samples < 4 || cfg.Variants < 2 {
		return precondition("simulation", "shape", "need >= 4 samples and >= 2 variants, got %d x %d", cfg.Samples, cfg.Variants)
	}
	if cfg.BlockSize < 1 {
		return precondition("simulation", "block_size", "must be >= 1, got %d", cfg.BlockSize)
	}
	if cfg.Copy < 0 || cfg.Copy > 1 {
		return precondition("simulation", "copy", "must be in [0,1], got %v", cfg.Copy)
	}
	if !(cfg.MinFreq > 0 && cfg.MinFreq <= cfg.MaxFreq && cfg.MaxFreq < 1) {
		return precondition("simulation", "frequency", "need 0 < min_freq <= max_freq < 1, got %v, %v", cfg.MinFreq, cfg.MaxFreq)
	}
	if cfg.Target >= cfg.Variants || cfg.Target < -1 {
		return precondition("simulation", "target", "column %d out of range", cfg.Target)
	}
	for _, j := range cfg.Causal {
		if j < 0 || j >= cfg.Variants {
			return precondition("simulation", "causal", "column %d out of range", j)
		}
	}
	if len(cfg.Causal) == 0 && (cfg.NumCausal < 0 || cfg.NumCausal > cfg.Variants-1) {
		return precondition("simulation", "num_causal", "%d causal variants with %d candidates", cfg.NumCausal, cfg.Variants-1)
	}
	if cfg.Noise < 0 {
		return precondition("simulation", "noise", "must be >= 0, got %v", cfg.Noise)
	}
	return nil
}

// Simulate draws a cohort. The phenotype is
//
//	Y = Effect * sum_c X_c * Asym + Noise * N(0,1)
//
// where Asym is the dominant symmetric coding of the target, or a
// Bernoulli draw with that linear predictor when Binary is set.
func Simulate(cfg SimulateConfig) (*Cohort, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	src := rand.NewSource(cfg.Seed)
	rng := rand.New(src)
	p := cfg.Variants
	freqs := make([]float64, p)
	unif := distuv.Uniform{Min: cfg.MinFreq, Max: cfg.MaxFreq, Src: src}
	for j := range freqs {
		freqs[j] = unif.Rand()
	}
	model := haplotypeModel(freqs, cfg.BlockSize, cfg.Copy)

	data := make([]int8, cfg.Samples*p)
	for i := 0; i < cfg.Samples; i++ {
		for h := 0; h < 2; h++ {
			allele := 0
			for j := 0; j < p; j++ {
				if j%cfg.BlockSize == 0 || rng.Float64() >= cfg.Copy {
					allele = 0
					if rng.Float64() < freqs[j] {
						allele = 1
					}
				}
				data[i*p+j] += int8(allele)
			}
		}
	}
	geno := NewGenotypes(data, cfg.Samples, p)

	target := cfg.Target
	if target < 0 {
		target = p / 2
	}
	causal := append([]int(nil), cfg.Causal...)
	for _, j := range causal {
		if j == target {
			return nil, precondition("simulation", "causal", "column %d is the target", j)
		}
	}
	if len(causal) == 0 {
		for _, j := range rng.Perm(p)[:cfg.NumCausal+1] {
			if j != target && len(causal) < cfg.NumCausal {
				causal = append(causal, j)
			}
		}
	}
	sort.Ints(causal)

	asym := Target{Raw: geno.Column(target)}.Symmetric(Dominant)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	y := make([]float64, cfg.Samples)
	for i := range y {
		lin := 0.0
		for _, j := range causal {
			lin += cfg.Effect * float64(geno.At(i, j)) * asym[i]
		}
		if cfg.Binary {
			y[i] = distuv.Bernoulli{P: 1 / (1 + math.Exp(-lin)), Src: src}.Rand()
		} else {
			y[i] = lin + cfg.Noise*noise.Rand()
		}
	}
	log.WithFields(log.Fields{
		"samples": cfg.Samples,
		"vars":    p,
		"target":  target,
		"causal":  causal,
		"binary":  cfg.Binary,
	}).Info("simulated cohort")
	return &Cohort{
		Genotypes: geno,
		TargetCol: target,
		Causal:    causal,
		Phenotype: y,
		Model:     model,
	}, nil
}

// haplotypeModel returns the genotype-level HMM of the haplotype
// copying process. The hidden state at a position is the pair of
// haplotype alleles (h1,h2), encoded as 2*h1+h2, and the emitted
// dosage is h1+h2.
func haplotypeModel(freqs []float64, blockSize int, copyProb float64) *hmm.Model {
	allele := func(f float64, a int) float64 {
		if a == 1 {
			return f
		}
		return 1 - f
	}
	p := len(freqs)
	m := &hmm.Model{
		Init:  make([]float64, 4),
		Trans: make([][][]float64, p-1),
		Emit:  make([][][]float64, p),
	}
	for s := range m.Init {
		m.Init[s] = allele(freqs[0], s>>1) * allele(freqs[0], s&1)
	}
	for i := range m.Trans {
		rho := copyProb
		if (i+1)%blockSize == 0 {
			rho = 0
		}
		step := func(a, b int) float64 {
			q := (1 - rho) * allele(freqs[i+1], b)
			if a == b {
				q += rho
			}
			return q
		}
		m.Trans[i] = make([][]float64, 4)
		for s := range m.Trans[i] {
			m.Trans[i][s] = make([]float64, 4)
			for t := range m.Trans[i][s] {
				m.Trans[i][s][t] = step(s>>1, t>>1) * step(s&1, t&1)
			}
		}
	}
	for i := range m.Emit {
		m.Emit[i] = make([][]float64, hmm.Values)
		for v := range m.Emit[i] {
			m.Emit[i][v] = make([]float64, 4)
			for s := 0; s < 4; s++ {
				if s>>1+s&1 == v {
					m.Emit[i][v][s] = 1
				}
			}
		}
	}
	return m
}

// DetectInput returns the cohort as analysis input, with the target
// column removed from X and the propensity computed exactly from the
// generating model.
func (c *Cohort) DetectInput(ctx context.Context, rule Binarization, workers int) (DetectInput, error) {
	est, err := EstimatePropensity(ctx, c.Model, c.Genotypes, c.TargetCol, rule, workers)
	if err != nil {
		return DetectInput{}, err
	}
	return DetectInput{
		Target:     c.Genotypes.Column(c.TargetCol),
		X:          c.Genotypes.WithoutColumn(c.TargetCol),
		Phenotype:  c.Phenotype,
		Propensity: est.Binary,
	}, nil
}

// CausalInX returns the causal columns renumbered for the genotype
// matrix without the target column.
func (c *Cohort) CausalInX() []int {
	out := make([]int, len(c.Causal))
	for k, j := range c.Causal {
		if j > c.TargetCol {
			j--
		}
		out[k] = j
	}
	return out
}

// MergeLDClusters groups each causal column with every column whose
// absolute correlation with it is at least threshold, merging groups
// that overlap. Each returned cluster is sorted; clusters are ordered
// by their smallest member. Constant columns only cluster with
// themselves.
func MergeLDClusters(g Genotypes, causal []int, threshold float64) [][]int {
	cols := make([][]float64, g.Cols)
	column := func(j int) []float64 {
		if cols[j] == nil {
			cols[j] = make([]float64, g.Rows)
			for i := range cols[j] {
				cols[j][i] = float64(g.At(i, j))
			}
		}
		return cols[j]
	}
	parent := make([]int, g.Cols)
	for j := range parent {
		parent[j] = j
	}
	var find func(int) int
	find = func(j int) int {
		if parent[j] != j {
			parent[j] = find(parent[j])
		}
		return parent[j]
	}
	member := map[int]bool{}
	for _, c := range causal {
		member[c] = true
		for j := 0; j < g.Cols; j++ {
			if j == c {
				continue
			}
			r := stat.Correlation(column(c), column(j), nil)
			if math.IsNaN(r) || math.Abs(r) < threshold {
				continue
			}
			member[j] = true
			parent[find(j)] = find(c)
		}
	}
	groups := map[int][]int{}
	for j := range member {
		root := find(j)
		groups[root] = append(groups[root], j)
	}
	var out [][]int
	for _, grp := range groups {
		sort.Ints(grp)
		out = append(out, grp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}
