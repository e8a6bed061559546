// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

type phenotypeRecord struct {
	SampleID  string  `csv:"SampleID"`
	Phenotype float64 `csv:"Phenotype"`
}

// Phenotypes is a phenotype table in genotype row order.
type Phenotypes struct {
	SampleIDs []string
	Values    []float64
}

// Binary reports whether every value is 0 or 1.
func (p Phenotypes) Binary() bool {
	for _, v := range p.Values {
		if v != 0 && v != 1 {
			return false
		}
	}
	return true
}

// ReadPhenotypes reads a CSV file with SampleID and Phenotype
// columns (optionally gzipped). Every row needs a unique non-empty
// SampleID and a finite numeric Phenotype.
func ReadPhenotypes(fnm string) (Phenotypes, error) {
	rows, err := readCSVColumns(fnm, "SampleID", "Phenotype")
	if err != nil {
		return Phenotypes{}, err
	}
	var p Phenotypes
	seen := map[string]int{}
	for i, row := range rows {
		id := strings.TrimSpace(row["SampleID"])
		if id == "" {
			return Phenotypes{}, fmt.Errorf("%s: row %d: empty SampleID", fnm, i+1)
		}
		if prev, dup := seen[id]; dup {
			return Phenotypes{}, fmt.Errorf("%s: sample %q appears in rows %d and %d", fnm, id, prev+1, i+1)
		}
		seen[id] = i
		v, err := strconv.ParseFloat(strings.TrimSpace(row["Phenotype"]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Phenotypes{}, fmt.Errorf("%s: sample %q (row %d): missing or non-finite phenotype %q", fnm, id, i+1, row["Phenotype"])
		}
		p.SampleIDs = append(p.SampleIDs, id)
		p.Values = append(p.Values, v)
	}
	log.Infof("read %d phenotypes from %s (binary=%v)", len(p.Values), fnm, p.Binary())
	return p, nil
}

// readCSVColumns returns the rows of a CSV file as header-keyed
// maps, failing unless the header has every named column and there
// is at least one row.
func readCSVColumns(fnm string, columns ...string) ([]map[string]string, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no data rows", fnm)
	}
	for _, col := range columns {
		if _, ok := rows[0][col]; !ok {
			return nil, fmt.Errorf("%s: header has no %q column (need %s)", fnm, col, strings.Join(columns, ","))
		}
	}
	return rows, nil
}

// ReadSampleIDs reads the genotype matrix's sample order from a CSV
// file with a SampleID column, one row per genotype row.
func ReadSampleIDs(fnm string) ([]string, error) {
	rows, err := readCSVColumns(fnm, "SampleID")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = strings.TrimSpace(row["SampleID"])
	}
	return ids, nil
}

type sampleRecord struct {
	SampleID string `csv:"SampleID"`
}

// WriteSampleIDs writes ids in the format read by ReadSampleIDs.
func WriteSampleIDs(w io.Writer, ids []string) error {
	records := make([]*sampleRecord, len(ids))
	for i, id := range ids {
		records[i] = &sampleRecord{SampleID: id}
	}
	return gocsv.Marshal(records, w)
}

// InSampleOrder returns p reordered to match ids. Every id must have
// a phenotype; phenotypes for samples not in ids are dropped.
func (p Phenotypes) InSampleOrder(ids []string) (Phenotypes, error) {
	index := make(map[string]int, len(p.SampleIDs))
	for i, id := range p.SampleIDs {
		index[id] = i
	}
	out := Phenotypes{SampleIDs: make([]string, len(ids)), Values: make([]float64, len(ids))}
	used := map[string]bool{}
	for i, id := range ids {
		j, ok := index[id]
		if !ok {
			return Phenotypes{}, precondition("phenotype", "samples", "no phenotype for sample %q (genotype row %d)", id, i)
		}
		if used[id] {
			return Phenotypes{}, precondition("sample list", "samples", "sample %q listed twice", id)
		}
		used[id] = true
		out.SampleIDs[i] = id
		out.Values[i] = p.Values[j]
	}
	if extra := len(p.SampleIDs) - len(ids); extra > 0 {
		log.Warnf("ignoring %d phenotype rows for samples not in the genotype matrix", extra)
	}
	return out, nil
}

// WritePhenotypes writes p in the format read by ReadPhenotypes.
func WritePhenotypes(w io.Writer, p Phenotypes) error {
	records := make([]*phenotypeRecord, len(p.Values))
	for i, v := range p.Values {
		id := fmt.Sprintf("sample%d", i)
		if i < len(p.SampleIDs) {
			id = p.SampleIDs[i]
		}
		records[i] = &phenotypeRecord{SampleID: id, Phenotype: v}
	}
	return gocsv.Marshal(records, w)
}

type scoreRecord struct {
	Index   int     `csv:"index"`
	Variant string  `csv:"variant"`
	Method  string  `csv:"method"`
	Score   float64 `csv:"score"`
}

// WriteScores writes one CSV row per (method, variant), methods in
// the given order.
func WriteScores(w io.Writer, names []string, methods []Method, scores map[Method][]float64) error {
	var records []*scoreRecord
	for _, m := range methods {
		for j, s := range scores[m] {
			records = append(records, &scoreRecord{Index: j, Variant: names[j], Method: m.String(), Score: s})
		}
	}
	return gocsv.Marshal(records, w)
}

// ReadScores reads a file written by WriteScores.
func ReadScores(r io.Reader) (map[Method][]float64, error) {
	var records []*scoreRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, err
	}
	out := map[Method][]float64{}
	for _, rec := range records {
		m, err := ParseMethod(rec.Method)
		if err != nil {
			return nil, err
		}
		if rec.Index != len(out[m]) {
			return nil, fmt.Errorf("method %s: variant index %d out of order", m, rec.Index)
		}
		out[m] = append(out[m], rec.Score)
	}
	return out, nil
}

type lrtRecord struct {
	Index    int     `csv:"index"`
	Variant  string  `csv:"variant"`
	PValue   float64 `csv:"pvalue"`
	Marginal float64 `csv:"marginal_pvalue"`
}

// WriteLRT writes per-variant interaction and marginal p-values.
// marginal may be nil.
func WriteLRT(w io.Writer, names []string, pvalues, marginal []float64) error {
	records := make([]*lrtRecord, len(pvalues))
	for j, p := range pvalues {
		records[j] = &lrtRecord{Index: j, Variant: names[j], PValue: p, Marginal: math.NaN()}
		if marginal != nil {
			records[j].Marginal = marginal[j]
		}
	}
	return gocsv.Marshal(records, w)
}
