// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"flag"
	"fmt"
	"io"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Features is the normalised, variance-selected expression matrix
// handed to the clustering stage. Values is gene-major like
// Dataset.Counts.
type Features struct {
	GeneIDs    []string
	Symbols    []string
	PatientIDs []string
	Values     []float64
}

func (ft *Features) Check() error {
	if len(ft.Values) != len(ft.GeneIDs)*len(ft.PatientIDs) {
		return fmt.Errorf("feature matrix has %d entries, want %d genes × %d patients", len(ft.Values), len(ft.GeneIDs), len(ft.PatientIDs))
	}
	if len(ft.Symbols) != 0 && len(ft.Symbols) != len(ft.GeneIDs) {
		return fmt.Errorf("feature matrix has %d symbols for %d genes", len(ft.Symbols), len(ft.GeneIDs))
	}
	return nil
}

// sizeFactors returns the per-patient scaling factor that brings each
// patient's total count to the cohort median depth. A patient with no
// counts at all gets factor 1 so the log transform stays finite.
func sizeFactors(ds *Dataset) []float64 {
	np := ds.NPatients()
	depth := make([]float64, np)
	for g := 0; g < ds.NGenes(); g++ {
		for p, c := range ds.GeneRow(g) {
			depth[p] += float64(c)
		}
	}
	sorted := append([]float64(nil), depth...)
	sort.Float64s(sorted)
	target := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	factors := make([]float64, np)
	for p, d := range depth {
		if d == 0 {
			factors[p] = 1
		} else {
			factors[p] = target / d
		}
	}
	return factors
}

// logNormalize returns log1p(count × factor) for every cell, gene
// major.
func logNormalize(ds *Dataset, factors []float64) []float64 {
	np := ds.NPatients()
	values := make([]float64, len(ds.Counts))
	for g := 0; g < ds.NGenes(); g++ {
		row := ds.GeneRow(g)
		for p, c := range row {
			values[g*np+p] = math.Log1p(float64(c) * factors[p])
		}
	}
	return values
}

// topVarianceGenes returns the indices of the n highest-variance
// genes, in their original gene-table order.
func topVarianceGenes(values []float64, nGenes, nPatients, n int) []int {
	variances := make([]float64, nGenes)
	for g := 0; g < nGenes; g++ {
		variances[g] = stat.Variance(values[g*nPatients:(g+1)*nPatients], nil)
	}
	order := make([]int, nGenes)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return variances[order[i]] > variances[order[j]] })
	if n > nGenes {
		n = nGenes
	}
	selected := append([]int(nil), order[:n]...)
	sort.Ints(selected)
	return selected
}

type normcmd struct {
	inputFile  string
	outputFile string
	topGenes   int
}

func (cmd *normcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input `file`")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	flags.IntVar(&cmd.topGenes, "top-genes", 5000, "keep the `N` highest-variance genes")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	input, gz, err := openInput(cmd.inputFile, stdin)
	if err != nil {
		return 1
	}
	defer input.Close()
	ds, err := readDataset(input, gz)
	if err != nil {
		return 1
	}
	input.Close()

	log.Info("normalizing")
	factors := sizeFactors(ds)
	values := logNormalize(ds, factors)

	log.Infof("selecting top %d variance genes of %d", cmd.topGenes, ds.NGenes())
	selected := topVarianceGenes(values, ds.NGenes(), ds.NPatients(), cmd.topGenes)

	np := ds.NPatients()
	ft := &Features{PatientIDs: ds.PatientIDs()}
	ft.Values = make([]float64, 0, len(selected)*np)
	for _, g := range selected {
		ft.GeneIDs = append(ft.GeneIDs, ds.Genes[g].EnsemblID)
		ft.Symbols = append(ft.Symbols, ds.Genes[g].Symbol)
		ft.Values = append(ft.Values, values[g*np:(g+1)*np]...)
	}
	err = ft.Check()
	if err != nil {
		return 1
	}

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	log.Infof("writing features: %d genes × %d patients", len(ft.GeneIDs), len(ft.PatientIDs))
	err = writeGob(output, gz, ft)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
