// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"flag"
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// SubtypeModel is a pretrained consensus subtype classifier: one
// expression centroid per published subtype label, keyed by Entrez
// gene ID. The model is an opaque external artifact loaded from a gob
// file; this pipeline never trains one.
type SubtypeModel struct {
	Labels    []string
	EntrezIDs []int
	Centroids [][]float64
}

func (sm *SubtypeModel) Check() error {
	if len(sm.Labels) < 2 {
		return fmt.Errorf("subtype model has %d labels", len(sm.Labels))
	}
	if len(sm.Centroids) != len(sm.Labels) {
		return fmt.Errorf("subtype model has %d centroids for %d labels", len(sm.Centroids), len(sm.Labels))
	}
	for i, c := range sm.Centroids {
		if len(c) != len(sm.EntrezIDs) {
			return fmt.Errorf("centroid %s has %d entries for %d genes", sm.Labels[i], len(c), len(sm.EntrezIDs))
		}
	}
	return nil
}

// SubtypeCall is one patient's consensus classification: the argmax
// label and the full class probability vector (ordered like
// CallSet.Labels).
type SubtypeCall struct {
	PatientID string
	Label     string
	Probs     []float64
}

func (c SubtypeCall) MaxProb() float64 {
	best := 0.0
	for _, p := range c.Probs {
		if p > best {
			best = p
		}
	}
	return best
}

// CallSet holds consensus calls for every patient of the dataset.
// Confident marks patients whose best class probability met the
// confidence threshold.
type CallSet struct {
	Labels    []string
	MinProb   float64
	Calls     []SubtypeCall
	Confident []bool
}

// ranks returns tie-averaged sample ranks of v.
func ranks(v []float64) []float64 {
	order := make([]int, len(v))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return v[order[a]] < v[order[b]] })
	out := make([]float64, len(v))
	for i := 0; i < len(order); {
		j := i
		for j+1 < len(order) && v[order[j+1]] == v[order[i]] {
			j++
		}
		mean := float64(i+j) / 2
		for k := i; k <= j; k++ {
			out[order[k]] = mean
		}
		i = j + 1
	}
	return out
}

// classify scores every patient against every centroid by Spearman
// correlation over the genes shared between the dataset and the
// model, and converts the correlations to a class probability vector.
func classify(ds *Dataset, sm *SubtypeModel) (*CallSet, error) {
	byEntrez := map[int]int{}
	for g, gene := range ds.Genes {
		if gene.EntrezID != 0 {
			if _, dup := byEntrez[gene.EntrezID]; !dup {
				byEntrez[gene.EntrezID] = g
			}
		}
	}
	var geneRows []int
	var centroidCols []int
	for i, entrez := range sm.EntrezIDs {
		if g, ok := byEntrez[entrez]; ok {
			geneRows = append(geneRows, g)
			centroidCols = append(centroidCols, i)
		}
	}
	if len(geneRows) < 2 {
		return nil, fmt.Errorf("only %d model genes present in dataset", len(geneRows))
	}
	log.Infof("classifying on %d of %d model genes", len(geneRows), len(sm.EntrezIDs))

	centroidRanks := make([][]float64, len(sm.Labels))
	for li, centroid := range sm.Centroids {
		sub := make([]float64, len(centroidCols))
		for i, ci := range centroidCols {
			sub[i] = centroid[ci]
		}
		centroidRanks[li] = ranks(sub)
	}

	cs := &CallSet{Labels: sm.Labels}
	expr := make([]float64, len(geneRows))
	for p := range ds.Patients {
		for i, g := range geneRows {
			expr[i] = float64(ds.Count(g, p))
		}
		exprRanks := ranks(expr)
		probs := make([]float64, len(sm.Labels))
		sum := 0.0
		for li := range sm.Labels {
			// Correlation is in [-1,1]; shift to a non-negative
			// weight before normalizing.
			w := stat.Correlation(exprRanks, centroidRanks[li], nil) + 1
			if w < 0 || w != w {
				w = 0
			}
			probs[li] = w
			sum += w
		}
		for li := range probs {
			if sum > 0 {
				probs[li] /= sum
			} else {
				probs[li] = 1 / float64(len(probs))
			}
		}
		best := 0
		for li, pr := range probs {
			if pr > probs[best] {
				best = li
			}
		}
		cs.Calls = append(cs.Calls, SubtypeCall{
			PatientID: ds.Patients[p].CaseID,
			Label:     sm.Labels[best],
			Probs:     probs,
		})
	}
	return cs, nil
}

// applyConfidence fills in cs.Confident: a patient is confident when
// its best class probability is at least min (exactly min counts).
func applyConfidence(cs *CallSet, min float64) int {
	cs.MinProb = min
	cs.Confident = make([]bool, len(cs.Calls))
	n := 0
	for i, call := range cs.Calls {
		if call.MaxProb() >= min {
			cs.Confident[i] = true
			n++
		}
	}
	return n
}

type consensuscmd struct {
	inputFile     string
	modelFile     string
	outputFile    string
	minConfidence float64
}

func (cmd *consensuscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input dataset `file`")
	flags.StringVar(&cmd.modelFile, "model", "", "pretrained subtype model `file`")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	flags.Float64Var(&cmd.minConfidence, "min-confidence", 0.5, "mark patients with max class probability below `P` as not confident")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.modelFile == "" {
		fmt.Fprintln(stderr, "cannot classify without -model argument")
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

	mf, gz, err := openInput(cmd.modelFile, nil)
	if err != nil {
		return 1
	}
	defer mf.Close()
	var sm SubtypeModel
	err = readGob(mf, gz, &sm)
	if err != nil {
		return 1
	}
	mf.Close()
	err = sm.Check()
	if err != nil {
		return 1
	}

	cs, err := classify(ds, &sm)
	if err != nil {
		return 1
	}
	confident := applyConfidence(cs, cmd.minConfidence)
	log.Infof("%d of %d patients confident at ≥ %g", confident, len(cs.Calls), cmd.minConfidence)

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	err = writeGob(output, gz, cs)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
