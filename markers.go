// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            stdlog.New(io.Discard, "", 0),
}

// Marker is one differentially expressed gene for one cluster.
type Marker struct {
	Cluster   string
	EnsemblID string
	Symbol    string
	EntrezID  int
	Log2FC    float64
	P         float64
	AdjP      float64
}

// MarkerSet is the output of the markers stage: the top markers per
// cluster, with cluster labels already renamed to subtype names when
// a -subtypes mapping was given.
type MarkerSet struct {
	Clusters []string
	Markers  []Marker
}

// GeneIDs returns the distinct marker gene IDs in first-seen order.
func (ms *MarkerSet) GeneIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range ms.Markers {
		if !seen[m.EnsemblID] {
			seen[m.EnsemblID] = true
			out = append(out, m.EnsemblID)
		}
	}
	return out
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// markerPvalueFunc fits the null logistic model (membership ~ 1) once
// and returns a function computing the likelihood-ratio p-value of
// membership ~ expression for one gene.
func markerPvalueFunc(membership []bool) func(expr []float64) float64 {
	outcome := make([]statmodel.Dtype, len(membership))
	constants := make([]statmodel.Dtype, len(membership))
	for i, in := range membership {
		if in {
			outcome[i] = 1
		}
		constants[i] = 1
	}
	dataset := statmodel.NewDataset([][]statmodel.Dtype{outcome, constants}, []string{"outcome", "constants"})
	model, err := glm.NewGLM(dataset, "outcome", []string{"constants"}, glmConfig)
	if err != nil {
		log.Warnf("null model: %s", err)
		return func([]float64) float64 { return math.NaN() }
	}
	logNull := model.Fit().LogLike()

	return func(expr []float64) (p float64) {
		defer func() {
			if recover() != nil {
				// typically "matrix singular or near-singular with condition number +Inf"
				p = math.NaN()
			}
		}()
		x := append([]statmodel.Dtype(nil), expr...)
		_, std := stat.MeanStdDev(x, nil)
		if std == 0 {
			return math.NaN()
		}
		normalize(x)
		dataset := statmodel.NewDataset([][]statmodel.Dtype{outcome, x, constants}, []string{"outcome", "expr", "constants"})
		model, err := glm.NewGLM(dataset, "outcome", []string{"expr", "constants"}, glmConfig)
		if err != nil {
			return math.NaN()
		}
		logFull := model.Fit().LogLike()
		dist := distuv.ChiSquared{K: 1}
		return dist.Survival(-2 * (logNull - logFull))
	}
}

// bhAdjust returns Benjamini-Hochberg adjusted p-values. NaN inputs
// yield NaN outputs and do not count toward the number of tests.
func bhAdjust(p []float64) []float64 {
	var order []int
	for i, v := range p {
		if !math.IsNaN(v) {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
	n := float64(len(order))
	adj := make([]float64, len(p))
	for i := range adj {
		adj[i] = math.NaN()
	}
	min := 1.0
	for r := len(order) - 1; r >= 0; r-- {
		q := p[order[r]] * n / float64(r+1)
		if q < min {
			min = q
		}
		adj[order[r]] = min
	}
	return adj
}

type markerscmd struct {
	inputFile  string
	modelFile  string
	outputFile string
	csvFile    string
	topMarkers int
	subtypes   string
}

func (cmd *markerscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input dataset `file`")
	flags.StringVar(&cmd.modelFile, "model", "", "nmf model `file`")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	flags.StringVar(&cmd.csvFile, "csv", "", "also write markers as `csv`")
	flags.IntVar(&cmd.topMarkers, "top", 25, "markers per cluster")
	flags.StringVar(&cmd.subtypes, "subtypes", "", "rename clusters, e.g. `C1=differentiated,C2=proliferative`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.modelFile == "" {
		fmt.Fprintln(stderr, "cannot find markers without -model argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	rename, err := parseSubtypes(cmd.subtypes)
	if err != nil {
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

	model, err := readModelFile(cmd.modelFile)
	if err != nil {
		return 1
	}

	ms, err := findMarkers(ds, model, cmd.topMarkers, rename)
	if err != nil {
		return 1
	}
	log.Infof("%d markers across %d clusters", len(ms.Markers), len(ms.Clusters))

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	err = writeGob(output, gz, ms)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	if cmd.csvFile != "" {
		err = writeMarkersCSV(cmd.csvFile, ms)
		if err != nil {
			return 1
		}
	}
	return 0
}

func readModelFile(filename string) (*Model, error) {
	f, gz, err := openInput(filename, nil)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var model Model
	err = readGob(f, gz, &model)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	err = model.Check()
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// findMarkers runs the one-vs-rest test per cluster over the full
// gene table, restricted to silhouette-retained patients.
func findMarkers(ds *Dataset, model *Model, top int, rename map[string]string) (*MarkerSet, error) {
	labelOf := map[string]string{}
	for p, id := range model.PatientIDs {
		if model.Retained[p] {
			labelOf[id] = model.Labels[p]
		}
	}
	keep := make([]bool, ds.NPatients())
	kept := 0
	for p, pt := range ds.Patients {
		if _, ok := labelOf[pt.CaseID]; ok {
			keep[p] = true
			kept++
		}
	}
	if kept < 4 {
		return nil, fmt.Errorf("only %d retained patients present in dataset", kept)
	}
	sub := ds.SubsetPatients(keep)
	factors := sizeFactors(sub)
	values := logNormalize(sub, factors)
	np := sub.NPatients()

	ms := &MarkerSet{}
	for k := 0; k < model.Rank; k++ {
		cluster := clusterName(k)
		membership := make([]bool, np)
		members := 0
		for p, pt := range sub.Patients {
			if labelOf[pt.CaseID] == cluster {
				membership[p] = true
				members++
			}
		}
		outName := cluster
		if renamed, ok := rename[cluster]; ok {
			outName = renamed
		}
		ms.Clusters = append(ms.Clusters, outName)
		if members < 2 || np-members < 2 {
			log.Warnf("%s: %d members, skipping marker test", cluster, members)
			continue
		}
		log.Infof("%s: testing %d genes against %d/%d patients", cluster, sub.NGenes(), members, np)

		pvalue := markerPvalueFunc(membership)
		var cands []Marker
		var pvals []float64
		for g := 0; g < sub.NGenes(); g++ {
			expr := values[g*np : (g+1)*np]
			var sumIn, sumOut float64
			for p, v := range expr {
				if membership[p] {
					sumIn += v
				} else {
					sumOut += v
				}
			}
			log2fc := (sumIn/float64(members) - sumOut/float64(np-members)) / math.Ln2
			if log2fc <= 0 {
				continue
			}
			cands = append(cands, Marker{
				Cluster:   outName,
				EnsemblID: sub.Genes[g].EnsemblID,
				Symbol:    sub.Genes[g].Symbol,
				EntrezID:  sub.Genes[g].EntrezID,
				Log2FC:    log2fc,
			})
			pvals = append(pvals, pvalue(expr))
		}
		adj := bhAdjust(pvals)
		for i := range cands {
			cands[i].P = pvals[i]
			cands[i].AdjP = adj[i]
		}
		sort.SliceStable(cands, func(a, b int) bool {
			pa, pb := cands[a].AdjP, cands[b].AdjP
			if math.IsNaN(pa) {
				return false
			}
			if math.IsNaN(pb) {
				return true
			}
			if pa != pb {
				return pa < pb
			}
			return cands[a].Log2FC > cands[b].Log2FC
		})
		if len(cands) > top {
			cands = cands[:top]
		}
		ms.Markers = append(ms.Markers, cands...)
	}
	return ms, nil
}

// parseSubtypes parses "C1=differentiated,C2=proliferative" style
// cluster renamings.
func parseSubtypes(s string) (map[string]string, error) {
	rename := map[string]string{}
	if s == "" {
		return rename, nil
	}
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(kv), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("bad -subtypes entry %q", kv)
		}
		rename[parts[0]] = parts[1]
	}
	return rename, nil
}

func writeMarkersCSV(filename string, ms *MarkerSet) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	err = w.Write([]string{"cluster", "ensembl_id", "symbol", "entrez_id", "log2fc", "p", "adj_p"})
	if err != nil {
		return err
	}
	for _, m := range ms.Markers {
		err = w.Write([]string{
			m.Cluster, m.EnsemblID, m.Symbol, strconv.Itoa(m.EntrezID),
			strconv.FormatFloat(m.Log2FC, 'g', 6, 64),
			strconv.FormatFloat(m.P, 'g', 6, 64),
			strconv.FormatFloat(m.AdjP, 'g', 6, 64),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
