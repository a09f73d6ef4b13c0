// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
)

// statscmd summarizes pipeline artifacts: cohort size after the
// dataset stages, cluster composition after nmf, consensus call
// composition, and (when both label sets are given) a cross-tab of
// NMF labels against consensus labels. The two label sets are never
// reconciled automatically; the cross-tab exists for human
// inspection.
type statscmd struct {
	inputFile string
	modelFile string
	callsFile string
	jsonOut   bool
}

type clusterSummary struct {
	Label          string
	Patients       int
	Retained       int
	MeanSilhouette float64
}

type consensusSummary struct {
	Label     string
	Patients  int
	Confident int
}

type pipelineSummary struct {
	Patients       int                       `json:",omitempty"`
	Genes          int                       `json:",omitempty"`
	AnnotatedGenes int                       `json:",omitempty"`
	Clusters       []clusterSummary          `json:",omitempty"`
	Consensus      []consensusSummary        `json:",omitempty"`
	CrossTab       map[string]map[string]int `json:",omitempty"`
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "", "dataset `file`")
	flags.StringVar(&cmd.modelFile, "model", "", "nmf model `file`")
	flags.StringVar(&cmd.callsFile, "calls", "", "consensus calls `file`")
	flags.BoolVar(&cmd.jsonOut, "json", false, "emit JSON instead of tables")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.inputFile == "" && cmd.modelFile == "" && cmd.callsFile == "" {
		fmt.Fprintln(stderr, "nothing to summarize: need at least one of -i, -model, -calls")
		return 2
	}

	var sum pipelineSummary
	var model *Model
	var cs CallSet
	if cmd.inputFile != "" {
		var ds *Dataset
		input, gz, err2 := openInput(cmd.inputFile, stdin)
		if err2 != nil {
			err = err2
			return 1
		}
		ds, err = readDataset(input, gz)
		input.Close()
		if err != nil {
			return 1
		}
		sum.Patients = ds.NPatients()
		sum.Genes = ds.NGenes()
		for _, g := range ds.Genes {
			if g.EntrezID != 0 {
				sum.AnnotatedGenes++
			}
		}
	}
	if cmd.modelFile != "" {
		model, err = readModelFile(cmd.modelFile)
		if err != nil {
			return 1
		}
		sum.Clusters = summarizeClusters(model)
	}
	if cmd.callsFile != "" {
		err = readGobFile(cmd.callsFile, &cs)
		if err != nil {
			return 1
		}
		sum.Consensus = summarizeCalls(&cs)
	}
	if model != nil && len(cs.Calls) > 0 {
		sum.CrossTab = crossTab(model, &cs)
	}

	if cmd.jsonOut {
		err = json.NewEncoder(stdout).Encode(sum)
		if err != nil {
			return 1
		}
		return 0
	}
	cmd.render(stdout, sum)
	return 0
}

func summarizeClusters(model *Model) []clusterSummary {
	byLabel := map[string]*clusterSummary{}
	var order []string
	for p, label := range model.Labels {
		s, ok := byLabel[label]
		if !ok {
			s = &clusterSummary{Label: label}
			byLabel[label] = s
			order = append(order, label)
		}
		s.Patients++
		s.MeanSilhouette += model.Silhouette[p]
		if model.Retained[p] {
			s.Retained++
		}
	}
	sort.Strings(order)
	out := make([]clusterSummary, 0, len(order))
	for _, label := range order {
		s := byLabel[label]
		s.MeanSilhouette /= float64(s.Patients)
		out = append(out, *s)
	}
	return out
}

func summarizeCalls(cs *CallSet) []consensusSummary {
	byLabel := map[string]*consensusSummary{}
	for i, call := range cs.Calls {
		s, ok := byLabel[call.Label]
		if !ok {
			s = &consensusSummary{Label: call.Label}
			byLabel[call.Label] = s
		}
		s.Patients++
		if i < len(cs.Confident) && cs.Confident[i] {
			s.Confident++
		}
	}
	out := make([]consensusSummary, 0, len(byLabel))
	for _, label := range cs.Labels {
		if s, ok := byLabel[label]; ok {
			out = append(out, *s)
		}
	}
	return out
}

func crossTab(model *Model, cs *CallSet) map[string]map[string]int {
	nmfLabel := map[string]string{}
	for p, id := range model.PatientIDs {
		if model.Retained[p] {
			nmfLabel[id] = model.Labels[p]
		}
	}
	tab := map[string]map[string]int{}
	for _, call := range cs.Calls {
		nl, ok := nmfLabel[call.PatientID]
		if !ok {
			continue
		}
		if tab[nl] == nil {
			tab[nl] = map[string]int{}
		}
		tab[nl][call.Label]++
	}
	return tab
}

func (cmd *statscmd) render(stdout io.Writer, sum pipelineSummary) {
	if sum.Patients > 0 || sum.Genes > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(stdout)
		t.AppendHeader(table.Row{"patients", "genes", "annotated"})
		t.AppendRow(table.Row{sum.Patients, sum.Genes, sum.AnnotatedGenes})
		t.Render()
	}
	if len(sum.Clusters) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(stdout)
		t.AppendHeader(table.Row{"cluster", "patients", "retained", "mean silhouette"})
		for _, s := range sum.Clusters {
			t.AppendRow(table.Row{s.Label, s.Patients, s.Retained, fmt.Sprintf("%.3f", s.MeanSilhouette)})
		}
		t.Render()
	}
	if len(sum.Consensus) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(stdout)
		t.AppendHeader(table.Row{"consensus subtype", "patients", "confident"})
		for _, s := range sum.Consensus {
			t.AppendRow(table.Row{s.Label, s.Patients, s.Confident})
		}
		t.Render()
	}
	if len(sum.CrossTab) > 0 {
		var consensusLabels []string
		seen := map[string]bool{}
		for _, row := range sum.CrossTab {
			for label := range row {
				if !seen[label] {
					seen[label] = true
					consensusLabels = append(consensusLabels, label)
				}
			}
		}
		sort.Strings(consensusLabels)
		var nmfLabels []string
		for label := range sum.CrossTab {
			nmfLabels = append(nmfLabels, label)
		}
		sort.Strings(nmfLabels)
		t := table.NewWriter()
		t.SetOutputMirror(stdout)
		header := table.Row{"nmf \\ consensus"}
		for _, l := range consensusLabels {
			header = append(header, l)
		}
		t.AppendHeader(header)
		for _, nl := range nmfLabels {
			row := table.Row{nl}
			for _, cl := range consensusLabels {
				row = append(row, sum.CrossTab[nl][cl])
			}
			t.AppendRow(row)
		}
		t.Render()
	}
}
