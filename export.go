// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// exportcmd writes the two final tables: consensus_labels.csv
// (patient → consensus subtype, confident patients only) and
// counts.csv (marker genes × confident patients, raw counts, rows
// keyed by gene symbol). Row and column order follow the dataset's
// gene and patient order.
type exportcmd struct {
	inputFile   string
	markersFile string
	callsFile   string
	labelsCSV   string
	countsCSV   string
}

func (cmd *exportcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFile, "i", "-", "input dataset `file`")
	flags.StringVar(&cmd.markersFile, "markers", "", "marker set `file`")
	flags.StringVar(&cmd.callsFile, "calls", "", "consensus calls `file`")
	flags.StringVar(&cmd.labelsCSV, "labels-csv", "consensus_labels.csv", "consensus labels output `file`")
	flags.StringVar(&cmd.countsCSV, "counts-csv", "counts.csv", "marker counts output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.markersFile == "" || cmd.callsFile == "" {
		fmt.Fprintln(stderr, "cannot export without -markers and -calls arguments")
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

	var ms MarkerSet
	err = readGobFile(cmd.markersFile, &ms)
	if err != nil {
		return 1
	}
	var cs CallSet
	err = readGobFile(cmd.callsFile, &cs)
	if err != nil {
		return 1
	}

	confident := map[string]string{}
	for i, call := range cs.Calls {
		if i < len(cs.Confident) && cs.Confident[i] {
			confident[call.PatientID] = call.Label
		}
	}
	var patientCols []int
	for p, pt := range ds.Patients {
		if _, ok := confident[pt.CaseID]; ok {
			patientCols = append(patientCols, p)
		}
	}
	if len(patientCols) == 0 {
		err = fmt.Errorf("no confident patients to export")
		return 1
	}

	isMarker := map[string]bool{}
	for _, id := range ms.GeneIDs() {
		isMarker[id] = true
	}
	var geneRows []int
	for g, gene := range ds.Genes {
		if isMarker[gene.EnsemblID] {
			geneRows = append(geneRows, g)
			delete(isMarker, gene.EnsemblID)
		}
	}
	for id := range isMarker {
		log.Warnf("marker gene %s not present in dataset", id)
	}
	if len(geneRows) == 0 {
		err = fmt.Errorf("no marker genes present in dataset")
		return 1
	}

	err = cmd.writeLabels(ds, patientCols, confident)
	if err != nil {
		return 1
	}
	err = cmd.writeCounts(ds, geneRows, patientCols)
	if err != nil {
		return 1
	}
	log.Infof("exported %d consensus labels and %d×%d counts", len(patientCols), len(geneRows), len(patientCols))
	return 0
}

func readGobFile(filename string, v interface{}) error {
	f, gz, err := openInput(filename, nil)
	if err != nil {
		return err
	}
	defer f.Close()
	return readGob(f, gz, v)
}

func (cmd *exportcmd) writeLabels(ds *Dataset, patientCols []int, label map[string]string) error {
	f, err := os.OpenFile(cmd.labelsCSV, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	err = w.Write([]string{"patient_id", "consensus_subtype"})
	if err != nil {
		return err
	}
	for _, p := range patientCols {
		id := ds.Patients[p].CaseID
		err = w.Write([]string{id, label[id]})
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

func (cmd *exportcmd) writeCounts(ds *Dataset, geneRows, patientCols []int) error {
	f, err := os.OpenFile(cmd.countsCSV, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{"symbol"}
	for _, p := range patientCols {
		header = append(header, ds.Patients[p].CaseID)
	}
	err = w.Write(header)
	if err != nil {
		return err
	}
	row := make([]string, len(patientCols)+1)
	for _, g := range geneRows {
		row[0] = ds.Genes[g].Symbol
		if row[0] == "" {
			row[0] = ds.Genes[g].EnsemblID
		}
		for i, p := range patientCols {
			row[i+1] = strconv.FormatInt(int64(ds.Count(g, p)), 10)
		}
		err = w.Write(row)
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
