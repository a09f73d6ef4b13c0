// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
)

// Patient is one row of the clinical table. Only scalar fields
// survive the build stage; list-valued clinical attributes are
// dropped at parse time.
type Patient struct {
	CaseID         string
	AgeYears       int
	Stage          string
	VitalStatus    string
	DaysToDeath    int
	DaysToFollowup int
	Race           string
	Ethnicity      string
}

// Gene is one row of the gene table. EnsemblID is the primary key
// (version suffix already stripped); EntrezID and Symbol are zero
// until the annotate stage fills them in.
type Gene struct {
	EnsemblID string
	EntrezID  int
	Symbol    string
}

// Dataset holds the three aligned tables: clinical rows, gene rows,
// and the raw count matrix. Counts is gene-major, so the count for
// gene g in patient p is Counts[g*len(Patients)+p]. Every stage that
// drops genes or patients must go through SubsetGenes/SubsetPatients
// so the three tables stay aligned.
type Dataset struct {
	Patients []Patient
	Genes    []Gene
	Counts   []int32
}

func (ds *Dataset) NGenes() int    { return len(ds.Genes) }
func (ds *Dataset) NPatients() int { return len(ds.Patients) }

func (ds *Dataset) Count(g, p int) int32 {
	return ds.Counts[g*len(ds.Patients)+p]
}

// GeneRow returns the counts for gene g across all patients. The
// returned slice aliases ds.Counts.
func (ds *Dataset) GeneRow(g int) []int32 {
	n := len(ds.Patients)
	return ds.Counts[g*n : (g+1)*n]
}

func (ds *Dataset) PatientIDs() []string {
	ids := make([]string, len(ds.Patients))
	for i, p := range ds.Patients {
		ids[i] = p.CaseID
	}
	return ids
}

func (ds *Dataset) GeneIDs() []string {
	ids := make([]string, len(ds.Genes))
	for i, g := range ds.Genes {
		ids[i] = g.EnsemblID
	}
	return ids
}

// Check verifies the cross-table invariants that every stage relies
// on: unique keys, matching matrix shape, non-negative counts. It is
// called after reading and before writing a dataset, so a stage that
// corrupts alignment fails at its own boundary instead of poisoning
// downstream labels.
func (ds *Dataset) Check() error {
	if len(ds.Counts) != len(ds.Genes)*len(ds.Patients) {
		return fmt.Errorf("count matrix has %d entries, want %d genes × %d patients", len(ds.Counts), len(ds.Genes), len(ds.Patients))
	}
	seenGene := make(map[string]bool, len(ds.Genes))
	for _, g := range ds.Genes {
		if g.EnsemblID == "" {
			return fmt.Errorf("gene table contains empty ensembl ID")
		}
		if seenGene[g.EnsemblID] {
			return fmt.Errorf("duplicate gene ID %s", g.EnsemblID)
		}
		seenGene[g.EnsemblID] = true
	}
	seenPatient := make(map[string]bool, len(ds.Patients))
	for _, p := range ds.Patients {
		if p.CaseID == "" {
			return fmt.Errorf("clinical table contains empty case ID")
		}
		if seenPatient[p.CaseID] {
			return fmt.Errorf("duplicate case ID %s", p.CaseID)
		}
		seenPatient[p.CaseID] = true
	}
	for i, c := range ds.Counts {
		if c < 0 {
			return fmt.Errorf("negative count at matrix offset %d", i)
		}
	}
	return nil
}

// SubsetGenes returns a new dataset containing only the genes for
// which keep is true, with the count matrix filtered to match.
func (ds *Dataset) SubsetGenes(keep []bool) *Dataset {
	out := &Dataset{Patients: ds.Patients}
	n := len(ds.Patients)
	for g, k := range keep {
		if !k {
			continue
		}
		out.Genes = append(out.Genes, ds.Genes[g])
		out.Counts = append(out.Counts, ds.Counts[g*n:(g+1)*n]...)
	}
	return out
}

// SubsetPatients returns a new dataset containing only the patients
// for which keep is true.
func (ds *Dataset) SubsetPatients(keep []bool) *Dataset {
	out := &Dataset{Genes: ds.Genes}
	for p, k := range keep {
		if k {
			out.Patients = append(out.Patients, ds.Patients[p])
		}
	}
	out.Counts = make([]int32, 0, len(out.Genes)*len(out.Patients))
	n := len(ds.Patients)
	for g := range ds.Genes {
		row := ds.Counts[g*n : (g+1)*n]
		for p, k := range keep {
			if k {
				out.Counts = append(out.Counts, row[p])
			}
		}
	}
	return out
}

// PatientIndex returns the row index of each case ID.
func (ds *Dataset) PatientIndex() map[string]int {
	idx := make(map[string]int, len(ds.Patients))
	for i, p := range ds.Patients {
		idx[p.CaseID] = i
	}
	return idx
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeGob writes v as a gob stream, gzipped when gz is true.
// Intermediate files between stages all go through here.
func writeGob(w io.Writer, gz bool, v interface{}) error {
	bufw := bufio.NewWriter(w)
	var enc *gob.Encoder
	var gzw *pgzip.Writer
	if gz {
		gzw = pgzip.NewWriter(bufw)
		enc = gob.NewEncoder(gzw)
	} else {
		enc = gob.NewEncoder(bufw)
	}
	err := enc.Encode(v)
	if err != nil {
		return err
	}
	if gzw != nil {
		err = gzw.Close()
		if err != nil {
			return err
		}
	}
	return bufw.Flush()
}

func readGob(r io.Reader, gz bool, v interface{}) error {
	bufr := bufio.NewReaderSize(r, 1<<22)
	if gz {
		gzr, err := pgzip.NewReader(bufr)
		if err != nil {
			return err
		}
		defer gzr.Close()
		return gob.NewDecoder(gzr).Decode(v)
	}
	return gob.NewDecoder(bufr).Decode(v)
}

func readDataset(r io.Reader, gz bool) (*Dataset, error) {
	var ds Dataset
	err := readGob(r, gz, &ds)
	if err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	err = ds.Check()
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func writeDataset(w io.Writer, gz bool, ds *Dataset) error {
	err := ds.Check()
	if err != nil {
		return err
	}
	return writeGob(w, gz, ds)
}
