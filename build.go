// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// ensemblVersion matches the trailing version suffix of a versioned
// Ensembl gene ID (ENSG00000000003.15 -> ENSG00000000003).
var ensemblVersion = regexp.MustCompile(`\.\d+$`)

// builder assembles the three aligned tables from a fetch directory:
// clinical rows from clinical.tsv, gene rows and the count matrix
// from the per-case STAR count files listed in manifest.json.
type builder struct {
	dir        string
	outputFile string
}

func (cmd *builder) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.dir, "dir", "", "fetch `directory` (containing clinical.tsv, counts/, manifest.json)")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.dir == "" {
		fmt.Fprintln(stderr, "cannot build without -dir argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	ds, err := cmd.build()
	if err != nil {
		return 1
	}

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	log.Infof("writing dataset: %d genes × %d patients", ds.NGenes(), ds.NPatients())
	err = writeDataset(output, gz, ds)
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *builder) build() (*Dataset, error) {
	clinical, err := readClinicalTSV(filepath.Join(cmd.dir, "clinical.tsv"))
	if err != nil {
		return nil, err
	}
	log.Infof("clinical table: %d cases", len(clinical))

	mft, err := readManifest(cmd.dir)
	if err != nil {
		return nil, err
	}
	if len(mft.Files) == 0 {
		return nil, fmt.Errorf("manifest.json lists no count files in %s", cmd.dir)
	}

	// Keep patients in clinical row order, restricted to cases that
	// have a count file. Cases with counts but no clinical row are
	// dropped too: the join is the intersection.
	haveCounts := map[string]string{}
	for _, ent := range mft.Files {
		if _, dup := haveCounts[ent.CaseID]; dup {
			log.Warnf("%s: multiple count files, keeping first", ent.CaseID)
			continue
		}
		haveCounts[ent.CaseID] = filepath.Join(cmd.dir, "counts", ent.CaseID+".tsv")
	}
	ds := &Dataset{}
	for _, p := range clinical {
		if _, ok := haveCounts[p.CaseID]; ok {
			ds.Patients = append(ds.Patients, p)
		}
	}
	log.Infof("joined cohort: %d patients", len(ds.Patients))
	if len(ds.Patients) == 0 {
		return nil, fmt.Errorf("no overlap between clinical cases and count files")
	}

	// Gene order comes from the first sample file; duplicate IDs
	// (after version stripping) keep the first occurrence.
	var genes []Gene
	geneIdx := map[string]int{}
	counts := map[string][]int32{}
	for pi, p := range ds.Patients {
		sample, err := readSTARCounts(haveCounts[p.CaseID])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.CaseID, err)
		}
		if pi == 0 {
			for _, sc := range sample {
				if _, dup := geneIdx[sc.id]; dup {
					continue
				}
				geneIdx[sc.id] = len(genes)
				genes = append(genes, Gene{EnsemblID: sc.id})
				counts[sc.id] = make([]int32, len(ds.Patients))
			}
		}
		seen := map[string]bool{}
		for _, sc := range sample {
			row, ok := counts[sc.id]
			if !ok || seen[sc.id] {
				continue
			}
			seen[sc.id] = true
			row[pi] = sc.count
		}
	}
	log.Infof("gene table: %d genes", len(genes))

	ds.Genes = genes
	ds.Counts = make([]int32, 0, len(genes)*len(ds.Patients))
	for _, g := range genes {
		ds.Counts = append(ds.Counts, counts[g.EnsemblID]...)
	}
	return ds, nil
}

type starCount struct {
	id    string
	count int32
}

// readSTARCounts parses one GDC "STAR - Counts" file: tab separated,
// optional "#" comment lines, a header row naming gene_id and
// unstranded columns, N_* summary rows skipped, Ensembl version
// suffixes stripped.
func readSTARCounts(path string) ([]starCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rdr io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".gz") {
		gzr, err := pgzip.NewReader(rdr)
		if err != nil {
			return nil, err
		}
		defer gzr.Close()
		rdr = gzr
	}
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	geneCol, countCol := -1, -1
	var out []starCount
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if geneCol < 0 {
			for i, name := range fields {
				switch name {
				case "gene_id":
					geneCol = i
				case "unstranded":
					countCol = i
				}
			}
			if geneCol < 0 || countCol < 0 {
				return nil, fmt.Errorf("missing gene_id or unstranded column in %s", path)
			}
			continue
		}
		if len(fields) <= geneCol || len(fields) <= countCol {
			continue
		}
		id := fields[geneCol]
		if id == "" || strings.HasPrefix(id, "N_") {
			continue
		}
		n, err := strconv.ParseInt(fields[countCol], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad count %q for %s in %s", fields[countCol], id, path)
		}
		out = append(out, starCount{id: ensemblVersion.ReplaceAllString(id, ""), count: int32(n)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no gene rows in %s", path)
	}
	return out, nil
}

func readClinicalTSV(path string) ([]Patient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(bufio.NewReader(f))
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	col := map[string]int{}
	var out []Patient
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(col) == 0 {
			for i, name := range fields {
				col[name] = i
			}
			if _, ok := col["case_submitter_id"]; !ok {
				return nil, fmt.Errorf("missing case_submitter_id column in %s", path)
			}
			continue
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return fields[i]
		}
		atoi := func(name string) int {
			n, _ := strconv.Atoi(get(name))
			return n
		}
		out = append(out, Patient{
			CaseID:         get("case_submitter_id"),
			AgeYears:       atoi("age_years"),
			Stage:          get("figo_stage"),
			VitalStatus:    get("vital_status"),
			DaysToDeath:    atoi("days_to_death"),
			DaysToFollowup: atoi("days_to_last_follow_up"),
			Race:           get("race"),
			Ethnicity:      get("ethnicity"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
