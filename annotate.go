// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"database/sql"
	"flag"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// annotatecmd maps the gene table's Ensembl IDs to Entrez IDs and
// symbols using a local SQLite annotation database (the org.Hs.eg
// layout: a genes table keyed by ensembl_id). Genes with no mapping
// are dropped and the count matrix is re-filtered to match. Where the
// database offers several rows for one Ensembl ID, or several Ensembl
// IDs share an Entrez ID, the first match wins, so the mapping is
// one-to-one afterwards.
type annotatecmd struct {
	dbFile     string
	inputFile  string
	outputFile string
}

func (cmd *annotatecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.dbFile, "db", "", "sqlite annotation database `file`")
	flags.StringVar(&cmd.inputFile, "i", "-", "input `file`")
	flags.StringVar(&cmd.outputFile, "o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.dbFile == "" {
		fmt.Fprintln(stderr, "cannot annotate without -db argument")
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

	mapping, err := loadAnnotations(cmd.dbFile)
	if err != nil {
		return 1
	}
	log.Infof("annotation database: %d ensembl mappings", len(mapping))

	ds, dropped := annotateGenes(ds, mapping)
	log.Infof("annotated %d genes, dropped %d unmapped", ds.NGenes(), dropped)
	if ds.NGenes() == 0 {
		err = fmt.Errorf("no genes remain after annotation")
		return 1
	}

	output, gz, err := openOutput(cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
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

type annotation struct {
	EntrezID int
	Symbol   string
}

// loadAnnotations reads the whole genes table in rowid order and
// keeps the first row seen for each Ensembl ID.
func loadAnnotations(dbFile string) (map[string]annotation, error) {
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query(`SELECT ensembl_id, entrez_id, symbol FROM genes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query annotation database: %w", err)
	}
	defer rows.Close()
	mapping := map[string]annotation{}
	for rows.Next() {
		var ensembl, symbol string
		var entrez int
		err = rows.Scan(&ensembl, &entrez, &symbol)
		if err != nil {
			return nil, err
		}
		if _, dup := mapping[ensembl]; dup {
			continue
		}
		mapping[ensembl] = annotation{EntrezID: entrez, Symbol: symbol}
	}
	return mapping, rows.Err()
}

// annotateGenes fills in EntrezID and Symbol from mapping and drops
// genes with no mapping, keeping Entrez IDs one-to-one (first Ensembl
// ID wins). Returns the filtered dataset and the number of dropped
// genes.
func annotateGenes(ds *Dataset, mapping map[string]annotation) (*Dataset, int) {
	keep := make([]bool, ds.NGenes())
	seenEntrez := map[int]bool{}
	genes := make([]Gene, len(ds.Genes))
	copy(genes, ds.Genes)
	for i := range genes {
		ann, ok := mapping[genes[i].EnsemblID]
		if !ok || ann.EntrezID == 0 || seenEntrez[ann.EntrezID] {
			continue
		}
		seenEntrez[ann.EntrezID] = true
		genes[i].EntrezID = ann.EntrezID
		genes[i].Symbol = ann.Symbol
		keep[i] = true
	}
	annotated := &Dataset{Patients: ds.Patients, Genes: genes, Counts: ds.Counts}
	out := annotated.SubsetGenes(keep)
	return out, ds.NGenes() - out.NGenes()
}
