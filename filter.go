// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"flag"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// geneFilter drops genes detected in too few patients. "Detected"
// means a nonzero raw count; a gene seen in exactly MinDetected
// patients is kept.
type geneFilter struct {
	MinDetected int
}

func (f *geneFilter) Flags(flags *flag.FlagSet) {
	flags.IntVar(&f.MinDetected, "min-detected", 10, "drop genes with nonzero counts in fewer than `N` patients")
}

// Apply returns a dataset restricted to genes passing the detection
// threshold. There is no patient-level filter at this stage.
func (f *geneFilter) Apply(ds *Dataset) *Dataset {
	keep := make([]bool, ds.NGenes())
	for g := range ds.Genes {
		detected := 0
		for _, c := range ds.GeneRow(g) {
			if c > 0 {
				detected++
			}
		}
		keep[g] = detected >= f.MinDetected
	}
	return ds.SubsetGenes(keep)
}

type filtercmd struct {
	geneFilter
	inputFile  string
	outputFile string
}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	cmd.geneFilter.Flags(flags)
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

	before := ds.NGenes()
	ds = cmd.geneFilter.Apply(ds)
	log.Infof("detection filter: %d of %d genes kept", ds.NGenes(), before)
	if ds.NGenes() == 0 {
		err = fmt.Errorf("no genes pass the detection filter")
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
