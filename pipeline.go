// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// runcmd executes the analysis stages in their fixed dependency
// order, from a previously fetched download directory to the two CSV
// exports, with every intermediate written under the configured
// workdir. Each stage is the same code as its standalone subcommand,
// so a failed run can be resumed stage by stage from the last
// intermediate by hand.
type runcmd struct {
	configFile string
}

func (cmd *runcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.configFile, "config", "", "pipeline config `file` (yaml)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.configFile == "" {
		fmt.Fprintln(stderr, "cannot run without -config argument")
		return 2
	}
	cfg, err := loadConfig(cmd.configFile)
	if err != nil {
		return 2
	}

	work := func(name string) string { return filepath.Join(cfg.Workdir, name) }
	dataset := work("dataset.gob.gz")
	annotated := work("annotated.gob.gz")
	filtered := work("filtered.gob.gz")
	features := work("features.gob.gz")
	model := work("model.gob.gz")
	markers := work("markers.gob.gz")
	calls := work("calls.gob.gz")

	type step struct {
		name string
		cmd  stage
		args []string
	}
	steps := []step{
		{"build", &builder{}, []string{"-dir", cfg.Dir, "-o", dataset}},
		{"annotate", &annotatecmd{}, []string{"-db", cfg.Annotations, "-i", dataset, "-o", annotated}},
		{"filter", &filtercmd{}, []string{"-min-detected", fmt.Sprintf("%d", cfg.MinDetected), "-i", annotated, "-o", filtered}},
		{"norm", &normcmd{}, []string{"-top-genes", fmt.Sprintf("%d", cfg.TopGenes), "-i", filtered, "-o", features}},
		{"nmf", &nmfcmd{}, []string{
			"-rank", fmt.Sprintf("%d", cfg.Rank),
			"-restarts", fmt.Sprintf("%d", cfg.Restarts),
			"-iters", fmt.Sprintf("%d", cfg.Iterations),
			"-seed", fmt.Sprintf("%d", cfg.Seed),
			"-min-silhouette", fmt.Sprintf("%g", cfg.MinSilhouette),
			"-i", features, "-o", model,
		}},
		{"embed", &embedcmd{}, []string{
			"-k", fmt.Sprintf("%d", cfg.Neighbors),
			"-seed", fmt.Sprintf("%d", cfg.Seed),
			"-i", model,
			"-o", work("embedding.npy"),
			"-plot", work("clusters.png"),
		}},
		{"markers", &markerscmd{}, []string{
			"-top", fmt.Sprintf("%d", cfg.TopMarkers),
			"-subtypes", subtypesArg(cfg.Subtypes),
			"-model", model,
			"-i", filtered, "-o", markers,
			"-csv", work("markers.csv"),
		}},
		{"consensus", &consensuscmd{}, []string{
			"-min-confidence", fmt.Sprintf("%g", cfg.MinConfidence),
			"-model", cfg.ConsensusModel,
			"-i", annotated, "-o", calls,
		}},
		{"export", &exportcmd{}, []string{
			"-i", annotated,
			"-markers", markers,
			"-calls", calls,
			"-labels-csv", filepath.Join(cfg.Workdir, cfg.LabelsCSV),
			"-counts-csv", filepath.Join(cfg.Workdir, cfg.CountsCSV),
		}},
	}
	for _, s := range steps {
		log.Infof("=== %s ===", s.name)
		exit := s.cmd.RunCommand(prog+" "+s.name, s.args, nil, stdout, stderr)
		if exit != 0 {
			err = fmt.Errorf("stage %s failed (exit %d)", s.name, exit)
			return exit
		}
	}
	log.Info("pipeline done")
	return 0
}

func subtypesArg(subtypes map[string]string) string {
	var parts []string
	for k, v := range subtypes {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
