// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config names every path and threshold the pipeline uses, so a run
// is reproducible from one file instead of a collection of
// hand-edited constants. Zero values fall back to the same defaults
// the individual subcommands use.
type Config struct {
	// Paths.
	Dir            string `yaml:"dir"`
	Annotations    string `yaml:"annotations"`
	ConsensusModel string `yaml:"consensus_model"`
	Workdir        string `yaml:"workdir"`
	LabelsCSV      string `yaml:"labels_csv"`
	CountsCSV      string `yaml:"counts_csv"`

	// Thresholds.
	MinDetected   int     `yaml:"min_detected"`
	TopGenes      int     `yaml:"top_genes"`
	Rank          int     `yaml:"rank"`
	Restarts      int     `yaml:"restarts"`
	Iterations    int     `yaml:"iterations"`
	Seed          int64   `yaml:"seed"`
	MinSilhouette float64 `yaml:"min_silhouette"`
	Neighbors     int     `yaml:"neighbors"`
	TopMarkers    int     `yaml:"top_markers"`
	MinConfidence float64 `yaml:"min_confidence"`

	// Analyst-chosen cluster renaming, e.g. C1: differentiated.
	Subtypes map[string]string `yaml:"subtypes"`
}

func defaultConfig() Config {
	return Config{
		Workdir:       ".",
		LabelsCSV:     "consensus_labels.csv",
		CountsCSV:     "counts.csv",
		MinDetected:   10,
		TopGenes:      5000,
		Rank:          4,
		Restarts:      100,
		Iterations:    200,
		Seed:          1,
		MinSilhouette: 0.3,
		Neighbors:     4,
		TopMarkers:    25,
		MinConfidence: 0.5,
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(buf, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Dir == "" {
		return cfg, fmt.Errorf("%s: dir is required", path)
	}
	if cfg.Annotations == "" {
		return cfg, fmt.Errorf("%s: annotations is required", path)
	}
	if cfg.ConsensusModel == "" {
		return cfg, fmt.Errorf("%s: consensus_model is required", path)
	}
	return cfg, nil
}
