// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type buildSuite struct{}

var _ = check.Suite(&buildSuite{})

func writeFetchDir(c *check.C, star map[string]string) string {
	tmpdir := c.MkDir()
	c.Assert(os.MkdirAll(filepath.Join(tmpdir, "counts"), 0777), check.IsNil)
	clinical := "case_submitter_id\tage_years\tfigo_stage\tvital_status\tdays_to_death\tdays_to_last_follow_up\trace\tethnicity\n" +
		"TCGA-01\t61\tStage IIIC\tDead\t900\t0\twhite\tnot hispanic or latino\n" +
		"TCGA-02\t48\tStage IV\tAlive\t0\t1200\tasian\tnot reported\n" +
		"TCGA-99\t70\tStage IIIB\tAlive\t0\t400\twhite\tnot reported\n"
	c.Assert(os.WriteFile(filepath.Join(tmpdir, "clinical.tsv"), []byte(clinical), 0666), check.IsNil)
	mft := &manifest{Project: "TCGA-OV"}
	for caseID, content := range star {
		c.Assert(os.WriteFile(filepath.Join(tmpdir, "counts", caseID+".tsv"), []byte(content), 0666), check.IsNil)
		mft.Files = append(mft.Files, manifestEntry{FileID: "file-" + caseID, Name: caseID + ".tsv", CaseID: caseID})
	}
	c.Assert(mft.write(tmpdir), check.IsNil)
	return tmpdir
}

const starHeader = "# gene-model: GENCODE v36\n" +
	"gene_id\tgene_name\tgene_type\tunstranded\tstranded_first\n" +
	"N_unmapped\t\t\t1000\t1000\n"

func (s *buildSuite) TestBuild(c *check.C) {
	// TCGA-99 has no count file; ENSG...01 appears twice after
	// version stripping and the first row must win.
	tmpdir := writeFetchDir(c, map[string]string{
		"TCGA-01": starHeader +
			"ENSG00000000001.5\tAAA\tprotein_coding\t5\t0\n" +
			"ENSG00000000002.2\tBBB\tprotein_coding\t7\t0\n" +
			"ENSG00000000001.9\tAAA\tprotein_coding\t9\t0\n",
		"TCGA-02": starHeader +
			"ENSG00000000001.5\tAAA\tprotein_coding\t11\t0\n" +
			"ENSG00000000002.2\tBBB\tprotein_coding\t13\t0\n",
	})

	var buf bytes.Buffer
	exited := (&builder{}).RunCommand("build", []string{"-dir", tmpdir, "-o", "-"}, nil, &buf, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	ds, err := readDataset(&buf, false)
	c.Assert(err, check.IsNil)
	c.Check(ds.PatientIDs(), check.DeepEquals, []string{"TCGA-01", "TCGA-02"})
	c.Check(ds.GeneIDs(), check.DeepEquals, []string{"ENSG00000000001", "ENSG00000000002"})
	c.Check(ds.GeneRow(0), check.DeepEquals, []int32{5, 11})
	c.Check(ds.GeneRow(1), check.DeepEquals, []int32{7, 13})
	c.Check(ds.Patients[0].Stage, check.Equals, "Stage IIIC")
	c.Check(ds.Patients[1].AgeYears, check.Equals, 48)
}

func (s *buildSuite) TestBuildNoOverlap(c *check.C) {
	tmpdir := writeFetchDir(c, map[string]string{
		"TCGA-XX": starHeader + "ENSG00000000001.5\tAAA\tprotein_coding\t5\t0\n",
	})
	var buf bytes.Buffer
	var errbuf bytes.Buffer
	exited := (&builder{}).RunCommand("build", []string{"-dir", tmpdir, "-o", "-"}, nil, &buf, &errbuf)
	c.Check(exited, check.Equals, 1)
	c.Check(errbuf.String(), check.Matches, `(?ms).*no overlap.*`)
}

func (s *buildSuite) TestReadSTARCountsBadColumn(c *check.C) {
	tmpdir := c.MkDir()
	path := filepath.Join(tmpdir, "x.tsv")
	c.Assert(os.WriteFile(path, []byte("gene_id\tgene_name\n"), 0666), check.IsNil)
	_, err := readSTARCounts(path)
	c.Check(err, check.ErrorMatches, `missing gene_id or unstranded column.*`)
}

func (s *buildSuite) TestEnsemblVersionStrip(c *check.C) {
	c.Check(ensemblVersion.ReplaceAllString("ENSG00000141510.18", ""), check.Equals, "ENSG00000141510")
	c.Check(ensemblVersion.ReplaceAllString("ENSG00000141510", ""), check.Equals, "ENSG00000141510")
}
