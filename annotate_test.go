// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type annotateSuite struct{}

var _ = check.Suite(&annotateSuite{})

func writeAnnotationDB(c *check.C, rows [][3]interface{}) string {
	path := filepath.Join(c.MkDir(), "anno.sqlite")
	db, err := sql.Open("sqlite", path)
	c.Assert(err, check.IsNil)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE genes (ensembl_id TEXT, entrez_id INTEGER, symbol TEXT)`)
	c.Assert(err, check.IsNil)
	for _, row := range rows {
		_, err = db.Exec(`INSERT INTO genes (ensembl_id, entrez_id, symbol) VALUES (?, ?, ?)`, row[0], row[1], row[2])
		c.Assert(err, check.IsNil)
	}
	return path
}

func (s *annotateSuite) TestAnnotate(c *check.C) {
	// ENSG...01 has two rows (first must win), ENSG...03 has no
	// mapping, ENSG...04 collides with ...01's entrez ID and must
	// be dropped to keep the mapping one-to-one.
	dbFile := writeAnnotationDB(c, [][3]interface{}{
		{"ENSG00000000001", 11, "AAA"},
		{"ENSG00000000001", 99, "AAA-ALT"},
		{"ENSG00000000002", 22, "BBB"},
		{"ENSG00000000004", 11, "AAA"},
	})

	ds := testDataset()
	for i := range ds.Genes {
		ds.Genes[i].EntrezID = 0
		ds.Genes[i].Symbol = ""
	}
	var in bytes.Buffer
	c.Assert(writeDataset(&in, false, ds), check.IsNil)

	var out bytes.Buffer
	exited := (&annotatecmd{}).RunCommand("annotate", []string{"-db", dbFile, "-i", "-", "-o", "-"}, &in, &out, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	got, err := readDataset(&out, false)
	c.Assert(err, check.IsNil)
	c.Check(got.GeneIDs(), check.DeepEquals, []string{"ENSG00000000001", "ENSG00000000002"})
	c.Check(got.Genes[0].EntrezID, check.Equals, 11)
	c.Check(got.Genes[0].Symbol, check.Equals, "AAA")
	c.Check(got.Genes[1].EntrezID, check.Equals, 22)
	// Count rows must follow the surviving genes.
	c.Check(got.GeneRow(0), check.DeepEquals, []int32{1, 2, 3})
	c.Check(got.GeneRow(1), check.DeepEquals, []int32{4, 5, 6})
}

func (s *annotateSuite) TestAnnotateAllUnmapped(c *check.C) {
	dbFile := writeAnnotationDB(c, nil)
	ds := testDataset()
	var in bytes.Buffer
	c.Assert(writeDataset(&in, false, ds), check.IsNil)
	var out, errbuf bytes.Buffer
	exited := (&annotatecmd{}).RunCommand("annotate", []string{"-db", dbFile, "-i", "-", "-o", "-"}, &in, &out, &errbuf)
	c.Check(exited, check.Equals, 1)
	c.Check(errbuf.String(), check.Matches, `(?ms).*no genes remain.*`)
}
