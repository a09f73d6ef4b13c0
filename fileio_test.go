// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type fileioSuite struct{}

var _ = check.Suite(&fileioSuite{})

func (s *fileioSuite) TestStdioPassthrough(c *check.C) {
	in, gz, err := openInput("-", strings.NewReader("hello"))
	c.Assert(err, check.IsNil)
	c.Check(gz, check.Equals, false)
	buf, err := io.ReadAll(in)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "hello")
	c.Check(in.Close(), check.IsNil)

	var stdout bytes.Buffer
	out, gz, err := openOutput("-", &stdout)
	c.Assert(err, check.IsNil)
	c.Check(gz, check.Equals, false)
	_, err = out.Write([]byte("world"))
	c.Assert(err, check.IsNil)
	c.Check(out.Close(), check.IsNil)
	c.Check(stdout.String(), check.Equals, "world")
}

func (s *fileioSuite) TestGzipSuffix(c *check.C) {
	path := filepath.Join(c.MkDir(), "x.gob.gz")
	out, gz, err := openOutput(path, nil)
	c.Assert(err, check.IsNil)
	c.Check(gz, check.Equals, true)
	c.Check(out.Close(), check.IsNil)
	in, gz, err := openInput(path, nil)
	c.Assert(err, check.IsNil)
	c.Check(gz, check.Equals, true)
	c.Check(in.Close(), check.IsNil)
}

// Auxiliary file arguments have no stdin/stdout to fall back on, so
// "-" must fail cleanly there rather than wrap a nil stream.
func (s *fileioSuite) TestDashWithoutStdio(c *check.C) {
	_, _, err := openInput("-", nil)
	c.Check(err, check.ErrorMatches, `cannot read this input from stdin.*`)
	_, _, err = openOutput("-", nil)
	c.Check(err, check.ErrorMatches, `cannot write this output to stdout.*`)

	var ms MarkerSet
	c.Check(readGobFile("-", &ms), check.ErrorMatches, `cannot read this input from stdin.*`)
	_, err = readModelFile("-")
	c.Check(err, check.ErrorMatches, `cannot read this input from stdin.*`)
	c.Check(writeEmbeddingNpy("-", [][2]float64{{0, 0}}), check.ErrorMatches, `cannot write this output to stdout.*`)
}

func (s *fileioSuite) TestConsensusDashModel(c *check.C) {
	var in bytes.Buffer
	c.Assert(writeDataset(&in, false, testDataset()), check.IsNil)
	var stdout, stderr bytes.Buffer
	exited := (&consensuscmd{}).RunCommand("consensus", []string{
		"-model", "-", "-i", "-", "-o", "-",
	}, &in, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*cannot read this input from stdin.*`)
}

func (s *fileioSuite) TestEmbedDashOutput(c *check.C) {
	var in bytes.Buffer
	c.Assert(writeGob(&in, false, embedFixture()), check.IsNil)
	var stdout, stderr bytes.Buffer
	exited := (&embedcmd{}).RunCommand("embed", []string{
		"-i", "-", "-o", "-",
	}, &in, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*cannot write this output to stdout.*`)
}
