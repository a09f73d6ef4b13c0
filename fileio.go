// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"errors"
	"io"
	"os"
	"strings"
)

// openInput opens the named file, or wraps stdin when name is "-".
// The second return value reports whether the name indicates gzip
// content. Arguments that have no stdin to fall back on (auxiliary
// files like -model or -markers) pass a nil stdin and get an error
// for "-" instead of a stream.
func openInput(name string, stdin io.Reader) (io.ReadCloser, bool, error) {
	if name == "-" {
		if stdin == nil {
			return nil, false, errors.New("cannot read this input from stdin, specify a file")
		}
		return io.NopCloser(stdin), false, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, false, err
	}
	return f, strings.HasSuffix(name, ".gz"), nil
}

// openOutput creates the named file, or wraps stdout when name is
// "-".
func openOutput(name string, stdout io.Writer) (io.WriteCloser, bool, error) {
	if name == "-" {
		if stdout == nil {
			return nil, false, errors.New("cannot write this output to stdout, specify a file")
		}
		return nopCloser{stdout}, false, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return nil, false, err
	}
	return f, strings.HasSuffix(name, ".gz"), nil
}
