// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	ovarian "github.com/jnwangg/qbio490-sp24-final-ovarian"
)

func main() {
	ovarian.Main()
}
