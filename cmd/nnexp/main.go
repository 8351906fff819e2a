// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import nnexp "github.com/TrellixVulnTeam/nnexp-0CEE"

func main() {
	nnexp.Main()
}
