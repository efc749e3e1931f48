// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import "os"

func main() {
	os.Exit(NewCLI().Run())
}
