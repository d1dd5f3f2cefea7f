// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/centrolign/hapcount"

func main() {
	hapcount.Main()
}
