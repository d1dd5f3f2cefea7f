// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"strings"
)

// Haplotype suffixes, in the order they are tried. Trio samples use
// _pat/_mat, others _hap1/_hap2, and graph path names use .1/.2.
var haplotypeSuffixes = []struct {
	suffix string
	hap    int
}{
	{"_hap1", 1},
	{"_hap2", 2},
	{"_pat", 1},
	{"_mat", 2},
	{".1", 1},
	{".2", 2},
}

// SplitHaplotype splits a haplotype-level sample ID like
// "HG02622_mat" or "HG02622.2" into the individual ("HG02622") and
// the haplotype number (1 or 2). ok is false if id has no recognized
// haplotype suffix.
func SplitHaplotype(id string) (individual string, hap int, ok bool) {
	for _, hs := range haplotypeSuffixes {
		if strings.HasSuffix(id, hs.suffix) && len(id) > len(hs.suffix) {
			return id[:len(id)-len(hs.suffix)], hs.hap, true
		}
	}
	return "", 0, false
}
