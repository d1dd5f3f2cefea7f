// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// distanceMatrix holds symmetric pairwise distances between
// haplotypes.
type distanceMatrix map[string]map[string]float64

// readDistances reads "hap1,hap2,dist" lines. Lines that do not have
// three fields or a numeric distance (e.g., a header) are skipped.
func readDistances(r io.Reader) (distanceMatrix, error) {
	dm := distanceMatrix{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) != 3 {
			continue
		}
		d, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		dm.set(fields[0], fields[1], d)
	}
	return dm, scanner.Err()
}

func (dm distanceMatrix) set(a, b string, d float64) {
	if dm[a] == nil {
		dm[a] = map[string]float64{}
	}
	if dm[b] == nil {
		dm[b] = map[string]float64{}
	}
	dm[a][b] = d
	dm[b][a] = d
}

// resolve returns the name under which sample appears in dm.
func (dm distanceMatrix) resolve(sample string) (string, bool) {
	for _, name := range sampleAliases(sample) {
		if _, ok := dm[name]; ok {
			return name, true
		}
	}
	return "", false
}

func (dm distanceMatrix) distance(a, b string) (float64, bool) {
	d, ok := dm[a][b]
	return d, ok
}

// nearest returns the closest other haplotype to h. Ties go to the
// lexically smallest name.
func (dm distanceMatrix) nearest(h string) (string, float64, bool) {
	best, bestDist := "", math.Inf(1)
	for other, d := range dm[h] {
		if other == h {
			continue
		}
		if d < bestDist || (d == bestDist && other < best) {
			best, bestDist = other, d
		}
	}
	return best, bestDist, best != ""
}

// neighbors returns the other haplotypes within threshold of h,
// sorted by name.
func (dm distanceMatrix) neighbors(h string, threshold float64) []string {
	var ret []string
	for other, d := range dm[h] {
		if other != h && d <= threshold {
			ret = append(ret, other)
		}
	}
	sort.Strings(ret)
	return ret
}
