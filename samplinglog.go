// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/centrolign/hapcount/nselect"
)

type sampledHaplotype struct {
	Name  string
	Score float64
}

// samplingLog holds, for each sample and each n, the haplotypes the
// sampler selected, in log order (best score first).
type samplingLog map[string]map[int][]sampledHaplotype

var (
	processingSampleRe  = regexp.MustCompile(`Processing sample (\S+)`)
	samplingRe          = regexp.MustCompile(`Sampling (\d+) haplotypes`)
	selectedHaplotypeRe = regexp.MustCompile(`Selected haplotype (\S+) with score (\S+)`)
)

// readSamplingLog parses the haplotype sampler's log. Each sample's
// section starts with "Processing sample <id>" and contains one run
// per n, starting with "Sampling <n> haplotypes" and listing
// "Selected haplotype <name> with score <score>" lines. An "autoindex"
// line ends the current run.
func readSamplingLog(r io.Reader) (samplingLog, error) {
	sl := samplingLog{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var sample string
	n := -1
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if m := processingSampleRe.FindStringSubmatch(line); m != nil {
			sample = m[1]
			n = -1
			if sl[sample] == nil {
				sl[sample] = map[int][]sampledHaplotype{}
			}
			continue
		}
		if sample == "" {
			continue
		}
		if m := samplingRe.FindStringSubmatch(line); m != nil {
			var err error
			n, err = strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			sl[sample][n] = []sampledHaplotype{}
			continue
		}
		if strings.Contains(line, "autoindex") {
			n = -1
			continue
		}
		if n < 0 {
			continue
		}
		if m := selectedHaplotypeRe.FindStringSubmatch(line); m != nil {
			score, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid score %q", lineNum, m[2])
			}
			sl[sample][n] = append(sl[sample][n], sampledHaplotype{Name: m[1], Score: score})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sl, nil
}

// sampled returns the haplotypes selected for sample at n. The sample
// may be logged under its own name or under its graph path name.
func (sl samplingLog) sampled(sample string, n int) ([]sampledHaplotype, bool) {
	for _, name := range sampleAliases(sample) {
		if runs, ok := sl[name]; ok {
			haps, ok := runs[n]
			return haps, ok
		}
	}
	return nil, false
}

// sampleAliases returns the names a haplotype-level sample may go by
// in other tables: its own ID, and the graph path name
// "<individual>.<hap>" (e.g., HG02622_mat is also HG02622.2).
func sampleAliases(sample string) []string {
	names := []string{sample}
	if individual, hap, ok := nselect.SplitHaplotype(sample); ok {
		if path := fmt.Sprintf("%s.%d", individual, hap); path != sample {
			names = append(names, path)
		}
	}
	return names
}
