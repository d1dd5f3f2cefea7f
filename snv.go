// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/vertgenlab/gonomics/vcf"
)

// variant is a call or truth variant at a 0-based reference position.
type variant struct {
	Pos      int
	Ref      string
	Alt      string
	Filtered bool
}

func (v variant) isSNV() bool {
	return len(v.Ref) == 1 && len(v.Alt) == 1
}

func (v variant) sameAllele(other variant) bool {
	return v.Pos == other.Pos && v.Ref == other.Ref && v.Alt == other.Alt
}

// loadTruthCSV reads the SNV rows of a truth set with columns
// ref_id,qry_id,var_type,ref_pos,qry_pos,ref_base,qry_base. The first
// line is a header. Rows are returned sorted by position.
func loadTruthCSV(name string, r io.Reader) ([]variant, error) {
	var truth []variant
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 || line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 7 {
			return nil, fmt.Errorf("%s:%d: %d fields < 7", name, lineNum, len(fields))
		}
		if fields[2] != "SNV" {
			continue
		}
		pos, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid ref_pos %q", name, lineNum, fields[3])
		}
		truth = append(truth, variant{Pos: pos, Ref: fields[5], Alt: fields[6]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	sort.SliceStable(truth, func(i, j int) bool { return truth[i].Pos < truth[j].Pos })
	return truth, nil
}

// loadVCF reads calls from a haploid VCF. Positions are converted to
// 0-based and shifted left by one to drop the dummy leading base the
// caller adds. Calls whose FILTER is not PASS are marked filtered, and
// a call with several ALT alleles yields one variant per allele.
func loadVCF(fnm string) (calls []variant, err error) {
	// vcf.Read panics instead of returning errors
	if _, err = os.Stat(fnm); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			calls, err = nil, fmt.Errorf("%s: %v", fnm, r)
		}
	}()
	records, _ := vcf.Read(fnm)
	for _, rec := range records {
		filtered := rec.Filter != "PASS"
		for _, alt := range rec.Alt {
			calls = append(calls, variant{Pos: rec.Pos - 2, Ref: rec.Ref, Alt: alt, Filtered: filtered})
		}
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Pos < calls[j].Pos })
	return calls, nil
}

type snvStats struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	// false positives that are in the relaxed truth set
	FPInRelaxed int `json:"fp_in_relaxed"`
	// true SNVs that were called but filtered (not counted in FN)
	FNFiltered int `json:"fn_filtered"`
	// true SNVs inside a non-SNV call (also counted in FN)
	FNInSV            int     `json:"fn_in_sv"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	RecallExcludingSV float64 `json:"recall_excluding_sv"`
	// recall if filtered calls are counted as misses
	RecallCountingFiltered float64 `json:"recall_counting_filtered"`
}

func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// compareSNVs scores calls against truth. Both must be sorted by
// position. relaxed is only used to classify false positives.
func compareSNVs(calls, truth, relaxed []variant) snvStats {
	var st snvStats
	relaxedByPos := make(map[int]variant, len(relaxed))
	for _, v := range relaxed {
		relaxedByPos[v.Pos] = v
	}
	falsePositive := func(call variant) {
		st.FP++
		if rv, ok := relaxedByPos[call.Pos]; ok && rv.sameAllele(call) {
			st.FPInRelaxed++
		}
	}
	ci, ti := 0, 0
	for ci < len(calls) && ti < len(truth) {
		call, tv := calls[ci], truth[ti]
		if !call.isSNV() {
			// not a call for scoring purposes, but explains
			// missed truth SNVs it covers
			end := call.Pos + len(call.Ref) - 1
			switch {
			case tv.Pos < call.Pos:
				st.FN++
				ti++
			case tv.Pos <= end:
				st.FN++
				st.FNInSV++
				ti++
			default:
				ci++
			}
			continue
		}
		switch {
		case call.Pos < tv.Pos:
			falsePositive(call)
			ci++
		case call.Pos > tv.Pos:
			st.FN++
			ti++
		default:
			if !tv.sameAllele(call) {
				st.FN++
				st.FP++
			} else if call.Filtered {
				st.FNFiltered++
			} else {
				st.TP++
			}
			ci++
			ti++
		}
	}
	for ; ci < len(calls); ci++ {
		if calls[ci].isSNV() {
			falsePositive(calls[ci])
		}
	}
	st.FN += len(truth) - ti
	st.Precision = ratio(st.TP, st.TP+st.FP)
	st.Recall = ratio(st.TP, st.TP+st.FN)
	st.RecallExcludingSV = ratio(st.TP, st.TP+st.FN-st.FNInSV)
	st.RecallCountingFiltered = ratio(st.TP, st.TP+st.FN+st.FNFiltered)
	return st
}
