// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type snvSuite struct{}

var _ = check.Suite(&snvSuite{})

const testTruthCSV = `ref_id,qry_id,var_type,ref_pos,qry_pos,ref_base,qry_base
r,q,SNV,10,10,A,G
r,q,SNV,20,20,C,T
r,q,SNV,30,30,G,A
r,q,INS,35,35,-,AAA
r,q,SNV,40,40,T,C
r,q,SNV,52,52,A,C
r,q,SNV,60,60,A,T
`

const testRelaxedCSV = `ref_id,qry_id,var_type,ref_pos,qry_pos,ref_base,qry_base
r,q,SNV,25,25,G,C
`

// VCF positions are 1-based with a dummy leading base, i.e., 2 more
// than the truth set positions.
const testVCF = `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
chr12	12	.	A	G	30	PASS	.
chr12	22	.	C	T	8	LowQual	.
chr12	27	.	G	C	30	PASS	.
chr12	32	.	G	T	30	PASS	.
chr12	52	.	TTTTT	T	30	PASS	.
chr12	62	.	A	T,G	30	PASS	.
`

func writeTestVCF(c *check.C) string {
	fnm := c.MkDir() + "/calls.vcf"
	c.Assert(os.WriteFile(fnm, []byte(testVCF), 0644), check.IsNil)
	return fnm
}

func (s *snvSuite) TestLoadTruth(c *check.C) {
	truth, err := loadTruthCSV("truth.csv", strings.NewReader(testTruthCSV))
	c.Assert(err, check.IsNil)
	c.Check(truth, check.HasLen, 6)
	c.Check(truth[0], check.Equals, variant{Pos: 10, Ref: "A", Alt: "G"})
	c.Check(truth[5], check.Equals, variant{Pos: 60, Ref: "A", Alt: "T"})

	_, err = loadTruthCSV("truth.csv", strings.NewReader("header\nr,q,SNV,x,1,A,G\n"))
	c.Check(err, check.ErrorMatches, `truth.csv:2: invalid ref_pos "x"`)
	_, err = loadTruthCSV("truth.csv", strings.NewReader("header\nr,q,SNV\n"))
	c.Check(err, check.ErrorMatches, `truth.csv:2: 3 fields < 7`)
}

func (s *snvSuite) TestLoadVCF(c *check.C) {
	calls, err := loadVCF(writeTestVCF(c))
	c.Assert(err, check.IsNil)
	c.Assert(calls, check.HasLen, 7)
	c.Check(calls[0], check.Equals, variant{Pos: 10, Ref: "A", Alt: "G"})
	c.Check(calls[1], check.Equals, variant{Pos: 20, Ref: "C", Alt: "T", Filtered: true})
	c.Check(calls[4].isSNV(), check.Equals, false)
	c.Check(calls[5], check.Equals, variant{Pos: 60, Ref: "A", Alt: "T"})
	c.Check(calls[6], check.Equals, variant{Pos: 60, Ref: "A", Alt: "G"})

	_, err = loadVCF(c.MkDir() + "/nonexistent.vcf")
	c.Check(err, check.NotNil)
}

func (s *snvSuite) TestCompare(c *check.C) {
	truth, err := loadTruthCSV("truth.csv", strings.NewReader(testTruthCSV))
	c.Assert(err, check.IsNil)
	relaxed, err := loadTruthCSV("relaxed.csv", strings.NewReader(testRelaxedCSV))
	c.Assert(err, check.IsNil)
	calls, err := loadVCF(writeTestVCF(c))
	c.Assert(err, check.IsNil)
	st := compareSNVs(calls, truth, relaxed)
	c.Check(st, check.Equals, snvStats{
		TP:                     2,
		FP:                     3,
		FN:                     3,
		FPInRelaxed:            1,
		FNFiltered:             1,
		FNInSV:                 1,
		Precision:              2.0 / 5,
		Recall:                 2.0 / 5,
		RecallExcludingSV:      2.0 / 4,
		RecallCountingFiltered: 2.0 / 6,
	})
}

// A correct call that failed filtering is reported separately and
// does not count against recall.
func (s *snvSuite) TestCompareFilteredMatch(c *check.C) {
	truth := []variant{{Pos: 10, Ref: "A", Alt: "G"}, {Pos: 20, Ref: "C", Alt: "T"}}
	calls := []variant{{Pos: 10, Ref: "A", Alt: "G"}, {Pos: 20, Ref: "C", Alt: "T", Filtered: true}}
	st := compareSNVs(calls, truth, nil)
	c.Check(st.TP, check.Equals, 1)
	c.Check(st.FN, check.Equals, 0)
	c.Check(st.FNFiltered, check.Equals, 1)
	c.Check(st.Recall, check.Equals, 1.0)
	c.Check(st.RecallCountingFiltered, check.Equals, 0.5)
}

func (s *snvSuite) TestCompareEmpty(c *check.C) {
	c.Check(compareSNVs(nil, nil, nil), check.Equals, snvStats{})
	st := compareSNVs([]variant{{Pos: 1, Ref: "A", Alt: "C"}}, nil, nil)
	c.Check(st.FP, check.Equals, 1)
	c.Check(st.Precision, check.Equals, 0.0)
	st = compareSNVs(nil, []variant{{Pos: 1, Ref: "A", Alt: "C"}}, nil)
	c.Check(st.FN, check.Equals, 1)
	c.Check(st.Recall, check.Equals, 0.0)
}

func writeSNVInputs(c *check.C, dir, prefix string) {
	c.Assert(os.WriteFile(dir+"/"+prefix+".csv", []byte(testTruthCSV), 0644), check.IsNil)
	c.Assert(os.WriteFile(dir+"/"+prefix+".relaxed.csv", []byte(testRelaxedCSV), 0644), check.IsNil)
}

func (s *snvSuite) TestCommand(c *check.C) {
	dir := c.MkDir()
	writeSNVInputs(c, dir, "HG1_hap1")
	c.Assert(os.WriteFile(dir+"/HG1_hap1.3haps.vcf", []byte(testVCF), 0644), check.IsNil)
	c.Assert(os.WriteFile(dir+"/HG1_hap1.1haps.vcf", []byte(testVCF[:strings.Index(testVCF, "chr12\t22")]), 0644), check.IsNil)

	var stdout bytes.Buffer
	exited := (&compareSNVsCmd{}).RunCommand("hapcount compare-snvs", []string{"-vcf", dir + "/HG1_hap1.3haps.vcf", "-truth", dir + "/HG1_hap1.csv", "-relaxed-truth", dir + "/HG1_hap1.relaxed.csv"}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	var res snvComparisonResult
	c.Assert(json.Unmarshal(stdout.Bytes(), &res), check.IsNil)
	c.Check(res.TP, check.Equals, 2)
	c.Check(res.VCF, check.Equals, dir+"/HG1_hap1.3haps.vcf")

	manifest := "sample\tn\tvcf\ttruth\trelaxed\n" +
		"HG1_hap1\t1\t" + dir + "/HG1_hap1.1haps.vcf\t" + dir + "/HG1_hap1.csv\t" + dir + "/HG1_hap1.relaxed.csv\n" +
		"HG1_hap1\t3\t" + dir + "/HG1_hap1.3haps.vcf\t" + dir + "/HG1_hap1.csv\t" + dir + "/HG1_hap1.relaxed.csv\n"
	c.Assert(os.WriteFile(dir+"/manifest.tsv", []byte(manifest), 0644), check.IsNil)
	stdout.Reset()
	exited = (&compareSNVsCmd{}).RunCommand("hapcount compare-snvs", []string{"-manifest", dir + "/manifest.tsv", "-threads=2"}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	recs := decodeLines(c, stdout.Bytes())
	c.Assert(recs, check.HasLen, 2)
	c.Check(recs[0]["n"], check.Equals, 1.0)
	c.Check(recs[0]["tp"], check.Equals, 1.0)
	c.Check(recs[0]["fn"], check.Equals, 5.0)
	c.Check(recs[1]["n"], check.Equals, 3.0)
	c.Check(recs[1]["tp"], check.Equals, 2.0)

	for _, args := range [][]string{
		nil,
		{"-vcf", dir + "/HG1_hap1.3haps.vcf"},
		{"-manifest", dir + "/manifest.tsv", "-vcf", dir + "/HG1_hap1.3haps.vcf"},
	} {
		exited = (&compareSNVsCmd{}).RunCommand("hapcount compare-snvs", args, nil, &bytes.Buffer{}, &bytes.Buffer{})
		c.Check(exited, check.Equals, 2, check.Commentf("%v", args))
	}
	exited = (&compareSNVsCmd{}).RunCommand("hapcount compare-snvs", []string{"-vcf", dir + "/nonexistent.vcf", "-truth", dir + "/HG1_hap1.csv", "-relaxed-truth", dir + "/HG1_hap1.relaxed.csv"}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(exited, check.Equals, 1)
}
