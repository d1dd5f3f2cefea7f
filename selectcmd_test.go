// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/centrolign/hapcount/nselect"
	"gopkg.in/check.v1"
)

type selectSuite struct{}

var _ = check.Suite(&selectSuite{})

func decodeLines(c *check.C, data []byte) []map[string]interface{} {
	var recs []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		c.Assert(json.Unmarshal([]byte(line), &rec), check.IsNil, check.Commentf("%q", line))
		recs = append(recs, rec)
	}
	return recs
}

func (s *selectSuite) TestHaploid(c *check.C) {
	metricsFile, baselinesFile := writeTestInputs(c, testMetricsTSV, testBaselinesTSV)
	var stdout, stderr bytes.Buffer
	exited := (&selectcmd{}).RunCommand("hapcount select", []string{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*selection failed for some samples.*`)
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	c.Assert(lines, check.HasLen, 3)

	var res nselect.Result
	c.Assert(json.Unmarshal([]byte(lines[0]), &res), check.IsNil)
	c.Check(res.Sample, check.Equals, "HG1_hap1")
	c.Check(res.NStar, check.Equals, nselect.Count(3))
	c.Check(res.Reason, check.Equals, nselect.ThresholdCrossed)
	c.Check(math.Abs(res.RelativeGain-0.96) < 1e-9, check.Equals, true)

	res = nselect.Result{}
	c.Assert(json.Unmarshal([]byte(lines[1]), &res), check.IsNil)
	c.Check(res.Sample, check.Equals, "HG1_hap2")
	c.Check(res.NStar, check.Equals, nselect.Count(2))
	c.Check(res.Reason, check.Equals, nselect.PlateauDetected)

	var failed failedRecord
	c.Assert(json.Unmarshal([]byte(lines[2]), &failed), check.IsNil)
	c.Check(failed.Sample, check.Equals, "HG2_hap1")
	c.Check(failed.Error, check.Matches, `sample "HG2_hap1": missing baseline.*`)
}

func (s *selectSuite) TestHaploidOutputFile(c *check.C) {
	metricsFile, baselinesFile := writeTestInputs(c, testMetricsTSV, testBaselinesTSV+"HG2_hap1\t0.98\t0.99\n")
	outfile := c.MkDir() + "/out.jsonl"
	exited := (&selectcmd{}).RunCommand("hapcount select", []string{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile, "-o", outfile}, nil, &bytes.Buffer{}, os.Stderr)
	c.Check(exited, check.Equals, 0)
	data, err := os.ReadFile(outfile)
	c.Assert(err, check.IsNil)
	recs := decodeLines(c, data)
	c.Assert(recs, check.HasLen, 3)
	c.Check(recs[2]["sample"], check.Equals, "HG2_hap1")
	c.Check(recs[2]["n_star"], check.Equals, "HOPELESS")
	c.Check(recs[2]["reason"], check.Equals, "HOPELESS")
}

func (s *selectSuite) TestDiploid(c *check.C) {
	metricsFile, baselinesFile := writeTestInputs(c, testMetricsTSV, testBaselinesTSV)
	for _, trial := range []struct {
		args  []string
		nstar float64
		hap1  float64
		hap2  float64
	}{
		{nil, 3, 3, 2},
		{[]string{"-merge-policy=min"}, 2, 3, 2},
		{[]string{"-merge-policy=mean"}, 3, 3, 2},
		// n=3 is out of range for both haplotypes
		{[]string{"-n-max=2"}, 2, 2, 2},
	} {
		c.Logf("trial %v", trial.args)
		var stdout bytes.Buffer
		args := append([]string{"-local=true", "-diploid", "-metrics", metricsFile, "-baselines", baselinesFile}, trial.args...)
		exited := (&selectcmd{}).RunCommand("hapcount select", args, nil, &stdout, os.Stderr)
		// HG2 has only one haplotype
		c.Check(exited, check.Equals, 1)
		recs := decodeLines(c, stdout.Bytes())
		c.Assert(recs, check.HasLen, 2)
		c.Check(recs[0]["sample"], check.Equals, "HG1")
		c.Check(recs[0]["n_star"], check.Equals, trial.nstar)
		c.Check(recs[0]["hap1"].(map[string]interface{})["n_star"], check.Equals, trial.hap1)
		c.Check(recs[0]["hap2"].(map[string]interface{})["n_star"], check.Equals, trial.hap2)
		c.Check(recs[1]["sample"], check.Equals, "HG2")
		c.Check(recs[1]["error"], check.Matches, `individual "HG2" is missing a haplotype`)
	}
}

func (s *selectSuite) TestPairHaplotypes(c *check.C) {
	samples := []*sampleInput{
		{sample: "A_pat"},
		{sample: "B.1"},
		{sample: "A_mat"},
		{sample: "noSuffix"},
		{sample: "B_hap1"},
		{sample: "B.2"},
	}
	pairs, failures := pairHaplotypes(samples)
	c.Assert(pairs, check.HasLen, 2)
	c.Check(pairs[0].individual, check.Equals, "A")
	c.Check(pairs[0].haps[0].sample, check.Equals, "A_pat")
	c.Check(pairs[0].haps[1].sample, check.Equals, "A_mat")
	c.Check(pairs[1].individual, check.Equals, "B")
	c.Check(pairs[1].haps[0].sample, check.Equals, "B.1")
	c.Check(pairs[1].haps[1].sample, check.Equals, "B.2")
	c.Assert(failures, check.HasLen, 2)
	c.Check(failures[0].Sample, check.Equals, "noSuffix")
	c.Check(failures[1].Sample, check.Equals, "B_hap1")
	c.Check(failures[1].Error, check.Matches, `haplotype 1 of "B" already provided by sample "B.1"`)
}

func (s *selectSuite) TestUsageErrors(c *check.C) {
	metricsFile, baselinesFile := writeTestInputs(c, testMetricsTSV, testBaselinesTSV)
	for _, args := range [][]string{
		{"-local=true"},
		{"-local=true", "-metrics", metricsFile},
		{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile, "extra"},
		{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile, "-t1=1.5"},
		{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile, "-merge-policy=median"},
		{"-local=true", "-metrics", metricsFile, "-baselines", baselinesFile, "-loglevel=loud"},
	} {
		var stderr bytes.Buffer
		exited := (&selectcmd{}).RunCommand("hapcount select", args, nil, &bytes.Buffer{}, &stderr)
		c.Check(exited, check.Equals, 2, check.Commentf("%v", args))
		c.Check(stderr.Len() > 0, check.Equals, true)
	}
	exited := (&selectcmd{}).RunCommand("hapcount select", []string{"-local=true", "-metrics", "/nonexistent", "-baselines", baselinesFile}, nil, &bytes.Buffer{}, &bytes.Buffer{})
	c.Check(exited, check.Equals, 1)
}
