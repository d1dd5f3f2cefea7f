// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/centrolign/hapcount/nselect"
)

// sampleInput is everything read for one haplotype-level sample.
// If err is non-nil the sample's rows could not be parsed and it
// must be reported as failed.
type sampleInput struct {
	sample   string
	metrics  []nselect.NMetric
	baseline nselect.Baseline
	err      error
}

// table validates the input and returns the sample's MetricsTable.
func (si *sampleInput) table() (*nselect.MetricsTable, error) {
	if si.err != nil {
		return nil, si.err
	}
	return nselect.NewMetricsTable(si.sample, si.metrics, si.baseline)
}

var metricsColumns = []string{
	"sample", "n",
	"mean_identity", "median_identity", "q10_identity", "q90_identity", "stderr_identity",
	"poor_fraction", "reads", "mapped_fraction", "node_usage",
}

// readMetrics reads a metrics TSV. Samples are returned in order of
// first appearance; rows are kept in file order so that out-of-order
// n values are caught when the table is built.
func readMetrics(name string, r io.Reader) ([]*sampleInput, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, err
	}
	var cols [5]int
	for i, names := range [][]string{
		{"sample", "#sample"},
		{"n"},
		{"mean_identity", "identity"},
		{"mapped_fraction"},
		{"node_usage"},
	} {
		if cols[i], err = tr.require(names...); err != nil {
			return nil, err
		}
	}
	colSample, colN, colMean, colMapped, colNodes := cols[0], cols[1], cols[2], cols[3], cols[4]
	colMedian := tr.column("median_identity")
	colQ10 := tr.column("q10_identity")
	colQ90 := tr.column("q90_identity")
	colStdErr := tr.column("stderr_identity")
	colPoor := tr.column("poor_fraction")
	colReads := tr.column("reads")

	var samples []*sampleInput
	bySample := map[string]*sampleInput{}
	for tr.Next() {
		sample := tr.Field(colSample)
		if sample == "" {
			return nil, tr.errorf("empty sample ID")
		}
		si := bySample[sample]
		if si == nil {
			si = &sampleInput{sample: sample, baseline: nselect.MissingBaseline()}
			bySample[sample] = si
			samples = append(samples, si)
		}
		if si.err != nil {
			continue
		}
		m, err := parseMetricRow(tr, colN, colMean, colMedian, colQ10, colQ90, colStdErr, colPoor, colReads, colMapped, colNodes)
		if err != nil {
			si.err = &nselect.SampleError{Sample: sample, Err: nselect.ErrMalformedInput, Detail: err.Error()}
			continue
		}
		si.metrics = append(si.metrics, m)
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func parseMetricRow(tr *tsvReader, colN, colMean, colMedian, colQ10, colQ90, colStdErr, colPoor, colReads, colMapped, colNodes int) (nselect.NMetric, error) {
	var m nselect.NMetric
	n, err := tr.RequiredInt(colN, "n")
	if err != nil {
		return m, err
	}
	m.N = int(n)
	// mean identity and mapped fraction are required; NaN here is
	// rejected by NewMetricsTable
	if m.Identity.Mean, err = tr.Float(colMean); err != nil {
		return m, err
	}
	if m.MappedFraction, err = tr.Float(colMapped); err != nil {
		return m, err
	}
	for _, opt := range []struct {
		col int
		dst *float64
	}{
		{colMedian, &m.Identity.Median},
		{colQ10, &m.Identity.Q10},
		{colQ90, &m.Identity.Q90},
		{colStdErr, &m.Identity.StdErr},
		{colPoor, &m.Identity.PoorFraction},
	} {
		if *opt.dst, err = tr.OptionalFloat(opt.col); err != nil {
			return m, err
		}
	}
	reads, err := tr.Int(colReads)
	if err != nil {
		return m, err
	}
	m.Identity.Reads = int(reads)
	// a missing node count would win every tie-break
	if m.NodeUsage, err = tr.RequiredInt(colNodes, "node_usage"); err != nil {
		return m, err
	}
	return m, nil
}

// readBaselines reads a baselines TSV into a map keyed by sample.
func readBaselines(name string, r io.Reader) (map[string]nselect.Baseline, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, err
	}
	colSample, err := tr.require("sample", "#sample")
	if err != nil {
		return nil, err
	}
	colFloor, err := tr.require("floor_identity", "floor")
	if err != nil {
		return nil, err
	}
	colCeiling, err := tr.require("ceiling_identity", "ceiling")
	if err != nil {
		return nil, err
	}
	baselines := map[string]nselect.Baseline{}
	for tr.Next() {
		sample := tr.Field(colSample)
		if _, dup := baselines[sample]; dup {
			return nil, tr.errorf("duplicate baseline for sample %q", sample)
		}
		var b nselect.Baseline
		if b.Floor, err = tr.Float(colFloor); err != nil {
			return nil, err
		}
		if b.Ceiling, err = tr.Float(colCeiling); err != nil {
			return nil, err
		}
		baselines[sample] = b
	}
	return baselines, tr.Err()
}

// loadSamples reads the metrics and baselines files and attaches
// each sample's baseline. Samples with no baseline row keep a missing
// baseline, which fails selection for that sample only.
func loadSamples(metricsFile, baselinesFile string) ([]*sampleInput, error) {
	f, err := zopen(metricsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := readMetrics(metricsFile, f)
	if err != nil {
		return nil, err
	}
	bf, err := zopen(baselinesFile)
	if err != nil {
		return nil, err
	}
	defer bf.Close()
	baselines, err := readBaselines(baselinesFile, bf)
	if err != nil {
		return nil, err
	}
	for _, si := range samples {
		if b, ok := baselines[si.sample]; ok {
			si.baseline = b
		}
	}
	return samples, nil
}

func writeMetrics(w io.Writer, samples []*sampleInput) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintln(bufw, strings.Join(metricsColumns, "\t"))
	for _, si := range samples {
		for _, m := range si.metrics {
			fmt.Fprintf(bufw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
				si.sample, m.N,
				formatFloat(m.Identity.Mean),
				formatFloat(m.Identity.Median),
				formatFloat(m.Identity.Q10),
				formatFloat(m.Identity.Q90),
				formatFloat(m.Identity.StdErr),
				formatFloat(m.Identity.PoorFraction),
				m.Identity.Reads,
				formatFloat(m.MappedFraction),
				m.NodeUsage)
		}
	}
	return bufw.Flush()
}

func writeBaselines(w io.Writer, samples []*sampleInput) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "sample\tfloor_identity\tceiling_identity\n")
	for _, si := range samples {
		fmt.Fprintf(bufw, "%s\t%s\t%s\n", si.sample, formatFloat(si.baseline.Floor), formatFloat(si.baseline.Ceiling))
	}
	return bufw.Flush()
}
