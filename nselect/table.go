// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"math"
)

// IdentitySummary summarizes the per-read alignment identity
// distribution for one sampled graph. Only Mean is used for
// selection; the other fields are zero when unknown.
type IdentitySummary struct {
	Mean   float64
	Median float64
	Q10    float64
	Q90    float64
	StdErr float64
	// Fraction of mapped reads whose identity is below the
	// "poorly aligned" threshold used when summarizing.
	PoorFraction float64
	Reads        int
}

// NMetric holds the statistics collected after aligning a sample's
// reads to a graph built from N sampled haplotypes.
type NMetric struct {
	N              int
	Identity       IdentitySummary
	MappedFraction float64
	NodeUsage      int64
}

// Baseline is the quality floor (generic reference) and ceiling (own
// haplotype) for one sample. NaN means not measured.
type Baseline struct {
	Floor   float64
	Ceiling float64
}

// MissingBaseline returns a Baseline with neither value measured.
func MissingBaseline() Baseline {
	return Baseline{Floor: math.NaN(), Ceiling: math.NaN()}
}

// MetricsTable is a validated, read-only view of one sample's
// statistics. Build it with NewMetricsTable.
type MetricsTable struct {
	sample   string
	metrics  []NMetric
	baseline Baseline
}

// NewMetricsTable validates metrics and baseline and returns a table
// that owns a private copy of them.
func NewMetricsTable(sample string, metrics []NMetric, baseline Baseline) (*MetricsTable, error) {
	if len(metrics) < 2 {
		return nil, malformed(sample, "need at least 2 distinct n values, got %d", len(metrics))
	}
	for i, m := range metrics {
		if m.N < 1 {
			return nil, malformed(sample, "invalid n=%d", m.N)
		}
		if i > 0 && m.N <= metrics[i-1].N {
			return nil, malformed(sample, "n values not strictly increasing (%d after %d)", m.N, metrics[i-1].N)
		}
		for _, v := range []struct {
			name string
			val  float64
		}{
			{"mean identity", m.Identity.Mean},
			{"median identity", m.Identity.Median},
			{"q10 identity", m.Identity.Q10},
			{"q90 identity", m.Identity.Q90},
			{"poor fraction", m.Identity.PoorFraction},
			{"mapped fraction", m.MappedFraction},
		} {
			if !unitInterval(v.val) {
				return nil, malformed(sample, "n=%d: %s %v outside [0,1]", m.N, v.name, v.val)
			}
		}
		if m.Identity.StdErr < 0 || math.IsNaN(m.Identity.StdErr) {
			return nil, malformed(sample, "n=%d: invalid identity stderr %v", m.N, m.Identity.StdErr)
		}
		if m.Identity.Reads < 0 {
			return nil, malformed(sample, "n=%d: negative read count %d", m.N, m.Identity.Reads)
		}
		if m.NodeUsage < 0 {
			return nil, malformed(sample, "n=%d: negative node usage %d", m.N, m.NodeUsage)
		}
	}
	if !math.IsNaN(baseline.Floor) && !unitInterval(baseline.Floor) {
		return nil, malformed(sample, "floor identity %v outside [0,1]", baseline.Floor)
	}
	if !math.IsNaN(baseline.Ceiling) && !unitInterval(baseline.Ceiling) {
		return nil, malformed(sample, "ceiling identity %v outside [0,1]", baseline.Ceiling)
	}
	return &MetricsTable{
		sample:   sample,
		metrics:  append([]NMetric(nil), metrics...),
		baseline: baseline,
	}, nil
}

func unitInterval(x float64) bool {
	return x >= 0 && x <= 1
}

func (t *MetricsTable) Sample() string { return t.sample }

func (t *MetricsTable) Baseline() Baseline { return t.baseline }

// Len returns the number of n values in the table.
func (t *MetricsTable) Len() int { return len(t.metrics) }

// At returns the i'th record in increasing n order.
func (t *MetricsTable) At(i int) NMetric { return t.metrics[i] }

// Metrics returns a copy of all records in increasing n order.
func (t *MetricsTable) Metrics() []NMetric {
	return append([]NMetric(nil), t.metrics...)
}

// Lookup returns the record for n, if present.
func (t *MetricsTable) Lookup(n int) (NMetric, bool) {
	lo, hi := 0, len(t.metrics)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.metrics[mid].N < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(t.metrics) && t.metrics[lo].N == n {
		return t.metrics[lo], true
	}
	return NMetric{}, false
}

// NValues returns the n values present, in increasing order.
func (t *MetricsTable) NValues() []int {
	ns := make([]int, len(t.metrics))
	for i, m := range t.metrics {
		ns[i] = m.N
	}
	return ns
}

func (t *MetricsTable) MaxN() int { return t.metrics[len(t.metrics)-1].N }
