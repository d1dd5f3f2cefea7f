// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"errors"
	"math"
	"math/rand"

	"gopkg.in/check.v1"
)

type selectSuite struct{}

var _ = check.Suite(&selectSuite{})

func mustTable(c *check.C, sample string, ns []int, identities []float64, floor, ceiling float64) *MetricsTable {
	t, err := NewMetricsTable(sample, metricsFor(ns, identities), Baseline{Floor: floor, Ceiling: ceiling})
	c.Assert(err, check.IsNil)
	return t
}

func seq(from, to int) []int {
	var ns []int
	for n := from; n <= to; n++ {
		ns = append(ns, n)
	}
	return ns
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func (s *selectSuite) TestRelativeGain(c *check.C) {
	c.Check(closeTo(RelativeGain(0.9, 0.8, 1.0), 0.5), check.Equals, true)
	c.Check(RelativeGain(0.7, 0.8, 1.0), check.Equals, 0.0)
	c.Check(RelativeGain(1.0, 0.8, 0.9), check.Equals, 1.0)
}

func (s *selectSuite) TestThresholdBoundary(c *check.C) {
	var ids []float64
	for n := 1; n <= 10; n++ {
		ids = append(ids, 0.80+0.02*float64(n))
	}
	t := mustTable(c, "s", seq(1, 10), ids, 0.80, 1.00)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(10))
	c.Check(res.Reason, check.Equals, ThresholdCrossed)
	c.Check(closeTo(res.RelativeGain, 1), check.Equals, true)
	c.Check(res.Sample, check.Equals, "s")
}

// The plateau rule compares every later n against the candidate, so
// a 0.05 rise from n=3 to n=4 rules out n=3 here.
func (s *selectSuite) TestPlateauLookAhead(c *check.C) {
	t := mustTable(c, "s", seq(1, 6), []float64{0.80, 0.90, 0.96, 0.97, 0.971, 0.972}, 0.80, 1.00)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(5))
	c.Check(res.Reason, check.Equals, PlateauDetected)
}

func (s *selectSuite) TestPlateauDetected(c *check.C) {
	t := mustTable(c, "s", seq(1, 6), []float64{0.80, 0.90, 0.96, 0.9605, 0.961, 0.9615}, 0.80, 1.00)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(3))
	c.Check(res.Reason, check.Equals, PlateauDetected)
	c.Check(closeTo(res.RelativeGain, 0.8), check.Equals, true)
}

// A flat step followed by a jump is noise, not a plateau.
func (s *selectSuite) TestTransientPlateauRejected(c *check.C) {
	t := mustTable(c, "s", seq(1, 5), []float64{0.80, 0.90, 0.901, 0.95, 0.951}, 0.80, 1.00)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(4))
	c.Check(res.Reason, check.Equals, PlateauDetected)
}

func (s *selectSuite) TestNoCandidate(c *check.C) {
	var ids []float64
	for n := 1; n <= 6; n++ {
		ids = append(ids, 0.80+0.015*float64(n))
	}
	t := mustTable(c, "s", seq(1, 6), ids, 0.80, 1.00)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(6))
	c.Check(res.Reason, check.Equals, NoCandidate)
	c.Check(closeTo(res.RelativeGain, 0.45), check.Equals, true)
}

func (s *selectSuite) TestHopeless(c *check.C) {
	cfg := DefaultConfig()
	for i := 0; i < 20; i++ {
		ns := seq(1, 2+rand.Intn(10))
		ids := make([]float64, len(ns))
		for j := range ids {
			ids[j] = rand.Float64()
		}
		t := mustTable(c, "s", ns, ids, 0.97, 0.975)
		res, err := Select(t, cfg)
		c.Assert(err, check.IsNil)
		c.Check(res.NStar.IsHopeless(), check.Equals, true)
		c.Check(res.Reason, check.Equals, HopelessSample)
		_, ok := res.NStar.Value()
		c.Check(ok, check.Equals, false)
	}

	// zero gap is hopeless even with min_gap disabled
	cfg.MinGap = 0
	t := mustTable(c, "s", seq(1, 3), []float64{0.9, 0.95, 0.97}, 0.97, 0.97)
	res, err := Select(t, cfg)
	c.Assert(err, check.IsNil)
	c.Check(res.NStar.IsHopeless(), check.Equals, true)
}

// Values that equal a configured limit on paper must be treated as
// equal even when floating point subtraction lands just short of it.
func (s *selectSuite) TestValuesAtLimits(c *check.C) {
	c.Check(IsHopeless(0.80, 0.82, 0.02), check.Equals, false)
	c.Check(IsHopeless(0.90, 0.92, 0.02), check.Equals, false)
	c.Check(IsHopeless(0.80, 0.819, 0.02), check.Equals, true)

	// gap is exactly min_gap, and 0.819 is exactly T1 of the way
	// from floor to ceiling
	t := mustTable(c, "s", seq(1, 2), []float64{0.80, 0.819}, 0.80, 0.82)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(2))
	c.Check(res.Reason, check.Equals, ThresholdCrossed)

	// a further gain of exactly T2 (0.06 -> 0.07) is not a plateau
	t = mustTable(c, "s", seq(1, 3), []float64{0.80, 0.812, 0.814}, 0.80, 1.00)
	res, err = Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(3))
	c.Check(res.Reason, check.Equals, NoCandidate)
}

func (s *selectSuite) TestTieBreakByNodeUsage(c *check.C) {
	ns := []int{1, 2, 3, 4, 6}
	ids := []float64{0.80, 0.85, 0.90, 0.992, 0.9925}
	for _, trial := range []struct {
		nodes4, nodes6 int64
		expect         int
	}{
		{1000, 1500, 4},
		{1500, 1000, 6},
		{1200, 1200, 4},
	} {
		ms := metricsFor(ns, ids)
		ms[3].NodeUsage = trial.nodes4
		ms[4].NodeUsage = trial.nodes6
		t, err := NewMetricsTable("s", ms, Baseline{Floor: 0.80, Ceiling: 1.00})
		c.Assert(err, check.IsNil)
		res, err := Select(t, DefaultConfig())
		c.Assert(err, check.IsNil)
		c.Check(res.NStar, check.Equals, Count(trial.expect), check.Commentf("%+v", trial))
		c.Check(res.Reason, check.Equals, ThresholdCrossed)
	}
}

// A later candidate that is clearly better than the first crossing
// does not make the first crossing ambiguous.
func (s *selectSuite) TestNoTieOutsideEpsilon(c *check.C) {
	ms := metricsFor([]int{1, 2, 3, 4, 6}, []float64{0.80, 0.85, 0.90, 0.992, 0.999})
	ms[3].NodeUsage = 5000
	ms[4].NodeUsage = 10
	t, err := NewMetricsTable("s", ms, Baseline{Floor: 0.80, Ceiling: 1.00})
	c.Assert(err, check.IsNil)
	res, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(4))
	c.Check(res.Reason, check.Equals, ThresholdCrossed)
}

func (s *selectSuite) TestNMax(c *check.C) {
	var ids []float64
	for n := 1; n <= 10; n++ {
		ids = append(ids, 0.80+0.02*float64(n))
	}
	t := mustTable(c, "s", seq(1, 10), ids, 0.80, 1.00)
	cfg := DefaultConfig()
	cfg.NMax = 7
	res, err := Select(t, cfg)
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(7))
	c.Check(res.Reason, check.Equals, NoCandidate)

	t = mustTable(c, "s", []int{3, 4}, []float64{0.9, 0.95}, 0.80, 1.00)
	cfg.NMax = 2
	_, err = Select(t, cfg)
	c.Check(isMalformed(err), check.Equals, true)
}

func (s *selectSuite) TestMaxPoorFraction(c *check.C) {
	ms := metricsFor(seq(1, 4), []float64{0.90, 0.99, 0.992, 0.993})
	ms[0].Identity.PoorFraction = 0.9
	ms[1].Identity.PoorFraction = 0.8
	ms[2].Identity.PoorFraction = 0.1
	ms[3].Identity.PoorFraction = 0.1
	t, err := NewMetricsTable("s", ms, Baseline{Floor: 0.80, Ceiling: 1.00})
	c.Assert(err, check.IsNil)

	cfg := DefaultConfig()
	res, err := Select(t, cfg)
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(2))

	cfg.MaxPoorFraction = 0.5
	res, err = Select(t, cfg)
	c.Assert(err, check.IsNil)
	c.Check(res.NStar, check.Equals, Count(3))
	c.Check(res.Reason, check.Equals, ThresholdCrossed)

	cfg.MaxPoorFraction = 0.05
	res, err = Select(t, cfg)
	c.Assert(err, check.IsNil)
	c.Check(res.NStar.IsHopeless(), check.Equals, true)
	c.Check(res.Reason, check.Equals, HopelessSample)
}

func (s *selectSuite) TestMissingBaseline(c *check.C) {
	t := mustTable(c, "HG03", seq(1, 3), []float64{0.9, 0.95, 0.97}, 0.80, math.NaN())
	_, err := Select(t, DefaultConfig())
	c.Check(errors.Is(err, ErrMissingBaseline), check.Equals, true)
	var serr *SampleError
	c.Assert(errors.As(err, &serr), check.Equals, true)
	c.Check(serr.Sample, check.Equals, "HG03")
}

func (s *selectSuite) TestInvalidConfig(c *check.C) {
	t := mustTable(c, "s", seq(1, 3), []float64{0.9, 0.95, 0.97}, 0.80, 1.00)
	for _, mod := range []func(*Config){
		func(cfg *Config) { cfg.T1 = 0 },
		func(cfg *Config) { cfg.T1 = 1.5 },
		func(cfg *Config) { cfg.T2 = -1 },
		func(cfg *Config) { cfg.MinGap = math.NaN() },
		func(cfg *Config) { cfg.TieEpsilon = -0.1 },
		func(cfg *Config) { cfg.NMax = -3 },
		func(cfg *Config) { cfg.MaxPoorFraction = 2 },
	} {
		cfg := DefaultConfig()
		mod(&cfg)
		_, err := Select(t, cfg)
		c.Check(err, check.NotNil)
	}
}

func (s *selectSuite) TestIdempotent(c *check.C) {
	t := mustTable(c, "s", seq(1, 6), []float64{0.80, 0.90, 0.96, 0.97, 0.971, 0.972}, 0.80, 1.00)
	r1, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	r2, err := Select(t, DefaultConfig())
	c.Assert(err, check.IsNil)
	c.Check(r1, check.DeepEquals, r2)
}
