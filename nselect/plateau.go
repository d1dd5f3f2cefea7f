// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

// RelativeGain places identity on the floor..ceiling scale, clamped
// to [0,1]. The caller must ensure ceiling > floor.
func RelativeGain(identity, floor, ceiling float64) float64 {
	g := (identity - floor) / (ceiling - floor)
	if g < 0 {
		return 0
	} else if g > 1 {
		return 1
	}
	return g
}

// RelativeGains returns RelativeGain of each record's mean identity,
// in table order.
func (t *MetricsTable) RelativeGains(floor, ceiling float64) []float64 {
	gains := make([]float64, len(t.metrics))
	for i, m := range t.metrics {
		gains[i] = RelativeGain(m.Identity.Mean, floor, ceiling)
	}
	return gains
}

type gainPoint struct {
	n         int
	gain      float64
	nodeUsage int64
}

// Select decides n* for one haploid sample.
func Select(t *MetricsTable, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	floor, ceiling, err := ResolveBaseline(t)
	if err != nil {
		return Result{}, err
	}
	if ceiling <= floor || IsHopeless(floor, ceiling, cfg.MinGap) {
		return hopelessResult(t.Sample()), nil
	}
	points, err := eligiblePoints(t, cfg, floor, ceiling)
	if err != nil {
		return Result{}, err
	}
	if len(points) == 0 {
		// every n was too poorly aligned to count
		return hopelessResult(t.Sample()), nil
	}
	sel := plateauSelector{t1: cfg.T1, t2: cfg.T2, tieEpsilon: cfg.TieEpsilon}
	p, reason := sel.choose(points)
	return Result{
		Sample:       t.Sample(),
		NStar:        Count(p.n),
		RelativeGain: p.gain,
		Reason:       reason,
	}, nil
}

func hopelessResult(sample string) Result {
	return Result{Sample: sample, NStar: Hopeless(), Reason: HopelessSample}
}

func eligiblePoints(t *MetricsTable, cfg Config, floor, ceiling float64) ([]gainPoint, error) {
	var points []gainPoint
	inRange := 0
	for _, m := range t.metrics {
		if cfg.NMax > 0 && m.N > cfg.NMax {
			break
		}
		inRange++
		if cfg.MaxPoorFraction > 0 && m.Identity.PoorFraction > cfg.MaxPoorFraction {
			continue
		}
		points = append(points, gainPoint{
			n:         m.N,
			gain:      RelativeGain(m.Identity.Mean, floor, ceiling),
			nodeUsage: m.NodeUsage,
		})
	}
	if inRange == 0 {
		return nil, malformed(t.Sample(), "no n values <= N_max=%d (smallest is %d)", cfg.NMax, t.metrics[0].N)
	}
	return points, nil
}

type plateauSelector struct {
	t1         float64
	t2         float64
	tieEpsilon float64
}

// choose walks points in increasing n and returns the first point
// that crosses t1 (after tie-breaking) or starts a plateau. If
// neither happens, the last point is returned with NoCandidate.
func (sel plateauSelector) choose(points []gainPoint) (gainPoint, Reason) {
	for i, p := range points {
		if sel.crosses(p) {
			return sel.breakTie(p, points[i:]), ThresholdCrossed
		}
		if sel.isPlateau(p, points[i+1:]) {
			return p, PlateauDetected
		}
	}
	return points[len(points)-1], NoCandidate
}

func (sel plateauSelector) crosses(p gainPoint) bool {
	return p.gain >= sel.t1-epsilon
}

// isPlateau reports whether no later point improves on p by t2 or
// more. With no later points there is nothing to confirm the plateau.
func (sel plateauSelector) isPlateau(p gainPoint, later []gainPoint) bool {
	if len(later) == 0 {
		return false
	}
	for _, q := range later {
		if q.gain-p.gain >= sel.t2-epsilon {
			return false
		}
	}
	return true
}

// breakTie resolves ambiguity among threshold-crossing points. first
// is the smallest n with gain >= t1; rest starts with first. Points
// within tieEpsilon of the best crossing gain are tied, and if first
// is among them the one touching the fewest graph nodes wins
// (smaller n on equal node usage).
func (sel plateauSelector) breakTie(first gainPoint, rest []gainPoint) gainPoint {
	best := first.gain
	for _, q := range rest {
		if sel.crosses(q) && q.gain > best {
			best = q.gain
		}
	}
	if best-first.gain > sel.tieEpsilon+epsilon {
		return first
	}
	winner := first
	for _, q := range rest {
		if !sel.crosses(q) || best-q.gain > sel.tieEpsilon+epsilon {
			continue
		}
		if q.nodeUsage < winner.nodeUsage || (q.nodeUsage == winner.nodeUsage && q.n < winner.n) {
			winner = q
		}
	}
	return winner
}
