// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"math"
)

// Tolerance for floating point noise in identity and gain
// comparisons, so that a value exactly at a configured limit is
// treated the same regardless of how it was rounded.
const epsilon = 1e-9

// ResolveBaseline returns the floor and ceiling identities for t.
// Values are used as given; they come from single leave-one-out and
// generic-reference runs, not from noisy distributions.
func ResolveBaseline(t *MetricsTable) (floor, ceiling float64, err error) {
	b := t.Baseline()
	if math.IsNaN(b.Ceiling) {
		return 0, 0, &SampleError{Sample: t.Sample(), Err: ErrMissingBaseline, Detail: "no ceiling (own haplotype) identity"}
	}
	if math.IsNaN(b.Floor) {
		return 0, 0, &SampleError{Sample: t.Sample(), Err: ErrMissingBaseline, Detail: "no floor (generic reference) identity"}
	}
	if b.Floor > b.Ceiling+epsilon {
		return 0, 0, malformed(t.Sample(), "floor identity %v exceeds ceiling identity %v", b.Floor, b.Ceiling)
	}
	return b.Floor, b.Ceiling, nil
}

// IsHopeless reports whether even perfect personalization barely
// beats the generic reference.
func IsHopeless(floor, ceiling, minGap float64) bool {
	return ceiling-floor < minGap-epsilon
}
