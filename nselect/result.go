// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NStar is either a haplotype count or the hopeless marker. The zero
// value is not a valid decision.
type NStar struct {
	n        int
	hopeless bool
}

const hopelessText = "HOPELESS"

// Count returns an NStar holding haplotype count n.
func Count(n int) NStar { return NStar{n: n} }

// Hopeless returns the NStar reported when no n helps.
func Hopeless() NStar { return NStar{hopeless: true} }

func (ns NStar) IsHopeless() bool { return ns.hopeless }

// Value returns the haplotype count, and false if ns is hopeless or
// unset.
func (ns NStar) Value() (int, bool) {
	return ns.n, !ns.hopeless && ns.n > 0
}

func (ns NStar) String() string {
	switch {
	case ns.hopeless:
		return hopelessText
	case ns.n == 0:
		return "unset"
	default:
		return strconv.Itoa(ns.n)
	}
}

func (ns NStar) MarshalJSON() ([]byte, error) {
	if ns.hopeless {
		return json.Marshal(hopelessText)
	}
	return json.Marshal(ns.n)
}

func (ns *NStar) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != hopelessText {
			return fmt.Errorf("invalid n_star %q", s)
		}
		*ns = Hopeless()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid n_star %s", data)
	}
	*ns = Count(n)
	return nil
}

type Reason int

const (
	ThresholdCrossed Reason = iota + 1
	PlateauDetected
	HopelessSample
	NoCandidate
)

var reasonText = map[Reason]string{
	ThresholdCrossed: "THRESHOLD_CROSSED",
	PlateauDetected:  "PLATEAU_DETECTED",
	HopelessSample:   "HOPELESS",
	NoCandidate:      "NO_CANDIDATE",
}

func (r Reason) String() string {
	if s, ok := reasonText[r]; ok {
		return s
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

func (r Reason) MarshalText() ([]byte, error) {
	if _, ok := reasonText[r]; !ok {
		return nil, fmt.Errorf("invalid reason %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(text []byte) error {
	for k, v := range reasonText {
		if v == string(text) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("invalid reason %q", text)
}

// Result is the decision for one haploid sample.
type Result struct {
	Sample       string  `json:"sample"`
	NStar        NStar   `json:"n_star"`
	RelativeGain float64 `json:"relative_gain"`
	Reason       Reason  `json:"reason"`
}

// PloidyResult is the decision for one diploid individual.
type PloidyResult struct {
	Sample string `json:"sample"`
	Hap1   Result `json:"hap1"`
	Hap2   Result `json:"hap2"`
	NStar  NStar  `json:"n_star"`
	Policy string `json:"policy"`
}
