// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"fmt"
	"sort"
	"strings"
)

// MergePolicy combines the haplotype counts chosen for the two
// haplotypes of a diploid individual. Hopeless haplotypes are handled
// before a policy is consulted, so Merge only sees real counts.
type MergePolicy interface {
	Name() string
	Merge(n1, n2 int) int
}

// MaxPolicy provisions for the more demanding haplotype, since one
// sampled graph must serve reads from both.
type MaxPolicy struct{}

func (MaxPolicy) Name() string { return "max" }

func (MaxPolicy) Merge(n1, n2 int) int {
	if n1 > n2 {
		return n1
	}
	return n2
}

// MeanPolicy uses the average of the two counts, rounded up.
type MeanPolicy struct{}

func (MeanPolicy) Name() string { return "mean" }

func (MeanPolicy) Merge(n1, n2 int) int { return (n1 + n2 + 1) / 2 }

// MinPolicy uses the smaller count. It under-provisions one
// haplotype and exists for comparison runs.
type MinPolicy struct{}

func (MinPolicy) Name() string { return "min" }

func (MinPolicy) Merge(n1, n2 int) int {
	if n1 < n2 {
		return n1
	}
	return n2
}

var mergePolicies = map[string]MergePolicy{
	"max":  MaxPolicy{},
	"mean": MeanPolicy{},
	"min":  MinPolicy{},
}

// PolicyByName returns the named merge policy.
func PolicyByName(name string) (MergePolicy, error) {
	if p, ok := mergePolicies[name]; ok {
		return p, nil
	}
	var names []string
	for k := range mergePolicies {
		names = append(names, k)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown merge policy %q (choose from %s)", name, strings.Join(names, ", "))
}

// SelectDiploid runs Select on each haplotype's table and merges the
// two decisions. The individual is hopeless only if both haplotypes
// are. A nil policy means MaxPolicy.
func SelectDiploid(individual string, hap1, hap2 *MetricsTable, cfg Config, policy MergePolicy) (PloidyResult, error) {
	if policy == nil {
		policy = MaxPolicy{}
	}
	r1, err := Select(hap1, cfg)
	if err != nil {
		return PloidyResult{}, err
	}
	r2, err := Select(hap2, cfg)
	if err != nil {
		return PloidyResult{}, err
	}
	return MergeResults(individual, r1, r2, policy), nil
}

// MergeResults combines two haploid results with policy.
func MergeResults(individual string, r1, r2 Result, policy MergePolicy) PloidyResult {
	ret := PloidyResult{Sample: individual, Hap1: r1, Hap2: r2, Policy: policy.Name()}
	n1, ok1 := r1.NStar.Value()
	n2, ok2 := r2.NStar.Value()
	switch {
	case ok1 && ok2:
		ret.NStar = Count(policy.Merge(n1, n2))
	case ok1:
		ret.NStar = Count(n1)
	case ok2:
		ret.NStar = Count(n2)
	default:
		ret.NStar = Hopeless()
	}
	return ret
}
