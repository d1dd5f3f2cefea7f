// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/centrolign/hapcount/nselect"
	"gopkg.in/yaml.v3"
)

// selectionFlags holds the selection parameters given on the command
// line, and optionally a YAML file providing defaults for them.
type selectionFlags struct {
	cfg        nselect.Config
	policy     string
	configFile string
}

// paramsFile is the layout of the -config file, e.g.
//
//	t1: 0.9
//	n_max: 12
//	merge_policy: mean
type paramsFile struct {
	nselect.Config `yaml:",inline"`
	MergePolicy    string `yaml:"merge_policy"`
}

func (sf *selectionFlags) Flags(flags *flag.FlagSet) {
	def := nselect.DefaultConfig()
	flags.StringVar(&sf.configFile, "config", "", "read selection parameters from YAML `file` (flags given explicitly take precedence)")
	flags.Float64Var(&sf.cfg.T1, "t1", def.T1, "relative gain `threshold` considered close enough to the best achievable")
	flags.Float64Var(&sf.cfg.T2, "t2", def.T2, "further gain below which an n is considered a plateau")
	flags.Float64Var(&sf.cfg.MinGap, "min-gap", def.MinGap, "ceiling-floor identity gap below which a sample is hopeless")
	flags.Float64Var(&sf.cfg.TieEpsilon, "tie-epsilon", def.TieEpsilon, "gain window in which threshold-crossing candidates are tied")
	flags.IntVar(&sf.cfg.NMax, "n-max", def.NMax, "largest `n` to consider (0 = largest n in input)")
	flags.Float64Var(&sf.cfg.MaxPoorFraction, "max-poor-fraction", def.MaxPoorFraction, "skip n values with more than this fraction of poorly aligned reads (0 = never)")
	flags.StringVar(&sf.policy, "merge-policy", "max", "diploid merge `policy` (max, mean, or min)")
}

// Resolve returns the effective parameters: defaults, overridden by
// the -config file if any, overridden by flags that were set
// explicitly. Call after flags.Parse.
func (sf *selectionFlags) Resolve(flags *flag.FlagSet) (nselect.Config, nselect.MergePolicy, error) {
	pf := paramsFile{Config: nselect.DefaultConfig(), MergePolicy: "max"}
	if sf.configFile != "" {
		f, err := open(sf.configFile)
		if err != nil {
			return nselect.Config{}, nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
			return nselect.Config{}, nil, fmt.Errorf("%s: %w", sf.configFile, err)
		}
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t1":
			pf.T1 = sf.cfg.T1
		case "t2":
			pf.T2 = sf.cfg.T2
		case "min-gap":
			pf.MinGap = sf.cfg.MinGap
		case "tie-epsilon":
			pf.TieEpsilon = sf.cfg.TieEpsilon
		case "n-max":
			pf.NMax = sf.cfg.NMax
		case "max-poor-fraction":
			pf.MaxPoorFraction = sf.cfg.MaxPoorFraction
		case "merge-policy":
			pf.MergePolicy = sf.policy
		}
	})
	if err := pf.Config.Validate(); err != nil {
		return nselect.Config{}, nil, err
	}
	policy, err := nselect.PolicyByName(pf.MergePolicy)
	if err != nil {
		return nselect.Config{}, nil, err
	}
	return pf.Config, policy, nil
}

// Args returns command line arguments that reproduce cfg and policy
// without needing the config file.
func (sf *selectionFlags) Args(cfg nselect.Config, policy nselect.MergePolicy) []string {
	return []string{
		fmt.Sprintf("-t1=%v", cfg.T1),
		fmt.Sprintf("-t2=%v", cfg.T2),
		fmt.Sprintf("-min-gap=%v", cfg.MinGap),
		fmt.Sprintf("-tie-epsilon=%v", cfg.TieEpsilon),
		fmt.Sprintf("-n-max=%d", cfg.NMax),
		fmt.Sprintf("-max-poor-fraction=%v", cfg.MaxPoorFraction),
		"-merge-policy=" + policy.Name(),
	}
}
