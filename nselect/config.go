// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nselect

import (
	"fmt"
)

// Config holds the selection parameters. The zero value is not
// useful; start from DefaultConfig.
type Config struct {
	// Relative gain at or above which n is "close enough to the
	// best achievable".
	T1 float64 `yaml:"t1"`
	// Maximum further gain that still counts as a plateau.
	T2 float64 `yaml:"t2"`
	// Ceiling-floor gap below which a sample is hopeless.
	MinGap float64 `yaml:"min_gap"`
	// Width of the window, below the best candidate's gain, in which
	// threshold-crossing candidates are considered tied.
	TieEpsilon float64 `yaml:"tie_epsilon"`
	// Largest n considered. 0 means the largest n in the table.
	NMax int `yaml:"n_max"`
	// If > 0, n values whose poor-read fraction exceeds this are
	// not eligible.
	MaxPoorFraction float64 `yaml:"max_poor_fraction"`
}

func DefaultConfig() Config {
	return Config{
		T1:         0.95,
		T2:         0.01,
		MinGap:     0.02,
		TieEpsilon: 0.005,
	}
}

func (cfg Config) Validate() error {
	switch {
	case !(cfg.T1 > 0 && cfg.T1 <= 1):
		return fmt.Errorf("invalid T1 %v: must be in (0,1]", cfg.T1)
	case !(cfg.T2 >= 0):
		return fmt.Errorf("invalid T2 %v: must be >= 0", cfg.T2)
	case !(cfg.MinGap >= 0):
		return fmt.Errorf("invalid min_gap %v: must be >= 0", cfg.MinGap)
	case !(cfg.TieEpsilon >= 0):
		return fmt.Errorf("invalid tie_epsilon %v: must be >= 0", cfg.TieEpsilon)
	case cfg.NMax < 0:
		return fmt.Errorf("invalid N_max %d: must be >= 0", cfg.NMax)
	case !(cfg.MaxPoorFraction >= 0 && cfg.MaxPoorFraction <= 1):
		return fmt.Errorf("invalid max_poor_fraction %v: must be in [0,1]", cfg.MaxPoorFraction)
	}
	return nil
}
