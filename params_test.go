// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"flag"
	"io"
	"os"

	"github.com/centrolign/hapcount/nselect"
	"gopkg.in/check.v1"
)

type paramsSuite struct{}

var _ = check.Suite(&paramsSuite{})

func (s *paramsSuite) resolve(c *check.C, args ...string) (nselect.Config, nselect.MergePolicy, error) {
	var sf selectionFlags
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	sf.Flags(flags)
	c.Assert(flags.Parse(args), check.IsNil)
	return sf.Resolve(flags)
}

func (s *paramsSuite) TestDefaults(c *check.C) {
	cfg, policy, err := s.resolve(c)
	c.Assert(err, check.IsNil)
	c.Check(cfg, check.Equals, nselect.DefaultConfig())
	c.Check(policy.Name(), check.Equals, "max")
}

func (s *paramsSuite) TestConfigFile(c *check.C) {
	fnm := c.MkDir() + "/params.yaml"
	err := os.WriteFile(fnm, []byte("t1: 0.9\nn_max: 12\nmerge_policy: mean\n"), 0644)
	c.Assert(err, check.IsNil)

	cfg, policy, err := s.resolve(c, "-config", fnm)
	c.Assert(err, check.IsNil)
	c.Check(cfg.T1, check.Equals, 0.9)
	c.Check(cfg.NMax, check.Equals, 12)
	c.Check(cfg.T2, check.Equals, nselect.DefaultConfig().T2)
	c.Check(policy.Name(), check.Equals, "mean")

	// explicit flags win over the file, even when set to the
	// default value
	cfg, policy, err = s.resolve(c, "-config", fnm, "-t1=0.95", "-merge-policy=min", "-t2=0.02")
	c.Assert(err, check.IsNil)
	c.Check(cfg.T1, check.Equals, 0.95)
	c.Check(cfg.T2, check.Equals, 0.02)
	c.Check(cfg.NMax, check.Equals, 12)
	c.Check(policy.Name(), check.Equals, "min")
}

func (s *paramsSuite) TestConfigFileErrors(c *check.C) {
	tmpdir := c.MkDir()
	for _, trial := range []struct {
		yaml  string
		match string
	}{
		{"t3: 0.9\n", `(?s).*field t3 not found.*`},
		{"t1: 2\n", `invalid T1 2: .*`},
		{"merge_policy: median\n", `unknown merge policy "median" \(choose from max, mean, min\)`},
		{"t1: [\n", `.*params.yaml: .*`},
	} {
		fnm := tmpdir + "/params.yaml"
		c.Assert(os.WriteFile(fnm, []byte(trial.yaml), 0644), check.IsNil)
		_, _, err := s.resolve(c, "-config", fnm)
		c.Check(err, check.ErrorMatches, trial.match, check.Commentf("%q", trial.yaml))
	}
	_, _, err := s.resolve(c, "-config", tmpdir+"/nonexistent.yaml")
	c.Check(err, check.NotNil)

	// an empty file means all defaults
	fnm := tmpdir + "/empty.yaml"
	c.Assert(os.WriteFile(fnm, nil, 0644), check.IsNil)
	cfg, _, err := s.resolve(c, "-config", fnm)
	c.Check(err, check.IsNil)
	c.Check(cfg, check.Equals, nselect.DefaultConfig())
}

func (s *paramsSuite) TestArgs(c *check.C) {
	cfg := nselect.DefaultConfig()
	cfg.NMax = 7
	var sf selectionFlags
	args := sf.Args(cfg, nselect.MinPolicy{})
	c.Check(args, check.DeepEquals, []string{"-t1=0.95", "-t2=0.01", "-min-gap=0.02", "-tie-epsilon=0.005", "-n-max=7", "-max-poor-fraction=0", "-merge-policy=min"})
	got, policy, err := s.resolve(c, args...)
	c.Assert(err, check.IsNil)
	c.Check(got, check.Equals, cfg)
	c.Check(policy.Name(), check.Equals, "min")
}
