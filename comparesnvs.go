// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// snvComparison names one call set and the truth sets to score it
// against.
type snvComparison struct {
	Sample       string `json:"sample,omitempty"`
	N            int    `json:"n,omitempty"`
	VCF          string `json:"vcf"`
	Truth        string `json:"truth"`
	RelaxedTruth string `json:"relaxed_truth"`
}

type snvComparisonResult struct {
	snvComparison
	snvStats
}

// readManifest reads a TSV with columns sample, n, vcf, truth,
// relaxed.
func readManifest(name string, r io.Reader) ([]snvComparison, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, err
	}
	var cols [5]int
	for i, col := range []string{"sample", "n", "vcf", "truth", "relaxed"} {
		if cols[i], err = tr.require(col); err != nil {
			return nil, err
		}
	}
	var comps []snvComparison
	for tr.Next() {
		n, err := tr.Int(cols[1])
		if err != nil {
			return nil, err
		}
		comps = append(comps, snvComparison{
			Sample:       tr.Field(cols[0]),
			N:            int(n),
			VCF:          tr.Field(cols[2]),
			Truth:        tr.Field(cols[3]),
			RelaxedTruth: tr.Field(cols[4]),
		})
	}
	return comps, tr.Err()
}

func (comp snvComparison) run() (snvStats, error) {
	load := func(fnm string, loader func(string, io.Reader) ([]variant, error)) ([]variant, error) {
		f, err := zopen(fnm)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return loader(fnm, f)
	}
	truth, err := load(comp.Truth, loadTruthCSV)
	if err != nil {
		return snvStats{}, err
	}
	relaxed, err := load(comp.RelaxedTruth, loadTruthCSV)
	if err != nil {
		return snvStats{}, err
	}
	calls, err := loadVCF(comp.VCF)
	if err != nil {
		return snvStats{}, err
	}
	log.WithFields(log.Fields{
		"sample":  comp.Sample,
		"truth":   len(truth),
		"relaxed": len(relaxed),
		"calls":   len(calls),
	}).Debug("loaded variants")
	return compareSNVs(calls, truth, relaxed), nil
}

type compareSNVsCmd struct{}

func (cmd *compareSNVsCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var single snvComparison
	flags.StringVar(&single.VCF, "vcf", "", "haploid `VCF` file of calls")
	flags.StringVar(&single.Truth, "truth", "", "truth set `csv` file")
	flags.StringVar(&single.RelaxedTruth, "relaxed-truth", "", "relaxed truth set `csv` file, used to classify false positives")
	manifestFile := flags.String("manifest", "", "`tsv` file listing many comparisons (columns sample, n, vcf, truth, relaxed)")
	outputFilename := flags.String("o", "-", "output `file` (JSON lines)")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of comparisons to run concurrently")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	var comps []snvComparison
	switch {
	case *manifestFile != "" && single.VCF != "":
		err = errors.New("cannot use both -manifest and -vcf")
		return 2
	case *manifestFile != "":
		var f io.ReadCloser
		f, err = zopen(*manifestFile)
		if err != nil {
			return 1
		}
		defer f.Close()
		comps, err = readManifest(*manifestFile, f)
		if err != nil {
			return 1
		}
	case single.VCF != "" && single.Truth != "" && single.RelaxedTruth != "":
		comps = []snvComparison{single}
	default:
		err = errors.New("must provide -manifest, or all of -vcf, -truth, and -relaxed-truth")
		return 2
	}

	results := make([]snvComparisonResult, len(comps))
	thr := throttle{Max: *threads}
	for i, comp := range comps {
		i, comp := i, comp
		thr.Go(func() error {
			st, err := comp.run()
			if err != nil {
				return err
			}
			results[i] = snvComparisonResult{comp, st}
			return nil
		})
	}
	if err = thr.Wait(); err != nil {
		return 1
	}

	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	enc := json.NewEncoder(bufw)
	for _, res := range results {
		log.WithField("sample", res.Sample).Infof("TP %d FP %d (in relaxed truth %d) FN %d (in SVs %d) filtered %d precision %.4f recall %.4f recall excluding SVs %.4f",
			res.TP, res.FP, res.FPInRelaxed, res.FN, res.FNInSV, res.FNFiltered, res.Precision, res.Recall, res.RecallExcludingSV)
		if err = enc.Encode(res); err != nil {
			return 1
		}
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	return 0
}
