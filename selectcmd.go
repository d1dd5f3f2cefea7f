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
	"net/http"
	_ "net/http/pprof"
	"runtime"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/centrolign/hapcount/nselect"
	log "github.com/sirupsen/logrus"
)

type selectcmd struct {
	params selectionFlags
}

// failedRecord is written in place of a result for a sample whose
// decision could not be made.
type failedRecord struct {
	Sample string `json:"sample"`
	Error  string `json:"error"`
}

var errSomeSamplesFailed = errors.New("selection failed for some samples")

func (cmd *selectcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", false, "run on local host (default: run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	metricsFile := flags.String("metrics", "", "per-sample, per-n metrics `tsv` file (see summarize)")
	baselinesFile := flags.String("baselines", "", "per-sample floor/ceiling `tsv` file")
	outputFilename := flags.String("o", "-", "output `file` (JSON lines)")
	diploid := flags.Bool("diploid", false, "pair hap1/hap2 (or pat/mat) samples and report one merged decision per individual")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of samples to evaluate concurrently")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	cmd.params.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *metricsFile == "" || *baselinesFile == "" {
		err = errors.New("must provide -metrics and -baselines")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	cfg, policy, err := cmd.params.Resolve(flags)
	if err != nil {
		return 2
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "hapcount select",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         2 << 30,
			VCPUs:       2,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(metricsFile, baselinesFile)
		if err != nil {
			return 1
		}
		runner.Args = append([]string{"select", "-local=true",
			"-loglevel=" + *loglevel,
			"-metrics=" + *metricsFile,
			"-baselines=" + *baselinesFile,
			fmt.Sprintf("-diploid=%v", *diploid),
			"-o=/mnt/output/selection.jsonl",
		}, cmd.params.Args(cfg, policy)...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/selection.jsonl")
		return 0
	}

	samples, err := loadSamples(*metricsFile, *baselinesFile)
	if err != nil {
		return 1
	}
	log.Infof("loaded %d samples from %s", len(samples), *metricsFile)

	var records []interface{}
	if *diploid {
		records = selectDiploid(samples, cfg, policy, *threads)
	} else {
		records = selectHaploid(samples, cfg, *threads)
	}

	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	enc := json.NewEncoder(bufw)
	failed := 0
	for _, rec := range records {
		if _, ok := rec.(failedRecord); ok {
			failed++
		}
		if err = enc.Encode(rec); err != nil {
			return 1
		}
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	log.Infof("wrote %d decisions, %d failed", len(records)-failed, failed)
	if failed > 0 {
		err = errSomeSamplesFailed
		return 1
	}
	return 0
}

func failure(sample string, err error) failedRecord {
	log.WithField("sample", sample).Warn(err)
	return failedRecord{Sample: sample, Error: err.Error()}
}

// selectHaploid decides each sample independently. The returned
// slice has one Result or failedRecord per sample, in input order.
func selectHaploid(samples []*sampleInput, cfg nselect.Config, threads int) []interface{} {
	records := make([]interface{}, len(samples))
	thr := throttle{Max: threads}
	for i, si := range samples {
		i, si := i, si
		thr.Go(func() error {
			records[i] = selectOne(si, cfg)
			return nil
		})
	}
	thr.Wait()
	return records
}

func selectOne(si *sampleInput, cfg nselect.Config) interface{} {
	t, err := si.table()
	if err != nil {
		return failure(si.sample, err)
	}
	res, err := nselect.Select(t, cfg)
	if err != nil {
		return failure(si.sample, err)
	}
	log.WithField("sample", si.sample).Debugf("n*=%s reason=%s gain=%.4f", res.NStar, res.Reason, res.RelativeGain)
	return res
}

type diploidInput struct {
	individual string
	haps       [2]*sampleInput
}

// pairHaplotypes groups haplotype-level samples by individual.
// Samples that cannot be paired are returned as failures.
func pairHaplotypes(samples []*sampleInput) ([]*diploidInput, []failedRecord) {
	var pairs []*diploidInput
	var failures []failedRecord
	byIndividual := map[string]*diploidInput{}
	for _, si := range samples {
		individual, hap, ok := nselect.SplitHaplotype(si.sample)
		if !ok {
			failures = append(failures, failure(si.sample, fmt.Errorf("cannot tell which haplotype sample %q is (expected _hap1/_hap2, _pat/_mat, or .1/.2 suffix)", si.sample)))
			continue
		}
		di := byIndividual[individual]
		if di == nil {
			di = &diploidInput{individual: individual}
			byIndividual[individual] = di
			pairs = append(pairs, di)
		}
		if prev := di.haps[hap-1]; prev != nil {
			failures = append(failures, failure(si.sample, fmt.Errorf("haplotype %d of %q already provided by sample %q", hap, individual, prev.sample)))
			continue
		}
		di.haps[hap-1] = si
	}
	complete := pairs[:0]
	for _, di := range pairs {
		if di.haps[0] == nil || di.haps[1] == nil {
			failures = append(failures, failure(di.individual, fmt.Errorf("individual %q is missing a haplotype", di.individual)))
			continue
		}
		complete = append(complete, di)
	}
	return complete, failures
}

func selectDiploid(samples []*sampleInput, cfg nselect.Config, policy nselect.MergePolicy, threads int) []interface{} {
	pairs, failures := pairHaplotypes(samples)
	records := make([]interface{}, len(pairs))
	thr := throttle{Max: threads}
	for i, di := range pairs {
		i, di := i, di
		thr.Go(func() error {
			records[i] = selectPair(di, cfg, policy)
			return nil
		})
	}
	thr.Wait()
	for _, f := range failures {
		records = append(records, f)
	}
	return records
}

func selectPair(di *diploidInput, cfg nselect.Config, policy nselect.MergePolicy) interface{} {
	t1, err := di.haps[0].table()
	if err != nil {
		return failure(di.individual, err)
	}
	t2, err := di.haps[1].table()
	if err != nil {
		return failure(di.individual, err)
	}
	res, err := nselect.SelectDiploid(di.individual, t1, t2, cfg, policy)
	if err != nil {
		return failure(di.individual, err)
	}
	log.WithField("sample", di.individual).Debugf("n*=%s (hap1 %s, hap2 %s)", res.NStar, res.Hap1.NStar, res.Hap2.NStar)
	return res
}
