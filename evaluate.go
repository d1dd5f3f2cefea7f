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
	"os"
	"path/filepath"
	"runtime"

	"github.com/centrolign/hapcount/nselect"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// evaluation describes how well the haplotypes sampled at a sample's
// chosen n match what is known about the sample.
type evaluation struct {
	Sample string         `json:"sample"`
	NStar  int            `json:"n_star"`
	Reason nselect.Reason `json:"reason"`
	// haplotypes selected by the sampler at n*, best first
	Sampled []string `json:"sampled"`
	// closest other haplotype in the distance matrix
	NearestNeighbor      string   `json:"nearest_neighbor,omitempty"`
	NearestDistance      *float64 `json:"nearest_distance,omitempty"`
	FirstSampledDistance *float64 `json:"first_sampled_distance,omitempty"`
	NearestSampled       bool     `json:"nearest_sampled"`
	// haplotypes within the neighbor distance, and how many of them
	// were sampled
	Neighbors        int      `json:"neighbors"`
	NeighborsSampled int      `json:"neighbors_sampled"`
	NeighborFraction *float64 `json:"neighbor_fraction,omitempty"`

	Cenhap *cenhapGuess `json:"cenhap,omitempty"`
	SNV    *snvStats    `json:"snv,omitempty"`
}

type evaluator struct {
	neighborDistance float64
	vcfDir           string
	truthDir         string
}

func (cmd *evaluator) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	resultsFile := flags.String("results", "", "selection results `file` (JSON lines from select)")
	logFile := flags.String("log", "", "haplotype sampling log `file`")
	distancesFile := flags.String("distances", "", "pairwise distance `csv` file (hap1,hap2,dist)")
	cenhapsFile := flags.String("cenhaps", "", "cenhap assignment `csv` file (optional)")
	flags.Float64Var(&cmd.neighborDistance, "neighbor-distance", 0.15, "maximum `distance` for a haplotype to count as a neighbor")
	flags.StringVar(&cmd.vcfDir, "vcf-dir", "", "`directory` of calls named <sample>.<n>haps.vcf (optional)")
	flags.StringVar(&cmd.truthDir, "truth-dir", "", "`directory` of truth sets named <sample>.csv and <sample>.relaxed.csv (optional)")
	outputFilename := flags.String("o", "-", "output `file` (JSON lines)")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of SNV comparisons to run concurrently")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *resultsFile == "" || *logFile == "" || *distancesFile == "" {
		err = errors.New("must provide -results, -log, and -distances")
		return 2
	} else if (cmd.vcfDir == "") != (cmd.truthDir == "") {
		err = errors.New("-vcf-dir and -truth-dir must be used together")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	results, err := readResultsFile(*resultsFile)
	if err != nil {
		return 1
	}
	sl, err := readSamplingLogFile(*logFile)
	if err != nil {
		return 1
	}
	dm, err := readDistancesFile(*distancesFile)
	if err != nil {
		return 1
	}
	var cenhaps map[string]string
	if *cenhapsFile != "" {
		cenhaps, err = readCenhapsFile(*cenhapsFile)
		if err != nil {
			return 1
		}
	}

	var evals []*evaluation
	hopeless := 0
	for _, res := range results {
		if res.NStar.IsHopeless() {
			hopeless++
			continue
		}
		ev, err := cmd.evaluate(res, sl, dm, cenhaps)
		if err != nil {
			log.WithField("sample", res.Sample).Warn(err)
			continue
		}
		evals = append(evals, ev)
	}
	if cmd.vcfDir != "" {
		err = cmd.compareSNVs(evals, *threads)
		if err != nil {
			return 1
		}
	}

	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	enc := json.NewEncoder(bufw)
	for _, ev := range evals {
		if err = enc.Encode(ev); err != nil {
			return 1
		}
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	summarizeEvaluations(evals, hopeless).Info("evaluation summary")
	return 0
}

func readDistancesFile(fnm string) (distanceMatrix, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dm, err := readDistances(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return dm, nil
}

// evaluate compares the haplotypes sampled at res's n* with the
// sample's true neighbors and (if cenhaps is not nil) its cenhap.
func (cmd *evaluator) evaluate(res nselect.Result, sl samplingLog, dm distanceMatrix, cenhaps map[string]string) (*evaluation, error) {
	n, _ := res.NStar.Value()
	sampled, ok := sl.sampled(res.Sample, n)
	if !ok {
		return nil, fmt.Errorf("no sampling run with n=%d in log", n)
	}
	ev := &evaluation{
		Sample:  res.Sample,
		NStar:   n,
		Reason:  res.Reason,
		Sampled: make([]string, len(sampled)),
	}
	isSampled := map[string]bool{}
	for i, sh := range sampled {
		ev.Sampled[i] = sh.Name
		isSampled[sh.Name] = true
	}
	if path, ok := dm.resolve(res.Sample); ok {
		if nn, d, ok := dm.nearest(path); ok {
			ev.NearestNeighbor = nn
			ev.NearestDistance = &d
			ev.NearestSampled = isSampled[nn]
		}
		if len(sampled) > 0 {
			if d, ok := dm.distance(path, sampled[0].Name); ok {
				ev.FirstSampledDistance = &d
			}
		}
		neighbors := dm.neighbors(path, cmd.neighborDistance)
		ev.Neighbors = len(neighbors)
		for _, nb := range neighbors {
			if isSampled[nb] {
				ev.NeighborsSampled++
			}
		}
		if ev.Neighbors > 0 && len(sampled) > 0 {
			frac := float64(ev.NeighborsSampled) / float64(len(sampled))
			ev.NeighborFraction = &frac
		}
	} else {
		log.WithField("sample", res.Sample).Debug("not in distance matrix")
	}
	if cenhaps != nil {
		g, err := guessSampleCenhap(res.Sample, n, sl, cenhaps)
		if err != nil {
			return nil, err
		}
		ev.Cenhap = &g
	}
	return ev, nil
}

// compareSNVs fills in SNV accuracy for each evaluation whose calls
// at n* exist in vcfDir.
func (cmd *evaluator) compareSNVs(evals []*evaluation, threads int) error {
	thr := throttle{Max: threads}
	for _, ev := range evals {
		ev := ev
		comp := snvComparison{
			Sample:       ev.Sample,
			N:            ev.NStar,
			VCF:          filepath.Join(cmd.vcfDir, fmt.Sprintf("%s.%dhaps.vcf", ev.Sample, ev.NStar)),
			Truth:        filepath.Join(cmd.truthDir, ev.Sample+".csv"),
			RelaxedTruth: filepath.Join(cmd.truthDir, ev.Sample+".relaxed.csv"),
		}
		if _, err := os.Stat(comp.VCF); err != nil {
			log.WithField("sample", ev.Sample).Warnf("no calls at n*: %s", err)
			continue
		}
		thr.Go(func() error {
			st, err := comp.run()
			if err != nil {
				return err
			}
			ev.SNV = &st
			return nil
		})
	}
	return thr.Wait()
}

func summarizeEvaluations(evals []*evaluation, hopeless int) *log.Entry {
	var nearestSampled, cenhapTotal, cenhapCorrect int
	var fractions, precisions, recalls []float64
	for _, ev := range evals {
		if ev.NearestSampled {
			nearestSampled++
		}
		if ev.NeighborFraction != nil {
			fractions = append(fractions, *ev.NeighborFraction)
		}
		if ev.Cenhap != nil && ev.Cenhap.Correct != nil {
			cenhapTotal++
			if *ev.Cenhap.Correct {
				cenhapCorrect++
			}
		}
		if ev.SNV != nil {
			precisions = append(precisions, ev.SNV.Precision)
			recalls = append(recalls, ev.SNV.Recall)
		}
	}
	fields := log.Fields{
		"evaluated":       len(evals),
		"hopeless":        hopeless,
		"nearest_sampled": nearestSampled,
	}
	if len(fractions) > 0 {
		fields["mean_neighbor_fraction"] = stat.Mean(fractions, nil)
	}
	if cenhapTotal > 0 {
		fields["cenhap_accuracy"] = float64(cenhapCorrect) / float64(cenhapTotal)
	}
	if len(precisions) > 0 {
		fields["mean_precision"] = stat.Mean(precisions, nil)
		fields["mean_recall"] = stat.Mean(recalls, nil)
	}
	return log.WithFields(fields)
}
