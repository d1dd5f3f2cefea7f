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
	"math"
	"strings"

	"github.com/centrolign/hapcount/nselect"
	log "github.com/sirupsen/logrus"
)

// readCenhaps reads "haplotype,cenhap[,...]" lines into a map.
func readCenhaps(r io.Reader) (map[string]string, error) {
	cenhaps := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		cenhaps[fields[0]] = fields[1]
	}
	return cenhaps, scanner.Err()
}

func lookupCenhap(cenhaps map[string]string, sample string) (string, bool) {
	for _, name := range sampleAliases(sample) {
		if c, ok := cenhaps[name]; ok {
			return c, true
		}
	}
	return "", false
}

// guessCenhap returns the cenhap with the greatest total score among
// the sampled haplotypes. Scores are first shifted so the lowest is 1,
// so every sampled haplotype gets a positive vote. Haplotypes with no
// known cenhap do not vote. Ties go to the lexically smallest cenhap.
func guessCenhap(sampled []sampledHaplotype, cenhaps map[string]string) (string, bool) {
	if len(sampled) == 0 {
		return "", false
	}
	min := math.Inf(1)
	for _, sh := range sampled {
		if sh.Score < min {
			min = sh.Score
		}
	}
	votes := map[string]float64{}
	for _, sh := range sampled {
		cenhap, ok := cenhaps[sh.Name]
		if !ok {
			log.Debugf("sampled haplotype %s has no cenhap assignment", sh.Name)
			continue
		}
		votes[cenhap] += sh.Score - min + 1
	}
	best, bestVote := "", math.Inf(-1)
	for cenhap, vote := range votes {
		if vote > bestVote || (vote == bestVote && cenhap < best) {
			best, bestVote = cenhap, vote
		}
	}
	return best, best != ""
}

type cenhapGuess struct {
	Sample  string `json:"sample"`
	N       int    `json:"n"`
	Guessed string `json:"guessed_cenhap,omitempty"`
	Truth   string `json:"true_cenhap,omitempty"`
	Correct *bool  `json:"correct,omitempty"`
}

// guessSampleCenhap guesses the cenhap of sample from the haplotypes
// sampled at n, and compares with its known assignment if any.
func guessSampleCenhap(sample string, n int, sl samplingLog, cenhaps map[string]string) (cenhapGuess, error) {
	g := cenhapGuess{Sample: sample, N: n}
	sampled, ok := sl.sampled(sample, n)
	if !ok {
		return g, fmt.Errorf("no sampling run with n=%d for %s in log", n, sample)
	}
	g.Guessed, _ = guessCenhap(sampled, cenhaps)
	g.Truth, _ = lookupCenhap(cenhaps, sample)
	if g.Guessed != "" && g.Truth != "" {
		correct := g.Guessed == g.Truth
		g.Correct = &correct
	}
	return g, nil
}

type guessCenhapCmd struct{}

func (cmd *guessCenhapCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	cenhapsFile := flags.String("cenhaps", "", "cenhap assignment `csv` file")
	outputFilename := flags.String("o", "-", "output `file` (JSON lines)")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *resultsFile == "" || *logFile == "" || *cenhapsFile == "" {
		err = errors.New("must provide -results, -log, and -cenhaps")
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
	cenhaps, err := readCenhapsFile(*cenhapsFile)
	if err != nil {
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
		n, ok := res.NStar.Value()
		if !ok {
			log.WithField("sample", res.Sample).Info("hopeless, cannot guess cenhap")
			continue
		}
		var g cenhapGuess
		g, err = guessSampleCenhap(res.Sample, n, sl, cenhaps)
		if err != nil {
			return 1
		}
		if err = enc.Encode(g); err != nil {
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

func readSamplingLogFile(fnm string) (samplingLog, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sl, err := readSamplingLog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return sl, nil
}

func readCenhapsFile(fnm string) (map[string]string, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCenhaps(f)
}

// readResultsFile reads haploid decisions from select's JSON lines
// output. Diploid records contribute their two haplotype decisions;
// failure records are skipped.
func readResultsFile(fnm string) ([]nselect.Result, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readResults(f)
}

func readResults(r io.Reader) ([]nselect.Result, error) {
	var results []nselect.Result
	dec := json.NewDecoder(r)
	for {
		var rec struct {
			nselect.Result
			Hap1  *nselect.Result `json:"hap1"`
			Hap2  *nselect.Result `json:"hap2"`
			Error string          `json:"error"`
		}
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return results, nil
		} else if err != nil {
			return nil, err
		}
		switch {
		case rec.Error != "":
			log.WithField("sample", rec.Sample).Debug("skipping failed sample")
		case rec.Hap1 != nil && rec.Hap2 != nil:
			results = append(results, *rec.Hap1, *rec.Hap2)
		default:
			results = append(results, rec.Result)
		}
	}
}
