// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sort"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/centrolign/hapcount/nselect"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy writes the relative gain curves of all samples as a
// samples x n matrix, for plotting and downstream analysis.
type exportNumpy struct {
	params selectionFlags
}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	outputDir := flags.String("output-dir", "./out", "output `directory`")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of samples to evaluate concurrently")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	cmd.params.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
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
		runner := arvadosContainerRunner{
			Name:        "hapcount export-numpy",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         4 << 30,
			VCPUs:       2,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(metricsFile, baselinesFile)
		if err != nil {
			return 1
		}
		runner.Args = append([]string{"export-numpy", "-local=true",
			"-loglevel=" + *loglevel,
			"-metrics=" + *metricsFile,
			"-baselines=" + *baselinesFile,
			"-output-dir=/mnt/output",
		}, cmd.params.Args(cfg, policy)...)
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/matrix.npy")
		return 0
	}

	samples, err := loadSamples(*metricsFile, *baselinesFile)
	if err != nil {
		return 1
	}
	records := selectHaploid(samples, cfg, *threads)
	nvalues := unionNValues(samples)
	gains := gainMatrix(samples, records, nvalues)
	rows, cols := len(samples), len(nvalues)

	err = os.MkdirAll(*outputDir, 0777)
	if err != nil {
		return 1
	}
	err = writeNumpyFloat64(*outputDir+"/matrix.npy", gains, rows, cols)
	if err != nil {
		return 1
	}
	nstar := make([]int32, rows)
	for i, rec := range records {
		nstar[i] = -1
		if res, ok := rec.(nselect.Result); ok {
			if n, ok := res.NStar.Value(); ok {
				nstar[i] = int32(n)
			}
		}
	}
	err = writeNumpyInt32(*outputDir+"/nstar.npy", nstar, rows, 1)
	if err != nil {
		return 1
	}
	err = writeNValues(*outputDir+"/nvalues.csv", nvalues)
	if err != nil {
		return 1
	}
	err = writeSelectionInfo(*outputDir+"/samples.csv", samples, records)
	if err != nil {
		return 1
	}
	return 0
}

// unionNValues returns every n that appears for any sample, sorted.
func unionNValues(samples []*sampleInput) []int {
	seen := map[int]bool{}
	var nvalues []int
	for _, si := range samples {
		for _, m := range si.metrics {
			if !seen[m.N] {
				seen[m.N] = true
				nvalues = append(nvalues, m.N)
			}
		}
	}
	sort.Ints(nvalues)
	return nvalues
}

// gainMatrix returns relative gains in row-major order, one row per
// sample and one column per nvalues entry. Cells are NaN where the
// sample has no row for n, or where the sample failed or was
// hopeless (its gains are not meaningful).
func gainMatrix(samples []*sampleInput, records []interface{}, nvalues []int) []float64 {
	cols := len(nvalues)
	colIdx := make(map[int]int, cols)
	for i, n := range nvalues {
		colIdx[n] = i
	}
	out := make([]float64, len(samples)*cols)
	for i := range out {
		out[i] = math.NaN()
	}
	for row, si := range samples {
		res, ok := records[row].(nselect.Result)
		if !ok || res.NStar.IsHopeless() {
			continue
		}
		t, err := si.table()
		if err != nil {
			continue
		}
		floor, ceiling, err := nselect.ResolveBaseline(t)
		if err != nil {
			continue
		}
		for i, g := range t.RelativeGains(floor, ceiling) {
			out[row*cols+colIdx[t.At(i).N]] = g
		}
	}
	return out
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeNumpyInt32(fnm string, out []int32, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	err = npw.WriteInt32(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

func writeNValues(fnm string, nvalues []int) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, "Index,N")
	for i, n := range nvalues {
		fmt.Fprintf(bufw, "%d,%d\n", i, n)
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

// writeSelectionInfo writes one row per matrix row: the sample ID
// and its decision, or the error that prevented one.
func writeSelectionInfo(fnm string, samples []*sampleInput, records []interface{}) error {
	log.Infof("writing sample metadata to %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintln(bufw, "Index,SampleID,NStar,Reason,RelativeGain")
	for i, si := range samples {
		switch rec := records[i].(type) {
		case nselect.Result:
			fmt.Fprintf(bufw, "%d,%s,%s,%s,%s\n", i, si.sample, rec.NStar, rec.Reason, formatFloat(rec.RelativeGain))
		default:
			fmt.Fprintf(bufw, "%d,%s,,ERROR,NA\n", i, si.sample)
		}
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}
