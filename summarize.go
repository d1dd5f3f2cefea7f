// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/centrolign/hapcount/nselect"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Per-read identity tables written by the alignment step, one per
// haplotype and graph: real_<haplotype>.<n>haps.tsv for sampled
// graphs, real_<haplotype>.linear.tsv for the generic reference, and
// real_<haplotype>.self.tsv for the graph containing the haplotype
// itself.
var identityFileRe = regexp.MustCompile(`^real_(.+)\.(\d+haps|linear|self)\.tsv(\.gz)?$`)

type summarizer struct {
	poorIdentity float64
}

func (cmd *summarizer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	inputDir := flags.String("input-dir", "./in", "`directory` of per-read identity tables")
	match := flags.String("match", ".*", "only summarize haplotypes whose names match `regexp`")
	outputFilename := flags.String("o", "-", "metrics output `file`")
	baselinesFilename := flags.String("baselines-out", "", "baselines output `file`")
	flags.Float64Var(&cmd.poorIdentity, "poor-identity", 0.99, "identity below which a read counts as poorly aligned")
	threads := flags.Int("threads", runtime.GOMAXPROCS(0), "number of tables to read concurrently")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *baselinesFilename == "" {
		err = errors.New("must provide -baselines-out")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)
	matchRe, err := regexp.Compile(*match)
	if err != nil {
		err = fmt.Errorf("-match: invalid regexp: %q", *match)
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := arvadosContainerRunner{
			Name:        "hapcount summarize",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         16 << 30,
			VCPUs:       8,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(inputDir)
		if err != nil {
			return 1
		}
		runner.Args = []string{"summarize", "-local=true",
			"-loglevel=" + *loglevel,
			"-input-dir=" + *inputDir,
			"-match=" + *match,
			fmt.Sprintf("-poor-identity=%v", cmd.poorIdentity),
			"-o=/mnt/output/metrics.tsv",
			"-baselines-out=/mnt/output/baselines.tsv",
		}
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/metrics.tsv")
		fmt.Fprintln(stdout, output+"/baselines.tsv")
		return 0
	}

	samples, err := cmd.summarizeDir(*inputDir, matchRe, *threads)
	if err != nil {
		return 1
	}
	output, err := createOutput(*outputFilename, stdout)
	if err != nil {
		return 1
	}
	defer output.Close()
	if err = writeMetrics(output, samples); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	bf, err := os.Create(*baselinesFilename)
	if err != nil {
		return 1
	}
	defer bf.Close()
	if err = writeBaselines(bf, samples); err != nil {
		return 1
	}
	if err = bf.Close(); err != nil {
		return 1
	}
	return 0
}

type identityFile struct {
	haplotype string
	kind      string // "linear", "self", or "<n>haps"
	path      string
}

func listIdentityFiles(dir string, match *regexp.Regexp) ([]identityFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []identityFile
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		m := identityFileRe.FindStringSubmatch(ent.Name())
		if m == nil || !match.MatchString(m[1]) {
			continue
		}
		files = append(files, identityFile{haplotype: m[1], kind: m[2], path: filepath.Join(dir, ent.Name())})
	}
	return files, nil
}

// summarizeDir summarizes every identity table in dir and returns
// one sampleInput per haplotype, sorted by name, with metrics sorted
// by n.
func (cmd *summarizer) summarizeDir(dir string, match *regexp.Regexp, threads int) ([]*sampleInput, error) {
	files, err := listIdentityFiles(dir, match)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no identity tables found in %s", dir)
	}
	var mtx sync.Mutex
	bySample := map[string]*sampleInput{}
	get := func(haplotype string) *sampleInput {
		si := bySample[haplotype]
		if si == nil {
			si = &sampleInput{sample: haplotype, baseline: nselect.MissingBaseline()}
			bySample[haplotype] = si
		}
		return si
	}
	thr := throttle{Max: threads}
	for _, file := range files {
		file := file
		thr.Go(func() error {
			summary, mapped, nodes, err := cmd.summarizeFile(file.path)
			if err != nil {
				return err
			}
			log.WithField("sample", file.haplotype).Debugf("%s: %d reads, mean identity %.5f", file.kind, summary.Reads, summary.Mean)
			mtx.Lock()
			defer mtx.Unlock()
			si := get(file.haplotype)
			switch file.kind {
			case "linear":
				si.baseline.Floor = summary.Mean
			case "self":
				si.baseline.Ceiling = summary.Mean
			default:
				n, err := strconv.Atoi(strings.TrimSuffix(file.kind, "haps"))
				if err != nil {
					return fmt.Errorf("%s: %w", file.path, err)
				}
				si.metrics = append(si.metrics, nselect.NMetric{
					N:              n,
					Identity:       summary,
					MappedFraction: mapped,
					NodeUsage:      nodes,
				})
			}
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	var samples []*sampleInput
	for _, si := range bySample {
		sort.Slice(si.metrics, func(i, j int) bool { return si.metrics[i].N < si.metrics[j].N })
		if math.IsNaN(si.baseline.Ceiling) {
			log.WithField("sample", si.sample).Warn("no self (ceiling) alignment table found")
		}
		samples = append(samples, si)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].sample < samples[j].sample })
	return samples, nil
}

// summarizeFile reads one per-read identity table and returns the
// identity summary, the fraction of reads that aligned, and the
// number of distinct graph nodes the alignments touched.
func (cmd *summarizer) summarizeFile(path string) (nselect.IdentitySummary, float64, int64, error) {
	f, err := zopen(path)
	if err != nil {
		return nselect.IdentitySummary{}, 0, 0, err
	}
	defer f.Close()
	return cmd.summarizeReads(path, f)
}

func (cmd *summarizer) summarizeReads(name string, r io.Reader) (nselect.IdentitySummary, float64, int64, error) {
	var summary nselect.IdentitySummary
	tr, err := newTSVReader(name, r)
	if err != nil {
		return summary, 0, 0, err
	}
	if _, err := tr.require("#name", "name"); err != nil {
		return summary, 0, 0, err
	}
	colIdentity, err := tr.require("identity")
	if err != nil {
		return summary, 0, 0, err
	}
	colNodes := tr.column("nodes")
	var identities []float64
	nodes := map[string]struct{}{}
	reads := 0
	for tr.Next() {
		reads++
		id, err := strconv.ParseFloat(tr.Field(colIdentity), 64)
		if err != nil || math.IsNaN(id) {
			// unaligned read
			continue
		}
		if id < 0 || id > 1 {
			return summary, 0, 0, tr.errorf("identity %v outside [0,1]", id)
		}
		identities = append(identities, id)
		if colNodes >= 0 {
			for _, node := range strings.Split(tr.Field(colNodes), ",") {
				if node != "" && !isMissing(node) {
					nodes[node] = struct{}{}
				}
			}
		}
	}
	if err := tr.Err(); err != nil {
		return summary, 0, 0, err
	}
	summary = cmd.summarizeIdentities(identities)
	summary.Reads = reads
	var mapped float64
	if reads > 0 {
		mapped = float64(len(identities)) / float64(reads)
	}
	return summary, mapped, int64(len(nodes)), nil
}

// summarizeIdentities sorts identities in place and summarizes them.
func (cmd *summarizer) summarizeIdentities(identities []float64) nselect.IdentitySummary {
	var summary nselect.IdentitySummary
	if len(identities) == 0 {
		return summary
	}
	sort.Float64s(identities)
	summary.Mean = stat.Mean(identities, nil)
	summary.Median = stat.Quantile(0.5, stat.Empirical, identities, nil)
	summary.Q10 = stat.Quantile(0.1, stat.Empirical, identities, nil)
	summary.Q90 = stat.Quantile(0.9, stat.Empirical, identities, nil)
	if len(identities) > 1 {
		summary.StdErr = stat.StdErr(stat.StdDev(identities, nil), float64(len(identities)))
	}
	poor := sort.SearchFloat64s(identities, cmd.poorIdentity)
	summary.PoorFraction = float64(poor) / float64(len(identities))
	return summary
}
