// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"flag"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/exascience/pargo/parallel"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

type geneSpread struct {
	Gene   string
	Stddev float64
	N      int
}

// populationStddev returns the standard deviation of x treating x as
// the whole population. Fewer than two values have no spread.
func populationStddev(x []float64) float64 {
	n := len(x)
	if n < 2 {
		return 0
	}
	_, variance := stat.MeanVariance(x, nil)
	return math.Sqrt(variance * float64(n-1) / float64(n))
}

// geneSpreads computes the population standard deviation of each
// gene's values across patients, drops genes observed in fewer than
// minObs patients, and sorts the rest by ascending stddev (ties by
// gene name).
func geneSpreads(values map[string][]float64, minObs int) []geneSpread {
	genes := make([]string, 0, len(values))
	for gene, x := range values {
		if len(x) >= minObs {
			genes = append(genes, gene)
		}
	}
	if len(genes) == 0 {
		return nil
	}
	sort.Strings(genes)
	spreads := make([]geneSpread, len(genes))
	parallel.Range(0, len(genes), 0, func(low, high int) {
		for i := low; i < high; i++ {
			x := values[genes[i]]
			spreads[i] = geneSpread{Gene: genes[i], Stddev: populationStddev(x), N: len(x)}
		}
	})
	sort.SliceStable(spreads, func(i, j int) bool {
		return spreads[i].Stddev < spreads[j].Stddev
	})
	return spreads
}

// cohortGeneValues gathers, per gene, the values of one expression
// data type from every patient that has it.
func cohortGeneValues(outcomes []patientOutcome, modality string) (map[string][]float64, cohortTally) {
	values := map[string][]float64{}
	var tally cohortTally
	for _, o := range outcomes {
		if !o.ok() {
			tally.skip(o)
			continue
		}
		src := o.Data.RNA
		if modality == modalityProtein {
			src = o.Data.Prot
		}
		for gene, v := range src {
			values[gene] = append(values[gene], v)
		}
		tally.processed++
	}
	return values, tally
}

func writeSpreads(fnm string, spreads []geneSpread) error {
	return writeArtifact(fnm, func(w io.Writer) error {
		var buf []byte
		for _, s := range spreads {
			buf = append(buf[:0], s.Gene...)
			buf = append(buf, '\t')
			buf = strconv.AppendFloat(buf, s.Stddev, 'g', -1, 64)
			buf = append(buf, '\n')
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return nil
	})
}

type stddevCmd struct {
	config          pipelineConfig
	minObservations int
}

func (cmd *stddevCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *stddevCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	flags.IntVar(&cmd.minObservations, "min-observations", 10, "drop genes measured in fewer than `N` patients")
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	cmd.config.startPprof()

	if !cmd.config.runLocal {
		output, err := cmd.config.runInContainer("stddev", 32<<30, []string{fmt.Sprintf("-min-observations=%d", cmd.minObservations)})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/rna_stddev.tsv")
		fmt.Fprintln(stdout, output+"/prot_stddev.tsv")
		return nil
	}

	patients, err := loadPatients(cmd.config.InputDir)
	if err != nil {
		return err
	}
	for _, out := range []struct {
		modality string
		fnm      string
	}{
		{modalityRNA, "rna_stddev.tsv"},
		{modalityProtein, "prot_stddev.tsv"},
	} {
		outcomes := collectOutcomes(patients, []string{out.modality}, cmd.config.Threads)
		values, tally := cohortGeneValues(outcomes, out.modality)
		spreads := geneSpreads(values, cmd.minObservations)
		log.Infof("%s: %d of %d genes observed in at least %d patients (%d patients, %d skipped)", out.modality, len(spreads), len(values), cmd.minObservations, tally.processed, tally.skipped)
		fnm := filepath.Join(cmd.config.OutputDir, out.fnm)
		if err := writeSpreads(fnm, spreads); err != nil {
			return err
		}
		log.Infof("wrote %s", fnm)
	}
	return nil
}
