// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/willf/bitset"
)

// usableGenes returns the sorted RNA genes of one patient that
// resolve to an annotated interval overlapping at least one of the
// patient's CNV intervals on the same chromosome.
func usableGenes(d *patientData, anno annotationProvider) []string {
	cnv := newOverlapIndex(d.CNV)
	var genes []string
	for gene := range d.RNA {
		rec, ok := anno.Resolve(gene)
		if !ok {
			continue
		}
		if cnv.Overlaps(rec.Chromosome, rec.Start, rec.Stop) {
			genes = append(genes, gene)
		}
	}
	sort.Strings(genes)
	return genes
}

// commonGenes intersects the usable gene sets of every successful
// patient. The result does not depend on patient order. A successful
// patient with no usable genes empties the intersection.
func commonGenes(outcomes []patientOutcome, anno annotationProvider) ([]string, cohortTally) {
	var tally cohortTally
	var perPatient [][]string
	var labels []string
	universe := map[string]uint{}
	for _, o := range outcomes {
		if !o.ok() {
			tally.skip(o)
			continue
		}
		genes := usableGenes(o.Data, anno)
		if len(genes) == 0 {
			log.Warnf("%s has no genes overlapping its CNV segments; no genes are common to the cohort", o.Patient.Barcode)
		}
		for _, gene := range genes {
			universe[gene] = 0
		}
		perPatient = append(perPatient, genes)
		labels = append(labels, o.Patient.Barcode)
		tally.processed++
	}
	if len(perPatient) == 0 {
		return nil, tally
	}

	names := make([]string, 0, len(universe))
	for gene := range universe {
		names = append(names, gene)
	}
	sort.Strings(names)
	for i, gene := range names {
		universe[gene] = uint(i)
	}

	var common *bitset.BitSet
	for i, genes := range perPatient {
		bits := bitset.New(uint(len(names)))
		for _, gene := range genes {
			bits.Set(universe[gene])
		}
		if common == nil {
			common = bits
		} else {
			common.InPlaceIntersection(bits)
		}
		log.Debugf("%s: %d usable genes, %d in common so far", labels[i], len(genes), common.Count())
	}

	var out []string
	for i, ok := common.NextSet(0); ok; i, ok = common.NextSet(i + 1) {
		out = append(out, names[i])
	}
	return out, tally
}

type commonGenesCmd struct {
	config pipelineConfig
}

func (cmd *commonGenesCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *commonGenesCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	cmd.config.startPprof()

	if !cmd.config.runLocal {
		output, err := cmd.config.runInContainer("common-genes", 32<<30, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/common_genes.txt")
		return nil
	}

	patients, err := loadPatients(cmd.config.InputDir)
	if err != nil {
		return err
	}
	anno, err := cmd.config.loadAnnotation()
	if err != nil {
		return err
	}
	outcomes := collectOutcomes(patients, []string{modalityRNA, modalityCNV}, cmd.config.Threads)
	genes, tally := commonGenes(outcomes, anno)
	log.Infof("%d genes common to %d patients (%d skipped)", len(genes), tally.processed, tally.skipped)
	if tally.processed == 0 {
		return fmt.Errorf("no usable patients in %s (%d skipped)", cmd.config.InputDir, tally.skipped)
	}

	fnm := filepath.Join(cmd.config.OutputDir, "common_genes.txt")
	err = writeArtifact(fnm, func(w io.Writer) error {
		for _, gene := range genes {
			if _, err := fmt.Fprintln(w, gene); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("wrote common genes to %s", fnm)
	return nil
}
