// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Range keys in the range artifact, in file order. They double as
// raster channel names: channel 0 is cnv, 1 is gene, 2 is prot.
const (
	rangeCNV  = "cnv"
	rangeGene = "gene"
	rangeProt = "prot"
)

var rangeKeys = []string{rangeCNV, rangeGene, rangeProt}

type Range struct {
	Min, Max float64
}

// ValueRange holds the observed min/max per data type over a cohort.
type ValueRange map[string]Range

// computeRanges finds min/max of the raw values of each data type
// over every patient that has that data type. Unlike the other
// reductions, a patient missing one data type still contributes the
// others.
func computeRanges(patients []*Patient) (ValueRange, cohortTally, error) {
	values := map[string][]float64{}
	var tally cohortTally
	for _, p := range patients {
		pv, err := patientRangeValues(p)
		if err != nil {
			tally.skip(patientOutcome{Patient: p, Skip: err})
			continue
		}
		for key, v := range pv {
			values[key] = append(values[key], v...)
		}
		tally.processed++
	}
	vr := ValueRange{}
	for _, key := range rangeKeys {
		if len(values[key]) == 0 {
			return nil, tally, fmt.Errorf("no %s values found in any patient", key)
		}
		vr[key] = Range{Min: floats.Min(values[key]), Max: floats.Max(values[key])}
	}
	return vr, tally, nil
}

// patientRangeValues returns the raw values of each data type the
// patient has. A malformed value, or having no data at all, is an
// error.
func patientRangeValues(p *Patient) (map[string][]float64, error) {
	pv := map[string][]float64{}
	cnv, err := p.CNVValues()
	if err == nil {
		cnv.Each(func(iv GenomicInterval) { pv[rangeCNV] = append(pv[rangeCNV], iv.Value) })
	} else if !isMissing(err) {
		return nil, err
	}
	for key, get := range map[string]func() (map[string]float64, error){
		rangeGene: p.GeneValues,
		rangeProt: p.ProtValues,
	} {
		m, err := get()
		if isMissing(err) {
			continue
		} else if err != nil {
			return nil, err
		}
		for _, v := range m {
			pv[key] = append(pv[key], v)
		}
	}
	if len(pv) == 0 {
		return nil, fmt.Errorf("%s: %w", p.Barcode, errMissingData)
	}
	return pv, nil
}

// WriteTo writes one "<type> <min> - <max>" line per data type.
// Numbers are written in the shortest form that reads back exactly.
func (vr ValueRange) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, key := range rangeKeys {
		r, ok := vr[key]
		if !ok {
			continue
		}
		wrote, err := fmt.Fprintf(w, "%s %s - %s\n", key,
			strconv.FormatFloat(r.Min, 'f', -1, 64),
			strconv.FormatFloat(r.Max, 'f', -1, 64))
		n += int64(wrote)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func ReadRanges(r io.Reader) (ValueRange, error) {
	vr := ValueRange{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 4 || fields[2] != "-" {
			return nil, fmt.Errorf("line %d: expected \"<type> <min> - <max>\", got %q", lineNum, scanner.Text())
		}
		min, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: min: %w", lineNum, err)
		}
		max, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: max: %w", lineNum, err)
		}
		if min > max {
			return nil, fmt.Errorf("line %d: min %g > max %g", lineNum, min, max)
		}
		vr[fields[0]] = Range{Min: min, Max: max}
	}
	return vr, scanner.Err()
}

func readRangesFile(path string) (ValueRange, error) {
	f, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vr, err := ReadRanges(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, key := range rangeKeys {
		if _, ok := vr[key]; !ok {
			return nil, fmt.Errorf("%s: no range for %s", path, key)
		}
	}
	return vr, nil
}

type rangesCmd struct {
	config pipelineConfig
}

func (cmd *rangesCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *rangesCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	cmd.config.startPprof()

	if !cmd.config.runLocal {
		output, err := cmd.config.runInContainer("ranges", 32<<30, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/ranges.txt")
		return nil
	}

	patients, err := loadPatients(cmd.config.InputDir)
	if err != nil {
		return err
	}
	vr, tally, err := computeRanges(patients)
	if err != nil {
		return err
	}
	log.Infof("ranges from %d patients (%d skipped)", tally.processed, tally.skipped)
	fnm := filepath.Join(cmd.config.OutputDir, "ranges.txt")
	err = writeArtifact(fnm, func(w io.Writer) error {
		_, err := vr.WriteTo(w)
		return err
	})
	if err != nil {
		return err
	}
	log.Infof("wrote minimum/maximum values for each data type to %s", fnm)
	return nil
}
