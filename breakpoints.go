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
)

// BreakpointSet holds, per chromosome, the sorted union of every
// interval boundary seen. Column i of a raster row is the bin that
// starts at the chromosome's i'th breakpoint.
type BreakpointSet struct {
	chroms map[string]*coordList
	// order is the row order. It is only set when the set was read
	// from an artifact; otherwise rows are in natural order.
	order []string
}

func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{chroms: map[string]*coordList{}}
}

func (bs *BreakpointSet) insert(chrom string, coord int) {
	cl := bs.chroms[chrom]
	if cl == nil {
		cl = &coordList{}
		bs.chroms[chrom] = cl
		if bs.order != nil {
			bs.order = append(bs.order, chrom)
		}
	}
	cl.Insert(coord)
}

// Add inserts the start and stop of every interval in the given sets.
// Adding the same sets again, or in another order, leaves the result
// unchanged.
func (bs *BreakpointSet) Add(sets ...IntervalSet) {
	for _, set := range sets {
		for chrom, ivs := range set {
			for _, iv := range ivs {
				bs.insert(chrom, iv.Start)
				bs.insert(chrom, iv.Stop)
			}
		}
	}
}

// Chromosomes returns the row order.
func (bs *BreakpointSet) Chromosomes() []string {
	if bs.order != nil {
		return append([]string(nil), bs.order...)
	}
	names := make([]string, 0, len(bs.chroms))
	for name := range bs.chroms {
		names = append(names, name)
	}
	sortChromosomes(names)
	return names
}

// Coords returns the sorted breakpoints for chrom, or nil.
func (bs *BreakpointSet) Coords(chrom string) *coordList {
	return bs.chroms[chrom]
}

// Len returns the total number of breakpoints.
func (bs *BreakpointSet) Len() int {
	n := 0
	for _, cl := range bs.chroms {
		n += cl.Len()
	}
	return n
}

// MaxWidth returns the largest per-chromosome breakpoint count.
func (bs *BreakpointSet) MaxWidth() int {
	w := 0
	for _, cl := range bs.chroms {
		if cl.Len() > w {
			w = cl.Len()
		}
	}
	return w
}

// Equal reports whether both sets have the same rows in the same
// order with the same coordinates.
func (bs *BreakpointSet) Equal(other *BreakpointSet) bool {
	a, b := bs.Chromosomes(), other.Chromosomes()
	if len(a) != len(b) {
		return false
	}
	for i, chrom := range a {
		if b[i] != chrom {
			return false
		}
		x, y := bs.chroms[chrom].Values(), other.chroms[chrom].Values()
		if len(x) != len(y) {
			return false
		}
		for j := range x {
			if x[j] != y[j] {
				return false
			}
		}
	}
	return true
}

// WriteTo writes one "chrom: c1,c2,..." line per chromosome.
func (bs *BreakpointSet) WriteTo(w io.Writer) (int64, error) {
	bufw := bufio.NewWriter(w)
	var n int64
	var buf []byte
	for _, chrom := range bs.Chromosomes() {
		buf = append(buf[:0], chrom...)
		buf = append(buf, ": "...)
		for i, x := range bs.chroms[chrom].Values() {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendInt(buf, int64(x), 10)
		}
		buf = append(buf, '\n')
		wrote, err := bufw.Write(buf)
		n += int64(wrote)
		if err != nil {
			return n, err
		}
	}
	return n, bufw.Flush()
}

// ReadBreakpoints parses the output of WriteTo. Rows keep the order
// in which they appear in the input.
func ReadBreakpoints(r io.Reader) (*BreakpointSet, error) {
	bs := &BreakpointSet{chroms: map[string]*coordList{}, order: []string{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<30)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		sep := strings.Index(line, ": ")
		if sep < 1 {
			return nil, fmt.Errorf("line %d: missing \"chromosome: \" prefix", lineNum)
		}
		chrom := line[:sep]
		if _, dup := bs.chroms[chrom]; dup {
			return nil, fmt.Errorf("line %d: duplicate chromosome %q", lineNum, chrom)
		}
		fields := strings.Split(line[sep+2:], ",")
		cl := &coordList{coords: make([]int, 0, len(fields))}
		for _, field := range fields {
			x, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if n := len(cl.coords); n > 0 && cl.coords[n-1] >= x {
				return nil, fmt.Errorf("line %d: coordinate %d is not greater than preceding %d", lineNum, x, cl.coords[n-1])
			}
			cl.coords = append(cl.coords, x)
		}
		bs.chroms[chrom] = cl
		bs.order = append(bs.order, chrom)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return bs, nil
}

func readBreakpointsFile(path string) (*BreakpointSet, error) {
	f, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bs, err := ReadBreakpoints(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bs, nil
}

// modalities accepted by -datatypes
const (
	modalityRNA     = "rna"
	modalityCNV     = "cnv"
	modalityProtein = "protein"
)

type breakpointsCmd struct {
	config    pipelineConfig
	datatypes string
}

func (cmd *breakpointsCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *breakpointsCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	flags.StringVar(&cmd.datatypes, "datatypes", "rna,cnv", "comma-separated data `types` whose boundaries become breakpoints (rna, cnv, protein); rasterize paints protein too, so protein genes absent from these types will be missing breakpoints")
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	modalities, err := parseModalities(cmd.datatypes)
	if err != nil {
		return err
	}
	cmd.config.startPprof()

	if !cmd.config.runLocal {
		output, err := cmd.config.runInContainer("breakpoints", 64<<30, []string{"-datatypes=" + cmd.datatypes})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, output+"/breakpoints.txt")
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
	outcomes := collectOutcomes(patients, modalities, cmd.config.Threads)
	bs, tally := buildCohortBreakpoints(outcomes, modalities, anno)
	log.Infof("breakpoints from %d patients (%d skipped)", tally.processed, tally.skipped)
	if tally.processed == 0 {
		return fmt.Errorf("no usable patients in %s (%d skipped)", cmd.config.InputDir, tally.skipped)
	}
	for _, chrom := range bs.Chromosomes() {
		log.Infof("%s\t%d breakpoints", chrom, bs.Coords(chrom).Len())
	}
	log.Infof("total: %d", bs.Len())

	fnm := filepath.Join(cmd.config.OutputDir, "breakpoints.txt")
	err = writeArtifact(fnm, func(w io.Writer) error {
		_, err := bs.WriteTo(w)
		return err
	})
	if err != nil {
		return err
	}
	log.Infof("wrote breakpoint data to %s", fnm)
	return nil
}

// buildCohortBreakpoints unions the boundaries of the requested data
// types over every patient that loaded successfully.
func buildCohortBreakpoints(outcomes []patientOutcome, modalities []string, anno annotationProvider) (*BreakpointSet, cohortTally) {
	bs := NewBreakpointSet()
	var tally cohortTally
	for _, o := range outcomes {
		if !o.ok() {
			tally.skip(o)
			continue
		}
		for _, m := range modalities {
			switch m {
			case modalityCNV:
				bs.Add(o.Data.CNV)
			case modalityRNA:
				rna, _ := geneToIntervals(o.Data.RNA, anno)
				bs.Add(rna)
			case modalityProtein:
				prot, _ := geneToIntervals(o.Data.Prot, anno)
				bs.Add(prot)
			}
		}
		tally.processed++
	}
	return bs, tally
}

func parseModalities(s string) ([]string, error) {
	var modalities []string
	for _, m := range strings.Split(s, ",") {
		switch m = strings.TrimSpace(m); m {
		case modalityRNA, modalityCNV, modalityProtein:
			modalities = append(modalities, m)
		case "":
		default:
			return nil, fmt.Errorf("unknown data type %q (expected rna, cnv, or protein)", m)
		}
	}
	if len(modalities) == 0 {
		return nil, fmt.Errorf("no data types specified")
	}
	return modalities, nil
}
