// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// raster channel order
var (
	rasterModalities = []string{modalityCNV, modalityRNA, modalityProtein}
	rasterRangeNames = []string{rangeCNV, rangeGene, rangeProt}
)

type rasterizeCmd struct {
	config          pipelineConfig
	batchArgs       batchArgs
	breakpointsFile string
	rangesFile      string
	imagesDir       string
	writeNumpy      bool

	processed int64
	skipped   int64
}

func (cmd *rasterizeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *rasterizeCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cmd.config.Flags(flags)
	cmd.batchArgs.Flags(flags)
	flags.StringVar(&cmd.breakpointsFile, "breakpoints", "", "breakpoints `file` (default: <output-dir>/breakpoints.txt)")
	flags.StringVar(&cmd.rangesFile, "ranges", "", "ranges `file` (default: <output-dir>/ranges.txt)")
	flags.StringVar(&cmd.imagesDir, "images-dir", "", "image output `directory` (default: <output-dir>/images)")
	flags.BoolVar(&cmd.writeNumpy, "numpy", false, "also write each image as a .npy array")
	if help, err := parseFlags(flags, args); help || err != nil {
		return err
	}
	if cmd.breakpointsFile == "" {
		cmd.breakpointsFile = filepath.Join(cmd.config.OutputDir, "breakpoints.txt")
	}
	if cmd.rangesFile == "" {
		cmd.rangesFile = filepath.Join(cmd.config.OutputDir, "ranges.txt")
	}
	cmd.config.startPprof()

	if !cmd.config.runLocal {
		outputs, err := cmd.batchArgs.RunBatches(context.Background(), func(ctx context.Context, batch int) (string, error) {
			config := cmd.config
			bpfile, rangesfile := cmd.breakpointsFile, cmd.rangesFile
			extra := []string{
				"-images-dir=/mnt/output",
				fmt.Sprintf("-numpy=%v", cmd.writeNumpy),
			}
			extra = append(extra, cmd.batchArgs.Args(batch)...)
			return config.runInContainerContext(ctx, "rasterize", 16<<30,
				append(extra, "-breakpoints="+bpfile, "-ranges="+rangesfile), &bpfile, &rangesfile)
		})
		if err != nil {
			return err
		}
		for _, output := range outputs {
			fmt.Fprintln(stdout, output)
		}
		return nil
	}
	if cmd.imagesDir == "" {
		cmd.imagesDir = filepath.Join(cmd.config.OutputDir, "images")
	}

	bs, err := readBreakpointsFile(cmd.breakpointsFile)
	if err != nil {
		return err
	}
	if bs.Len() == 0 {
		return fmt.Errorf("%s: no breakpoints", cmd.breakpointsFile)
	}
	ranges, err := readRangesFile(cmd.rangesFile)
	if err != nil {
		return err
	}
	files, err := patientFiles(cmd.config.InputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no patient files found in %s", cmd.config.InputDir)
	}
	files = cmd.batchArgs.Slice(files)
	anno, err := cmd.config.loadAnnotation()
	if err != nil {
		return err
	}

	log.Infof("rasterizing %d patients onto %d x %d grid", len(files), len(bs.Chromosomes()), bs.MaxWidth())
	threads := cmd.config.Threads
	if threads < 1 {
		threads = 1
	}
	throttle := &throttle{Max: threads}
	for _, fnm := range files {
		fnm := fnm
		throttle.Acquire()
		if throttle.Err() != nil {
			throttle.Release()
			break
		}
		go func() {
			defer throttle.Release()
			throttle.Report(cmd.rasterizeFile(fnm, bs, ranges, anno))
		}()
	}
	err = throttle.Wait()
	log.Infof("processed %d patients, skipped %d", atomic.LoadInt64(&cmd.processed), atomic.LoadInt64(&cmd.skipped))
	return err
}

// rasterizeFile renders one patient. Problems with the patient's
// data are logged and counted, and do not stop other patients; only
// failures to write output are returned.
func (cmd *rasterizeCmd) rasterizeFile(fnm string, bs *BreakpointSet, ranges ValueRange, anno annotationProvider) error {
	t0 := time.Now()
	p, err := readPatientFile(fnm)
	if err != nil {
		log.Warnf("%s: skipped: %s", fnm, err)
		atomic.AddInt64(&cmd.skipped, 1)
		return nil
	}
	img, err := rasterizePatient(p, bs, ranges, anno)
	if err != nil {
		log.Warnf("%s: skipped: %s", p.Barcode, err)
		atomic.AddInt64(&cmd.skipped, 1)
		return nil
	}
	pngfile := filepath.Join(cmd.imagesDir, p.Barcode+".expression.png")
	err = writeArtifact(pngfile, img.writePNG)
	if err != nil {
		return err
	}
	if cmd.writeNumpy {
		err = writeArtifact(filepath.Join(cmd.imagesDir, p.Barcode+".expression.npy"), img.writeNumpy)
		if err != nil {
			return err
		}
	}
	atomic.AddInt64(&cmd.processed, 1)
	log.Infof("generated %s in %s", pngfile, time.Since(t0))
	return nil
}

// rasterizePatient builds the three-channel (cnv, rna, protein)
// raster for one patient.
func rasterizePatient(p *Patient, bs *BreakpointSet, ranges ValueRange, anno annotationProvider) (*Raster, error) {
	data, err := extractPatient(p, rasterModalities)
	if err != nil {
		return nil, err
	}
	rna, rnaStats := geneToIntervals(data.RNA, anno)
	prot, protStats := geneToIntervals(data.Prot, anno)
	log.WithFields(log.Fields{
		"patient":        p.Barcode,
		"rnaMapped":      rnaStats.Mapped,
		"rnaUnresolved":  rnaStats.Unresolved,
		"protMapped":     protStats.Mapped,
		"protUnresolved": protStats.Unresolved,
		"cnvIntervals":   data.CNV.Len(),
	}).Debug("mapped patient data")
	img, err := composite(p.Barcode, bs, []IntervalSet{data.CNV, rna, prot}, rasterRangeNames, ranges)
	if err != nil {
		var rangeErr *RangeError
		if errors.As(err, &rangeErr) {
			return nil, fmt.Errorf("range file does not cover patient data: %w", err)
		}
		return nil, err
	}
	return img, nil
}
