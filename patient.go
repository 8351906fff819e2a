// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
)

// Patient is one TCGA case as stored by the patient importer. A nil
// CNV, GeneExp, or ProtExp means that data type was not available
// for this patient.
type Patient struct {
	Barcode string
	CNV     []CNVSegment
	// GeneExp maps gene name to the RNA-seq value as it appeared in
	// the source file.
	GeneExp map[string]string
	// ProtExp maps protein/gene name to a two-column row of the
	// RPPA file: the "Sample REF" column and the sample's column.
	ProtExp map[string]map[string]string
}

// CNVSegment is a copy number segment in 0-based half-open
// coordinates.
type CNVSegment struct {
	Chromosome string
	Start      int
	Stop       int
	Value      float64
}

const (
	protSampleRefKey = "Sample REF"
	protHeaderValue  = "Protein Expression"
)

var (
	errMissingData    = errors.New("missing data")
	errHeaderSentinel = errors.New("header row")
)

func isMissing(err error) bool {
	return errors.Is(err, errMissingData)
}

// ParseError is returned when a measurement is neither a number nor
// a known header value.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q as float: %s", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// parseExpression converts an expression value to float64.
func parseExpression(raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err == nil {
		return f, nil
	}
	if strings.TrimSpace(raw) == protHeaderValue {
		return 0, errHeaderSentinel
	}
	return 0, &ParseError{Value: raw, Err: err}
}

func (p *Patient) CNVValues() (IntervalSet, error) {
	if p.CNV == nil {
		return nil, fmt.Errorf("%s: cnv: %w", p.Barcode, errMissingData)
	}
	is := IntervalSet{}
	for _, seg := range p.CNV {
		err := is.Insert(GenomicInterval{Chromosome: seg.Chromosome, Start: seg.Start, Stop: seg.Stop, Value: seg.Value})
		if err != nil {
			return nil, fmt.Errorf("%s: cnv: %w", p.Barcode, err)
		}
	}
	return is, nil
}

func (p *Patient) GeneValues() (map[string]float64, error) {
	if p.GeneExp == nil {
		return nil, fmt.Errorf("%s: gene expression: %w", p.Barcode, errMissingData)
	}
	values := make(map[string]float64, len(p.GeneExp))
	for gene, raw := range p.GeneExp {
		f, err := parseExpression(raw)
		if errors.Is(err, errHeaderSentinel) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: gene %s: %w", p.Barcode, gene, err)
		}
		values[gene] = f
	}
	return values, nil
}

func (p *Patient) ProtValues() (map[string]float64, error) {
	if p.ProtExp == nil {
		return nil, fmt.Errorf("%s: protein expression: %w", p.Barcode, errMissingData)
	}
	values := make(map[string]float64, len(p.ProtExp))
	for gene, entry := range p.ProtExp {
		if len(entry) != 2 {
			return nil, fmt.Errorf("%s: protein %s: expected 2 columns, found %d", p.Barcode, gene, len(entry))
		}
		if _, ok := entry[protSampleRefKey]; !ok {
			return nil, fmt.Errorf("%s: protein %s: no %q column", p.Barcode, gene, protSampleRefKey)
		}
		var raw string
		for k, v := range entry {
			if k != protSampleRefKey {
				raw = v
			}
		}
		f, err := parseExpression(raw)
		if errors.Is(err, errHeaderSentinel) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("%s: protein %s: %w", p.Barcode, gene, err)
		}
		values[gene] = f
	}
	return values, nil
}

// patientFiles returns the patient files in dir, sorted.
func patientFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"TCGA*.gob", "TCGA*.gob.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func loadPatients(dir string) ([]*Patient, error) {
	files, err := patientFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no patient files matching %s", filepath.Join(dir, "TCGA*.gob"))
	}
	patients := make([]*Patient, 0, len(files))
	for _, fnm := range files {
		p, err := readPatientFile(fnm)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	log.Infof("loaded %d patients from %s", len(patients), dir)
	return patients, nil
}

func readPatientFile(fnm string) (*Patient, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var p Patient
	err = gob.NewDecoder(bufio.NewReader(f)).Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("%s: gob decode: %w", fnm, err)
	}
	if p.Barcode == "" {
		return nil, fmt.Errorf("%s: patient has no barcode", fnm)
	}
	return &p, nil
}

// WritePatient stores p in dir as <barcode>.gob, or <barcode>.gob.gz
// if compress is true.
func WritePatient(dir string, p *Patient, compress bool) error {
	fnm := filepath.Join(dir, p.Barcode+".gob")
	if compress {
		fnm += ".gz"
	}
	return writeArtifact(fnm, func(w io.Writer) error {
		if !compress {
			return gob.NewEncoder(w).Encode(p)
		}
		zw := pgzip.NewWriter(w)
		err := gob.NewEncoder(zw).Encode(p)
		if err != nil {
			return err
		}
		return zw.Close()
	})
}
