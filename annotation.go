// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/biogo/biogo/io/featio"
	"github.com/biogo/biogo/io/featio/gff"
	log "github.com/sirupsen/logrus"
)

// AnnotationRecord is one reference annotation feature, in 0-based
// half-open coordinates.
type AnnotationRecord struct {
	Chromosome string
	Start      int
	Stop       int
	GeneID     string
	GeneName   string
	Version    int
	Source     string
	Feature    string
}

type annotationProvider interface {
	Resolve(gene string) (AnnotationRecord, bool)
}

// AnnotationIndex maps gene names and gene IDs to annotation records.
// It is not modified after construction, so it is safe to share
// between goroutines.
type AnnotationIndex struct {
	genes map[string][]AnnotationRecord
}

// NewAnnotationIndex indexes the given records by gene ID and gene
// name.
func NewAnnotationIndex(records []AnnotationRecord) *AnnotationIndex {
	idx := &AnnotationIndex{genes: map[string][]AnnotationRecord{}}
	for _, rec := range records {
		idx.add(rec)
	}
	return idx
}

func (idx *AnnotationIndex) add(rec AnnotationRecord) {
	if rec.GeneID != "" {
		idx.genes[rec.GeneID] = append(idx.genes[rec.GeneID], rec)
	}
	if rec.GeneName != "" && rec.GeneName != rec.GeneID {
		idx.genes[rec.GeneName] = append(idx.genes[rec.GeneName], rec)
	}
}

// Records returns every candidate record for gene.
func (idx *AnnotationIndex) Records(gene string) []AnnotationRecord {
	return idx.genes[gene]
}

// Resolve returns the record with the highest version. If no record
// exists, or more than one record has the highest version, the gene
// is unresolved.
func (idx *AnnotationIndex) Resolve(gene string) (AnnotationRecord, bool) {
	var best AnnotationRecord
	ties := 0
	for _, rec := range idx.genes[gene] {
		switch {
		case ties == 0 || rec.Version > best.Version:
			best, ties = rec, 1
		case rec.Version == best.Version:
			ties++
		}
	}
	return best, ties == 1
}

// Len returns the number of distinct gene keys.
func (idx *AnnotationIndex) Len() int {
	return len(idx.genes)
}

// LoadAnnotation reads GTF features of the given type from the given
// sources. Any malformed line makes the whole index unusable.
func LoadAnnotation(r io.Reader, feature string, sources []string) (*AnnotationIndex, error) {
	allow := make(map[string]bool, len(sources))
	for _, s := range sources {
		allow[s] = true
	}
	idx := &AnnotationIndex{genes: map[string][]AnnotationRecord{}}
	kept := 0
	sc := featio.NewScanner(gff.NewReader(r))
	for sc.Next() {
		gf, ok := sc.Feat().(*gff.Feature)
		if !ok {
			return nil, fmt.Errorf("unexpected feature type %T", sc.Feat())
		}
		if gf.Feature != feature || !allow[gf.Source] {
			continue
		}
		rec, err := recordFromGFF(gf)
		if err != nil {
			return nil, err
		}
		idx.add(rec)
		kept++
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("reading annotation: %w", err)
	}
	log.Infof("indexed %d %s records (%d gene keys)", kept, feature, idx.Len())
	return idx, nil
}

func recordFromGFF(gf *gff.Feature) (AnnotationRecord, error) {
	rec := AnnotationRecord{
		Chromosome: gf.SeqName,
		Start:      gf.FeatStart,
		Stop:       gf.FeatEnd,
		GeneID:     gtfAttribute(gf, "gene_id"),
		GeneName:   gtfAttribute(gf, "gene_name"),
		Source:     gf.Source,
		Feature:    gf.Feature,
	}
	where := fmt.Sprintf("%s:%d-%d", gf.SeqName, gf.FeatStart+1, gf.FeatEnd)
	if rec.GeneID == "" && rec.GeneName == "" {
		return rec, fmt.Errorf("annotation record at %s has neither gene_id nor gene_name", where)
	}
	version := gtfAttribute(gf, "gene_version")
	if version == "" {
		return rec, fmt.Errorf("annotation record %s at %s has no gene_version", rec.GeneID, where)
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return rec, fmt.Errorf("annotation record %s at %s: gene_version: %w", rec.GeneID, where, err)
	}
	rec.Version = v
	return rec, nil
}

// gtfAttribute returns the unquoted value of a GTF attribute.
func gtfAttribute(gf *gff.Feature, tag string) string {
	return strings.Trim(strings.TrimSpace(gf.FeatAttributes.Get(tag)), `"`)
}

// OpenAnnotation loads an annotation file, which may be gzipped or
// stored in an Arvados collection.
func OpenAnnotation(path, feature string, sources []string) (*AnnotationIndex, error) {
	f, err := zopen(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := LoadAnnotation(f, feature, sources)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}
