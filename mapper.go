// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

type mapStats struct {
	Total      int
	Mapped     int
	Unresolved int
}

// geneToIntervals places each gene's value on the gene's annotated
// interval. Genes the annotation cannot resolve unambiguously are
// left out and counted.
//
// Genes are visited in name order, so if two genes resolve to the
// same interval the later name's value is kept.
func geneToIntervals(values map[string]float64, anno annotationProvider) (IntervalSet, mapStats) {
	genes := make([]string, 0, len(values))
	for gene := range values {
		genes = append(genes, gene)
	}
	sort.Strings(genes)

	is := IntervalSet{}
	stats := mapStats{Total: len(genes)}
	for _, gene := range genes {
		rec, ok := anno.Resolve(gene)
		if !ok {
			stats.Unresolved++
			continue
		}
		err := is.Insert(GenomicInterval{
			Chromosome: rec.Chromosome,
			Start:      rec.Start,
			Stop:       rec.Stop,
			Value:      values[gene],
		})
		if err != nil {
			// Annotation loader never produces start > stop,
			// but an in-memory provider might.
			log.Debugf("gene %s: %s", gene, err)
			stats.Unresolved++
			continue
		}
		stats.Mapped++
	}
	log.Debugf("converted %d/%d entries from gene values to intervals", stats.Mapped, stats.Total)
	return is, stats
}
