// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"fmt"
	"sort"
)

// GenomicInterval is a 0-based half-open range [Start, Stop) on a
// chromosome, carrying one measured value.
type GenomicInterval struct {
	Chromosome string
	Start      int
	Stop       int
	Value      float64
}

// IntervalSet holds one patient's intervals for one data type, keyed
// by chromosome. Each chromosome's slice is sorted by (Start, Stop)
// and holds at most one interval per (Start, Stop) pair.
type IntervalSet map[string][]GenomicInterval

// Insert adds iv, replacing the value of an existing interval with
// the same Start and Stop.
func (is IntervalSet) Insert(iv GenomicInterval) error {
	if iv.Start > iv.Stop {
		return fmt.Errorf("invalid interval %s:%d-%d: start > stop", iv.Chromosome, iv.Start, iv.Stop)
	}
	ivs := is[iv.Chromosome]
	i := sort.Search(len(ivs), func(i int) bool {
		return ivs[i].Start > iv.Start || (ivs[i].Start == iv.Start && ivs[i].Stop >= iv.Stop)
	})
	if i < len(ivs) && ivs[i].Start == iv.Start && ivs[i].Stop == iv.Stop {
		ivs[i].Value = iv.Value
		return nil
	}
	ivs = append(ivs, GenomicInterval{})
	copy(ivs[i+1:], ivs[i:])
	ivs[i] = iv
	is[iv.Chromosome] = ivs
	return nil
}

// Chromosomes returns the chromosome names in natural order.
func (is IntervalSet) Chromosomes() []string {
	names := make([]string, 0, len(is))
	for name := range is {
		names = append(names, name)
	}
	sortChromosomes(names)
	return names
}

// Len returns the total number of intervals on all chromosomes.
func (is IntervalSet) Len() int {
	n := 0
	for _, ivs := range is {
		n += len(ivs)
	}
	return n
}

// Each calls fn for every interval, chromosome by chromosome in
// natural order, intervals in (Start, Stop) order.
func (is IntervalSet) Each(fn func(GenomicInterval)) {
	for _, chrom := range is.Chromosomes() {
		for _, iv := range is[chrom] {
			fn(iv)
		}
	}
}
