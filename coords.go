// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"sort"
	"strconv"
	"strings"
)

// coordList is a set of genomic coordinates kept in a sorted slice.
// Lookups are binary searches, so a coordinate's index is also its
// raster column.
type coordList struct {
	coords []int
}

func (cl *coordList) search(x int) int {
	return sort.SearchInts(cl.coords, x)
}

// Insert adds x, and reports whether it was not already present.
func (cl *coordList) Insert(x int) bool {
	i := cl.search(x)
	if i < len(cl.coords) && cl.coords[i] == x {
		return false
	}
	cl.coords = append(cl.coords, 0)
	copy(cl.coords[i+1:], cl.coords[i:])
	cl.coords[i] = x
	return true
}

func (cl *coordList) Contains(x int) bool {
	_, ok := cl.IndexOf(x)
	return ok
}

// IndexOf returns the position of x in ascending order. Only exact
// matches are reported.
func (cl *coordList) IndexOf(x int) (int, bool) {
	i := cl.search(x)
	if i < len(cl.coords) && cl.coords[i] == x {
		return i, true
	}
	return -1, false
}

func (cl *coordList) Len() int {
	return len(cl.coords)
}

// Values returns the coordinates in ascending order. The caller must
// not modify the returned slice.
func (cl *coordList) Values() []int {
	return cl.coords
}

// chromLess orders chromosome names naturally: numbered chromosomes
// first by number (ignoring a "chr" prefix), then everything else
// lexically.
func chromLess(a, b string) bool {
	an, aerr := strconv.Atoi(strings.TrimPrefix(a, "chr"))
	bn, berr := strconv.Atoi(strings.TrimPrefix(b, "chr"))
	switch {
	case aerr == nil && berr == nil && an != bn:
		return an < bn
	case aerr == nil && berr != nil:
		return true
	case aerr != nil && berr == nil:
		return false
	}
	return a < b
}

func sortChromosomes(names []string) {
	sort.Slice(names, func(i, j int) bool { return chromLess(names[i], names[j]) })
}
