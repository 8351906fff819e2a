// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"sort"
)

type span struct {
	start int
	end   int
}

type spanTreeNode struct {
	span   span
	maxend int
}

// spanTree is an implicit balanced interval tree: node i has children
// 2i+1 and 2i+2, and maxend is the largest end in its subtree.
type spanTree []spanTreeNode

// overlapIndex answers "does [start, end) overlap anything on this
// chromosome?" for a fixed collection of half-open spans. Call Freeze
// after the last Add and before the first Overlaps.
type overlapIndex struct {
	spans  map[string][]span
	trees  map[string]spanTree
	frozen bool
}

// newOverlapIndex returns a frozen index of every interval in is.
func newOverlapIndex(is IntervalSet) *overlapIndex {
	oi := &overlapIndex{}
	for chrom, ivs := range is {
		for _, iv := range ivs {
			oi.Add(chrom, iv.Start, iv.Stop)
		}
	}
	oi.Freeze()
	return oi
}

func (oi *overlapIndex) Add(chrom string, start, end int) {
	if oi.spans == nil {
		oi.spans = map[string][]span{}
	}
	oi.spans[chrom] = append(oi.spans[chrom], span{start, end})
}

func (oi *overlapIndex) Freeze() {
	oi.trees = map[string]spanTree{}
	for chrom, spans := range oi.spans {
		oi.trees[chrom] = buildSpanTree(spans)
	}
	oi.frozen = true
}

func (oi *overlapIndex) Len() int {
	n := 0
	for _, spans := range oi.spans {
		n += len(spans)
	}
	return n
}

// Overlaps reports whether [start, end) shares at least one position
// with an indexed span. Empty spans overlap nothing.
func (oi *overlapIndex) Overlaps(chrom string, start, end int) bool {
	if !oi.frozen {
		panic("bug: (*overlapIndex)Overlaps() called before Freeze()")
	}
	if start >= end {
		return false
	}
	return oi.trees[chrom].overlaps(0, span{start, end})
}

func buildSpanTree(in []span) spanTree {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		return in[i].start < in[j].start
	})
	size := 1
	for size < len(in) {
		size *= 2
	}
	// A complete tree over size leaves can need up to 2*size-1 slots.
	tree := make(spanTree, 2*size)
	for i := range tree {
		tree[i].maxend = -1
	}
	tree.importSlice(0, in)
	return tree
}

func (tree spanTree) overlaps(root int, q span) bool {
	if root >= len(tree) || tree[root].maxend <= q.start {
		return false
	}
	s := tree[root].span
	return (s.start < q.end && s.end > q.start && s.start < s.end) ||
		tree.overlaps(root*2+1, q) ||
		tree.overlaps(root*2+2, q)
}

func (tree spanTree) importSlice(root int, in []span) int {
	mid := len(in) / 2
	node := spanTreeNode{span: in[mid], maxend: in[mid].end}
	if mid > 0 {
		if end := tree.importSlice(root*2+1, in[:mid]); end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		if end := tree.importSlice(root*2+2, in[mid+1:]); end > node.maxend {
			node.maxend = end
		}
	}
	tree[root] = node
	return node.maxend
}
