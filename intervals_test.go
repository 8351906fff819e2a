// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"gopkg.in/check.v1"
)

type intervalsSuite struct{}

var _ = check.Suite(&intervalsSuite{})

func (s *intervalsSuite) TestInsertSortsAndReplaces(c *check.C) {
	is := IntervalSet{}
	for _, iv := range []GenomicInterval{
		{"chr1", 30, 40, 1},
		{"chr1", 10, 20, 2},
		{"chr1", 10, 15, 3},
		{"chr2", 0, 5, 4},
		{"chr1", 10, 20, 5},
	} {
		c.Assert(is.Insert(iv), check.IsNil)
	}
	c.Check(is.Len(), check.Equals, 4)
	c.Check(is["chr1"], check.DeepEquals, []GenomicInterval{
		{"chr1", 10, 15, 3},
		{"chr1", 10, 20, 5},
		{"chr1", 30, 40, 1},
	})
	c.Check(is.Chromosomes(), check.DeepEquals, []string{"chr1", "chr2"})
}

func (s *intervalsSuite) TestInsertRejectsReversed(c *check.C) {
	is := IntervalSet{}
	c.Check(is.Insert(GenomicInterval{"chr1", 20, 10, 1}), check.ErrorMatches, `invalid interval chr1:20-10.*`)
	c.Check(is.Len(), check.Equals, 0)
	// zero-length intervals are allowed
	c.Check(is.Insert(GenomicInterval{"chr1", 10, 10, 1}), check.IsNil)
}

func (s *intervalsSuite) TestEachOrder(c *check.C) {
	is := IntervalSet{}
	is.Insert(GenomicInterval{"chr10", 0, 1, 0})
	is.Insert(GenomicInterval{"chr2", 5, 6, 0})
	is.Insert(GenomicInterval{"chr2", 1, 2, 0})
	var chroms []string
	var starts []int
	is.Each(func(iv GenomicInterval) {
		chroms = append(chroms, iv.Chromosome)
		starts = append(starts, iv.Start)
	})
	c.Check(chroms, check.DeepEquals, []string{"chr2", "chr2", "chr10"})
	c.Check(starts, check.DeepEquals, []int{1, 5, 0})
}
