// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"gopkg.in/check.v1"
)

type mapperSuite struct{}

var _ = check.Suite(&mapperSuite{})

func (s *mapperSuite) TestGeneToIntervals(c *check.C) {
	idx := loadTestAnnotation(c)
	is, stats := geneToIntervals(map[string]float64{
		"GENEA":    1.5,
		"GENEB":    2.5,
		"ENSG0005": 3.5,
		"UNKNOWN":  4.5,
	}, idx)
	c.Check(stats, check.Equals, mapStats{Total: 4, Mapped: 2, Unresolved: 2})
	c.Check(is, check.DeepEquals, IntervalSet{
		"1": {{"1", 30, 40, 1.5}},
		"2": {{"2", 0, 50, 3.5}},
	})
}

func (s *mapperSuite) TestSameIntervalLaterNameWins(c *check.C) {
	idx := NewAnnotationIndex([]AnnotationRecord{
		{Chromosome: "1", Start: 0, Stop: 10, GeneName: "ALIAS1", Version: 1},
		{Chromosome: "1", Start: 0, Stop: 10, GeneName: "ALIAS2", Version: 1},
	})
	is, stats := geneToIntervals(map[string]float64{"ALIAS2": 2, "ALIAS1": 1}, idx)
	c.Check(stats.Mapped, check.Equals, 2)
	c.Check(is["1"], check.DeepEquals, []GenomicInterval{{"1", 0, 10, 2}})
}

func (s *mapperSuite) TestEmpty(c *check.C) {
	is, stats := geneToIntervals(nil, NewAnnotationIndex(nil))
	c.Check(is.Len(), check.Equals, 0)
	c.Check(stats, check.Equals, mapStats{})
}
