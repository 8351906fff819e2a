// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bytes"
	"strings"

	"gopkg.in/check.v1"
)

type rangesSuite struct{}

var _ = check.Suite(&rangesSuite{})

func (s *rangesSuite) TestComputeRanges(c *check.C) {
	patients := []*Patient{
		{
			Barcode: "TCGA-01",
			CNV:     []CNVSegment{{"1", 0, 10, -1.5}, {"2", 0, 10, 0.3}},
			GeneExp: map[string]string{"A": "10", "B": "0.1"},
			ProtExp: map[string]map[string]string{"A": {"Sample REF": "A|x", "TCGA-01": "-2"}},
		},
		{
			// no protein data; still contributes the others
			Barcode: "TCGA-02",
			CNV:     []CNVSegment{{"1", 5, 15, 2.25}},
			GeneExp: map[string]string{"A": "100"},
		},
		{
			// malformed; skipped entirely
			Barcode: "TCGA-03",
			GeneExp: map[string]string{"A": "1e9", "B": "oops"},
		},
		{
			// nothing at all
			Barcode: "TCGA-04",
		},
		{
			Barcode: "TCGA-05",
			ProtExp: map[string]map[string]string{"A": {"Sample REF": "A|x", "TCGA-05": "3"}},
		},
	}
	vr, tally, err := computeRanges(patients)
	c.Assert(err, check.IsNil)
	c.Check(tally, check.Equals, cohortTally{processed: 3, skipped: 2})
	c.Check(vr, check.DeepEquals, ValueRange{
		"cnv":  {-1.5, 2.25},
		"gene": {0.1, 100},
		"prot": {-2, 3},
	})
}

func (s *rangesSuite) TestNoValues(c *check.C) {
	_, _, err := computeRanges([]*Patient{{Barcode: "TCGA-01", GeneExp: map[string]string{"A": "1"}}})
	c.Check(err, check.ErrorMatches, `no cnv values found in any patient`)
}

func (s *rangesSuite) TestRoundTrip(c *check.C) {
	vr := ValueRange{
		"cnv":  {-1.2345678901234567, 3},
		"gene": {0, 123456.789},
		"prot": {-0.1, 1e-7},
	}
	var buf bytes.Buffer
	_, err := vr.WriteTo(&buf)
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(buf.String(), "cnv -1.2345678901234567 - 3\ngene 0 - 123456.789\n"), check.Equals, true)
	got, err := ReadRanges(&buf)
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, vr)
}

func (s *rangesSuite) TestReadErrors(c *check.C) {
	for _, trial := range []struct {
		in  string
		err string
	}{
		{"cnv 1 2\n", `line 1: expected .*`},
		{"cnv 1 : 2\n", `line 1: expected .*`},
		{"cnv x - 2\n", `line 1: min: .*`},
		{"cnv 1 - y\n", `line 1: max: .*`},
		{"\ncnv 3 - 2\n", `line 2: min 3 > max 2`},
	} {
		_, err := ReadRanges(strings.NewReader(trial.in))
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("%q", trial.in))
	}
}
