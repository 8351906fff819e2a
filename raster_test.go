// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bytes"
	"errors"
	"image/png"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type rasterSuite struct{}

var _ = check.Suite(&rasterSuite{})

func testBreakpoints(c *check.C, text string) *BreakpointSet {
	bs, err := ReadBreakpoints(strings.NewReader(text))
	c.Assert(err, check.IsNil)
	return bs
}

func (s *rasterSuite) TestFillThroughStopBreakpoint(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20\n")
	img, err := composite("test", bs,
		[]IntervalSet{testIntervalSet(GenomicInterval{"chr1", 0, 10, 0.5})},
		[]string{"cnv"},
		ValueRange{"cnv": {0, 1}})
	c.Assert(err, check.IsNil)
	c.Check(img.Height, check.Equals, 1)
	c.Check(img.Width, check.Equals, 3)
	c.Check(img.Channels, check.Equals, 1)
	c.Check(img.Pix, check.DeepEquals, []uint8{127, 127, 0})
}

func (s *rasterSuite) TestChannelsAndRows(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20,30\nchr2: 5,6\n")
	ranges := ValueRange{"cnv": {-1, 1}, "gene": {0, 100}, "prot": {0, 1}}
	img, err := composite("test", bs, []IntervalSet{
		testIntervalSet(GenomicInterval{"chr2", 5, 6, 1}),
		testIntervalSet(GenomicInterval{"chr1", 10, 30, 100}),
		// chr3 is not in the breakpoint set and is ignored
		testIntervalSet(GenomicInterval{"chr3", 1, 2, 1}),
	}, rasterRangeNames, ranges)
	c.Assert(err, check.IsNil)
	c.Check(img.Chromosomes, check.DeepEquals, []string{"chr1", "chr2"})
	c.Check(img.Width, check.Equals, 4)
	// row 0 = chr1, gene channel set at columns 1..3
	for col, want := range []uint8{0, 255, 255, 255} {
		c.Check(img.At(0, col, 1), check.Equals, want)
		c.Check(img.At(0, col, 0), check.Equals, uint8(0))
	}
	// row 1 = chr2, cnv channel set at columns 0..1, rest of row is padding
	for col, want := range []uint8{255, 255, 0, 0} {
		c.Check(img.At(1, col, 0), check.Equals, want)
	}
	for row := 0; row < img.Height; row++ {
		for col := 0; col < img.Width; col++ {
			c.Check(img.At(row, col, 2), check.Equals, uint8(0))
		}
	}
}

func (s *rasterSuite) TestZeroWidthInterval(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20\n")
	img, err := composite("test", bs,
		[]IntervalSet{testIntervalSet(GenomicInterval{"chr1", 10, 10, 1})},
		[]string{"cnv"},
		ValueRange{"cnv": {0, 1}})
	c.Assert(err, check.IsNil)
	c.Check(img.Pix, check.DeepEquals, []uint8{0, 255, 0})
}

func (s *rasterSuite) TestMissingBreakpointNamesChannel(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20\n")
	_, err := composite("TCGA-XX", bs, []IntervalSet{
		testIntervalSet(GenomicInterval{"chr1", 0, 10, 0}),
		{},
		testIntervalSet(GenomicInterval{"chr1", 10, 30, 0.5}),
	}, rasterRangeNames, ValueRange{"cnv": {0, 1}, "gene": {0, 1}, "prot": {0, 1}})
	c.Check(err, check.ErrorMatches, `TCGA-XX: prot: coordinate chr1:30 is not a breakpoint`)
}

func (s *rasterSuite) TestLastWriteWins(c *check.C) {
	bs := testBreakpoints(c, "1: 0,10,20\n")
	is := testIntervalSet(
		GenomicInterval{"1", 0, 20, 0},
		GenomicInterval{"1", 10, 20, 1},
	)
	img, err := composite("test", bs, []IntervalSet{is}, []string{"cnv"}, ValueRange{"cnv": {0, 1}})
	c.Assert(err, check.IsNil)
	c.Check(img.Pix, check.DeepEquals, []uint8{0, 255, 255})
}

func (s *rasterSuite) TestMissingBreakpoint(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20\n")
	_, err := composite("TCGA-XX", bs,
		[]IntervalSet{testIntervalSet(GenomicInterval{"chr1", 0, 15, 0.5})},
		[]string{"cnv"},
		ValueRange{"cnv": {0, 1}})
	var mbe *MissingBreakpointError
	c.Assert(errors.As(err, &mbe), check.Equals, true)
	c.Check(mbe.Chromosome, check.Equals, "chr1")
	c.Check(mbe.Coordinate, check.Equals, 15)
	c.Check(err, check.ErrorMatches, `TCGA-XX: cnv: coordinate chr1:15 is not a breakpoint`)
}

func (s *rasterSuite) TestOutOfRange(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10\n")
	_, err := composite("test", bs,
		[]IntervalSet{testIntervalSet(GenomicInterval{"chr1", 0, 10, 2})},
		[]string{"cnv"},
		ValueRange{"cnv": {0, 1}})
	var rangeErr *RangeError
	c.Check(errors.As(err, &rangeErr), check.Equals, true)

	_, err = composite("test", bs, []IntervalSet{{}}, []string{"gene"}, ValueRange{"cnv": {0, 1}})
	c.Check(err, check.ErrorMatches, `no range for gene`)
}

func (s *rasterSuite) TestEncodings(c *check.C) {
	bs := testBreakpoints(c, "chr1: 0,10,20\nchr2: 0,1\n")
	img, err := composite("test", bs, []IntervalSet{
		testIntervalSet(GenomicInterval{"chr1", 0, 10, 1}),
		testIntervalSet(GenomicInterval{"chr2", 0, 1, 1}),
		{},
	}, rasterRangeNames, ValueRange{"cnv": {0, 1}, "gene": {0, 1}, "prot": {0, 1}})
	c.Assert(err, check.IsNil)

	var buf bytes.Buffer
	c.Assert(img.writePNG(&buf), check.IsNil)
	decoded, err := png.Decode(&buf)
	c.Assert(err, check.IsNil)
	c.Check(decoded.Bounds().Dx(), check.Equals, 3)
	c.Check(decoded.Bounds().Dy(), check.Equals, 2)
	r, g, b, _ := decoded.At(1, 0).RGBA()
	c.Check([]uint32{r >> 8, g >> 8, b >> 8}, check.DeepEquals, []uint32{255, 0, 0})
	r, g, b, _ = decoded.At(0, 1).RGBA()
	c.Check([]uint32{r >> 8, g >> 8, b >> 8}, check.DeepEquals, []uint32{0, 255, 0})

	buf.Reset()
	c.Assert(img.writeNumpy(&buf), check.IsNil)
	npy, err := gonpy.NewReader(&buf)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{2, 3, 3})
	data, err := npy.GetUint8()
	c.Assert(err, check.IsNil)
	c.Check(data, check.DeepEquals, img.Pix)
}
