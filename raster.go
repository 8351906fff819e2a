// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// Raster is a height x width x channels grid of bytes. Row r is the
// r'th chromosome of the breakpoint set, column c is the bin starting
// at that chromosome's c'th breakpoint.
type Raster struct {
	Chromosomes []string
	Height      int
	Width       int
	Channels    int
	Pix         []uint8
}

func newRaster(chromosomes []string, width, channels int) *Raster {
	return &Raster{
		Chromosomes: chromosomes,
		Height:      len(chromosomes),
		Width:       width,
		Channels:    channels,
		Pix:         make([]uint8, len(chromosomes)*width*channels),
	}
}

func (r *Raster) offset(row, col, channel int) int {
	return (row*r.Width+col)*r.Channels + channel
}

func (r *Raster) At(row, col, channel int) uint8 {
	return r.Pix[r.offset(row, col, channel)]
}

func (r *Raster) Set(row, col, channel int, v uint8) {
	r.Pix[r.offset(row, col, channel)] = v
}

// MissingBreakpointError means an interval boundary is not in the
// breakpoint set, i.e., the breakpoints were built from other data.
type MissingBreakpointError struct {
	Chromosome string
	Coordinate int
}

func (e *MissingBreakpointError) Error() string {
	return fmt.Sprintf("coordinate %s:%d is not a breakpoint", e.Chromosome, e.Coordinate)
}

// composite paints each channel's intervals onto a raster laid out by
// bs. channels[i] is normalized with ranges[rangeNames[i]]. An
// interval fills every column from its start breakpoint through its
// stop breakpoint inclusive; where intervals overlap, the one painted
// last wins. label identifies the patient in log messages.
func composite(label string, bs *BreakpointSet, channels []IntervalSet, rangeNames []string, ranges ValueRange) (*Raster, error) {
	if len(channels) != len(rangeNames) {
		return nil, fmt.Errorf("%d channels but %d range names", len(channels), len(rangeNames))
	}
	chroms := bs.Chromosomes()
	img := newRaster(chroms, bs.MaxWidth(), len(channels))
	for ch, set := range channels {
		rng, ok := ranges[rangeNames[ch]]
		if !ok {
			return nil, fmt.Errorf("no range for %s", rangeNames[ch])
		}
		for row, chrom := range chroms {
			ivs, ok := set[chrom]
			if !ok {
				continue
			}
			coords := bs.Coords(chrom)
			for _, iv := range ivs {
				v, err := normalize(iv.Value, rng.Min, rng.Max)
				if err != nil {
					return nil, fmt.Errorf("%s: %s %s:%d-%d: %w", label, rangeNames[ch], chrom, iv.Start, iv.Stop, err)
				}
				startIdx, ok := coords.IndexOf(iv.Start)
				if !ok {
					return nil, fmt.Errorf("%s: %s: %w", label, rangeNames[ch], &MissingBreakpointError{chrom, iv.Start})
				}
				stopIdx, ok := coords.IndexOf(iv.Stop)
				if !ok {
					return nil, fmt.Errorf("%s: %s: %w", label, rangeNames[ch], &MissingBreakpointError{chrom, iv.Stop})
				}
				if !(startIdx < stopIdx) {
					log.Warnf("%s: start index (%d) is not less than stop index (%d) for channel %d, chromosome %s", label, startIdx, stopIdx, ch, chrom)
				}
				for col := startIdx; col <= stopIdx; col++ {
					img.Set(row, col, ch, v)
				}
			}
		}
	}
	return img, nil
}

// writePNG encodes the first three channels as an RGB image. Missing
// channels are black.
func (r *Raster) writePNG(w io.Writer) error {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			var rgb [3]uint8
			for ch := 0; ch < 3 && ch < r.Channels; ch++ {
				rgb[ch] = r.At(row, col, ch)
			}
			img.SetRGBA(col, row, color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
		}
	}
	return png.Encode(w, img)
}

// writeNumpy writes the raster as a uint8 array with shape
// (height, width, channels).
func (r *Raster) writeNumpy(w io.Writer) error {
	npw, err := gonpy.NewWriter(nopCloser{w})
	if err != nil {
		return err
	}
	npw.Shape = []int{r.Height, r.Width, r.Channels}
	return npw.WriteUint8(r.Pix)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
