// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"fmt"
	"math"
)

// relative tolerance for accepting values at the edge of a range
const rangeTolerance = 1e-5

// RangeError means a value fell outside the precomputed range for
// its data type, i.e., the range artifact does not match the data.
type RangeError struct {
	Value    float64
	Min, Max float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value %g does not fall in the min/max range %g/%g", e.Value, e.Min, e.Max)
}

func isClose(a, b float64) bool {
	return math.Abs(a-b) <= rangeTolerance*math.Max(math.Abs(a), math.Abs(b))
}

// valueWithinRange reports whether min <= v <= max, treating values
// within relative tolerance of either bound as inside.
func valueWithinRange(v, min, max float64) bool {
	return isClose(v, min) || isClose(v, max) || (v >= min && v <= max)
}

// normalize maps v from [min, max] onto 0..255.
func normalize(v, min, max float64) (uint8, error) {
	if !valueWithinRange(v, min, max) {
		return 0, &RangeError{Value: v, Min: min, Max: max}
	}
	if max <= min {
		return 0, nil
	}
	scaled := math.Floor((v - min) / (max - min) * 255)
	// Tolerated values just outside the bounds land here.
	if scaled < 0 {
		return 0, nil
	} else if scaled > 255 {
		return 255, nil
	}
	return uint8(scaled), nil
}
