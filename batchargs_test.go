// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"context"
	"errors"
	"time"

	"gopkg.in/check.v1"
)

type batchArgsSuite struct{}

var _ = check.Suite(&batchArgsSuite{})

func (s *batchArgsSuite) TestSlice(c *check.C) {
	in := []string{"a", "b", "c", "d", "e"}
	c.Check((&batchArgs{batch: -1, batches: 2}).Slice(in), check.DeepEquals, in)
	c.Check((&batchArgs{batch: 0, batches: 2}).Slice(in), check.DeepEquals, []string{"a", "b", "c"})
	c.Check((&batchArgs{batch: 1, batches: 2}).Slice(in), check.DeepEquals, []string{"d", "e"})
	c.Check((&batchArgs{batch: 5, batches: 6}).Slice(in), check.HasLen, 0)
}

func (s *batchArgsSuite) TestFailedBatchCancelsOthers(c *check.C) {
	b := &batchArgs{batch: -1, batches: 3}
	done := make(chan struct{})
	go func() {
		defer close(done)
		outputs, err := b.RunBatches(context.Background(), func(ctx context.Context, batch int) (string, error) {
			if batch == 1 {
				return "", errors.New("container failed")
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Minute):
				return "finished", nil
			}
		})
		c.Check(err, check.ErrorMatches, `batch 1: container failed`)
		c.Check(outputs, check.DeepEquals, []string{"", "", ""})
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		c.Fatal("remaining batches were not cancelled")
	}
}
